package kite

import (
	"context"
	"fmt"
	"sync"

	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"

	"momentum-bot/internal/interfaces"
	"momentum-bot/internal/logger"
)

// tickerManager owns the streaming websocket: live prices for held symbols
// and postback order updates for every order on the account.
type tickerManager struct {
	ticker      *kiteticker.Ticker
	apiKey      string
	accessToken string

	mapper  *instrumentMapper
	handler interfaces.EventHandler

	connected chan struct{}
	once      sync.Once

	mu         sync.Mutex
	subscribed map[uint32]bool
}

var _ interfaces.TickerManager = (*tickerManager)(nil)

func newTickerManager(apiKey, accessToken string, mapper *instrumentMapper, handler interfaces.EventHandler) *tickerManager {
	return &tickerManager{
		apiKey:      apiKey,
		accessToken: accessToken,
		mapper:      mapper,
		handler:     handler,
		connected:   make(chan struct{}),
		subscribed:  make(map[uint32]bool),
	}
}

func (tm *tickerManager) Start(ctx context.Context) error {
	tm.ticker = kiteticker.New(tm.apiKey, tm.accessToken)
	tm.setupEventHandlers()

	go func() {
		logger.Info(ctx, "Starting Kite ticker")
		tm.ticker.Serve()
	}()

	select {
	case <-tm.connected:
		return nil
	case <-ctx.Done():
		tm.ticker.Stop()
		return fmt.Errorf("waiting for ticker connection: %w", ctx.Err())
	}
}

func (tm *tickerManager) Stop(ctx context.Context) {
	if tm.ticker != nil {
		logger.Info(ctx, "Stopping Kite ticker")
		tm.ticker.Stop()
	}
}

func (tm *tickerManager) Subscribe(ctx context.Context, symbols []string) error {
	tokens, err := tm.tokens(symbols)
	if err != nil {
		return err
	}
	if err := tm.ticker.Subscribe(tokens); err != nil {
		return fmt.Errorf("failed to subscribe to symbols: %w", err)
	}
	// LTP mode is all the exit monitor needs.
	if err := tm.ticker.SetMode(kiteticker.ModeLTP, tokens); err != nil {
		return fmt.Errorf("failed to set ticker mode: %w", err)
	}

	tm.mu.Lock()
	for _, t := range tokens {
		tm.subscribed[t] = true
	}
	tm.mu.Unlock()
	return nil
}

func (tm *tickerManager) Unsubscribe(ctx context.Context, symbols []string) error {
	tokens, err := tm.tokens(symbols)
	if err != nil {
		return err
	}
	if err := tm.ticker.Unsubscribe(tokens); err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}

	tm.mu.Lock()
	for _, t := range tokens {
		delete(tm.subscribed, t)
	}
	tm.mu.Unlock()
	return nil
}

// resubscribe restores the live set after the ticker reconnects.
func (tm *tickerManager) resubscribe() {
	tm.mu.Lock()
	tokens := make([]uint32, 0, len(tm.subscribed))
	for t := range tm.subscribed {
		tokens = append(tokens, t)
	}
	tm.mu.Unlock()

	if len(tokens) == 0 {
		return
	}
	if err := tm.ticker.Subscribe(tokens); err != nil {
		logger.ErrorWithErr(context.Background(), "Resubscribe after reconnect failed", err, "count", len(tokens))
		return
	}
	_ = tm.ticker.SetMode(kiteticker.ModeLTP, tokens)
}

func (tm *tickerManager) tokens(symbols []string) ([]uint32, error) {
	tokens := make([]uint32, 0, len(symbols))
	for _, s := range symbols {
		t, ok := tm.mapper.getToken(s)
		if !ok {
			return nil, fmt.Errorf("unknown instrument %s", s)
		}
		tokens = append(tokens, t)
	}
	return tokens, nil
}
