package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"momentum-bot/internal/logger"
	"momentum-bot/internal/metrics"
	"momentum-bot/internal/types"
)

// ExitKind names why a position is being closed.
type ExitKind string

const (
	ExitNone         ExitKind = ""
	ExitProfitTarget ExitKind = "PROFIT_TARGET"
	ExitStopLoss     ExitKind = "STOP_LOSS"
)

// ExitRule holds the fractional thresholds, e.g. 0.05 and -0.03.
type ExitRule struct {
	ProfitTarget decimal.Decimal
	StopLoss     decimal.Decimal
}

// Check compares price against the entry. The profit target is inclusive,
// the stop loss strict: at entry 100 with -3%, 97.00 holds and 96.99 exits.
func (r ExitRule) Check(entry, price decimal.Decimal) ExitKind {
	one := decimal.NewFromInt(1)
	if price.GreaterThanOrEqual(entry.Mul(one.Add(r.ProfitTarget))) {
		return ExitProfitTarget
	}
	if price.LessThan(entry.Mul(one.Add(r.StopLoss))) {
		return ExitStopLoss
	}
	return ExitNone
}

type seller interface {
	Sell(ctx context.Context, symbol string, qty int, reason string) (*Fill, error)
}

type liveFeed interface {
	SubscribeLive(ctx context.Context, symbol string) error
	UnsubscribeLive(ctx context.Context, symbol string) error
}

// ExitMonitor watches live prices of held symbols and sells when a
// threshold is crossed. Sells run on their own goroutine so the venue
// callback never waits for a fill.
type ExitMonitor struct {
	rule   ExitRule
	ledger *Ledger
	orders seller
	feed   liveFeed

	mu        sync.Mutex
	ctx       context.Context
	lastPrice map[string]decimal.Decimal
	exiting   map[string]bool
	stopped   bool
	wg        sync.WaitGroup
}

func NewExitMonitor(rule ExitRule, ledger *Ledger, orders seller, feed liveFeed) *ExitMonitor {
	return &ExitMonitor{
		rule:      rule,
		ledger:    ledger,
		orders:    orders,
		feed:      feed,
		ctx:       context.Background(),
		lastPrice: make(map[string]decimal.Decimal),
		exiting:   make(map[string]bool),
	}
}

// Bind sets the context exit orders run under; cancelling it aborts
// in-flight exits.
func (x *ExitMonitor) Bind(ctx context.Context) {
	x.mu.Lock()
	x.ctx = ctx
	x.stopped = false
	x.mu.Unlock()
}

// LastPrice returns the most recent live price seen for symbol.
func (x *ExitMonitor) LastPrice(symbol string) (decimal.Decimal, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	p, ok := x.lastPrice[symbol]
	return p, ok
}

// OnPriceUpdate is called on the venue's goroutine for every live update.
func (x *ExitMonitor) OnPriceUpdate(u types.PriceUpdate) {
	x.mu.Lock()
	x.lastPrice[u.Symbol] = u.Price
	x.mu.Unlock()

	pos, ok := x.ledger.Get(u.Symbol)
	if !ok {
		return
	}
	kind := x.rule.Check(pos.EntryPrice, u.Price)
	if kind == ExitNone {
		return
	}

	x.mu.Lock()
	if x.stopped || x.ctx.Err() != nil || x.exiting[u.Symbol] {
		x.mu.Unlock()
		return
	}
	x.exiting[u.Symbol] = true
	ctx := x.ctx
	x.wg.Add(1)
	x.mu.Unlock()

	metrics.Exits.WithLabelValues(string(kind)).Inc()
	logger.Risk(ctx, u.Symbol, string(kind),
		"price", u.Price,
		"entry_price", pos.EntryPrice,
		"shares", pos.Shares,
		"unrealized_pnl", pos.UnrealizedPnL(u.Price),
	)

	go x.exit(ctx, pos, kind)
}

func (x *ExitMonitor) exit(ctx context.Context, pos types.Position, kind ExitKind) {
	defer x.wg.Done()
	defer func() {
		x.mu.Lock()
		delete(x.exiting, pos.Symbol)
		x.mu.Unlock()
	}()

	fill, err := x.orders.Sell(ctx, pos.Symbol, pos.Shares, string(kind))
	var notOpen *NotOpenError
	switch {
	case errors.Is(err, ErrOrderPending):
		logger.Debug(ctx, "Exit skipped, sell already pending", "symbol", pos.Symbol)
		return
	case errors.As(err, &notOpen):
		logger.Debug(ctx, "Exit skipped, position already closed", "symbol", pos.Symbol)
		return
	case err != nil:
		logger.ErrorWithErr(ctx, "Exit sell failed, position stays open", err,
			"symbol", pos.Symbol,
			"kind", kind,
		)
		return
	}

	logger.Info(ctx, "Position closed",
		"symbol", fill.Symbol,
		"kind", kind,
		"entry_price", fill.Position.EntryPrice,
		"exit_price", fill.Price,
		"shares", fill.Quantity,
		"realized_pnl", fill.RealizedPnL,
	)
}

// OnFill keeps the live feed in step with the ledger: a bought symbol is
// watched, a sold one is dropped. Registered as an OrderManager fill hook,
// so positions opened by a late fill are watched too.
func (x *ExitMonitor) OnFill(ctx context.Context, f *Fill) {
	if x.feed == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	switch f.Action {
	case types.ActionBuy:
		if err := x.feed.SubscribeLive(ctx, f.Symbol); err != nil {
			logger.ErrorWithErr(ctx, "Live subscription failed, exits will not trigger", err, "symbol", f.Symbol)
		}
	case types.ActionSell:
		x.mu.Lock()
		delete(x.lastPrice, f.Symbol)
		x.mu.Unlock()
		if x.ledger.IsOpen(f.Symbol) {
			return
		}
		if err := x.feed.UnsubscribeLive(ctx, f.Symbol); err != nil {
			logger.Warn(ctx, "Failed to unsubscribe live feed", "symbol", f.Symbol, "error", err)
		}
	}
}

// Wait blocks until every in-flight exit has finished.
func (x *ExitMonitor) Wait() {
	x.wg.Wait()
}

// Stop refuses new exits, then waits for in-flight ones.
func (x *ExitMonitor) Stop() {
	x.mu.Lock()
	x.stopped = true
	x.mu.Unlock()
	x.wg.Wait()
}
