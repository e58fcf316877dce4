// Package kite is the live venue backed by the Zerodha Kite Connect REST
// API and its streaming ticker. Kite has no market scanner, so scans are
// delegated to an external screener.
package kite

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"momentum-bot/internal/interfaces"
	"momentum-bot/internal/logger"
	"momentum-bot/internal/types"
)

const (
	VenueName = "KITE"

	varietyRegular  = "regular"
	orderTypeMarket = "MARKET"
	validityDay     = "DAY"

	// Kite caps order tags at 20 characters.
	maxTagLen = 20

	defaultConnectTimeout = 15 * time.Second
)

var ErrMissingCredentials = errors.New("missing API key/access token")

type Params struct {
	APIKey      string
	AccessToken string
	Exchange    string
	Product     string
	// HistoryTTL is how long a history response is reused; zero disables
	// caching.
	HistoryTTL     time.Duration
	ConnectTimeout time.Duration
	Screener       interfaces.Screener
	// DryRun simulates orders at the last seen price; data still comes
	// from Kite.
	DryRun          bool
	DryRunFillDelay time.Duration
}

// restClient is the subset of the Kite Connect client the venue uses.
type restClient interface {
	GetInstrumentsByExchange(exchange string) (kiteconnect.Instruments, error)
	GetHistoricalData(instrumentToken int, interval string, fromDate time.Time, toDate time.Time, continuous bool, oi bool) ([]kiteconnect.HistoricalData, error)
	PlaceOrder(variety string, orderParams kiteconnect.OrderParams) (kiteconnect.OrderResponse, error)
	CancelOrder(variety string, orderID string, parentOrderID *string) (kiteconnect.OrderResponse, error)
}

type Venue struct {
	p       Params
	rest    restClient
	mapper  *instrumentMapper
	history *historyCache
	now     func() time.Time

	mu      sync.Mutex
	ticker  interfaces.TickerManager
	handler interfaces.EventHandler
	quotes  map[string]decimal.Decimal
}

var _ interfaces.Venue = (*Venue)(nil)

func New(p Params) *Venue {
	if p.ConnectTimeout == 0 {
		p.ConnectTimeout = defaultConnectTimeout
	}
	return &Venue{
		p:       p,
		mapper:  newInstrumentMapper(),
		history: newHistoryCache(p.HistoryTTL),
		now:     time.Now,
		quotes:  make(map[string]decimal.Decimal),
	}
}

func (v *Venue) Connect(ctx context.Context, _ types.ConnectParams, handler interfaces.EventHandler) (*types.Connection, error) {
	if v.p.APIKey == "" || v.p.AccessToken == "" {
		return nil, &types.VenueConnectionError{Venue: VenueName, Err: ErrMissingCredentials}
	}
	if v.p.Screener == nil {
		return nil, &types.VenueConnectionError{Venue: VenueName, Err: errors.New("no screener configured")}
	}

	if v.rest == nil {
		kc := kiteconnect.New(v.p.APIKey)
		kc.SetAccessToken(v.p.AccessToken)
		v.rest = kc
	}

	instruments, err := v.rest.GetInstrumentsByExchange(v.p.Exchange)
	if err != nil {
		return nil, &types.VenueConnectionError{Venue: VenueName, Err: fmt.Errorf("load instruments: %w", err)}
	}
	n := v.mapper.load(instruments, v.p.Exchange)
	logger.Info(ctx, "Instruments loaded", "exchange", v.p.Exchange, "count", n)
	v.history.clear()

	tm := newTickerManager(v.p.APIKey, v.p.AccessToken, v.mapper, quoteTap{EventHandler: handler, v: v})
	sctx, cancel := context.WithTimeout(ctx, v.p.ConnectTimeout)
	defer cancel()
	if err := tm.Start(sctx); err != nil {
		return nil, &types.VenueConnectionError{Venue: VenueName, Err: err}
	}

	v.mu.Lock()
	v.ticker = tm
	v.handler = handler
	v.mu.Unlock()

	return &types.Connection{
		ID:          fmt.Sprintf("%s-%s", v.p.Exchange, v.now().Format("20060102T150405")),
		Venue:       VenueName,
		ConnectedAt: v.now(),
	}, nil
}

func (v *Venue) Disconnect(ctx context.Context) error {
	v.mu.Lock()
	tm := v.ticker
	v.ticker = nil
	v.mu.Unlock()

	if tm != nil {
		tm.Stop(ctx)
	}
	return nil
}

func (v *Venue) RequestScan(ctx context.Context, req types.ScanRequest) ([]types.ScanResult, error) {
	rows, err := v.p.Screener.Scan(ctx, req.Filter)
	if err != nil {
		return nil, &types.VenueRequestError{Op: "scan", Message: err.Error()}
	}

	// Drop names the exchange does not list; they cannot be traded here.
	out := rows[:0]
	for _, r := range rows {
		if _, ok := v.mapper.getToken(r.Symbol); !ok {
			logger.Debug(ctx, "Screener symbol not tradable on exchange", "symbol", r.Symbol, "exchange", v.p.Exchange)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (v *Venue) RequestHistory(ctx context.Context, symbol string, window types.HistoryWindow) ([]types.PriceBar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if bars, ok := v.history.get(symbol, window); ok {
		return bars, nil
	}

	token, ok := v.mapper.getToken(symbol)
	if !ok {
		return nil, &types.VenueRequestError{Op: "history", Symbol: symbol, Message: "unknown instrument"}
	}
	interval, err := kiteInterval(window.Interval)
	if err != nil {
		return nil, &types.VenueRequestError{Op: "history", Symbol: symbol, Message: err.Error()}
	}

	to := v.now()
	from := to.Add(-lookback(window))
	data, err := v.rest.GetHistoricalData(int(token), interval, from, to, false, false)
	if err != nil {
		return nil, &types.VenueRequestError{Op: "history", Symbol: symbol, Message: err.Error()}
	}

	bars := make([]types.PriceBar, 0, len(data))
	for _, h := range data {
		bars = append(bars, types.PriceBar{
			Symbol:    symbol,
			Timestamp: h.Date.Time,
			Open:      h.Open,
			High:      h.High,
			Low:       h.Low,
			Close:     h.Close,
			Volume:    float64(h.Volume),
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })

	if len(bars) > 0 {
		v.recordQuote(symbol, decimal.NewFromFloat(bars[len(bars)-1].Close))
	}
	v.history.put(symbol, window.Interval, bars)
	return append([]types.PriceBar(nil), lastBars(bars, window.Bars)...), nil
}

func (v *Venue) SubscribeLive(ctx context.Context, symbol string) error {
	tm, err := v.tickerManager()
	if err != nil {
		return err
	}
	return tm.Subscribe(ctx, []string{symbol})
}

func (v *Venue) UnsubscribeLive(ctx context.Context, symbol string) error {
	tm, err := v.tickerManager()
	if err != nil {
		return err
	}
	return tm.Unsubscribe(ctx, []string{symbol})
}

func (v *Venue) tickerManager() (interfaces.TickerManager, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ticker == nil {
		return nil, errors.New("kite ticker not connected")
	}
	return v.ticker, nil
}

func (v *Venue) SubmitOrder(ctx context.Context, req types.OrderRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if v.p.DryRun {
		return v.simulateOrder(ctx, req)
	}
	tag := req.Tag
	if len(tag) > maxTagLen {
		tag = tag[:maxTagLen]
	}
	resp, err := v.rest.PlaceOrder(varietyRegular, kiteconnect.OrderParams{
		Exchange:        v.p.Exchange,
		Tradingsymbol:   req.Symbol,
		Product:         v.p.Product,
		OrderType:       orderTypeMarket,
		Validity:        validityDay,
		TransactionType: string(req.Action),
		Quantity:        req.Quantity,
		Tag:             tag,
	})
	if err != nil {
		return "", &types.VenueRequestError{Op: "order", Symbol: req.Symbol, Message: err.Error()}
	}
	return resp.OrderID, nil
}

func (v *Venue) CancelOrder(ctx context.Context, orderID string) error {
	if isSimulated(orderID) {
		return &types.VenueRequestError{Op: "cancel", Message: orderID + ": simulated orders fill immediately"}
	}
	if _, err := v.rest.CancelOrder(varietyRegular, orderID, nil); err != nil {
		return &types.VenueRequestError{Op: "cancel", Message: fmt.Sprintf("%s: %v", orderID, err)}
	}
	return nil
}

// kiteInterval maps a bar size onto the historical API's interval names.
func kiteInterval(d time.Duration) (string, error) {
	switch d {
	case time.Minute:
		return "minute", nil
	case 3 * time.Minute:
		return "3minute", nil
	case 5 * time.Minute:
		return "5minute", nil
	case 10 * time.Minute:
		return "10minute", nil
	case 15 * time.Minute:
		return "15minute", nil
	case 30 * time.Minute:
		return "30minute", nil
	case time.Hour:
		return "60minute", nil
	case 24 * time.Hour:
		return "day", nil
	}
	return "", fmt.Errorf("unsupported bar interval %s", d)
}

// lookback is the wall-clock span that covers window.Bars trading bars.
// Daily bars skip weekends and holidays; intraday bars also skip the hours
// the exchange is closed (6h15m of 24h open on NSE).
func lookback(w types.HistoryWindow) time.Duration {
	n := time.Duration(w.Bars)
	if w.Interval >= 24*time.Hour {
		return n * w.Interval * 8 / 5
	}
	return n * w.Interval * 6
}
