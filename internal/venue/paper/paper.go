// Package paper is an in-process simulated venue. All callbacks are
// delivered on a dedicated dispatch goroutine, like a broker reader thread.
package paper

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"momentum-bot/internal/interfaces"
	"momentum-bot/internal/types"
)

const (
	VenueName = "PAPER"

	eventQueueSize = 1024

	codeNoData        = 162
	codeOrderRejected = 201
)

var ErrNotConnected = errors.New("paper venue not connected")

type Config struct {
	// Universe seeds synthetic scans, history and the live feed. Canned
	// data set through the test controls always wins over synthetic data.
	Universe     []string
	Synthetic    bool
	FeedInterval time.Duration
	AutoFill     bool
	FillDelay    time.Duration
	Seed         int64
}

// Order is the venue-side record of a submitted order.
type Order struct {
	ID          string
	Request     types.OrderRequest
	Status      types.OrderStatus
	FillPrice   decimal.Decimal
	SubmittedAt time.Time
}

type Venue struct {
	cfg Config

	mu         sync.Mutex
	events     chan func(interfaces.EventHandler)
	stop       chan struct{}
	done       chan struct{}
	connectErr error

	scan         []types.ScanResult
	scanSet      bool
	scanErr      error
	scanRequests []types.ScanRequest

	history    map[string][]types.PriceBar
	historyErr map[string]error

	quotes     map[string]decimal.Decimal
	subscribed map[string]bool

	orders    map[string]*Order
	orderSeq  []string
	submitErr error
	rejects   map[string]string
	autoFill  bool

	rng *rand.Rand
}

var _ interfaces.Venue = (*Venue)(nil)

func New(cfg Config) *Venue {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Venue{
		cfg:        cfg,
		history:    make(map[string][]types.PriceBar),
		historyErr: make(map[string]error),
		quotes:     make(map[string]decimal.Decimal),
		subscribed: make(map[string]bool),
		orders:     make(map[string]*Order),
		rejects:    make(map[string]string),
		autoFill:   cfg.AutoFill,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

func (v *Venue) Connect(ctx context.Context, params types.ConnectParams, handler interfaces.EventHandler) (*types.Connection, error) {
	if handler == nil {
		return nil, errors.New("paper: nil event handler")
	}

	v.mu.Lock()
	if v.connectErr != nil {
		err := v.connectErr
		v.mu.Unlock()
		return nil, &types.VenueConnectionError{Venue: VenueName, Err: err}
	}
	if v.events != nil {
		v.mu.Unlock()
		return nil, &types.VenueConnectionError{Venue: VenueName, Err: errors.New("already connected")}
	}
	v.events = make(chan func(interfaces.EventHandler), eventQueueSize)
	v.stop = make(chan struct{})
	v.done = make(chan struct{})
	events, stop, done := v.events, v.stop, v.done
	v.mu.Unlock()

	go dispatch(handler, events, stop, done)
	if v.cfg.Synthetic && v.cfg.FeedInterval > 0 {
		go v.feed(stop)
	}

	return &types.Connection{
		ID:          uuid.NewString(),
		Venue:       VenueName,
		ConnectedAt: time.Now(),
	}, nil
}

func dispatch(h interfaces.EventHandler, events <-chan func(interfaces.EventHandler), stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case fn := <-events:
			fn(h)
		case <-stop:
			return
		}
	}
}

func (v *Venue) Disconnect(ctx context.Context) error {
	v.mu.Lock()
	stop, done := v.stop, v.done
	v.events, v.stop, v.done = nil, nil, nil
	v.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue hands fn to the dispatch goroutine; it reports false when not
// connected.
func (v *Venue) enqueue(fn func(interfaces.EventHandler)) bool {
	v.mu.Lock()
	events, stop := v.events, v.stop
	v.mu.Unlock()
	if events == nil {
		return false
	}
	select {
	case events <- fn:
		return true
	case <-stop:
		return false
	}
}

func (v *Venue) RequestScan(ctx context.Context, req types.ScanRequest) ([]types.ScanResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	v.scanRequests = append(v.scanRequests, req)
	if v.scanErr != nil {
		return nil, &types.VenueRequestError{Op: "scan", Message: v.scanErr.Error()}
	}

	var rows []types.ScanResult
	switch {
	case v.scanSet:
		rows = append(rows, v.scan...)
	case v.cfg.Synthetic:
		rows = v.syntheticScanLocked()
	}

	out := make([]types.ScanResult, 0, len(rows))
	for _, r := range rows {
		if !req.Filter.Accepts(r) {
			continue
		}
		out = append(out, r)
		if req.Filter.MaxRows > 0 && len(out) == req.Filter.MaxRows {
			break
		}
	}
	return out, nil
}

func (v *Venue) RequestHistory(ctx context.Context, symbol string, window types.HistoryWindow) ([]types.PriceBar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.historyErr[symbol]; err != nil {
		return nil, &types.VenueRequestError{Op: "history", Symbol: symbol, Code: codeNoData, Message: err.Error()}
	}
	bars, ok := v.history[symbol]
	if !ok && v.cfg.Synthetic {
		bars = v.syntheticHistoryLocked(symbol, window)
		v.history[symbol] = bars
		ok = true
	}
	if !ok {
		return nil, &types.VenueRequestError{Op: "history", Symbol: symbol, Code: codeNoData, Message: "no historical data"}
	}
	if window.Bars > 0 && len(bars) > window.Bars {
		bars = bars[len(bars)-window.Bars:]
	}
	return append([]types.PriceBar(nil), bars...), nil
}

func (v *Venue) SubscribeLive(ctx context.Context, symbol string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.events == nil {
		return ErrNotConnected
	}
	v.subscribed[symbol] = true
	return nil
}

func (v *Venue) UnsubscribeLive(ctx context.Context, symbol string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.subscribed, symbol)
	return nil
}

func (v *Venue) SubmitOrder(ctx context.Context, req types.OrderRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	v.mu.Lock()
	if v.events == nil {
		v.mu.Unlock()
		return "", ErrNotConnected
	}
	if v.submitErr != nil {
		err := v.submitErr
		v.mu.Unlock()
		return "", &types.VenueRequestError{Op: "order", Symbol: req.Symbol, Message: err.Error()}
	}
	if req.Quantity <= 0 {
		v.mu.Unlock()
		return "", &types.VenueRequestError{Op: "order", Symbol: req.Symbol, Message: "quantity must be positive"}
	}

	id := uuid.NewString()
	v.orders[id] = &Order{ID: id, Request: req, Status: types.OrderStatusSubmitted, SubmittedAt: time.Now()}
	v.orderSeq = append(v.orderSeq, id)

	reason, reject := v.rejects[req.Symbol]
	delete(v.rejects, req.Symbol)
	autoFill := v.autoFill
	quote, hasQuote := v.quotes[req.Symbol]
	delay := v.cfg.FillDelay
	v.mu.Unlock()

	v.enqueue(func(h interfaces.EventHandler) {
		h.OnOrderStatus(types.OrderStatusEvent{OrderID: id, Status: types.OrderStatusSubmitted})
	})

	switch {
	case reject:
		v.markStatus(id, types.OrderStatusRejected, decimal.Zero)
		v.enqueue(func(h interfaces.EventHandler) {
			h.OnError(types.VenueError{RequestID: id, Code: codeOrderRejected, Message: reason})
		})
	case autoFill && hasQuote:
		if delay <= 0 {
			_ = v.Fill(id, quote)
		} else {
			time.AfterFunc(delay, func() { _ = v.Fill(id, quote) })
		}
	}
	return id, nil
}

func (v *Venue) CancelOrder(ctx context.Context, orderID string) error {
	v.mu.Lock()
	o, ok := v.orders[orderID]
	if !ok {
		v.mu.Unlock()
		return fmt.Errorf("paper: unknown order %s", orderID)
	}
	if o.Status.Terminal() {
		v.mu.Unlock()
		return fmt.Errorf("paper: order %s already %s", orderID, o.Status)
	}
	o.Status = types.OrderStatusCancelled
	v.mu.Unlock()

	v.enqueue(func(h interfaces.EventHandler) {
		h.OnOrderStatus(types.OrderStatusEvent{OrderID: orderID, Status: types.OrderStatusCancelled, Message: "cancelled by request"})
	})
	return nil
}

func (v *Venue) markStatus(id string, status types.OrderStatus, price decimal.Decimal) (*Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[id]
	if !ok {
		return nil, fmt.Errorf("paper: unknown order %s", id)
	}
	if o.Status.Terminal() {
		return nil, fmt.Errorf("paper: order %s already %s", id, o.Status)
	}
	o.Status = status
	o.FillPrice = price
	cp := *o
	return &cp, nil
}

// Fill completes an open order at price.
func (v *Venue) Fill(orderID string, price decimal.Decimal) error {
	o, err := v.markStatus(orderID, types.OrderStatusFilled, price)
	if err != nil {
		return err
	}
	v.enqueue(func(h interfaces.EventHandler) {
		h.OnOrderStatus(types.OrderStatusEvent{
			OrderID:      orderID,
			Status:       types.OrderStatusFilled,
			FilledQty:    o.Request.Quantity,
			AvgFillPrice: price,
		})
	})
	return nil
}

// Reject reports an open order as rejected by status callback.
func (v *Venue) Reject(orderID, reason string) error {
	if _, err := v.markStatus(orderID, types.OrderStatusRejected, decimal.Zero); err != nil {
		return err
	}
	v.enqueue(func(h interfaces.EventHandler) {
		h.OnOrderStatus(types.OrderStatusEvent{OrderID: orderID, Status: types.OrderStatusRejected, Message: reason})
	})
	return nil
}

// PushPrice sets the quote and delivers an update if symbol is subscribed.
func (v *Venue) PushPrice(symbol string, price decimal.Decimal) {
	v.mu.Lock()
	v.quotes[symbol] = price
	sub := v.subscribed[symbol]
	v.mu.Unlock()
	if !sub {
		return
	}
	u := types.PriceUpdate{Symbol: symbol, Price: price, Time: time.Now()}
	v.enqueue(func(h interfaces.EventHandler) { h.OnPriceUpdate(u) })
}

// DropConnection simulates the venue giving up on the session.
func (v *Venue) DropConnection(err error) {
	v.enqueue(func(h interfaces.EventHandler) { h.OnConnectionLost(err) })
}

// Flush waits until every event queued so far has been delivered.
func (v *Venue) Flush() {
	ch := make(chan struct{})
	if !v.enqueue(func(interfaces.EventHandler) { close(ch) }) {
		return
	}
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
	}
}

func (v *Venue) SetScanResults(rows []types.ScanResult) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.scan = append([]types.ScanResult(nil), rows...)
	v.scanSet = true
}

func (v *Venue) SetScanError(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.scanErr = err
}

func (v *Venue) SetHistory(symbol string, bars []types.PriceBar) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.history[symbol] = append([]types.PriceBar(nil), bars...)
}

func (v *Venue) SetHistoryError(symbol string, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err == nil {
		delete(v.historyErr, symbol)
		return
	}
	v.historyErr[symbol] = err
}

func (v *Venue) SetQuote(symbol string, price decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.quotes[symbol] = price
}

func (v *Venue) SetAutoFill(on bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.autoFill = on
}

func (v *Venue) SetSubmitError(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.submitErr = err
}

func (v *Venue) SetConnectError(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.connectErr = err
}

// RejectNext makes the next order for symbol fail with an error callback.
func (v *Venue) RejectNext(symbol, reason string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rejects[symbol] = reason
}

// Orders returns every submitted order in submission order.
func (v *Venue) Orders() []Order {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Order, 0, len(v.orderSeq))
	for _, id := range v.orderSeq {
		out = append(out, *v.orders[id])
	}
	return out
}

func (v *Venue) ScanRequests() []types.ScanRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]types.ScanRequest(nil), v.scanRequests...)
}

func (v *Venue) Subscribed(symbol string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.subscribed[symbol]
}

func (v *Venue) subscribedSymbols() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, 0, len(v.subscribed))
	for s := range v.subscribed {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
