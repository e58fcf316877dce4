package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"momentum-bot/internal/interfaces"
	"momentum-bot/internal/logger"
	"momentum-bot/internal/metrics"
	"momentum-bot/internal/types"
)

var (
	// ErrOrderPending means the symbol already has an outstanding order.
	ErrOrderPending = errors.New("order already pending")
	// ErrOrderTimeout means no terminal status arrived within the order timeout.
	ErrOrderTimeout = errors.New("timed out waiting for fill")
)

const (
	cancelTimeout      = 5 * time.Second
	defaultOrphanAfter = 5 * time.Minute
)

// OrderRejectedError is returned when the venue rejects or cancels an order.
// The ledger is not touched.
type OrderRejectedError struct {
	OrderID string
	Symbol  string
	Action  types.Action
	Status  types.OrderStatus
	Code    int
	Reason  string
}

func (e *OrderRejectedError) Error() string {
	msg := fmt.Sprintf("%s %s order %s %s", e.Action, e.Symbol, e.OrderID, e.Status)
	if e.Code != 0 {
		msg += fmt.Sprintf(" (code %d)", e.Code)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Fill is a completed order as applied to the ledger.
type Fill struct {
	OrderID     string
	Symbol      string
	Action      types.Action
	Quantity    int
	Price       decimal.Decimal
	Position    types.Position
	RealizedPnL decimal.Decimal
	Latency     time.Duration
	Reason      string
	FilledAt    time.Time
}

type outcome struct {
	fill *Fill
	err  error
}

type pendingOrder struct {
	types.PendingOrder
	reason    string
	filledQty int
	abandoned bool
	orphaned  bool
	expiry    *time.Timer
	done      chan outcome
}

// bufferedEvent holds a callback that raced ahead of SubmitOrder returning.
type bufferedEvent struct {
	status *types.OrderStatusEvent
	verr   *types.VenueError
}

// OrderManager submits market orders and turns asynchronous venue status
// callbacks into ledger updates. It holds its lock while mutating the
// ledger, so the lock order is always OrderManager then Ledger.
type OrderManager struct {
	venue   interfaces.Venue
	ledger  *Ledger
	sinks   []interfaces.TradeSink
	timeout time.Duration
	now     func() time.Time

	// orphanAfter bounds how long an abandoned order keeps its symbol.
	orphanAfter time.Duration
	hooks       []func(context.Context, *Fill)

	mu       sync.Mutex
	bySymbol map[string]*pendingOrder
	byID     map[string]*pendingOrder
	inflight int
	early    map[string][]bufferedEvent
}

func NewOrderManager(venue interfaces.Venue, ledger *Ledger, timeout time.Duration, sinks ...interfaces.TradeSink) *OrderManager {
	return &OrderManager{
		venue:       venue,
		ledger:      ledger,
		sinks:       sinks,
		timeout:     timeout,
		now:         time.Now,
		orphanAfter: defaultOrphanAfter,
		bySymbol:    make(map[string]*pendingOrder),
		byID:        make(map[string]*pendingOrder),
		early:       make(map[string][]bufferedEvent),
	}
}

// OnFill registers fn to run after every applied fill, late fills of
// abandoned orders included. Register hooks before the first order.
func (m *OrderManager) OnFill(fn func(context.Context, *Fill)) {
	m.hooks = append(m.hooks, fn)
}

// SetOrphanAfter sets how long an abandoned order may go without a terminal
// status before its symbol is released. Zero keeps it reserved forever.
func (m *OrderManager) SetOrphanAfter(d time.Duration) {
	m.mu.Lock()
	m.orphanAfter = d
	m.mu.Unlock()
}

// Buy opens a position of qty shares and blocks until the fill is applied,
// the venue rejects the order, the order timeout passes, or ctx ends.
func (m *OrderManager) Buy(ctx context.Context, symbol string, qty int, reason string) (*Fill, error) {
	return m.execute(ctx, symbol, types.ActionBuy, qty, reason)
}

// Sell closes the position for symbol. qty <= 0 sells the whole position;
// positions are never partially closed.
func (m *OrderManager) Sell(ctx context.Context, symbol string, qty int, reason string) (*Fill, error) {
	return m.execute(ctx, symbol, types.ActionSell, qty, reason)
}

// IsPending reports whether symbol has an outstanding order.
func (m *OrderManager) IsPending(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.bySymbol[symbol]
	return ok
}

// Pending returns a copy of all outstanding orders.
func (m *OrderManager) Pending() []types.PendingOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.PendingOrder, 0, len(m.bySymbol))
	for _, po := range m.bySymbol {
		out = append(out, po.PendingOrder)
	}
	return out
}

func (m *OrderManager) execute(ctx context.Context, symbol string, action types.Action, qty int, reason string) (*Fill, error) {
	po, err := m.reserve(symbol, action, qty, reason)
	if err != nil {
		return nil, err
	}

	req := types.OrderRequest{Symbol: symbol, Action: action, Quantity: po.Quantity, Tag: reason}
	orderID, err := m.venue.SubmitOrder(ctx, req)
	if err != nil {
		m.release(po)
		metrics.Orders.WithLabelValues(string(action), "error").Inc()
		return nil, fmt.Errorf("submit %s %s: %w", action, symbol, err)
	}

	logger.Info(ctx, "Order submitted",
		"symbol", symbol,
		"action", action,
		"qty", po.Quantity,
		"order_id", orderID,
		"reason", reason,
	)

	m.register(po, orderID)
	return m.await(ctx, po)
}

// reserve claims the symbol before anything is sent to the venue.
func (m *OrderManager) reserve(symbol string, action types.Action, qty int, reason string) (*pendingOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bySymbol[symbol]; ok {
		return nil, fmt.Errorf("%s %s: %w", action, symbol, ErrOrderPending)
	}

	switch action {
	case types.ActionBuy:
		if qty <= 0 {
			return nil, fmt.Errorf("buy %s: quantity must be positive, got %d", symbol, qty)
		}
		if m.ledger.IsOpen(symbol) {
			return nil, &AlreadyOpenError{Symbol: symbol}
		}
	case types.ActionSell:
		pos, ok := m.ledger.Get(symbol)
		if !ok {
			return nil, &NotOpenError{Symbol: symbol}
		}
		if qty <= 0 {
			qty = pos.Shares
		}
		if qty != pos.Shares {
			return nil, fmt.Errorf("sell %s: partial exit of %d of %d shares not supported", symbol, qty, pos.Shares)
		}
	default:
		return nil, fmt.Errorf("unknown order action %q", action)
	}

	po := &pendingOrder{
		PendingOrder: types.PendingOrder{
			Symbol:      symbol,
			Action:      action,
			Quantity:    qty,
			State:       types.OrderStateSubmitted,
			SubmittedAt: m.now(),
		},
		reason: reason,
		done:   make(chan outcome, 1),
	}
	m.bySymbol[symbol] = po
	m.inflight++
	return po, nil
}

func (m *OrderManager) release(po *pendingOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bySymbol[po.Symbol] == po {
		delete(m.bySymbol, po.Symbol)
	}
	m.inflight--
	m.dropEarlyLocked()
}

// register attaches the venue order id and replays any callbacks that
// arrived before SubmitOrder returned.
func (m *OrderManager) register(po *pendingOrder, orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	po.OrderID = orderID
	m.byID[orderID] = po
	m.inflight--

	if evs, ok := m.early[orderID]; ok {
		delete(m.early, orderID)
		for _, ev := range evs {
			if _, live := m.byID[orderID]; !live {
				break
			}
			if ev.status != nil {
				m.applyStatusLocked(po, *ev.status)
			} else if ev.verr != nil {
				m.rejectLocked(po, types.OrderStatusRejected, ev.verr.Code, ev.verr.Message)
			}
		}
	}
	m.dropEarlyLocked()
}

// dropEarlyLocked discards buffered callbacks once no submission is in
// flight: nothing can claim them any more.
func (m *OrderManager) dropEarlyLocked() {
	if m.inflight > 0 || len(m.early) == 0 {
		return
	}
	for id, evs := range m.early {
		logger.Warn(context.Background(), "Dropping callbacks for unknown order",
			"order_id", id,
			"events", len(evs),
		)
	}
	m.early = make(map[string][]bufferedEvent)
}

func (m *OrderManager) await(ctx context.Context, po *pendingOrder) (*Fill, error) {
	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case out := <-po.done:
		return m.complete(ctx, po, out)
	case <-timer.C:
		return m.abandon(ctx, po, fmt.Errorf("%s %s order %s after %s: %w", po.Action, po.Symbol, po.OrderID, m.timeout, ErrOrderTimeout))
	case <-ctx.Done():
		return m.abandon(ctx, po, fmt.Errorf("%s %s order %s: %w", po.Action, po.Symbol, po.OrderID, ctx.Err()))
	}
}

// abandon stops waiting and asks the venue to cancel. The symbol stays
// reserved until the venue reports a terminal status, so a late fill still
// reaches the ledger and no second order can race it.
func (m *OrderManager) abandon(ctx context.Context, po *pendingOrder, cause error) (*Fill, error) {
	m.mu.Lock()
	select {
	case out := <-po.done:
		m.mu.Unlock()
		return m.complete(ctx, po, out)
	default:
	}
	po.abandoned = true
	if m.orphanAfter > 0 {
		po.expiry = time.AfterFunc(m.orphanAfter, func() { m.expire(po) })
	}
	m.mu.Unlock()

	metrics.Orders.WithLabelValues(string(po.Action), "timeout").Inc()
	logger.Warn(ctx, "Abandoning order wait, requesting cancel",
		"symbol", po.Symbol,
		"action", po.Action,
		"order_id", po.OrderID,
		"cause", cause.Error(),
	)

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()
	if err := m.venue.CancelOrder(cctx, po.OrderID); err != nil {
		logger.ErrorWithErr(ctx, "Cancel request failed", err, "order_id", po.OrderID, "symbol", po.Symbol)
	}
	return nil, cause
}

// expire releases the symbol of an abandoned order the venue never
// resolved. The order stays registered so a status that still arrives is
// applied to the ledger.
func (m *OrderManager) expire(po *pendingOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if po.orphaned || m.byID[po.OrderID] != po {
		return
	}
	po.orphaned = true
	if m.bySymbol[po.Symbol] == po {
		delete(m.bySymbol, po.Symbol)
	}
	metrics.Orders.WithLabelValues(string(po.Action), "orphaned").Inc()
	logger.Error(context.Background(), "Order orphaned, releasing symbol",
		"order_id", po.OrderID,
		"symbol", po.Symbol,
		"action", po.Action,
		"age_ms", m.now().Sub(po.SubmittedAt).Milliseconds(),
	)
}

func (m *OrderManager) complete(ctx context.Context, po *pendingOrder, out outcome) (*Fill, error) {
	if out.err != nil {
		var rejected *OrderRejectedError
		if errors.As(out.err, &rejected) {
			metrics.Orders.WithLabelValues(string(po.Action), "rejected").Inc()
			logger.Warn(ctx, "Order rejected",
				"symbol", po.Symbol,
				"action", po.Action,
				"order_id", po.OrderID,
				"status", rejected.Status,
				"code", rejected.Code,
				"reason", rejected.Reason,
			)
		} else {
			metrics.Orders.WithLabelValues(string(po.Action), "error").Inc()
			logger.ErrorWithErr(ctx, "Fill could not be applied", out.err, "symbol", po.Symbol, "order_id", po.OrderID)
		}
		return nil, out.err
	}
	m.recordFill(ctx, out.fill)
	return out.fill, nil
}

func (m *OrderManager) recordFill(ctx context.Context, f *Fill) {
	metrics.Orders.WithLabelValues(string(f.Action), "filled").Inc()
	metrics.FillLatency.WithLabelValues(string(f.Action)).Observe(f.Latency.Seconds())

	fields := []any{"reason", f.Reason, "latency_ms", f.Latency.Milliseconds()}
	if f.Action == types.ActionSell {
		pnl, _ := f.RealizedPnL.Float64()
		metrics.ObserveRealized(f.Symbol, pnl)
		fields = append(fields, "entry_price", f.Position.EntryPrice, "realized_pnl", f.RealizedPnL)
	}
	logger.Trade(ctx, f.Symbol, string(f.Action), f.Quantity, f.Price, f.OrderID, fields...)

	ev := types.TradeEvent{
		Time:     f.FilledAt,
		Symbol:   f.Symbol,
		Action:   f.Action,
		Quantity: f.Quantity,
		Price:    f.Price,
		OrderID:  f.OrderID,
		Reason:   f.Reason,
	}
	if f.Action == types.ActionSell {
		pnl := f.RealizedPnL
		ev.RealizedPnL = &pnl
	}
	for _, s := range m.sinks {
		s.Publish(ctx, ev)
	}
	for _, fn := range m.hooks {
		fn(ctx, f)
	}
}

// OnOrderStatus applies a venue status callback. Safe to call from the
// venue's goroutine: it never waits on anything but the manager lock.
func (m *OrderManager) OnOrderStatus(ev types.OrderStatusEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	po, ok := m.byID[ev.OrderID]
	if !ok {
		if m.inflight > 0 {
			m.early[ev.OrderID] = append(m.early[ev.OrderID], bufferedEvent{status: &ev})
			return
		}
		logger.Warn(context.Background(), "Status for unknown order",
			"order_id", ev.OrderID,
			"status", ev.Status,
		)
		return
	}
	m.applyStatusLocked(po, ev)
}

// OnVenueError treats an error naming a pending order as a rejection and
// reports whether it was consumed.
func (m *OrderManager) OnVenueError(ev types.VenueError) bool {
	if ev.RequestID == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	po, ok := m.byID[ev.RequestID]
	if !ok {
		if m.inflight > 0 {
			m.early[ev.RequestID] = append(m.early[ev.RequestID], bufferedEvent{verr: &ev})
			return true
		}
		return false
	}
	m.rejectLocked(po, types.OrderStatusRejected, ev.Code, ev.Message)
	return true
}

func (m *OrderManager) applyStatusLocked(po *pendingOrder, ev types.OrderStatusEvent) {
	switch ev.Status {
	case types.OrderStatusSubmitted:
	case types.OrderStatusPartiallyFilled:
		po.filledQty = ev.FilledQty
		logger.Debug(context.Background(), "Partial fill",
			"order_id", po.OrderID,
			"symbol", po.Symbol,
			"filled", ev.FilledQty,
			"of", po.Quantity,
		)
	case types.OrderStatusFilled:
		m.fillLocked(po, ev)
	case types.OrderStatusCancelled, types.OrderStatusRejected:
		m.rejectLocked(po, ev.Status, 0, ev.Message)
	default:
		logger.Warn(context.Background(), "Unrecognised order status", "order_id", po.OrderID, "status", ev.Status)
	}
}

func (m *OrderManager) fillLocked(po *pendingOrder, ev types.OrderStatusEvent) {
	qty := ev.FilledQty
	if qty <= 0 {
		qty = po.Quantity
	}
	now := m.now()
	f := &Fill{
		OrderID:  po.OrderID,
		Symbol:   po.Symbol,
		Action:   po.Action,
		Quantity: qty,
		Price:    ev.AvgFillPrice,
		Latency:  now.Sub(po.SubmittedAt),
		Reason:   po.reason,
		FilledAt: now,
	}

	var err error
	switch po.Action {
	case types.ActionBuy:
		f.Position, err = m.ledger.Open(po.Symbol, ev.AvgFillPrice, qty)
	case types.ActionSell:
		f.Position, err = m.ledger.Close(po.Symbol)
		if err == nil {
			f.RealizedPnL = ev.AvgFillPrice.Sub(f.Position.EntryPrice).Mul(decimal.NewFromInt(int64(qty)))
		}
	}

	po.State = types.OrderStateFilled
	if err != nil {
		m.finishLocked(po, outcome{err: err})
		return
	}
	m.finishLocked(po, outcome{fill: f})
}

func (m *OrderManager) rejectLocked(po *pendingOrder, status types.OrderStatus, code int, reason string) {
	po.State = types.OrderStateCancelled
	m.finishLocked(po, outcome{err: &OrderRejectedError{
		OrderID: po.OrderID,
		Symbol:  po.Symbol,
		Action:  po.Action,
		Status:  status,
		Code:    code,
		Reason:  reason,
	}})
}

func (m *OrderManager) finishLocked(po *pendingOrder, out outcome) {
	if po.expiry != nil {
		po.expiry.Stop()
	}
	delete(m.byID, po.OrderID)
	if m.bySymbol[po.Symbol] == po {
		delete(m.bySymbol, po.Symbol)
	}
	metrics.OpenPositions.Set(float64(m.ledger.Len()))

	if po.abandoned {
		// The caller already returned; finish its bookkeeping off the
		// callback goroutine.
		go m.completeAbandoned(po, out)
		return
	}
	po.done <- out
}

func (m *OrderManager) completeAbandoned(po *pendingOrder, out outcome) {
	ctx := context.Background()
	if out.err != nil {
		var rejected *OrderRejectedError
		if !errors.As(out.err, &rejected) {
			logger.ErrorWithErr(ctx, "Late fill could not be applied", out.err,
				"order_id", po.OrderID,
				"symbol", po.Symbol,
				"orphaned", po.orphaned,
			)
			return
		}
		logger.Info(ctx, "Abandoned order closed without fill",
			"order_id", po.OrderID,
			"symbol", po.Symbol,
			"error", out.err,
		)
		return
	}
	logger.Warn(ctx, "Late fill applied after wait was abandoned",
		"order_id", po.OrderID,
		"symbol", po.Symbol,
		"action", po.Action,
	)
	m.recordFill(ctx, out.fill)
}
