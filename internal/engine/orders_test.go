package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"momentum-bot/internal/interfaces"
	"momentum-bot/internal/types"
	"momentum-bot/internal/venue/paper"
)

// scriptedVenue lets a test decide synchronously what SubmitOrder and
// CancelOrder do.
type scriptedVenue struct {
	mu        sync.Mutex
	submit    func(req types.OrderRequest) (string, error)
	cancelErr error
	cancelled []string
}

func (s *scriptedVenue) Connect(context.Context, types.ConnectParams, interfaces.EventHandler) (*types.Connection, error) {
	return &types.Connection{ID: "scripted"}, nil
}
func (s *scriptedVenue) Disconnect(context.Context) error { return nil }
func (s *scriptedVenue) RequestScan(context.Context, types.ScanRequest) ([]types.ScanResult, error) {
	return nil, nil
}
func (s *scriptedVenue) RequestHistory(context.Context, string, types.HistoryWindow) ([]types.PriceBar, error) {
	return nil, nil
}
func (s *scriptedVenue) SubscribeLive(context.Context, string) error   { return nil }
func (s *scriptedVenue) UnsubscribeLive(context.Context, string) error { return nil }

func (s *scriptedVenue) SubmitOrder(_ context.Context, req types.OrderRequest) (string, error) {
	return s.submit(req)
}

func (s *scriptedVenue) CancelOrder(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, id)
	return s.cancelErr
}

func (s *scriptedVenue) cancelCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cancelled...)
}

func TestBuyFillOpensPosition(t *testing.T) {
	h := newHarness(t, paper.Config{AutoFill: true}, 2*time.Second)
	h.venue.SetQuote("XYZ", d("5.00"))

	fill, err := h.orders.Buy(context.Background(), "XYZ", 200, "test")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !fill.Price.Equal(d("5")) || fill.Quantity != 200 {
		t.Errorf("Expected 200 @ 5.00, got %d @ %s", fill.Quantity, fill.Price)
	}
	pos, ok := h.ledger.Get("XYZ")
	if !ok || !pos.EntryPrice.Equal(d("5")) || pos.Shares != 200 {
		t.Errorf("Expected ledger XYZ 200 @ 5.00, got %+v (open=%v)", pos, ok)
	}
	if h.orders.IsPending("XYZ") {
		t.Error("Expected no pending order after fill")
	}

	trades := h.trades.snapshot()
	if len(trades) != 1 || trades[0].Action != types.ActionBuy || trades[0].RealizedPnL != nil {
		t.Errorf("Expected one BUY trade event without PnL, got %+v", trades)
	}
}

func TestConcurrentBuysSubmitOnce(t *testing.T) {
	h := newHarness(t, paper.Config{AutoFill: true, FillDelay: 20 * time.Millisecond}, 2*time.Second)
	h.venue.SetQuote("XYZ", d("5.00"))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.orders.Buy(context.Background(), "XYZ", 200, "test")
		}(i)
	}
	wg.Wait()

	if n := len(h.venue.Orders()); n != 1 {
		t.Fatalf("Expected exactly one order at the venue, got %d", n)
	}
	if h.ledger.Len() != 1 {
		t.Errorf("Expected one position, got %d", h.ledger.Len())
	}

	var ok, blocked int
	for _, err := range errs {
		var already *AlreadyOpenError
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrOrderPending), errors.As(err, &already):
			blocked++
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}
	if ok != 1 || blocked != 1 {
		t.Errorf("Expected one success and one blocked buy, got %d/%d", ok, blocked)
	}
}

func TestBuyWhileHeldFails(t *testing.T) {
	h := newHarness(t, paper.Config{AutoFill: true}, time.Second)
	mustOpen(t, h.ledger, "XYZ", d("5"), 200)

	_, err := h.orders.Buy(context.Background(), "XYZ", 200, "test")
	var already *AlreadyOpenError
	if !errors.As(err, &already) {
		t.Fatalf("Expected AlreadyOpenError, got %v", err)
	}
	if len(h.venue.Orders()) != 0 {
		t.Error("Expected nothing submitted for a held symbol")
	}
}

func TestRejectedBuyLeavesLedgerUnchanged(t *testing.T) {
	h := newHarness(t, paper.Config{AutoFill: true}, 2*time.Second)
	h.venue.SetQuote("XYZ", d("5.00"))
	h.venue.RejectNext("XYZ", "insufficient buying power")

	_, err := h.orders.Buy(context.Background(), "XYZ", 200, "test")
	var rejected *OrderRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("Expected OrderRejectedError, got %v", err)
	}
	if rejected.Reason != "insufficient buying power" || rejected.Code == 0 {
		t.Errorf("Expected venue reason and code, got %+v", rejected)
	}
	if h.ledger.IsOpen("XYZ") {
		t.Error("Expected no position after rejection")
	}
	if h.orders.IsPending("XYZ") {
		t.Error("Expected reservation released after rejection")
	}

	// The symbol is free again.
	if _, err := h.orders.Buy(context.Background(), "XYZ", 200, "test"); err != nil {
		t.Errorf("Expected retry to fill, got %v", err)
	}
}

func TestStatusRejectionReleasesSymbol(t *testing.T) {
	h := newHarness(t, paper.Config{}, 2*time.Second)

	done := make(chan error, 1)
	go func() {
		_, err := h.orders.Buy(context.Background(), "XYZ", 200, "test")
		done <- err
	}()
	waitFor(t, "order submission", func() bool { return len(h.venue.Orders()) == 1 })
	if err := h.venue.Reject(h.venue.Orders()[0].ID, "halted"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	err := <-done
	var rejected *OrderRejectedError
	if !errors.As(err, &rejected) || rejected.Status != types.OrderStatusRejected {
		t.Fatalf("Expected REJECTED OrderRejectedError, got %v", err)
	}
	if h.ledger.Len() != 0 {
		t.Error("Expected empty ledger")
	}
}

func TestSubmitErrorReleasesReservation(t *testing.T) {
	h := newHarness(t, paper.Config{AutoFill: true}, time.Second)
	h.venue.SetQuote("XYZ", d("5"))
	h.venue.SetSubmitError(errors.New("throttled"))

	if _, err := h.orders.Buy(context.Background(), "XYZ", 200, "test"); err == nil {
		t.Fatal("Expected submit error")
	}
	if h.orders.IsPending("XYZ") {
		t.Fatal("Expected reservation released after submit failure")
	}

	h.venue.SetSubmitError(nil)
	if _, err := h.orders.Buy(context.Background(), "XYZ", 200, "test"); err != nil {
		t.Errorf("Expected buy to succeed once submission works, got %v", err)
	}
}

func TestBuyTimeoutCancels(t *testing.T) {
	h := newHarness(t, paper.Config{}, 50*time.Millisecond)

	_, err := h.orders.Buy(context.Background(), "XYZ", 200, "test")
	if !errors.Is(err, ErrOrderTimeout) {
		t.Fatalf("Expected ErrOrderTimeout, got %v", err)
	}

	orders := h.venue.Orders()
	if len(orders) != 1 || orders[0].Status != types.OrderStatusCancelled {
		t.Fatalf("Expected the order to be cancelled at the venue, got %+v", orders)
	}
	h.venue.Flush()
	if h.orders.IsPending("XYZ") {
		t.Error("Expected reservation released once the cancel is confirmed")
	}
	if h.ledger.IsOpen("XYZ") {
		t.Error("Expected no position after timeout")
	}
}

func TestContextCancelAbandonsWait(t *testing.T) {
	h := newHarness(t, paper.Config{}, 5*time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		for len(h.venue.Orders()) == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	_, err := h.orders.Buy(ctx, "XYZ", 200, "test")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if got := h.venue.Orders()[0].Status; got != types.OrderStatusCancelled {
		t.Errorf("Expected cancel request to reach the venue, got %s", got)
	}
}

func TestLateFillAfterTimeoutIsApplied(t *testing.T) {
	sv := &scriptedVenue{
		submit:    func(types.OrderRequest) (string, error) { return "ord-1", nil },
		cancelErr: errors.New("order already complete"),
	}
	ledger := NewLedger()
	trades := &tradeRecorder{}
	om := NewOrderManager(sv, ledger, 20*time.Millisecond, trades)

	_, err := om.Buy(context.Background(), "XYZ", 100, "test")
	if !errors.Is(err, ErrOrderTimeout) {
		t.Fatalf("Expected ErrOrderTimeout, got %v", err)
	}
	if calls := sv.cancelCalls(); len(calls) != 1 || calls[0] != "ord-1" {
		t.Errorf("Expected cancel for ord-1, got %v", calls)
	}
	if !om.IsPending("XYZ") {
		t.Fatal("Expected symbol to stay reserved until a terminal status")
	}
	if _, err := om.Buy(context.Background(), "XYZ", 100, "test"); !errors.Is(err, ErrOrderPending) {
		t.Errorf("Expected ErrOrderPending while abandoned order is live, got %v", err)
	}

	om.OnOrderStatus(types.OrderStatusEvent{OrderID: "ord-1", Status: types.OrderStatusFilled, FilledQty: 100, AvgFillPrice: d("4.10")})

	if !ledger.IsOpen("XYZ") {
		t.Fatal("Expected late fill to open the position")
	}
	waitFor(t, "late fill trade event", func() bool { return len(trades.snapshot()) == 1 })
}

func TestStatusBeforeSubmitReturnsIsReplayed(t *testing.T) {
	var om *OrderManager
	sv := &scriptedVenue{}
	sv.submit = func(req types.OrderRequest) (string, error) {
		// The venue's reader reports the fill before the submit call returns.
		om.OnOrderStatus(types.OrderStatusEvent{OrderID: "fast-1", Status: types.OrderStatusSubmitted})
		om.OnOrderStatus(types.OrderStatusEvent{OrderID: "fast-1", Status: types.OrderStatusFilled, FilledQty: req.Quantity, AvgFillPrice: d("7.25")})
		return "fast-1", nil
	}
	ledger := NewLedger()
	om = NewOrderManager(sv, ledger, time.Second)

	fill, err := om.Buy(context.Background(), "FAST", 10, "test")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if fill.OrderID != "fast-1" || !fill.Price.Equal(d("7.25")) {
		t.Errorf("Expected fast-1 @ 7.25, got %s @ %s", fill.OrderID, fill.Price)
	}
	if !ledger.IsOpen("FAST") {
		t.Error("Expected FAST to be open")
	}
}

func TestErrorBeforeSubmitReturnsIsReplayed(t *testing.T) {
	var om *OrderManager
	sv := &scriptedVenue{}
	sv.submit = func(types.OrderRequest) (string, error) {
		om.OnVenueError(types.VenueError{RequestID: "bad-1", Code: 201, Message: "not shortable"})
		return "bad-1", nil
	}
	om = NewOrderManager(sv, NewLedger(), time.Second)

	_, err := om.Buy(context.Background(), "BAD", 10, "test")
	var rejected *OrderRejectedError
	if !errors.As(err, &rejected) || rejected.Code != 201 {
		t.Fatalf("Expected replayed rejection with code 201, got %v", err)
	}
}

func TestUnrelatedVenueErrorNotConsumed(t *testing.T) {
	om := NewOrderManager(&scriptedVenue{}, NewLedger(), time.Second)
	if om.OnVenueError(types.VenueError{Code: 2104, Message: "market data farm ok"}) {
		t.Error("Expected connection notice to pass through")
	}
	if om.OnVenueError(types.VenueError{RequestID: "nobody", Code: 200}) {
		t.Error("Expected error for unknown order to pass through")
	}
}

func TestSellRealizesProfit(t *testing.T) {
	h := newHarness(t, paper.Config{AutoFill: true}, 2*time.Second)
	mustOpen(t, h.ledger, "XYZ", d("5.00"), 200)
	h.venue.SetQuote("XYZ", d("5.30"))

	fill, err := h.orders.Sell(context.Background(), "XYZ", 0, "test")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !fill.RealizedPnL.Equal(d("60")) {
		t.Errorf("Expected realized 60.00, got %s", fill.RealizedPnL)
	}
	if h.ledger.IsOpen("XYZ") {
		t.Error("Expected XYZ to be closed")
	}

	trades := h.trades.snapshot()
	if len(trades) != 1 || trades[0].RealizedPnL == nil || !trades[0].RealizedPnL.Equal(d("60")) {
		t.Errorf("Expected SELL trade event with PnL 60, got %+v", trades)
	}
}

func TestSellValidation(t *testing.T) {
	h := newHarness(t, paper.Config{AutoFill: true}, time.Second)

	_, err := h.orders.Sell(context.Background(), "XYZ", 0, "test")
	var notOpen *NotOpenError
	if !errors.As(err, &notOpen) {
		t.Errorf("Expected NotOpenError, got %v", err)
	}

	mustOpen(t, h.ledger, "XYZ", d("5"), 200)
	if _, err := h.orders.Sell(context.Background(), "XYZ", 100, "test"); err == nil {
		t.Error("Expected partial exit to be refused")
	}
	if _, err := h.orders.Buy(context.Background(), "ABC", 0, "test"); err == nil {
		t.Error("Expected zero-quantity buy to be refused")
	}
	if len(h.venue.Orders()) != 0 {
		t.Error("Expected nothing submitted for invalid requests")
	}
}

func TestPendingSnapshot(t *testing.T) {
	h := newHarness(t, paper.Config{}, 2*time.Second)
	go func() { _, _ = h.orders.Buy(context.Background(), "XYZ", 5, "test") }()

	waitFor(t, "pending order", func() bool { return len(h.orders.Pending()) == 1 })
	p := h.orders.Pending()[0]
	if p.Symbol != "XYZ" || p.Action != types.ActionBuy || p.Quantity != 5 || p.State != types.OrderStateSubmitted {
		t.Errorf("Unexpected pending order %+v", p)
	}

	waitFor(t, "venue order", func() bool { return len(h.venue.Orders()) == 1 })
	_ = h.venue.Fill(h.venue.Orders()[0].ID, decimal.NewFromInt(3))
	waitFor(t, "fill", func() bool { return h.ledger.IsOpen("XYZ") })
}

func TestFillHookRunsForLateFill(t *testing.T) {
	sv := &scriptedVenue{
		submit:    func(types.OrderRequest) (string, error) { return "ord-1", nil },
		cancelErr: errors.New("order already complete"),
	}
	om := NewOrderManager(sv, NewLedger(), 20*time.Millisecond)
	hooked := make(chan *Fill, 1)
	om.OnFill(func(_ context.Context, f *Fill) { hooked <- f })

	if _, err := om.Buy(context.Background(), "XYZ", 100, "test"); !errors.Is(err, ErrOrderTimeout) {
		t.Fatalf("Expected ErrOrderTimeout, got %v", err)
	}
	om.OnOrderStatus(types.OrderStatusEvent{OrderID: "ord-1", Status: types.OrderStatusFilled, FilledQty: 100, AvgFillPrice: d("4.10")})

	select {
	case f := <-hooked:
		if f.Action != types.ActionBuy || f.Symbol != "XYZ" || !f.Price.Equal(d("4.10")) {
			t.Errorf("Unexpected fill passed to hook: %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected fill hook to run for the late fill")
	}
}

func TestOrphanedOrderReleasesSymbol(t *testing.T) {
	sv := &scriptedVenue{
		submit:    func(types.OrderRequest) (string, error) { return "ord-1", nil },
		cancelErr: errors.New("venue unreachable"),
	}
	ledger := NewLedger()
	om := NewOrderManager(sv, ledger, 10*time.Millisecond)
	om.SetOrphanAfter(30 * time.Millisecond)

	if _, err := om.Buy(context.Background(), "XYZ", 100, "test"); !errors.Is(err, ErrOrderTimeout) {
		t.Fatalf("Expected ErrOrderTimeout, got %v", err)
	}
	if !om.IsPending("XYZ") {
		t.Fatal("Expected symbol reserved right after the timeout")
	}
	waitFor(t, "orphaned order to release XYZ", func() bool { return !om.IsPending("XYZ") })
	if n := len(om.Pending()); n != 0 {
		t.Errorf("Expected no pending orders after expiry, got %d", n)
	}

	// A status that still turns up is applied.
	om.OnOrderStatus(types.OrderStatusEvent{OrderID: "ord-1", Status: types.OrderStatusFilled, FilledQty: 100, AvgFillPrice: d("4.10")})
	if !ledger.IsOpen("XYZ") {
		t.Error("Expected a fill after expiry to reach the ledger")
	}
}

func TestTerminalStatusStopsOrphanTimer(t *testing.T) {
	sv := &scriptedVenue{
		submit:    func(types.OrderRequest) (string, error) { return "ord-1", nil },
		cancelErr: errors.New("venue unreachable"),
	}
	om := NewOrderManager(sv, NewLedger(), 10*time.Millisecond)
	om.SetOrphanAfter(20 * time.Millisecond)

	if _, err := om.Buy(context.Background(), "XYZ", 100, "test"); !errors.Is(err, ErrOrderTimeout) {
		t.Fatalf("Expected ErrOrderTimeout, got %v", err)
	}
	om.OnOrderStatus(types.OrderStatusEvent{OrderID: "ord-1", Status: types.OrderStatusCancelled})
	if om.IsPending("XYZ") {
		t.Fatal("Expected cancel confirmation to release XYZ")
	}

	sv.submit = func(types.OrderRequest) (string, error) { return "ord-2", nil }
	go func() {
		time.Sleep(40 * time.Millisecond)
		om.OnOrderStatus(types.OrderStatusEvent{OrderID: "ord-2", Status: types.OrderStatusFilled, FilledQty: 100, AvgFillPrice: d("4.20")})
	}()
	om.timeout = time.Second
	if _, err := om.Buy(context.Background(), "XYZ", 100, "test"); err != nil {
		t.Errorf("Expected the next buy to fill undisturbed, got %v", err)
	}
}
