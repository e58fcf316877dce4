package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"momentum-bot/internal/interfaces"
	"momentum-bot/internal/types"
	"momentum-bot/internal/venue/paper"
)

// Scan, buy at 5.00, then a live 5.30 print takes the profit.
func TestEndToEndProfitTarget(t *testing.T) {
	trades := &tradeRecorder{}
	b, v := newTestBot(t, paper.Config{AutoFill: true}, Options{Sinks: []interfaces.TradeSink{trades}})
	v.SetScanResults([]types.ScanResult{row("XYZ", 0)})
	v.SetHistory("XYZ", trendingBars("XYZ"))
	v.SetQuote("XYZ", d("5.00"))

	report, err := b.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !contains(report.Bought, "XYZ") {
		t.Fatalf("Expected XYZ bought, got %+v", report)
	}

	v.PushPrice("XYZ", d("5.30"))
	v.Flush()
	b.Exits.Wait()

	if b.Ledger.IsOpen("XYZ") {
		t.Fatal("Expected XYZ to be closed")
	}
	got := trades.snapshot()
	if len(got) != 2 {
		t.Fatalf("Expected buy and sell trade events, got %+v", got)
	}
	buy, sell := got[0], got[1]
	if buy.Action != types.ActionBuy || !buy.Price.Equal(d("5")) || buy.Quantity != 200 {
		t.Errorf("Unexpected buy %+v", buy)
	}
	if sell.Action != types.ActionSell || !sell.Price.Equal(d("5.3")) || sell.Quantity != 200 {
		t.Errorf("Unexpected sell %+v", sell)
	}
	if sell.RealizedPnL == nil || sell.RealizedPnL.StringFixed(2) != "60.00" {
		t.Errorf("Expected realized 60.00, got %v", sell.RealizedPnL)
	}

	v.SetScanResults(nil)
	report, err = b.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(report.Holdings) != 0 {
		t.Errorf("Expected no holdings after exit, got %+v", report.Holdings)
	}
}

func TestHoldingsUseLastPrice(t *testing.T) {
	b, v := newTestBot(t, paper.Config{AutoFill: true}, Options{})
	mustOpen(t, b.Ledger, "XYZ", d("5.00"), 200)
	_ = v.SubscribeLive(context.Background(), "XYZ")

	v.PushPrice("XYZ", d("5.10"))
	v.Flush()

	hs := b.Scanner.Holdings()
	if len(hs) != 1 {
		t.Fatalf("Expected one holding, got %d", len(hs))
	}
	if !hs[0].LastPrice.Equal(d("5.1")) || !hs[0].UnrealizedPnL.Equal(d("20")) {
		t.Errorf("Expected 5.10 and unrealized 20, got %s and %s", hs[0].LastPrice, hs[0].UnrealizedPnL)
	}
}

func TestRunStopsOnConnectionLoss(t *testing.T) {
	v := paper.New(paper.Config{})
	v.SetScanResults(nil)
	b := New(testConfig(), v, Options{})

	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background()) }()

	waitFor(t, "first scan", func() bool { return len(v.ScanRequests()) > 0 })
	v.DropConnection(errors.New("socket closed"))

	select {
	case err := <-done:
		var connErr *types.VenueConnectionError
		if !errors.As(err, &connErr) {
			t.Fatalf("Expected VenueConnectionError, got %v", err)
		}
		if connErr.Venue != "PAPER" {
			t.Errorf("Expected venue PAPER, got %s", connErr.Venue)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Expected Run to return after connection loss")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	v := paper.New(paper.Config{})
	b := New(testConfig(), v, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	waitFor(t, "two scans", func() bool { return len(v.ScanRequests()) >= 2 })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Expected Run to return after cancel")
	}
}

func TestRunConnectFailure(t *testing.T) {
	v := paper.New(paper.Config{})
	v.SetConnectError(errors.New("refused"))
	b := New(testConfig(), v, Options{})

	err := b.Run(context.Background())
	var connErr *types.VenueConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Expected VenueConnectionError, got %v", err)
	}
}

type countingEngine struct {
	inner interfaces.Engine
	calls int
}

func (c *countingEngine) Cycle(ctx context.Context) (*types.CycleReport, error) {
	c.calls++
	return c.inner.Cycle(ctx)
}

func TestWrapEngineInstrumentsCycle(t *testing.T) {
	var wrapped *countingEngine
	b, v := newTestBot(t, paper.Config{}, Options{
		WrapEngine: func(e interfaces.Engine) interfaces.Engine {
			wrapped = &countingEngine{inner: e}
			return wrapped
		},
	})
	v.SetScanResults(nil)

	if _, err := b.Cycle(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if wrapped == nil || wrapped.calls != 1 {
		t.Errorf("Expected one instrumented cycle, got %+v", wrapped)
	}
}

// stuckCancelVenue never manages to cancel, like a Kite dry-run order or a
// cancel that loses the race to a fill.
type stuckCancelVenue struct {
	*paper.Venue
}

func (stuckCancelVenue) CancelOrder(context.Context, string) error {
	return errors.New("order cannot be cancelled")
}

// A buy that fills after its wait timed out is still watched for exits.
func TestLateBuyFillIsWatched(t *testing.T) {
	v := paper.New(paper.Config{})
	cfg := testConfig()
	cfg.Trade.OrderTimeout = 100 * time.Millisecond
	trades := &tradeRecorder{}
	b := New(cfg, stuckCancelVenue{v}, Options{Sinks: []interfaces.TradeSink{trades}})
	if _, err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Unexpected connect error: %v", err)
	}
	t.Cleanup(func() {
		b.Exits.Wait()
		_ = v.Disconnect(context.Background())
	})

	v.SetScanResults([]types.ScanResult{row("XYZ", 0)})
	v.SetHistory("XYZ", trendingBars("XYZ"))

	report, err := b.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !contains(report.Failed, "XYZ") {
		t.Fatalf("Expected the timed-out buy to be marked failed, got %+v", report)
	}

	orders := v.Orders()
	if len(orders) != 1 {
		t.Fatalf("Expected one order at the venue, got %d", len(orders))
	}
	if err := v.Fill(orders[0].ID, d("5.00")); err != nil {
		t.Fatalf("Unexpected fill error: %v", err)
	}
	waitFor(t, "late fill to open and subscribe XYZ", func() bool {
		return b.Ledger.IsOpen("XYZ") && v.Subscribed("XYZ")
	})

	v.SetAutoFill(true)
	v.PushPrice("XYZ", d("4.00"))
	v.Flush()
	waitFor(t, "stop loss exit", func() bool { return !b.Ledger.IsOpen("XYZ") })
	b.Exits.Wait()

	got := trades.snapshot()
	if len(got) != 2 || got[1].Action != types.ActionSell || got[1].Reason != string(ExitStopLoss) {
		t.Fatalf("Expected late buy then STOP_LOSS sell, got %+v", got)
	}
	if got[1].RealizedPnL == nil || got[1].RealizedPnL.StringFixed(2) != "-200.00" {
		t.Errorf("Expected realized -200.00, got %v", got[1].RealizedPnL)
	}
	if v.Subscribed("XYZ") {
		t.Error("Expected live feed dropped after the exit")
	}
}
