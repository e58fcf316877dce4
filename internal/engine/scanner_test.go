package engine

import (
	"context"
	"errors"
	"testing"

	"momentum-bot/internal/signal"
	"momentum-bot/internal/types"
	"momentum-bot/internal/venue/paper"
)

func newTestBot(t *testing.T, cfg paper.Config, opts Options) (*Bot, *paper.Venue) {
	t.Helper()
	v := paper.New(cfg)
	b := New(testConfig(), v, opts)
	if _, err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Unexpected connect error: %v", err)
	}
	t.Cleanup(func() {
		b.Exits.Wait()
		_ = v.Disconnect(context.Background())
	})
	return b, v
}

func row(symbol string, rank int) types.ScanResult {
	return types.ScanResult{Symbol: symbol, Rank: rank, Price: 5, Volume: 2_000_000, MarketCap: 10_000_000}
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func TestCycleBuysOnSignal(t *testing.T) {
	journal := &decisionRecorder{}
	b, v := newTestBot(t, paper.Config{AutoFill: true}, Options{Journal: journal})
	v.SetScanResults([]types.ScanResult{row("XYZ", 0), row("DOWN", 1)})
	v.SetHistory("XYZ", trendingBars("XYZ"))
	v.SetHistory("DOWN", fallingBars("DOWN"))
	v.SetQuote("XYZ", d("5.00"))

	report, err := b.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if report.Candidates != 2 || report.Evaluated != 2 {
		t.Errorf("Expected 2 candidates evaluated, got %d/%d", report.Candidates, report.Evaluated)
	}
	if len(report.Bought) != 1 || report.Bought[0] != "XYZ" {
		t.Fatalf("Expected to buy XYZ, got %+v", report.Bought)
	}
	if !v.Subscribed("XYZ") {
		t.Error("Expected live feed for the new position")
	}
	if len(report.Holdings) != 1 || !report.Holdings[0].EntryPrice.Equal(d("5")) {
		t.Errorf("Expected XYZ holding at 5.00, got %+v", report.Holdings)
	}

	journal.mu.Lock()
	defer journal.mu.Unlock()
	if len(journal.records) != 2 {
		t.Fatalf("Expected two journalled decisions, got %d", len(journal.records))
	}
	for _, rec := range journal.records {
		if rec.ScanID != report.ScanID {
			t.Errorf("Expected scan id %s, got %s", report.ScanID, rec.ScanID)
		}
		if rec.Symbol == "XYZ" && (!rec.Entry || rec.Reason != signal.ReasonEntry) {
			t.Errorf("Expected XYZ entry decision, got %+v", rec)
		}
		if rec.Symbol == "DOWN" && rec.Entry {
			t.Errorf("Expected DOWN to be rejected, got %+v", rec)
		}
	}
}

func TestCycleSkipsHeldAndDuplicateSymbols(t *testing.T) {
	b, v := newTestBot(t, paper.Config{AutoFill: true}, Options{})
	mustOpen(t, b.Ledger, "XYZ", d("5"), 200)
	v.SetScanResults([]types.ScanResult{row("XYZ", 0), row("XYZ", 1)})
	v.SetHistory("XYZ", trendingBars("XYZ"))

	report, err := b.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if report.Evaluated != 0 || len(report.Skipped) != 1 {
		t.Errorf("Expected XYZ skipped once without evaluation, got %+v", report)
	}
	if len(v.Orders()) != 0 {
		t.Error("Expected no orders for a held symbol")
	}
}

func TestCycleScanFailureStillReports(t *testing.T) {
	b, v := newTestBot(t, paper.Config{}, Options{})
	mustOpen(t, b.Ledger, "HELD", d("3"), 100)
	v.SetScanError(errors.New("scanner subscription cancelled"))

	report, err := b.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Expected scan failure to be absorbed, got %v", err)
	}
	if report.ScanErr == "" {
		t.Error("Expected scan error in the report")
	}
	if len(report.Holdings) != 1 || report.Holdings[0].Symbol != "HELD" {
		t.Errorf("Expected holdings report despite scan failure, got %+v", report.Holdings)
	}
}

func TestCycleHistoryFailureSkipsSymbol(t *testing.T) {
	b, v := newTestBot(t, paper.Config{AutoFill: true}, Options{})
	v.SetScanResults([]types.ScanResult{row("NODATA", 0), row("XYZ", 1)})
	v.SetHistoryError("NODATA", errors.New("no market data permissions"))
	v.SetHistory("XYZ", trendingBars("XYZ"))
	v.SetQuote("XYZ", d("5"))

	report, err := b.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !contains(report.Failed, "NODATA") {
		t.Errorf("Expected NODATA in failed, got %+v", report.Failed)
	}
	if !contains(report.Bought, "XYZ") {
		t.Errorf("Expected XYZ to still be bought, got %+v", report.Bought)
	}
}

func TestCycleRiskLimitBlocksEntry(t *testing.T) {
	cfg := testConfig()
	cfg.Risk.MaxOpenPositions = 1
	v := paper.New(paper.Config{AutoFill: true})
	b := New(cfg, v, Options{})
	if _, err := b.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer v.Disconnect(context.Background())

	mustOpen(t, b.Ledger, "HELD", d("3"), 100)
	v.SetScanResults([]types.ScanResult{row("XYZ", 0)})
	v.SetHistory("XYZ", trendingBars("XYZ"))
	v.SetQuote("XYZ", d("5"))

	report, err := b.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !contains(report.Signals, "XYZ") || !contains(report.Skipped, "XYZ") {
		t.Errorf("Expected XYZ signalled but skipped by risk, got %+v", report)
	}
	if len(v.Orders()) != 0 {
		t.Error("Expected no order past the position cap")
	}
}

func TestCycleRejectedBuyMarkedFailed(t *testing.T) {
	b, v := newTestBot(t, paper.Config{AutoFill: true}, Options{})
	v.SetScanResults([]types.ScanResult{row("XYZ", 0)})
	v.SetHistory("XYZ", trendingBars("XYZ"))
	v.SetQuote("XYZ", d("5"))
	v.RejectNext("XYZ", "no trading permissions")

	report, err := b.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !contains(report.Failed, "XYZ") || b.Ledger.IsOpen("XYZ") {
		t.Errorf("Expected failed entry with empty ledger, got %+v", report)
	}
	if v.Subscribed("XYZ") {
		t.Error("Expected no live feed for a rejected entry")
	}
}

func TestCycleCancelledContext(t *testing.T) {
	b, v := newTestBot(t, paper.Config{}, Options{})
	v.SetScanResults([]types.ScanResult{row("XYZ", 0)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Cycle(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
