package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"momentum-bot/internal/store"
	"momentum-bot/internal/types"
	"momentum-bot/internal/venue/paper"
)

type tradeRecorder struct {
	mu     sync.Mutex
	events []types.TradeEvent
}

func (r *tradeRecorder) Publish(_ context.Context, ev types.TradeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *tradeRecorder) snapshot() []types.TradeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.TradeEvent(nil), r.events...)
}

type decisionRecorder struct {
	mu      sync.Mutex
	records []types.DecisionRecord
}

func (r *decisionRecorder) AppendDecision(rec types.DecisionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

// harness wires a ledger, order manager and exit monitor to a connected
// paper venue, the same way Bot does.
type harness struct {
	venue  *paper.Venue
	ledger *Ledger
	orders *OrderManager
	exits  *ExitMonitor
	trades *tradeRecorder
}

func newHarness(t *testing.T, cfg paper.Config, timeout time.Duration) *harness {
	t.Helper()
	h := &harness{
		venue:  paper.New(cfg),
		ledger: NewLedger(),
		trades: &tradeRecorder{},
	}
	h.orders = NewOrderManager(h.venue, h.ledger, timeout, h.trades)
	h.exits = NewExitMonitor(ExitRule{ProfitTarget: d("0.05"), StopLoss: d("-0.03")}, h.ledger, h.orders, h.venue)
	h.orders.OnFill(h.exits.OnFill)

	disp := &dispatcher{venue: paper.VenueName, orders: h.orders, exits: h.exits}
	if _, err := h.venue.Connect(context.Background(), types.ConnectParams{}, disp); err != nil {
		t.Fatalf("Unexpected connect error: %v", err)
	}
	t.Cleanup(func() {
		h.exits.Wait()
		_ = h.venue.Disconnect(context.Background())
	})
	return h
}

func testConfig() *store.Config {
	var c store.Config
	c.ApplyDefaults()
	c.Scan.Interval = 20 * time.Millisecond
	c.Trade.OrderTimeout = 2 * time.Second
	return &c
}

// trendingBars is a 200-bar sawtooth from 4.00 to 5.02 that passes every
// entry condition with the default parameters.
func trendingBars(symbol string) []types.PriceBar {
	bars := make([]types.PriceBar, 200)
	price := 4.00
	t0 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		if i > 0 {
			if i%2 == 1 {
				price += 0.03
			} else {
				price -= 0.02
			}
		}
		bars[i] = types.PriceBar{Symbol: symbol, Timestamp: t0.AddDate(0, 0, i), Open: price, High: price, Low: price, Close: price, Volume: 2_000_000}
	}
	return bars
}

func fallingBars(symbol string) []types.PriceBar {
	bars := trendingBars(symbol)
	for i := range bars {
		bars[i].Close = 9 - float64(i)*0.02
	}
	return bars
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func mustOpen(t *testing.T, l *Ledger, symbol string, entry decimal.Decimal, shares int) {
	t.Helper()
	if _, err := l.Open(symbol, entry, shares); err != nil {
		t.Fatalf("Unexpected error opening %s: %v", symbol, err)
	}
}
