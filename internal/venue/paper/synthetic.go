package paper

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"momentum-bot/internal/types"
)

// syntheticScanLocked ranks the universe by a random daily gain. Callers
// hold v.mu.
func (v *Venue) syntheticScanLocked() []types.ScanResult {
	type row struct {
		symbol string
		gain   float64
	}
	rows := make([]row, 0, len(v.cfg.Universe))
	for _, sym := range v.cfg.Universe {
		rows = append(rows, row{symbol: sym, gain: v.rng.Float64() * 20})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].gain > rows[j].gain })

	out := make([]types.ScanResult, 0, len(rows))
	for i, r := range rows {
		price := v.quoteLocked(r.symbol)
		out = append(out, types.ScanResult{
			Symbol:    r.symbol,
			Rank:      i,
			MarketCap: 5_000_000 + v.rng.Float64()*15_000_000,
			Price:     price.InexactFloat64(),
			Volume:    1_000_000 + v.rng.Float64()*4_000_000,
		})
	}
	return out
}

func (v *Venue) quoteLocked(symbol string) decimal.Decimal {
	if q, ok := v.quotes[symbol]; ok {
		return q
	}
	q := decimal.NewFromFloat(2 + v.rng.Float64()*7).Round(2)
	v.quotes[symbol] = q
	return q
}

// syntheticHistoryLocked walks backwards from the current quote with a
// per-symbol drift, so some symbols trend and others do not.
func (v *Venue) syntheticHistoryLocked(symbol string, window types.HistoryWindow) []types.PriceBar {
	n := window.Bars
	if n <= 0 {
		n = 200
	}
	step := window.Interval
	if step <= 0 {
		step = 24 * time.Hour
	}

	last := v.quoteLocked(symbol).InexactFloat64()
	drift := (v.rng.Float64() - 0.35) * 0.004
	closes := make([]float64, n)
	closes[n-1] = last
	for i := n - 2; i >= 0; i-- {
		shock := (v.rng.Float64() - 0.5) * 0.02
		closes[i] = math.Max(0.5, closes[i+1]/(1+drift+shock))
	}

	end := time.Now().Truncate(step)
	bars := make([]types.PriceBar, n)
	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		bars[i] = types.PriceBar{
			Symbol:    symbol,
			Timestamp: end.Add(-time.Duration(n-1-i) * step),
			Open:      open,
			High:      math.Max(open, c) * 1.005,
			Low:       math.Min(open, c) * 0.995,
			Close:     c,
			Volume:    1_000_000 + v.rng.Float64()*4_000_000,
		}
	}
	return bars
}

// feed moves every subscribed quote by a small random step each tick.
func (v *Venue) feed(stop <-chan struct{}) {
	ticker := time.NewTicker(v.cfg.FeedInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		for _, sym := range v.subscribedSymbols() {
			v.mu.Lock()
			q := v.quoteLocked(sym)
			move := decimal.NewFromFloat((v.rng.Float64() - 0.48) * 0.01)
			v.mu.Unlock()
			v.PushPrice(sym, q.Mul(decimal.NewFromInt(1).Add(move)).Round(4))
		}
	}
}
