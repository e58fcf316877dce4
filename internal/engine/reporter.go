package engine

import (
	"context"

	"momentum-bot/internal/logger"
	"momentum-bot/internal/metrics"
	"momentum-bot/internal/types"
)

// Holdings values every open position at the last live price seen, or at
// entry when no update has arrived yet.
func (s *Scanner) Holdings() []types.Holding {
	positions := s.ledger.Snapshot()
	out := make([]types.Holding, 0, len(positions))
	for _, p := range positions {
		last := p.EntryPrice
		if s.exits != nil {
			if lp, ok := s.exits.LastPrice(p.Symbol); ok {
				last = lp
			}
		}
		out = append(out, types.Holding{
			Position:      p,
			LastPrice:     last,
			UnrealizedPnL: p.UnrealizedPnL(last),
		})
	}
	metrics.OpenPositions.Set(float64(len(out)))
	return out
}

func logHoldings(ctx context.Context, holdings []types.Holding) {
	if len(holdings) == 0 {
		logger.Info(ctx, "No positions currently held.")
		return
	}
	for _, h := range holdings {
		logger.Info(ctx, "Holding",
			"symbol", h.Symbol,
			"entry_price", h.EntryPrice,
			"shares", h.Shares,
			"last_price", h.LastPrice,
			"unrealized_pnl", h.UnrealizedPnL,
		)
	}
}
