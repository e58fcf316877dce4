package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"momentum-bot/internal/logger"
)

// RiskLimitError blocks an entry that would breach a configured limit.
type RiskLimitError struct {
	Symbol string
	Limit  string
	Detail string
}

func (e *RiskLimitError) Error() string {
	return fmt.Sprintf("entry %s blocked by %s: %s", e.Symbol, e.Limit, e.Detail)
}

// riskGuard checks entries against open-position and notional caps. Zero
// disables a cap.
type riskGuard struct {
	maxOpen     int
	maxNotional decimal.Decimal
}

func newRiskGuard(maxOpen int, maxNotional float64) *riskGuard {
	return &riskGuard{
		maxOpen:     maxOpen,
		maxNotional: decimal.NewFromFloat(maxNotional),
	}
}

// validateEntry returns nil when the entry may proceed.
func (rg *riskGuard) validateEntry(ctx context.Context, symbol string, price decimal.Decimal, shares, open int) error {
	if rg.maxOpen > 0 && open >= rg.maxOpen {
		logger.Risk(ctx, symbol, "MAX_OPEN_POSITIONS",
			"open", open,
			"limit", rg.maxOpen,
		)
		return &RiskLimitError{Symbol: symbol, Limit: "max_open_positions", Detail: fmt.Sprintf("%d open, limit %d", open, rg.maxOpen)}
	}

	exposure := price.Mul(decimal.NewFromInt(int64(shares)))
	if rg.maxNotional.IsPositive() && exposure.GreaterThan(rg.maxNotional) {
		logger.Risk(ctx, symbol, "MAX_NOTIONAL",
			"price", price,
			"shares", shares,
			"exposure", exposure,
			"limit", rg.maxNotional,
		)
		return &RiskLimitError{Symbol: symbol, Limit: "max_notional", Detail: fmt.Sprintf("exposure %s exceeds %s", exposure, rg.maxNotional)}
	}
	return nil
}
