package interfaces

import (
	"context"

	"momentum-bot/internal/types"
)

// TradeSink receives every completed fill.
type TradeSink interface {
	Publish(ctx context.Context, ev types.TradeEvent)
}

// DecisionJournal records every signal evaluation.
type DecisionJournal interface {
	AppendDecision(rec types.DecisionRecord) error
}
