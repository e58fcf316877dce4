package interfaces

import (
	"context"

	"momentum-bot/internal/types"
)

type Engine interface {
	Cycle(ctx context.Context) (*types.CycleReport, error)
}
