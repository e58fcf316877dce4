package interfaces

import (
	"context"

	"momentum-bot/internal/types"
)

type Screener interface {
	Scan(ctx context.Context, filter types.ScanFilter) ([]types.ScanResult, error)
}
