package engineobs

import (
	"context"
	"time"

	"momentum-bot/internal/interfaces"
	"momentum-bot/internal/logger"
	"momentum-bot/internal/trace"
	"momentum-bot/internal/types"
)

type observableEngine struct {
	engine interfaces.Engine
}

var _ interfaces.Engine = (*observableEngine)(nil)

func Wrap(eng interfaces.Engine) interfaces.Engine {
	return &observableEngine{
		engine: eng,
	}
}

func (oe *observableEngine) Cycle(ctx context.Context) (*types.CycleReport, error) {
	ctx, span := trace.StartSpan(ctx, "engine.Cycle")
	defer span.End()

	start := time.Now()

	logger.DebugSkip(ctx, 1, "Starting scan cycle")

	report, err := oe.engine.Cycle(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Scan cycle failed", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return report, err
	}

	logger.InfoSkip(ctx, 1, "Scan cycle completed",
		"scan_id", report.ScanID,
		"candidates", report.Candidates,
		"signals", report.Signals,
		"bought", report.Bought,
		"failed", len(report.Failed),
		"holdings", len(report.Holdings),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return report, nil
}
