package eodobs

import (
	"context"
	"time"

	"momentum-bot/internal/interfaces"
	"momentum-bot/internal/logger"
	"momentum-bot/internal/trace"
)

type observableEodSummarizer struct {
	summarizer interfaces.EodSummarizer
}

var _ interfaces.EodSummarizer = (*observableEodSummarizer)(nil)

func Wrap(summarizer interfaces.EodSummarizer) interfaces.EodSummarizer {
	return &observableEodSummarizer{summarizer: summarizer}
}

func (oes *observableEodSummarizer) SummarizeDay(t time.Time) (string, error) {
	ctx, span := trace.StartSpan(context.Background(), "eod.SummarizeDay")
	defer span.End()
	return oes.report(ctx, t.Format("2006-01-02"), func() (string, error) {
		return oes.summarizer.SummarizeDay(t)
	})
}

func (oes *observableEodSummarizer) SummarizeToday() (string, error) {
	ctx, span := trace.StartSpan(context.Background(), "eod.SummarizeToday")
	defer span.End()
	return oes.report(ctx, "today", oes.summarizer.SummarizeToday)
}

func (oes *observableEodSummarizer) report(ctx context.Context, day string, run func() (string, error)) (string, error) {
	csvPath, err := run()
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 2, "EOD summary generation failed", err, "date", day)
		return "", err
	}
	if csvPath == "" {
		logger.InfoSkip(ctx, 2, "No trades found for EOD summary", "date", day)
		return "", nil
	}
	logger.InfoSkip(ctx, 2, "EOD summary generated", "date", day, "csv_path", csvPath)
	return csvPath, nil
}

func (oes *observableEodSummarizer) ShouldRunNow() (bool, string) {
	ctx, span := trace.StartSpan(context.Background(), "eod.ShouldRunNow")
	defer span.End()

	shouldRun, csvPath := oes.summarizer.ShouldRunNow()
	logger.DebugSkip(ctx, 1, "EOD check completed", "should_run", shouldRun, "csv_path", csvPath)
	return shouldRun, csvPath
}
