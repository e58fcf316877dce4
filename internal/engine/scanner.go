package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"momentum-bot/internal/interfaces"
	"momentum-bot/internal/logger"
	"momentum-bot/internal/metrics"
	"momentum-bot/internal/signal"
	"momentum-bot/internal/types"
)

const entryReason = "MOMENTUM_ENTRY"

// Scanner runs the periodic scan, evaluate, buy cycle.
type Scanner struct {
	venue   interfaces.Venue
	ledger  *Ledger
	orders  *OrderManager
	exits   *ExitMonitor
	risk    *riskGuard
	journal interfaces.DecisionJournal

	params   signal.Params
	filter   types.ScanFilter
	window   types.HistoryWindow
	shares   int
	interval time.Duration

	// runner is what Run invokes each tick; it may be an instrumented
	// wrapper around the scanner itself.
	runner interfaces.Engine
	newID  func() string
	now    func() time.Time
}

var _ interfaces.Engine = (*Scanner)(nil)

// Instrument routes Run through wrap(s).
func (s *Scanner) Instrument(wrap func(interfaces.Engine) interfaces.Engine) {
	s.runner = wrap(s)
}

// Run executes a cycle immediately and then once per interval until ctx
// is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	tick := time.NewTicker(s.interval)
	defer tick.Stop()

	for {
		if _, err := s.runner.Cycle(ctx); err != nil && ctx.Err() == nil {
			logger.ErrorWithErr(ctx, "Scan cycle failed", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
}

// Cycle runs one scan. Request failures are logged and skipped; the
// holdings report is produced even when the scan itself fails.
func (s *Scanner) Cycle(ctx context.Context) (*types.CycleReport, error) {
	started := s.now()
	report := &types.CycleReport{ScanID: s.newID(), StartedAt: started}
	metrics.ScanCycles.Inc()

	results, err := s.venue.RequestScan(ctx, types.ScanRequest{ID: report.ScanID, Filter: s.filter})
	if err != nil {
		metrics.ScanFailures.Inc()
		report.ScanErr = err.Error()
		logger.ErrorWithErr(ctx, "Market scan failed", err, "scan_id", report.ScanID)
	}
	report.Candidates = len(results)

	seen := make(map[string]bool, len(results))
	for _, c := range results {
		if ctx.Err() != nil {
			break
		}
		if c.Symbol == "" || seen[c.Symbol] {
			continue
		}
		seen[c.Symbol] = true
		s.evaluate(ctx, report, c)
	}

	report.Holdings = s.Holdings()
	report.Duration = s.now().Sub(started)
	logHoldings(ctx, report.Holdings)

	logger.Info(ctx, "Scan cycle finished",
		"scan_id", report.ScanID,
		"candidates", report.Candidates,
		"evaluated", report.Evaluated,
		"signals", len(report.Signals),
		"bought", len(report.Bought),
		"open_positions", len(report.Holdings),
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report, ctx.Err()
}

func (s *Scanner) evaluate(ctx context.Context, report *types.CycleReport, c types.ScanResult) {
	sym := c.Symbol
	if s.ledger.IsOpen(sym) || s.orders.IsPending(sym) {
		report.Skipped = append(report.Skipped, sym)
		return
	}

	op := logger.StartOperation(ctx, "scanner.evaluate", "symbol", sym, "rank", c.Rank)
	bars, err := s.venue.RequestHistory(op.GetContext(), sym, s.window)
	if err != nil {
		op.EndWithError(err, "stage", "history")
		report.Failed = append(report.Failed, sym)
		return
	}

	res := signal.Evaluate(bars, s.params)
	report.Evaluated++
	metrics.CandidatesEvaluated.Inc()
	metrics.SignalsByReason.WithLabelValues(res.Reason).Inc()
	s.recordDecision(op.GetContext(), report.ScanID, sym, res)
	op.End("entry", res.Entry, "reason", res.Reason)

	if !res.Entry {
		return
	}
	report.Signals = append(report.Signals, sym)

	price := decimal.NewFromFloat(res.Indicators.Close)
	if err := s.risk.validateEntry(ctx, sym, price, s.shares, s.ledger.Len()); err != nil {
		report.Skipped = append(report.Skipped, sym)
		return
	}

	fill, err := s.orders.Buy(ctx, sym, s.shares, entryReason)
	if err != nil {
		var already *AlreadyOpenError
		switch {
		case errors.Is(err, ErrOrderPending), errors.As(err, &already):
			report.Skipped = append(report.Skipped, sym)
		default:
			report.Failed = append(report.Failed, sym)
			logger.ErrorWithErr(ctx, "Entry order failed", err, "symbol", sym)
		}
		return
	}
	report.Bought = append(report.Bought, sym)
	logger.Info(ctx, "Position opened",
		"symbol", sym,
		"entry_price", fill.Price,
		"shares", fill.Quantity,
		"order_id", fill.OrderID,
	)
}

func (s *Scanner) recordDecision(ctx context.Context, scanID, sym string, res signal.Result) {
	var inds map[string]float64
	if res.Reason != signal.ReasonInsufficientBars {
		inds = res.Indicators.Map()
	}
	logger.Decision(ctx, sym, res.Entry,
		"reason", res.Reason,
		"bars", res.Bars,
		"close", res.Indicators.Close,
		"rsi", res.Indicators.RSI,
		"macd_hist", res.Indicators.MACDHist,
		"change_pct", res.Indicators.ChangePct,
		"ema_long", res.Indicators.EMALong,
	)
	if s.journal == nil {
		return
	}
	rec := types.DecisionRecord{
		Time:       s.now(),
		ScanID:     scanID,
		Symbol:     sym,
		Entry:      res.Entry,
		Reason:     res.Reason,
		Bars:       res.Bars,
		Indicators: inds,
	}
	if err := s.journal.AppendDecision(rec); err != nil {
		logger.Warn(ctx, "Failed to journal decision", "symbol", sym, "error", err)
	}
}

func newScanID() string {
	return uuid.NewString()
}
