package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"momentum-bot/internal/engine"
	"momentum-bot/internal/engine/engineobs"
	"momentum-bot/internal/eod"
	"momentum-bot/internal/eod/eodobs"
	"momentum-bot/internal/interfaces"
	"momentum-bot/internal/logger"
	"momentum-bot/internal/notify"
	"momentum-bot/internal/screener"
	"momentum-bot/internal/status"
	"momentum-bot/internal/store"
	"momentum-bot/internal/trace"
	"momentum-bot/internal/tradelog"
	"momentum-bot/internal/venue/kite"
	"momentum-bot/internal/venue/paper"
	"momentum-bot/internal/venue/venueobs"
)

const (
	kiteHistoryTTL   = 5 * time.Minute
	eodCheckInterval = time.Minute
	telemetryFlush   = 5 * time.Second
)

// initializeSystem loads .env and sets up logging and tracing.
func initializeSystem() error {
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}
	return nil
}

func shutdownSystem() {
	ctx, cancel := context.WithTimeout(context.Background(), telemetryFlush)
	defer cancel()
	_ = trace.Shutdown(ctx)
	_ = logger.Sync()
}

func loadConfig(ctx context.Context, path string) (*store.Config, error) {
	cfg, err := store.LoadConfig(path)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err, "path", path)
		return nil, err
	}
	return cfg, nil
}

// initializeVenue builds the configured venue with observability.
func initializeVenue(ctx context.Context, cfg *store.Config) interfaces.Venue {
	var v interfaces.Venue
	switch cfg.Venue.Kind {
	case store.VenueKite:
		v = kite.New(kite.Params{
			APIKey:          os.Getenv("KITE_API_KEY"),
			AccessToken:     os.Getenv("KITE_ACCESS_TOKEN"),
			Exchange:        cfg.Venue.Exchange,
			Product:         cfg.Venue.Product,
			HistoryTTL:      kiteHistoryTTL,
			Screener:        screener.New(screener.ConfigFromStore(cfg)),
			DryRun:          cfg.Mode == store.ModeDryRun,
			DryRunFillDelay: cfg.Paper.FillDelay,
		})
		if cfg.Mode == store.ModeDryRun {
			logger.Warn(ctx, "Running in DRY_RUN mode - Kite data, simulated orders")
		} else {
			logger.Warn(ctx, "Running in LIVE mode - orders go to the exchange")
		}
	default:
		v = paper.New(paper.Config{
			Universe:     cfg.Paper.Universe,
			Synthetic:    true,
			FeedInterval: cfg.Paper.FeedInterval,
			AutoFill:     true,
			FillDelay:    cfg.Paper.FillDelay,
			Seed:         cfg.Paper.Seed,
		})
		logger.Info(ctx, "Using PAPER venue with synthetic market data", "universe", cfg.Paper.Universe)
	}
	return venueobs.Wrap(v)
}

// initializeJournal sets up the trade/decision journal and the EOD
// summarizer, compressing old journal files on the way.
func initializeJournal(ctx context.Context, cfg *store.Config) (*tradelog.Journal, interfaces.EodSummarizer, error) {
	journal, summarizer, err := eod.FromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	if n, err := journal.CompressOlder(cfg.Journal.RetentionDays); err != nil {
		logger.Warn(ctx, "Failed to compress old logs", "error", err)
	} else if n > 0 {
		logger.Info(ctx, "Compressed old journal files", "count", n)
	}
	return journal, eodobs.Wrap(summarizer), nil
}

// components is everything runBot starts besides the bot itself.
type components struct {
	bot     *engine.Bot
	hub     *status.Hub
	webhook *notify.Webhook
}

func assemble(cfg *store.Config, venue interfaces.Venue, journal *tradelog.Journal) *components {
	c := &components{}
	sinks := []interfaces.TradeSink{journal}
	if cfg.Status.Enabled {
		c.hub = status.NewHub()
		sinks = append(sinks, c.hub)
	}
	if wh := notify.FromConfig(cfg); wh != nil {
		c.webhook = wh
		sinks = append(sinks, wh)
	}

	c.bot = engine.New(cfg, venue, engine.Options{
		VenueName:  cfg.Venue.Kind,
		Sinks:      sinks,
		Journal:    journal,
		WrapEngine: engineobs.Wrap,
	})
	return c
}

// runEODLoop writes the day's summary once the market has closed.
func runEODLoop(ctx context.Context, summarizer interfaces.EodSummarizer) {
	tick := time.NewTicker(eodCheckInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if ok, _ := summarizer.ShouldRunNow(); ok {
				_, _ = summarizer.SummarizeToday()
			}
		}
	}
}
