package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"momentum-bot/internal/interfaces"
	"momentum-bot/internal/logger"
	"momentum-bot/internal/signal"
	"momentum-bot/internal/store"
	"momentum-bot/internal/types"
)

const disconnectTimeout = 5 * time.Second

// Options carries the optional collaborators of a Bot.
type Options struct {
	VenueName string
	Sinks     []interfaces.TradeSink
	Journal   interfaces.DecisionJournal
	// WrapEngine, when set, instruments every scan cycle.
	WrapEngine func(interfaces.Engine) interfaces.Engine
}

// Bot wires the ledger, order manager, exit monitor and scanner to one
// venue session.
type Bot struct {
	cfg    *store.Config
	venue  interfaces.Venue
	params types.ConnectParams

	Ledger  *Ledger
	Orders  *OrderManager
	Exits   *ExitMonitor
	Scanner *Scanner

	dispatcher *dispatcher
}

func New(cfg *store.Config, venue interfaces.Venue, opts Options) *Bot {
	ledger := NewLedger()
	orders := NewOrderManager(venue, ledger, cfg.Trade.OrderTimeout, opts.Sinks...)
	exits := NewExitMonitor(ExitRule{
		ProfitTarget: decimal.NewFromFloat(cfg.Trade.ProfitTarget),
		StopLoss:     decimal.NewFromFloat(cfg.Trade.StopLoss),
	}, ledger, orders, venue)
	orders.OnFill(exits.OnFill)
	if cfg.Trade.OrphanAfter > 0 {
		orders.SetOrphanAfter(cfg.Trade.OrphanAfter)
	}

	sc := &Scanner{
		venue:   venue,
		ledger:  ledger,
		orders:  orders,
		exits:   exits,
		risk:    newRiskGuard(cfg.Risk.MaxOpenPositions, cfg.Risk.MaxNotional),
		journal: opts.Journal,
		params:  signal.ParamsFromConfig(cfg),
		filter:  cfg.Scan.Filter,
		window: types.HistoryWindow{
			Bars:     cfg.Scan.HistoryBars,
			Interval: cfg.Scan.BarInterval,
		},
		shares:   cfg.Trade.Shares,
		interval: cfg.Scan.Interval,
		newID:    newScanID,
		now:      time.Now,
	}
	sc.runner = sc
	if opts.WrapEngine != nil {
		sc.Instrument(opts.WrapEngine)
	}

	name := opts.VenueName
	if name == "" {
		name = cfg.Venue.Kind
	}

	return &Bot{
		cfg:   cfg,
		venue: venue,
		params: types.ConnectParams{
			Host:     cfg.Venue.Host,
			Port:     cfg.Venue.Port,
			ClientID: cfg.Venue.ClientID,
		},
		Ledger:  ledger,
		Orders:  orders,
		Exits:   exits,
		Scanner: sc,
		dispatcher: &dispatcher{
			venue:  name,
			orders: orders,
			exits:  exits,
		},
	}
}

// Handler is the callback sink to hand to the venue.
func (b *Bot) Handler() interfaces.EventHandler {
	return b.dispatcher
}

// Connect opens the venue session. Venue callbacks go to Handler.
func (b *Bot) Connect(ctx context.Context) (*types.Connection, error) {
	conn, err := b.venue.Connect(ctx, b.params, b.dispatcher)
	if err != nil {
		var connErr *types.VenueConnectionError
		if errors.As(err, &connErr) {
			return nil, err
		}
		return nil, &types.VenueConnectionError{Venue: b.dispatcher.venue, Err: err}
	}
	return conn, nil
}

// Holdings reports open positions marked at the last live price.
func (b *Bot) Holdings() []types.Holding {
	return b.Scanner.Holdings()
}

// Pending lists orders still awaiting a terminal status.
func (b *Bot) Pending() []types.PendingOrder {
	return b.Orders.Pending()
}

// Cycle runs a single scan cycle through the (possibly instrumented) runner.
func (b *Bot) Cycle(ctx context.Context) (*types.CycleReport, error) {
	return b.Scanner.runner.Cycle(ctx)
}

// Run connects, scans until ctx is cancelled or the connection is lost,
// then drains in-flight exits and disconnects. A lost connection is
// returned as a *types.VenueConnectionError.
func (b *Bot) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	b.dispatcher.onLost = func(err error) { cancel(err) }

	conn, err := b.Connect(ctx)
	if err != nil {
		return err
	}
	logger.Info(ctx, "Venue connected", "venue", conn.Venue, "connection_id", conn.ID)

	b.Exits.Bind(ctx)
	runErr := b.Scanner.Run(ctx)

	b.Exits.Stop()

	dctx, dcancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
	defer dcancel()
	if err := b.venue.Disconnect(dctx); err != nil {
		logger.Warn(ctx, "Venue disconnect failed", "error", err)
	}

	if cause := context.Cause(ctx); cause != nil {
		var connErr *types.VenueConnectionError
		if errors.As(cause, &connErr) {
			return cause
		}
	}
	if runErr != nil {
		return fmt.Errorf("scanner: %w", runErr)
	}
	return nil
}
