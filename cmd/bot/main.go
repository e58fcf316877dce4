// momentum-bot scans for small-cap momentum breakouts, buys on signal and
// exits each position at a fixed profit target or stop.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"momentum-bot/internal/logger"
	momentum "momentum-bot/internal/signal"
	"momentum-bot/internal/status"
	"momentum-bot/internal/types"
)

// Exit codes returned by the run command.
const (
	exitError          = 1
	exitConnectionLost = 2
)

var (
	version    = "0.1.0"
	configPath string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var connErr *types.VenueConnectionError
		if errors.As(err, &connErr) {
			os.Exit(exitConnectionLost)
		}
		os.Exit(exitError)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "momentum-bot",
		Short:         "Small-cap momentum trading bot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the YAML config file")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "momentum-bot version %s\n", version)
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Scan, trade and monitor exits until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context())
		},
	}
}

func runBot(parent context.Context) error {
	if err := initializeSystem(); err != nil {
		return err
	}
	defer shutdownSystem()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx, configPath)
	if err != nil {
		return err
	}
	venue := initializeVenue(ctx, cfg)
	journal, summarizer, err := initializeJournal(ctx, cfg)
	if err != nil {
		return err
	}

	c := assemble(cfg, venue, journal)
	if c.webhook != nil {
		defer c.webhook.Close()
	}

	if c.hub != nil {
		srv := status.NewServer(c.bot, c.hub, cfg.Mode, cfg.Venue.Kind)
		go func() {
			if err := srv.ListenAndServe(ctx, cfg.Status.Addr); err != nil {
				logger.ErrorWithErr(ctx, "Status server stopped", err)
			}
		}()
	}
	go runEODLoop(ctx, summarizer)

	logger.Info(ctx, "Bot started",
		"mode", cfg.Mode,
		"venue", cfg.Venue.Kind,
		"interval", cfg.Scan.Interval.String(),
		"shares", cfg.Trade.Shares,
	)
	runErr := c.bot.Run(ctx)
	logger.Info(ctx, "Shutting down...", "open_positions", c.bot.Ledger.Len())

	_, _ = summarizer.SummarizeToday()
	return runErr
}

func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run one scan and print each candidate's signal evaluation without trading",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initializeSystem(); err != nil {
				return err
			}
			defer shutdownSystem()
			return scanOnce(cmd.Context(), json.NewEncoder(cmd.OutOrStdout()))
		},
	}
}

// scanRow is one line of scan output.
type scanRow struct {
	Rank   int                `json:"rank"`
	Symbol string             `json:"symbol"`
	Entry  bool               `json:"entry"`
	Reason string             `json:"reason"`
	Bars   int                `json:"bars"`
	Error  string             `json:"error,omitempty"`
	Values map[string]float64 `json:"indicators,omitempty"`
}

func scanOnce(ctx context.Context, enc *json.Encoder) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(ctx, configPath)
	if err != nil {
		return err
	}
	venue := initializeVenue(ctx, cfg)

	if _, err := venue.Connect(ctx, types.ConnectParams{Host: cfg.Venue.Host, Port: cfg.Venue.Port, ClientID: cfg.Venue.ClientID}, logHandler{}); err != nil {
		return err
	}
	defer venue.Disconnect(context.WithoutCancel(ctx))

	rows, err := venue.RequestScan(ctx, types.ScanRequest{ID: uuid.NewString(), Filter: cfg.Scan.Filter})
	if err != nil {
		return err
	}

	params := momentum.ParamsFromConfig(cfg)
	window := types.HistoryWindow{Bars: cfg.Scan.HistoryBars, Interval: cfg.Scan.BarInterval}
	for _, r := range rows {
		out := scanRow{Rank: r.Rank, Symbol: r.Symbol}
		bars, err := venue.RequestHistory(ctx, r.Symbol, window)
		if err != nil {
			out.Error = err.Error()
		} else {
			res := momentum.Evaluate(bars, params)
			out.Entry, out.Reason, out.Bars = res.Entry, res.Reason, res.Bars
			if res.Reason != momentum.ReasonInsufficientBars {
				out.Values = finite(res.Indicators.Map())
			}
		}
		if err := enc.Encode(out); err != nil {
			return err
		}
	}
	return nil
}

// logHandler logs venue callbacks for commands that never trade.
type logHandler struct{}

func (logHandler) OnOrderStatus(ev types.OrderStatusEvent) {
	logger.Debug(context.Background(), "Order status", "order_id", ev.OrderID, "status", string(ev.Status))
}

func (logHandler) OnError(ev types.VenueError) {
	logger.Warn(context.Background(), "Venue error", "request_id", ev.RequestID, "code", ev.Code, "message", ev.Message)
}

func (logHandler) OnPriceUpdate(types.PriceUpdate) {}

func (logHandler) OnConnectionLost(err error) {
	logger.ErrorWithErr(context.Background(), "Venue connection lost", err)
}

func finite(m map[string]float64) map[string]float64 {
	for k, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			delete(m, k)
		}
	}
	return m
}
