package store

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"momentum-bot/internal/types"
)

const (
	ModeDryRun = "DRY_RUN"
	ModeLive   = "LIVE"

	VenuePaper = "PAPER"
	VenueKite  = "KITE"
)

type Config struct {
	Mode  string `yaml:"mode"`
	Venue struct {
		Kind     string `yaml:"kind"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		ClientID int    `yaml:"client_id"`
		Exchange string `yaml:"exchange"`
		Product  string `yaml:"product"`
	} `yaml:"venue"`
	Scan struct {
		Interval    time.Duration    `yaml:"interval"`
		HistoryBars int              `yaml:"history_bars"`
		BarInterval time.Duration    `yaml:"bar_interval"`
		Filter      types.ScanFilter `yaml:"filter"`
	} `yaml:"scan"`
	Signal struct {
		RSIPeriod    int     `yaml:"rsi_period"`
		RSILow       float64 `yaml:"rsi_low"`
		RSIHigh      float64 `yaml:"rsi_high"`
		MACDFast     int     `yaml:"macd_fast"`
		MACDSlow     int     `yaml:"macd_slow"`
		MACDSignal   int     `yaml:"macd_signal"`
		EMALong      int     `yaml:"ema_long"`
		MinChangePct float64 `yaml:"min_change_pct"`
		PriceCeiling float64 `yaml:"price_ceiling"`
		MinBars      int     `yaml:"min_bars"`
	} `yaml:"signal"`
	Trade struct {
		Shares       int           `yaml:"shares"`
		ProfitTarget float64       `yaml:"profit_target"`
		StopLoss     float64       `yaml:"stop_loss"`
		OrderTimeout time.Duration `yaml:"order_timeout"`
		// OrphanAfter releases the symbol of an abandoned order that never
		// reported a terminal status.
		OrphanAfter time.Duration `yaml:"orphan_after"`
	} `yaml:"trade"`
	Risk struct {
		MaxOpenPositions int     `yaml:"max_open_positions"`
		MaxNotional      float64 `yaml:"max_notional"`
	} `yaml:"risk"`
	Status struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"status"`
	Screener struct {
		URL          string        `yaml:"url"`
		RowSelector  string        `yaml:"row_selector"`
		SymbolCol    int           `yaml:"symbol_col"`
		PriceCol     int           `yaml:"price_col"`
		VolumeCol    int           `yaml:"volume_col"`
		MarketCapCol int           `yaml:"market_cap_col"`
		UserAgent    string        `yaml:"user_agent"`
		Timeout      time.Duration `yaml:"timeout"`
	} `yaml:"screener"`
	Paper struct {
		Universe     []string      `yaml:"universe"`
		FeedInterval time.Duration `yaml:"feed_interval"`
		FillDelay    time.Duration `yaml:"fill_delay"`
		Seed         int64         `yaml:"seed"`
	} `yaml:"paper"`
	EOD struct {
		Timezone  string `yaml:"timezone"`
		CloseTime string `yaml:"close_time"`
	} `yaml:"eod"`
	Notify struct {
		WebhookURL string        `yaml:"webhook_url"`
		Timeout    time.Duration `yaml:"timeout"`
		QueueSize  int           `yaml:"queue_size"`
	} `yaml:"notify"`
	Journal struct {
		Dir           string `yaml:"dir"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"journal"`
}

// RequiredBars is the shortest history for which every indicator is defined.
func (c *Config) RequiredBars() int {
	n := 200
	if c.Signal.EMALong > n {
		n = c.Signal.EMALong
	}
	if m := c.Signal.MACDSlow + c.Signal.MACDSignal; m > n {
		n = m
	}
	if c.Signal.RSIPeriod+1 > n {
		n = c.Signal.RSIPeriod + 1
	}
	return n
}

// ApplyDefaults fills every unset field with the stock momentum settings.
func (c *Config) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeDryRun
	}
	if c.Venue.Kind == "" {
		c.Venue.Kind = VenuePaper
	}
	if c.Venue.Host == "" {
		c.Venue.Host = "127.0.0.1"
	}
	if c.Venue.Port == 0 {
		c.Venue.Port = 7497
	}
	if c.Venue.Exchange == "" {
		c.Venue.Exchange = "NSE"
	}
	if c.Venue.Product == "" {
		c.Venue.Product = "CNC"
	}

	if c.Scan.Interval == 0 {
		c.Scan.Interval = 15 * time.Second
	}
	if c.Scan.BarInterval == 0 {
		c.Scan.BarInterval = 24 * time.Hour
	}
	def := types.DefaultScanFilter()
	f := &c.Scan.Filter
	if f.Instrument == "" {
		f.Instrument = def.Instrument
	}
	if f.Location == "" {
		f.Location = def.Location
	}
	if f.Currency == "" {
		f.Currency = def.Currency
	}
	if f.ScanCode == "" {
		f.ScanCode = def.ScanCode
	}
	if f.MaxRows == 0 {
		f.MaxRows = def.MaxRows
	}
	if f.PriceMin == 0 {
		f.PriceMin = def.PriceMin
	}
	if f.PriceMax == 0 {
		f.PriceMax = def.PriceMax
	}
	if f.VolumeMin == 0 {
		f.VolumeMin = def.VolumeMin
	}
	if f.MarketCapMin == 0 {
		f.MarketCapMin = def.MarketCapMin
	}
	if f.MarketCapMax == 0 {
		f.MarketCapMax = def.MarketCapMax
	}

	s := &c.Signal
	if s.RSIPeriod == 0 {
		s.RSIPeriod = 14
	}
	if s.RSILow == 0 {
		s.RSILow = 30
	}
	if s.RSIHigh == 0 {
		s.RSIHigh = 70
	}
	if s.MACDFast == 0 {
		s.MACDFast = 12
	}
	if s.MACDSlow == 0 {
		s.MACDSlow = 26
	}
	if s.MACDSignal == 0 {
		s.MACDSignal = 9
	}
	if s.EMALong == 0 {
		s.EMALong = 200
	}
	if s.MinChangePct == 0 {
		s.MinChangePct = 10
	}
	if s.PriceCeiling == 0 {
		s.PriceCeiling = 10
	}
	if s.MinBars == 0 {
		s.MinBars = c.RequiredBars()
	}
	if c.Scan.HistoryBars == 0 {
		c.Scan.HistoryBars = s.MinBars
	}

	if c.Trade.Shares == 0 {
		c.Trade.Shares = 200
	}
	if c.Trade.ProfitTarget == 0 {
		c.Trade.ProfitTarget = 0.05
	}
	if c.Trade.StopLoss == 0 {
		c.Trade.StopLoss = -0.03
	}
	if c.Trade.OrderTimeout == 0 {
		c.Trade.OrderTimeout = 30 * time.Second
	}
	if c.Trade.OrphanAfter == 0 {
		c.Trade.OrphanAfter = 5 * time.Minute
	}

	if c.Status.Addr == "" {
		c.Status.Addr = ":8090"
	}

	if c.Screener.RowSelector == "" {
		c.Screener.RowSelector = "table tbody tr"
	}
	// Column layout of a typical "top gainers" table: symbol, name, price,
	// change, change %, volume, avg volume, market cap.
	if c.Screener.PriceCol == 0 {
		c.Screener.PriceCol = 2
		c.Screener.VolumeCol = 5
		c.Screener.MarketCapCol = 7
	}
	if c.Screener.UserAgent == "" {
		c.Screener.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) momentum-bot/1.0"
	}
	if c.Screener.Timeout == 0 {
		c.Screener.Timeout = 10 * time.Second
	}

	if len(c.Paper.Universe) == 0 {
		c.Paper.Universe = []string{"ABCD", "EFGH", "IJKL", "MNOP", "QRST"}
	}
	if c.Paper.FeedInterval == 0 {
		c.Paper.FeedInterval = time.Second
	}
	if c.Paper.FillDelay == 0 {
		c.Paper.FillDelay = 200 * time.Millisecond
	}

	if c.EOD.Timezone == "" {
		c.EOD.Timezone = "America/New_York"
	}
	if c.EOD.CloseTime == "" {
		c.EOD.CloseTime = "16:10"
	}

	if c.Notify.Timeout == 0 {
		c.Notify.Timeout = 5 * time.Second
	}
	if c.Notify.QueueSize == 0 {
		c.Notify.QueueSize = 64
	}
	if c.Journal.Dir == "" {
		c.Journal.Dir = "logs"
	}
}

func (c *Config) Validate() error {
	if c.Mode != ModeDryRun && c.Mode != ModeLive {
		return fmt.Errorf("invalid mode '%s': must be '%s' or '%s'", c.Mode, ModeDryRun, ModeLive)
	}
	if c.Venue.Kind != VenuePaper && c.Venue.Kind != VenueKite {
		return fmt.Errorf("invalid venue.kind '%s': must be '%s' or '%s'", c.Venue.Kind, VenuePaper, VenueKite)
	}
	if c.Mode == ModeLive && c.Venue.Kind != VenueKite {
		return errors.New("LIVE mode requires venue.kind KITE")
	}
	if c.Venue.Kind == VenueKite && c.Screener.URL == "" {
		return errors.New("venue.kind KITE requires screener.url for market scans")
	}
	if c.Scan.Interval <= 0 {
		return fmt.Errorf("scan.interval must be positive, got %s", c.Scan.Interval)
	}
	if c.Scan.Filter.MaxRows <= 0 {
		return fmt.Errorf("scan.filter.max_rows must be positive, got %d", c.Scan.Filter.MaxRows)
	}
	if c.Scan.Filter.PriceMin > c.Scan.Filter.PriceMax {
		return fmt.Errorf("scan.filter price band inverted: %.2f > %.2f", c.Scan.Filter.PriceMin, c.Scan.Filter.PriceMax)
	}
	if c.Scan.Filter.MarketCapMin > c.Scan.Filter.MarketCapMax {
		return fmt.Errorf("scan.filter market cap band inverted: %.0f > %.0f", c.Scan.Filter.MarketCapMin, c.Scan.Filter.MarketCapMax)
	}
	if c.Signal.RSILow < 0 || c.Signal.RSIHigh > 100 || c.Signal.RSILow > c.Signal.RSIHigh {
		return fmt.Errorf("signal RSI band must satisfy 0 <= low <= high <= 100, got [%.1f, %.1f]", c.Signal.RSILow, c.Signal.RSIHigh)
	}
	if c.Signal.MACDFast >= c.Signal.MACDSlow {
		return fmt.Errorf("signal.macd_fast (%d) must be below signal.macd_slow (%d)", c.Signal.MACDFast, c.Signal.MACDSlow)
	}
	if c.Signal.MinBars < c.RequiredBars() {
		return fmt.Errorf("signal.min_bars must be at least %d, got %d", c.RequiredBars(), c.Signal.MinBars)
	}
	if c.Scan.HistoryBars < c.Signal.MinBars {
		return fmt.Errorf("scan.history_bars (%d) must cover signal.min_bars (%d)", c.Scan.HistoryBars, c.Signal.MinBars)
	}
	if c.Trade.Shares <= 0 {
		return fmt.Errorf("trade.shares must be positive, got %d", c.Trade.Shares)
	}
	if c.Trade.ProfitTarget <= 0 {
		return fmt.Errorf("trade.profit_target must be positive, got %.4f", c.Trade.ProfitTarget)
	}
	if c.Trade.StopLoss <= -1 || c.Trade.StopLoss >= 0 {
		return fmt.Errorf("trade.stop_loss must be between -1 and 0, got %.4f", c.Trade.StopLoss)
	}
	if c.Trade.OrderTimeout <= 0 {
		return fmt.Errorf("trade.order_timeout must be positive, got %s", c.Trade.OrderTimeout)
	}
	if c.Trade.OrphanAfter < c.Trade.OrderTimeout {
		return fmt.Errorf("trade.orphan_after %s must not be shorter than trade.order_timeout %s", c.Trade.OrphanAfter, c.Trade.OrderTimeout)
	}
	if c.Risk.MaxOpenPositions < 0 || c.Risk.MaxNotional < 0 {
		return errors.New("risk limits cannot be negative")
	}
	if _, err := time.LoadLocation(c.EOD.Timezone); err != nil {
		return fmt.Errorf("eod.timezone: %w", err)
	}
	if _, err := time.Parse("15:04", c.EOD.CloseTime); err != nil {
		return fmt.Errorf("eod.close_time must be HH:MM: %w", err)
	}
	if c.Notify.WebhookURL != "" && !strings.HasPrefix(c.Notify.WebhookURL, "http") {
		return fmt.Errorf("notify.webhook_url must be an http(s) URL, got %q", c.Notify.WebhookURL)
	}
	return nil
}

// applyEnv lets deployment override the few settings that differ per host.
func (c *Config) applyEnv() {
	if v := os.Getenv("BOT_MODE"); v != "" {
		c.Mode = strings.ToUpper(v)
	}
	if v := os.Getenv("BOT_VENUE"); v != "" {
		c.Venue.Kind = strings.ToUpper(v)
	}
	if v := os.Getenv("TRADER_LOG_DIR"); v != "" {
		c.Journal.Dir = v
	}
	if v := os.Getenv("BOT_WEBHOOK_URL"); v != "" {
		c.Notify.WebhookURL = v
	}
	if v := os.Getenv("TRADER_LOG_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Journal.RetentionDays = n
		}
	}
	if v := os.Getenv("BOT_STATUS_ADDR"); v != "" {
		c.Status.Addr = v
		c.Status.Enabled = true
	}
}

// LoadConfig reads a YAML file, applies env overrides and defaults, and
// validates the result. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	var c Config

	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	c.applyEnv()
	c.ApplyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &c, nil
}
