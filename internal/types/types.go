package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PriceBar is one OHLCV bar. Indicator maths runs in float64.
type PriceBar struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// ScanResult is one row of a market scan. Price and Volume are zero when the
// scanner does not report them.
type ScanResult struct {
	Symbol    string  `json:"symbol"`
	Rank      int     `json:"rank"`
	MarketCap float64 `json:"market_cap"`
	Price     float64 `json:"price,omitempty"`
	Volume    float64 `json:"volume,omitempty"`
}

// ScanFilter is the fixed scanner subscription used every cycle.
type ScanFilter struct {
	Instrument   string  `yaml:"instrument" json:"instrument"`
	Location     string  `yaml:"location" json:"location"`
	Currency     string  `yaml:"currency" json:"currency"`
	ScanCode     string  `yaml:"scan_code" json:"scan_code"`
	MaxRows      int     `yaml:"max_rows" json:"max_rows"`
	PriceMin     float64 `yaml:"price_min" json:"price_min"`
	PriceMax     float64 `yaml:"price_max" json:"price_max"`
	VolumeMin    float64 `yaml:"volume_min" json:"volume_min"`
	MarketCapMin float64 `yaml:"market_cap_min" json:"market_cap_min"`
	MarketCapMax float64 `yaml:"market_cap_max" json:"market_cap_max"`
}

// DefaultScanFilter returns the top-percentage-gainer filter for small caps.
func DefaultScanFilter() ScanFilter {
	return ScanFilter{
		Instrument:   "STK",
		Location:     "STK.US.MAJOR",
		Currency:     "USD",
		ScanCode:     "TOP_PERC_GAIN",
		MaxRows:      50,
		PriceMin:     1,
		PriceMax:     10,
		VolumeMin:    1_000_000,
		MarketCapMin: 5_000_000,
		MarketCapMax: 20_000_000,
	}
}

// Accepts reports whether a row passes the numeric bounds of the filter.
// Zero-valued row fields are treated as unknown and pass.
func (f ScanFilter) Accepts(r ScanResult) bool {
	if r.Price > 0 {
		if f.PriceMin > 0 && r.Price < f.PriceMin {
			return false
		}
		if f.PriceMax > 0 && r.Price > f.PriceMax {
			return false
		}
	}
	if r.Volume > 0 && f.VolumeMin > 0 && r.Volume < f.VolumeMin {
		return false
	}
	if r.MarketCap > 0 {
		if f.MarketCapMin > 0 && r.MarketCap < f.MarketCapMin {
			return false
		}
		if f.MarketCapMax > 0 && r.MarketCap > f.MarketCapMax {
			return false
		}
	}
	return true
}

// ScanRequest pairs a filter with a request id owned by the caller.
type ScanRequest struct {
	ID     string
	Filter ScanFilter
}

// HistoryWindow describes how many bars of which size to fetch.
type HistoryWindow struct {
	Bars     int
	Interval time.Duration
}

// PriceUpdate is a live price pushed by the venue.
type PriceUpdate struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Time   time.Time       `json:"time"`
}

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// OrderRequest is a market order submitted to the venue.
type OrderRequest struct {
	Symbol   string `json:"symbol"`
	Action   Action `json:"action"`
	Quantity int    `json:"quantity"`
	Tag      string `json:"tag,omitempty"`
}

// OrderStatus is the venue-reported status of an order.
type OrderStatus string

const (
	OrderStatusSubmitted       OrderStatus = "SUBMITTED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether no further status will follow.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusRejected
}

// OrderStatusEvent is pushed by the venue as an order progresses.
type OrderStatusEvent struct {
	OrderID      string          `json:"order_id"`
	Status       OrderStatus     `json:"status"`
	FilledQty    int             `json:"filled_qty"`
	AvgFillPrice decimal.Decimal `json:"avg_fill_price"`
	Message      string          `json:"message,omitempty"`
}

// VenueError is an asynchronous error notification. RequestID is the order id
// or request id the error refers to, empty for connection-level notices.
type VenueError struct {
	RequestID string `json:"request_id"`
	Code      int    `json:"code"`
	Message   string `json:"message"`
}

// OrderState is the bot-side lifecycle of a pending order.
type OrderState string

const (
	OrderStateSubmitted OrderState = "SUBMITTED"
	OrderStateFilled    OrderState = "FILLED"
	OrderStateCancelled OrderState = "CANCELLED"
)

// PendingOrder tracks one outstanding venue order.
type PendingOrder struct {
	OrderID     string     `json:"order_id"`
	Symbol      string     `json:"symbol"`
	Action      Action     `json:"action"`
	Quantity    int        `json:"quantity"`
	State       OrderState `json:"state"`
	SubmittedAt time.Time  `json:"submitted_at"`
}

// Position is an open long holding.
type Position struct {
	Symbol     string          `json:"symbol"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Shares     int             `json:"shares"`
	OpenedAt   time.Time       `json:"opened_at"`
}

// UnrealizedPnL is (price - entry) * shares.
func (p Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	return price.Sub(p.EntryPrice).Mul(decimal.NewFromInt(int64(p.Shares)))
}

// ConnectParams identifies the venue session.
type ConnectParams struct {
	Host     string
	Port     int
	ClientID int
}

// Connection describes an established venue session.
type Connection struct {
	ID          string
	Venue       string
	ConnectedAt time.Time
}

// TradeEvent is a completed fill, journalled and broadcast.
type TradeEvent struct {
	Time        time.Time        `json:"time"`
	Symbol      string           `json:"symbol"`
	Action      Action           `json:"action"`
	Quantity    int              `json:"quantity"`
	Price       decimal.Decimal  `json:"price"`
	OrderID     string           `json:"order_id"`
	Reason      string           `json:"reason,omitempty"`
	RealizedPnL *decimal.Decimal `json:"realized_pnl,omitempty"`
}

// DecisionRecord is one signal evaluation, journalled for later review.
type DecisionRecord struct {
	Time       time.Time          `json:"time"`
	ScanID     string             `json:"scan_id"`
	Symbol     string             `json:"symbol"`
	Entry      bool               `json:"entry"`
	Reason     string             `json:"reason"`
	Bars       int                `json:"bars"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
}

// Holding is one line of the holdings report.
type Holding struct {
	Position
	LastPrice     decimal.Decimal `json:"last_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// CycleReport summarises one scan cycle.
type CycleReport struct {
	ScanID     string        `json:"scan_id"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	ScanErr    string        `json:"scan_error,omitempty"`
	Candidates int           `json:"candidates"`
	Evaluated  int           `json:"evaluated"`
	Signals    []string      `json:"signals,omitempty"`
	Bought     []string      `json:"bought,omitempty"`
	Skipped    []string      `json:"skipped,omitempty"`
	Failed     []string      `json:"failed,omitempty"`
	Holdings   []Holding     `json:"holdings"`
}

// VenueRequestError is a failure of a single scan, history or order request.
type VenueRequestError struct {
	Op      string
	Symbol  string
	Code    int
	Message string
}

func (e *VenueRequestError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("venue %s %s failed (code %d): %s", e.Op, e.Symbol, e.Code, e.Message)
	}
	return fmt.Sprintf("venue %s failed (code %d): %s", e.Op, e.Code, e.Message)
}

// VenueConnectionError means the session could not be established or was lost.
type VenueConnectionError struct {
	Venue string
	Err   error
}

func (e *VenueConnectionError) Error() string {
	return fmt.Sprintf("venue %s connection: %v", e.Venue, e.Err)
}

func (e *VenueConnectionError) Unwrap() error { return e.Err }
