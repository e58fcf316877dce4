// Package signal decides whether a price history qualifies for a momentum
// entry. Everything here is pure and safe for concurrent use.
package signal

import (
	"math"

	"momentum-bot/internal/store"
	"momentum-bot/internal/ta"
	"momentum-bot/internal/types"
)

// Reasons recorded with each evaluation.
const (
	ReasonEntry              = "ENTRY"
	ReasonInsufficientBars   = "INSUFFICIENT_BARS"
	ReasonUndefined          = "INDICATOR_UNDEFINED"
	ReasonAboveCeiling       = "PRICE_ABOVE_CEILING"
	ReasonRSIOutOfBand       = "RSI_OUT_OF_BAND"
	ReasonMACDNotPositive    = "MACD_HIST_NOT_POSITIVE"
	ReasonChangeBelowMinimum = "CHANGE_BELOW_MINIMUM"
	ReasonBelowTrend         = "BELOW_LONG_EMA"
)

// Thresholds are the entry bounds applied to computed indicators.
type Thresholds struct {
	PriceCeiling float64
	RSILow       float64
	RSIHigh      float64
	MinChangePct float64
}

// Params holds indicator windows plus thresholds.
type Params struct {
	Thresholds
	RSIPeriod  int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
	EMALong    int
	MinBars    int
}

func DefaultParams() Params {
	return Params{
		Thresholds: Thresholds{
			PriceCeiling: 10,
			RSILow:       30,
			RSIHigh:      70,
			MinChangePct: 10,
		},
		RSIPeriod:  14,
		MACDFast:   12,
		MACDSlow:   26,
		MACDSignal: 9,
		EMALong:    200,
		MinBars:    200,
	}
}

func ParamsFromConfig(cfg *store.Config) Params {
	s := cfg.Signal
	return Params{
		Thresholds: Thresholds{
			PriceCeiling: s.PriceCeiling,
			RSILow:       s.RSILow,
			RSIHigh:      s.RSIHigh,
			MinChangePct: s.MinChangePct,
		},
		RSIPeriod:  s.RSIPeriod,
		MACDFast:   s.MACDFast,
		MACDSlow:   s.MACDSlow,
		MACDSignal: s.MACDSignal,
		EMALong:    s.EMALong,
		MinBars:    s.MinBars,
	}
}

// requiredBars never drops below what the indicator windows need.
func (p Params) requiredBars() int {
	n := p.MinBars
	for _, w := range []int{p.EMALong, p.MACDSlow + p.MACDSignal - 1, p.RSIPeriod + 1} {
		if w > n {
			n = w
		}
	}
	return n
}

// Indicators are the values the entry rule looks at.
type Indicators struct {
	Close      float64 `json:"close"`
	RSI        float64 `json:"rsi"`
	MACD       float64 `json:"macd"`
	MACDSignal float64 `json:"macd_signal"`
	MACDHist   float64 `json:"macd_hist"`
	ChangePct  float64 `json:"change_pct"`
	EMALong    float64 `json:"ema_long"`
}

// Map flattens the indicators for the decision journal.
func (ind Indicators) Map() map[string]float64 {
	return map[string]float64{
		"CLOSE":       ind.Close,
		"RSI":         ind.RSI,
		"MACD":        ind.MACD,
		"MACD_SIGNAL": ind.MACDSignal,
		"MACD_HIST":   ind.MACDHist,
		"CHANGE_PCT":  ind.ChangePct,
		"EMA_LONG":    ind.EMALong,
	}
}

func (ind Indicators) defined() bool {
	for _, v := range []float64{ind.Close, ind.RSI, ind.MACDHist, ind.ChangePct, ind.EMALong} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Result is one evaluation.
type Result struct {
	Entry      bool
	Reason     string
	Bars       int
	Indicators Indicators
}

// Compute derives indicators from bars ordered oldest to newest.
func Compute(bars []types.PriceBar, p Params) Indicators {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	var ind Indicators
	if len(closes) > 0 {
		ind.Close = closes[len(closes)-1]
	} else {
		ind.Close = math.NaN()
	}
	ind.RSI = ta.RSI(closes, p.RSIPeriod)
	ind.MACD, ind.MACDSignal, ind.MACDHist = ta.MACD(closes, p.MACDFast, p.MACDSlow, p.MACDSignal)
	ind.ChangePct = ta.PercentChange(closes)
	ind.EMALong = ta.EMA(closes, p.EMALong)
	return ind
}

// Decide applies the entry rule to already computed indicators. Every
// condition must hold:
//
//	close <= ceiling, low <= RSI <= high, MACD histogram > 0,
//	change >= minimum, close > long EMA
func Decide(ind Indicators, th Thresholds) (bool, string) {
	if !ind.defined() {
		return false, ReasonUndefined
	}
	if ind.Close > th.PriceCeiling {
		return false, ReasonAboveCeiling
	}
	if ind.RSI < th.RSILow || ind.RSI > th.RSIHigh {
		return false, ReasonRSIOutOfBand
	}
	if ind.MACDHist <= 0 {
		return false, ReasonMACDNotPositive
	}
	if ind.ChangePct < th.MinChangePct {
		return false, ReasonChangeBelowMinimum
	}
	if ind.Close <= ind.EMALong {
		return false, ReasonBelowTrend
	}
	return true, ReasonEntry
}

// Evaluate never fails: short or degenerate histories simply do not signal.
func Evaluate(bars []types.PriceBar, p Params) Result {
	res := Result{Bars: len(bars)}
	if len(bars) < p.requiredBars() {
		res.Reason = ReasonInsufficientBars
		return res
	}
	res.Indicators = Compute(bars, p)
	res.Entry, res.Reason = Decide(res.Indicators, p.Thresholds)
	return res
}
