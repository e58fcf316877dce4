package ta

import "math"

// EMASeries returns the exponential moving average of vals with span n,
// seeded with the first value (alpha = 2/(n+1), no bias adjustment).
func EMASeries(vals []float64, n int) []float64 {
	if n <= 0 || len(vals) == 0 {
		return nil
	}
	alpha := 2.0 / float64(n+1)
	out := make([]float64, len(vals))
	out[0] = vals[0]
	for i := 1; i < len(vals); i++ {
		out[i] = alpha*vals[i] + (1-alpha)*out[i-1]
	}
	return out
}

// EMA is the latest EMASeries value, NaN until n values are available.
func EMA(vals []float64, n int) float64 {
	if n <= 0 || len(vals) < n {
		return math.NaN()
	}
	s := EMASeries(vals, n)
	return s[len(s)-1]
}

// RSI uses Wilder smoothing (alpha = 1/period) seeded with the first change.
// A window with no losses reads 100.
func RSI(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period+1 {
		return math.NaN()
	}
	alpha := 1.0 / float64(period)
	var up, down float64
	for i := 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		gain, loss := math.Max(d, 0), math.Max(-d, 0)
		if i == 1 {
			up, down = gain, loss
			continue
		}
		up = alpha*gain + (1-alpha)*up
		down = alpha*loss + (1-alpha)*down
	}
	if down == 0 {
		return 100.0
	}
	rs := up / down
	return 100.0 - (100.0 / (1.0 + rs))
}

// MACD returns the latest MACD line, signal line and histogram. The signal
// EMA starts at the first bar where the slow EMA is defined.
func MACD(closes []float64, fast, slow, signal int) (line, sig, hist float64) {
	nan := math.NaN()
	if fast <= 0 || slow <= 0 || signal <= 0 || fast >= slow || len(closes) < slow+signal-1 {
		return nan, nan, nan
	}
	ef := EMASeries(closes, fast)
	es := EMASeries(closes, slow)
	m := make([]float64, 0, len(closes)-slow+1)
	for i := slow - 1; i < len(closes); i++ {
		m = append(m, ef[i]-es[i])
	}
	ss := EMASeries(m, signal)
	line = m[len(m)-1]
	sig = ss[len(ss)-1]
	return line, sig, line - sig
}

// PercentChange is the move from the first to the last value, in percent.
func PercentChange(vals []float64) float64 {
	if len(vals) < 2 || vals[0] <= 0 {
		return math.NaN()
	}
	return (vals[len(vals)-1] - vals[0]) / vals[0] * 100.0
}
