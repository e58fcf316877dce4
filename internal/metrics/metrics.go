// Package metrics provides Prometheus instrumentation for the bot.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ScanCycles counts completed scan cycles.
	ScanCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "momentum_scan_cycles_total",
		Help: "Total number of scan cycles run",
	})

	ScanFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "momentum_scan_failures_total",
		Help: "Scan requests that failed",
	})

	CandidatesEvaluated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "momentum_candidates_evaluated_total",
		Help: "Scan candidates whose history was evaluated",
	})

	// SignalsByReason counts evaluations by outcome reason (ENTRY or the
	// first failing rule).
	SignalsByReason = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "momentum_signal_evaluations_total",
		Help: "Signal evaluations partitioned by outcome",
	}, []string{"reason"})

	// Orders counts order outcomes by action (BUY/SELL) and outcome
	// (filled, rejected, timeout, error).
	Orders = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "momentum_orders_total",
		Help: "Orders partitioned by action and outcome",
	}, []string{"action", "outcome"})

	FillLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "momentum_fill_latency_seconds",
		Help:    "Time from order submission to fill",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"action"})

	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "momentum_open_positions",
		Help: "Number of open positions in the ledger",
	})

	// RealizedProfit accumulates realized profit per symbol; losses are
	// recorded on a separate counter since counters cannot decrease.
	RealizedProfit = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "momentum_realized_profit_total",
		Help: "Cumulative realized profit in quote currency",
	}, []string{"symbol"})

	RealizedLoss = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "momentum_realized_loss_total",
		Help: "Cumulative realized loss in quote currency",
	}, []string{"symbol"})

	// Exits counts exit triggers by kind (profit_target, stop_loss).
	Exits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "momentum_exit_triggers_total",
		Help: "Exit monitor triggers by kind",
	}, []string{"kind"})

	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "momentum_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "momentum_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "momentum_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveRealized records a realized result on the profit or loss counter.
func ObserveRealized(symbol string, pnl float64) {
	if pnl >= 0 {
		RealizedProfit.WithLabelValues(symbol).Add(pnl)
		return
	}
	RealizedLoss.WithLabelValues(symbol).Add(-pnl)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
