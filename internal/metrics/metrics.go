// Package metrics provides Prometheus instrumentation for the signal engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SignalsGenerated counts emitted signals by strategy and action.
	SignalsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trademaster_signals_generated_total",
		Help: "Total trading signals generated",
	}, []string{"strategy", "action"})

	// EvaluatorFaults counts recovered evaluator panics by strategy.
	EvaluatorFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trademaster_evaluator_faults_total",
		Help: "Strategy evaluations aborted by a recovered fault",
	}, []string{"strategy"})

	// PositionsOpened counts executed signals by side.
	PositionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trademaster_positions_opened_total",
		Help: "Positions opened from executed signals",
	}, []string{"side"})

	// OpenPositions tracks the size of the position ledger.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trademaster_open_positions",
		Help: "Number of positions currently tracked",
	})

	// GenerationLatency tracks signal generation duration.
	GenerationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trademaster_generation_duration_seconds",
		Help:    "Signal generation latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trademaster_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trademaster_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trademaster_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

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

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
