// Package metrics provides Prometheus instrumentation for the position engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersTotal counts orders by outcome: created, gated, invalid,
	// cancelled or rejected.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_orders_total",
		Help: "Orders handled, partitioned by outcome",
	}, []string{"outcome"})

	// ExecutionsTotal counts order fills by side.
	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_executions_total",
		Help: "Order fills applied to the ledger",
	}, []string{"side"})

	// ExecutionLatency tracks how long one atomic execution holds its book.
	ExecutionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_execution_latency_seconds",
		Help:    "Order execution latency in seconds",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	}, []string{"side"})

	// ClosesTotal counts position closes by result: win, loss or flat.
	ClosesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_closes_total",
		Help: "Position closes, partitioned by result",
	}, []string{"result"})

	// GateRejections counts pre-trade gate failures by violation code.
	GateRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_gate_rejections_total",
		Help: "Orders refused by the pre-trade risk gate",
	}, []string{"code"})

	// AlertsTotal counts raised alerts by type and severity.
	AlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_alerts_total",
		Help: "Risk alerts raised",
	}, []string{"type", "severity"})

	// AlertsDropped counts alerts a full sink buffer discarded.
	AlertsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_alerts_dropped_total",
		Help: "Alerts dropped because a sink was saturated",
	}, []string{"sink"})

	// PriceRefreshes counts price pulses applied.
	PriceRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_price_refreshes_total",
		Help: "Price refresh pulses applied",
	})

	// OpenPositions tracks open positions across all customers.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_open_positions",
		Help: "Number of currently open positions",
	})

	// Accounts tracks provisioned accounts.
	Accounts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_accounts",
		Help: "Number of provisioned accounts",
	})

	// JournalErrors counts failed journal writes by store.
	JournalErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_journal_errors_total",
		Help: "Failed journal writes",
	}, []string{"store"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
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

		// Route pattern keeps the label set bounded.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
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
