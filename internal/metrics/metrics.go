// Package metrics provides Prometheus instrumentation for the PnL engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesIngested counts trades accepted into a ledger, partitioned by side.
	TradesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pnl_trades_ingested_total",
		Help: "Total number of trades accepted into portfolio ledgers",
	}, []string{"side"})

	// DuplicateTrades counts trades skipped because their id was already present.
	DuplicateTrades = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pnl_duplicate_trades_total",
		Help: "Trades skipped as duplicates of an existing client_trade_id",
	})

	// ValidationRejections counts requests rejected before any mutation.
	ValidationRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pnl_validation_rejections_total",
		Help: "Requests rejected as malformed",
	}, []string{"operation"})

	// LotRebuildDuration tracks how long an ingest takes to rebuild open lots.
	LotRebuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pnl_lot_rebuild_seconds",
		Help:    "Time spent re-sorting the ledger and rebuilding open lots",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
	})

	// OpenLotsAfterIngest records the portfolio's open lot count after each
	// ingest. Unlabelled so series do not grow with the number of portfolios.
	OpenLotsAfterIngest = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pnl_open_lots_after_ingest",
		Help:    "Open lots held by a portfolio after an ingest",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})

	// PnLQueries counts realized/unrealized/lots queries by accounting method.
	PnLQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pnl_queries_total",
		Help: "PnL queries served",
	}, []string{"kind", "method"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pnl_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pnl_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pnl_http_request_duration_seconds",
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

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern returns the matched chi route pattern, so path labels do not
// grow with portfolio ids. Unmatched requests fall back to the raw path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
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

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack is required for the WebSocket upgrade on /api/v1/ws.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
