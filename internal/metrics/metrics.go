// Package metrics provides Prometheus instrumentation for the settlement core.
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
	// ListingsCreated counts listings posted to the book.
	ListingsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "propshare_listings_created_total",
		Help: "Total listings created",
	})

	// HoldsCreated counts holds placed against listings.
	HoldsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "propshare_holds_created_total",
		Help: "Total holds created",
	})

	// HoldsReleased counts holds unwound by cancellation or expiry.
	HoldsReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "propshare_holds_released_total",
		Help: "Total holds released",
	})

	// ReservationsCreated counts holds promoted to reservations.
	ReservationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "propshare_reservations_created_total",
		Help: "Total reservations created",
	})

	// Settlements counts finalized reservations, partitioned by outcome.
	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "propshare_settlements_total",
		Help: "Total settlements processed",
	}, []string{"outcome"})

	// SharesGranted tracks cumulative shares issued by operators.
	SharesGranted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "propshare_shares_granted_total",
		Help: "Cumulative shares granted by primary issuance",
	}, []string{"asset_id"})

	// SweepRuns counts completed expiry sweeps.
	SweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "propshare_sweep_runs_total",
		Help: "Total expiry sweep runs",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "propshare_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "propshare_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "propshare_http_request_duration_seconds",
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

		// Use the route pattern for path label to avoid high cardinality.
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
