// Package metrics exposes Prometheus collectors for the HTTP API, the
// lifecycle jobs and the database pool.
package metrics

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "eventkeeper"

// unmatchedRoute labels requests no route pattern claimed, so scanners
// hitting random paths do not create new series.
const unmatchedRoute = "unmatched"

// HTTPCollector owns the registry and records inbound request metrics.
type HTTPCollector struct {
	registry        *prometheus.Registry
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
}

// NewHTTPCollector registers request metrics on registry. A nil registry
// gets a fresh one.
func NewHTTPCollector(registry *prometheus.Registry) (*HTTPCollector, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &HTTPCollector{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of inbound HTTP requests by route.",
			Buckets:   []float64{.005, .01, .05, .1, .5, 1, 5, 30, 120},
		}, []string{"method", "route", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Inbound HTTP requests by route.",
		}, []string{"method", "route", "status"}),
	}

	for _, collector := range []prometheus.Collector{c.requestDuration, c.requestTotal} {
		if err := registry.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Registry returns the registry the collector writes to.
func (c *HTTPCollector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *HTTPCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// WatchDB exports the pool statistics of db.
func (c *HTTPCollector) WatchDB(db *sql.DB) error {
	return c.registry.Register(collectors.NewDBStatsCollector(db, "events"))
}

// InstrumentHandler wraps a ServeMux and records each request under the
// route pattern that served it.
func (c *HTTPCollector) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := r.Pattern
		if route == "" {
			route = unmatchedRoute
		}
		status := strconv.Itoa(rw.status)

		c.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		c.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
