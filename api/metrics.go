/*
metrics.go - Prometheus instrumentation

PURPOSE:
  Counters and histograms covering the hot paths: HTTP traffic,
  settlement computation latency, and cache effectiveness. Exposed on
  GET /metrics via promhttp.

SEE ALSO:
  - server.go: Mounts the /metrics handler and the HTTP middleware
*/
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msphere_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "msphere_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	settlementDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "msphere_settlement_duration_seconds",
			Help:    "Time spent computing a period settlement.",
			Buckets: prometheus.DefBuckets,
		},
	)
	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msphere_cache_lookups_total",
			Help: "Cache lookups by outcome (hit or miss).",
		},
		[]string{"kind", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		settlementDuration,
		cacheLookupsTotal,
	)
}

// httpMetrics records a counter and latency histogram per route. Runs
// after chi's route matching so the route pattern, not the raw path,
// is the label.
func httpMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func observeSettlement(start time.Time) {
	settlementDuration.Observe(time.Since(start).Seconds())
}

func recordCacheLookup(kind string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	cacheLookupsTotal.WithLabelValues(kind, outcome).Inc()
}
