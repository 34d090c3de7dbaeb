// Package metrics exposes the Prometheus registry and the HTTP middleware of
// the blog server. CMS client, cache, rate limit and pagination metrics are
// defined in their own packages and registered through promauto.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the blog.
var Registry = prometheus.DefaultRegisterer

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blog_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blog_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blog_http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6),
		},
		[]string{"method", "route"},
	)

	activeRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blog_http_active_requests",
			Help: "Number of currently active HTTP requests",
		},
	)
)

// statusRecorder captures the status code and size written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.size += n
	return n, err
}

// Middleware records request count, latency and response size per route
// template. It is meant for mux.Router.Use.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := routeTemplate(r)
		if route == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		activeRequests.Inc()
		defer activeRequests.Dec()

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}

		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		httpResponseSize.WithLabelValues(r.Method, route).Observe(float64(rec.size))
	})
}

// routeTemplate returns the matched route (e.g. /post/{slug}) to keep label
// cardinality bounded.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unknown"
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// HTTP (pkg/metrics):
//   - blog_http_requests_total{method, route, status} (Counter)
//   - blog_http_request_duration_seconds{method, route} (Histogram)
//   - blog_http_response_size_bytes{method, route} (Histogram)
//   - blog_http_active_requests (Gauge)
//
// Pagination (pkg/pagination):
//   - blog_pagination_accumulate_total{result} (Counter): ok, exhausted, error
//   - blog_pagination_items_appended_total (Counter)
//
// Export (internal/site):
//   - blog_export_pages_written_total (Counter)
//
// CMS requests (pkg/prismic):
//   - cms_requests_total{endpoint, status} (Counter)
//   - cms_request_duration_seconds{endpoint} (Histogram)
//   - cms_errors_total{class} (Counter): client, server, rate_limit, network
//   - cms_retries_total{error_class} (Counter)
//   - cms_retry_backoff_seconds{error_class} (Histogram)
//   - cms_retry_exhausted_total{error_class} (Counter)
//
// Cache (pkg/cache):
//   - cms_cache_hits_total (Counter)
//   - cms_cache_misses_total (Counter)
//   - cms_cache_written_bytes_total (Counter)
//   - cms_cache_purged_entries_total (Counter)
//   - cms_304_responses_total (Counter)
//   - cms_conditional_requests_total (Counter)
//   - cms_cache_errors_total{operation} (Counter)
//
// Rate limit (pkg/ratelimit):
//   - cms_rate_limit_remaining (Gauge)
//   - cms_rate_limit_blocks_total (Counter)
//   - cms_rate_limit_throttles_total (Counter)
//
// Example Prometheus Queries:
//
//	# Cache Hit Rate
//	sum(rate(cms_cache_hits_total[5m])) /
//	(sum(rate(cms_cache_hits_total[5m])) + sum(rate(cms_cache_misses_total[5m])))
//
//	# Failed "load more" transitions
//	rate(blog_pagination_accumulate_total{result="error"}[5m])
//
//	# P95 page latency
//	histogram_quantile(0.95, rate(blog_http_request_duration_seconds_bucket{route="/post/{slug}"}[5m]))
