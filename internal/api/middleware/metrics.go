package middleware

import (
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector counts requests and errors for the runtime endpoint and
// exports per-route totals to Prometheus.
type MetricsCollector struct {
	requestCount *atomic.Int64
	errorCount   *atomic.Int64
	requests     *prometheus.CounterVec
}

// NewMetricsCollector registers its counter against reg. A nil reg keeps
// the collector process-local.
func NewMetricsCollector(requestCount, errorCount *atomic.Int64, reg prometheus.Registerer) *MetricsCollector {
	mc := &MetricsCollector{requestCount: requestCount, errorCount: errorCount}
	if reg != nil {
		mc.requests = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "reconledger",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"})
	}
	return mc
}

// Middleware returns middleware that counts requests and errors.
func (mc *MetricsCollector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mc.requestCount.Add(1)

		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)

		if rw.statusCode >= 400 {
			mc.errorCount.Add(1)
		}
		if mc.requests != nil {
			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			mc.requests.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
		}
	})
}
