// metrics.go — Prometheus HTTP метрики: cs_http_requests_total, cs_http_request_duration_seconds.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cs_http_requests_total",
			Help: "Общее количество HTTP-запросов к Cold Storage",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cs_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Cold Storage в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware считает запросы и их длительность по нормализованному пути.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			path := normalizePath(r.URL.Path)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

const recordsPrefix = "/api/v1/records/"

// normalizePath заменяет идентификатор записи на {id}, чтобы не раздувать кардинальность.
// /api/v1/records/7f1c.../retrieval → /api/v1/records/{id}/retrieval
func normalizePath(path string) string {
	rest, ok := strings.CutPrefix(path, recordsPrefix)
	if !ok || rest == "" {
		return path
	}

	_, suffix, hasSuffix := strings.Cut(rest, "/")
	if !hasSuffix {
		return recordsPrefix + "{id}"
	}
	switch {
	case suffix == "cold-storage", suffix == "retrieval":
		return recordsPrefix + "{id}/" + suffix
	case strings.HasPrefix(suffix, "content/"):
		return recordsPrefix + "{id}/content/{field}"
	default:
		return recordsPrefix + "{id}/other"
	}
}
