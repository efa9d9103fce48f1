// internal/middleware/metrics.go

package middleware

import (
	"net/http"
	"time"

	"github.com/jason-s-yu/lobbyhub/internal/metrics"
)

// MetricsMiddleware records request counts and latency per matched route pattern.
// It must wrap the ServeMux so the pattern is set once the request returns.
func MetricsMiddleware(m *metrics.Metrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			m.ObserveHTTP(route, rec.code(), time.Since(start))
		})
	}
}
