package middleware

import (
	"net/http"
	"strconv"
	"time"

	"divgate/internal/pkg/metrics"
)

// Observe records request count and latency under the route pattern, so
// path parameters never become label values. The tier label comes from the
// X-Tier header set during admission.
func Observe(m *metrics.Collector, route string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		if m == nil {
			return next
		}
		return func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.InFlight(1)
			defer m.InFlight(-1)

			sw := NewStatusWriter(w)
			next(sw, r)

			m.ObserveRequest(r.Method, route, strconv.Itoa(sw.Status()), w.Header().Get("X-Tier"), time.Since(start))
		}
	}
}
