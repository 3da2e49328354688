package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// HTTPRecorder receives one observation per request.
type HTTPRecorder interface {
	RecordHTTPRequest(method, route string, statusCode int, d time.Duration)
}

// Metrics records requests by chi route pattern, so path parameters do not
// explode label cardinality. Unmatched requests are recorded as "unmatched".
func Metrics(rec HTTPRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newWrappedResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			rec.RecordHTTPRequest(r.Method, route, wrapped.statusCode, time.Since(start))
		})
	}
}
