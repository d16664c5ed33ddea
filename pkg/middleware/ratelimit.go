package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/abaveja313/httpsugar/internal/governance"
	"github.com/abaveja313/httpsugar/pkg/httperr"
)

// RateLimit applies a token-bucket limit per route pattern. Requests over
// the limit receive a 429 envelope with a Retry-After hint.
func RateLimit(rps, burst int) func(http.Handler) http.Handler {
	limiter := governance.NewLimiter(governance.LimitConfig{
		RequestsPerSecond: rps,
		Burst:             burst,
	})
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					key = pattern
				}
			}

			ok, _ := limiter.Allow(key)
			if !ok {
				w.Header().Set("Retry-After", "1")
				httperr.Write(w, r, httperr.TooManyRequests("rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
