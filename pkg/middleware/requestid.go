// Package middleware provides the canonical HTTP middleware stack: request
// correlation, access logging, CORS, panic recovery, metrics, tracing and
// rate limiting. The app package wires these in a fixed order; they are
// exported so custom routers can compose them directly.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/abaveja313/httpsugar/pkg/logging"
)

// HeaderRequestID is the correlation header read from requests and set on
// every response.
const HeaderRequestID = "X-Request-ID"

// RequestID assigns each request a correlation ID, binds it together with
// the request path into a request-scoped logger, and echoes it back in the
// response headers. An inbound X-Request-ID is trusted when present so IDs
// survive proxy hops.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(HeaderRequestID)
			if id == "" {
				id = uuid.NewString()
			}

			bound := logging.Base().With().
				Str("request_id", id).
				Str("path", r.URL.Path).
				Logger()

			ctx := logging.ContextWithRequestID(r.Context(), id)
			ctx = logging.ContextWithLogger(ctx, bound)

			w.Header().Set(HeaderRequestID, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
