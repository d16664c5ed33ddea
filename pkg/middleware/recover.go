package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/abaveja313/httpsugar/pkg/httperr"
	"github.com/abaveja313/httpsugar/pkg/logging"
)

// Recoverer converts handler panics into a 500 JSON envelope and logs the
// stack through the request-scoped logger. http.ErrAbortHandler is
// re-raised so aborted streams keep their net/http semantics.
func Recoverer() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logger := logging.FromContext(r.Context())
				logger.Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("handler panicked")

				httperr.Write(w, r, httperr.Internal(http.StatusText(http.StatusInternalServerError)))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
