package policy

import (
	"net/http"
	"strings"

	"github.com/abaveja313/httpsugar/pkg/httperr"
	"github.com/abaveja313/httpsugar/pkg/logging"
)

// HeaderSubject carries the caller identity consulted by policies. It is
// typically set by an authentication proxy in front of the service.
const HeaderSubject = "X-Subject"

// Middleware guards routes with the engine's default entrypoint. Denied
// requests receive a 403 envelope; evaluation errors render as opaque 500s.
func Middleware(engine *Engine) func(http.Handler) http.Handler {
	return MiddlewareAt(engine, "")
}

// MiddlewareAt guards routes evaluating at an alternate entrypoint. An empty
// entrypoint falls back to the engine default.
func MiddlewareAt(engine *Engine, entrypoint string) func(http.Handler) http.Handler {
	if entrypoint == "" {
		entrypoint = engine.entrypoint
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			input := Input{
				Method:  r.Method,
				Path:    r.URL.Path,
				Subject: r.Header.Get(HeaderSubject),
				Headers: flattenHeaders(r.Header),
			}

			decision, err := engine.EvaluateAt(r.Context(), entrypoint, input)
			if err != nil {
				httperr.Write(w, r, err)
				return
			}
			if !decision.Allow {
				logger := logging.FromContext(r.Context())
				logger.Warn().
					Str("subject", input.Subject).
					Str("reason", decision.Reason).
					Msg("request denied by policy")
				detail := decision.Reason
				if detail == "" {
					detail = "forbidden by policy"
				}
				httperr.Write(w, r, httperr.Forbidden(detail))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[name] = strings.Join(values, ",")
	}
	return out
}
