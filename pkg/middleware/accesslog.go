package middleware

import (
	"net/http"
	"time"

	"github.com/abaveja313/httpsugar/pkg/logging"
)

// AccessLog records method, path, status and latency for every request at
// debug level through the request-scoped logger. Paths in exclude are
// skipped so health probes do not flood the log.
func AccessLog(exclude ...string) func(http.Handler) http.Handler {
	excluded := make(map[string]struct{}, len(exclude))
	for _, path := range exclude {
		excluded[path] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, skip := excluded[r.URL.Path]; skip {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			logger := logging.FromContext(r.Context())
			logger.Debug().
				Str("method", r.Method).
				Int("status", sw.status).
				Int("bytes", sw.bytes).
				Dur("elapsed", time.Since(start)).
				Msg("request served")
		})
	}
}

// statusWriter captures the response status and size.
type statusWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (sw *statusWriter) WriteHeader(status int) {
	if !sw.written {
		sw.status = status
		sw.written = true
	}
	sw.ResponseWriter.WriteHeader(status)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.written {
		sw.written = true
	}
	n, err := sw.ResponseWriter.Write(b)
	sw.bytes += n
	return n, err
}
