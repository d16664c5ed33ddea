package lifecycle

import (
	"context"
	"net/http"
)

type ctxKey struct{}

// ContextWithManager stores the manager in the context.
func ContextWithManager(ctx context.Context, m *Manager) context.Context {
	return context.WithValue(ctx, ctxKey{}, m)
}

// FromContext returns the manager stored in the context, or nil.
func FromContext(ctx context.Context) *Manager {
	if ctx == nil {
		return nil
	}
	m, _ := ctx.Value(ctxKey{}).(*Manager)
	return m
}

// Middleware injects the manager into every request context so handlers can
// pull shared objects without package-level globals.
func (m *Manager) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(ContextWithManager(r.Context(), m)))
		})
	}
}
