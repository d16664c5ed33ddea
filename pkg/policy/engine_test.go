package policy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const authzModule = `package httpsugar.authz

default decision := {"allow": false, "reason": "no matching rule"}

decision := {"allow": true} if {
	input.method == "GET"
	startswith(input.path, "/public")
}

decision := {"allow": true} if {
	input.subject == "admin"
}
`

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(context.Background(), Options{
		Entrypoint: "httpsugar/authz/decision",
		Modules:    map[string]string{"authz.rego": authzModule},
	})
	require.NoError(t, err)
	return engine
}

func TestEngineEvaluate(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		input Input
		allow bool
	}{
		{name: "public path allowed", input: Input{Method: http.MethodGet, Path: "/public/docs"}, allow: true},
		{name: "admin subject allowed", input: Input{Method: http.MethodDelete, Path: "/admin", Subject: "admin"}, allow: true},
		{name: "anonymous write denied", input: Input{Method: http.MethodPost, Path: "/widgets"}, allow: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			decision, err := engine.Evaluate(ctx, tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.allow, decision.Allow)
			if !tc.allow {
				assert.Equal(t, "no matching rule", decision.Reason)
			}
		})
	}
}

func TestEngineBooleanDecision(t *testing.T) {
	engine, err := NewEngine(context.Background(), Options{
		Entrypoint: "httpsugar/authz/allow",
		Modules: map[string]string{"bool.rego": `package httpsugar.authz

default allow := false

allow if input.method == "GET"
`},
	})
	require.NoError(t, err)

	decision, err := engine.Evaluate(context.Background(), Input{Method: http.MethodGet, Path: "/"})
	require.NoError(t, err)
	assert.True(t, decision.Allow)

	decision, err = engine.Evaluate(context.Background(), Input{Method: http.MethodPost, Path: "/"})
	require.NoError(t, err)
	assert.False(t, decision.Allow)
}

func TestNewEngineRejectsBadModules(t *testing.T) {
	_, err := NewEngine(context.Background(), Options{Modules: map[string]string{}})
	require.Error(t, err)

	_, err = NewEngine(context.Background(), Options{
		Modules: map[string]string{"broken.rego": "package broken\n\nthis is not rego"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.rego")
}

func TestMiddlewareDeniesWithReason(t *testing.T) {
	engine := newTestEngine(t)

	handler := Middleware(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/public/docs", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/widgets", nil))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, []any{"no matching rule"}, body["errors"])

	req := httptest.NewRequest(http.MethodPost, "/widgets", nil)
	req.Header.Set(HeaderSubject, "admin")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	require.Error(t, store.Put(ctx, "", "x"))
	require.NoError(t, store.Put(ctx, "b.rego", "package b"))
	require.NoError(t, store.Put(ctx, "a.rego", "package a"))

	source, err := store.Get(ctx, "a.rego")
	require.NoError(t, err)
	assert.Equal(t, "package a", source)

	_, err = store.Get(ctx, "missing.rego")
	require.Error(t, err)

	assert.Equal(t, []string{"a.rego", "b.rego"}, store.Names(ctx))

	snapshot := store.Snapshot(ctx)
	assert.Len(t, snapshot, 2)

	store.Delete(ctx, "a.rego")
	assert.Equal(t, []string{"b.rego"}, store.Names(ctx))
}
