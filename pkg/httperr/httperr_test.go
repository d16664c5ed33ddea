package httperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestWriteHTTPError(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/widgets/9", nil)

	Write(rr, req, NotFound("widget 9 not found"))

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	body := decodeEnvelope(t, rr)
	assert.Equal(t, []any{"widget 9 not found"}, body["errors"])
}

func TestWriteWrappedHTTPError(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	wrapped := fmt.Errorf("lookup failed: %w", Forbidden("token scope missing"))
	Write(rr, req, wrapped)

	assert.Equal(t, http.StatusForbidden, rr.Code)
	body := decodeEnvelope(t, rr)
	assert.Equal(t, []any{"token scope missing"}, body["errors"])
}

func TestWriteValidationError(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", nil)

	ve := (&ValidationError{}).
		Invalid("name", "must not be empty").
		Invalid("age", "must be positive")
	Write(rr, req, ve)

	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	body := decodeEnvelope(t, rr)
	errs, ok := body["errors"].([]any)
	require.True(t, ok)
	require.Len(t, errs, 2)
	first, ok := errs[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "name", first["field"])
	assert.Equal(t, "must not be empty", first["reason"])
}

func TestWriteOpaqueInternalError(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	Write(rr, req, errors.New("pq: connection reset by peer"))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	body := decodeEnvelope(t, rr)
	assert.Equal(t, []any{"Internal Server Error"}, body["errors"])
	assert.NotContains(t, rr.Body.String(), "pq:")
}

func TestHandlerAdapter(t *testing.T) {
	h := Handler(func(w http.ResponseWriter, r *http.Request) error {
		if r.URL.Query().Get("fail") == "1" {
			return BadRequest("bad flag")
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/?fail=1", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}

	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{name: "empty body", body: "", wantField: "body"},
		{name: "malformed", body: "{", wantField: "body"},
		{name: "wrong type", body: `{"name": "x", "age": "old"}`, wantField: "age"},
		{name: "unknown field", body: `{"name": "x", "extra": true}`, wantField: "extra"},
		{name: "trailing garbage", body: `{"name": "x"} {"again": 1}`, wantField: "body"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			var p payload
			err := DecodeJSON(req, &p)
			require.Error(t, err)

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			require.NotEmpty(t, ve.Fields)
			assert.Equal(t, tc.wantField, ve.Fields[0].Field)
		})
	}

	t.Run("valid", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name": "x", "age": 3}`))
		var p payload
		require.NoError(t, DecodeJSON(req, &p))
		assert.Equal(t, payload{Name: "x", Age: 3}, p)
	})
}
