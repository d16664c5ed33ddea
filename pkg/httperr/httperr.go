// Package httperr renders errors as JSON envelopes of the form
// {"errors": [...]} and provides sugar for handlers that return errors.
package httperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/abaveja313/httpsugar/pkg/logging"
)

// Error is an HTTP-mapped error with a status code and a client-safe detail.
type Error struct {
	Status int    `json:"-"`
	Detail string `json:"detail"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Detail)
}

// New builds an Error with an arbitrary status code.
func New(status int, detail string) *Error {
	return &Error{Status: status, Detail: detail}
}

// Newf is New with formatting.
func Newf(status int, format string, args ...any) *Error {
	return &Error{Status: status, Detail: fmt.Sprintf(format, args...)}
}

// BadRequest returns a 400 error.
func BadRequest(detail string) *Error { return New(http.StatusBadRequest, detail) }

// Unauthorized returns a 401 error.
func Unauthorized(detail string) *Error { return New(http.StatusUnauthorized, detail) }

// Forbidden returns a 403 error.
func Forbidden(detail string) *Error { return New(http.StatusForbidden, detail) }

// NotFound returns a 404 error.
func NotFound(detail string) *Error { return New(http.StatusNotFound, detail) }

// Conflict returns a 409 error.
func Conflict(detail string) *Error { return New(http.StatusConflict, detail) }

// TooManyRequests returns a 429 error.
func TooManyRequests(detail string) *Error { return New(http.StatusTooManyRequests, detail) }

// Internal returns a 500 error.
func Internal(detail string) *Error { return New(http.StatusInternalServerError, detail) }

// FieldError describes a single invalid field in a request payload.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError aggregates field errors and renders with status 422.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %d invalid field(s)", len(e.Fields))
}

// Invalid appends a field error and returns the receiver for chaining.
func (e *ValidationError) Invalid(field, reason string) *ValidationError {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason})
	return e
}

// Empty reports whether no field errors were recorded.
func (e *ValidationError) Empty() bool { return len(e.Fields) == 0 }

type envelope struct {
	Errors []any `json:"errors"`
}

// Write renders err to w as a JSON envelope. *Error uses its own status,
// *ValidationError renders 422 with per-field entries, and any other error
// becomes an opaque 500 whose detail is logged but not leaked.
func Write(w http.ResponseWriter, r *http.Request, err error) {
	var (
		status  int
		payload envelope
	)

	var httpErr *Error
	var validationErr *ValidationError
	switch {
	case errors.As(err, &httpErr):
		status = httpErr.Status
		payload.Errors = []any{httpErr.Detail}
	case errors.As(err, &validationErr):
		status = http.StatusUnprocessableEntity
		payload.Errors = make([]any, 0, len(validationErr.Fields))
		for _, fe := range validationErr.Fields {
			payload.Errors = append(payload.Errors, fe)
		}
	default:
		status = http.StatusInternalServerError
		payload.Errors = []any{http.StatusText(http.StatusInternalServerError)}
		logger := logging.FromContext(r.Context())
		logger.Error().Err(err).Msg("unhandled error")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(payload); encErr != nil {
		logger := logging.FromContext(r.Context())
		logger.Error().Err(encErr).Msg("encode error envelope")
	}
}

// Handler adapts a handler that returns an error into an http.HandlerFunc.
// A nil return means the handler already wrote its response.
func Handler(fn func(w http.ResponseWriter, r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			Write(w, r, err)
		}
	}
}
