package httperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// DecodeJSON reads the request body into v, converting decode failures into
// a *ValidationError so malformed payloads render as 422 instead of 500.
// Unknown fields are rejected.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		ve := &ValidationError{}

		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.Is(err, io.EOF):
			return ve.Invalid("body", "request body is empty")
		case errors.As(err, &syntaxErr):
			return ve.Invalid("body", fmt.Sprintf("malformed JSON at offset %d", syntaxErr.Offset))
		case errors.As(err, &typeErr):
			return ve.Invalid(typeErr.Field, fmt.Sprintf("expected %s", typeErr.Type))
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
			return ve.Invalid(field, "unknown field")
		default:
			return ve.Invalid("body", err.Error())
		}
	}

	// Reject trailing garbage after the first JSON document.
	if dec.More() {
		return (&ValidationError{}).Invalid("body", "unexpected data after JSON document")
	}
	return nil
}
