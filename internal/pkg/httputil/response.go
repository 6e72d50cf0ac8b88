// Package httputil provides HTTP response envelopes, error mapping and
// middleware shared by the API handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// Envelope wraps successful responses as {"data": ...}.
type Envelope[T any] struct {
	Data T `json:"data"`
}

// ErrorBody is the {"error": {...}} envelope of failed responses.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failure. Details is a []FieldError for
// validation failures and a string otherwise.
type ErrorDetail struct {
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// FieldError names a request field that failed validation and the rule it
// broke.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// JSON writes data as the raw response body.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err, "status", status)
	}
}

// Text writes a plain text response.
func Text(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(text)); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

// Success writes data inside an Envelope.
func Success[T any](w http.ResponseWriter, status int, data T) {
	JSON(w, status, Envelope[T]{Data: data})
}

// NoContent writes an empty 204 response.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Error writes an ErrorBody with message.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorBody{Error: ErrorDetail{Message: message}})
}

// ValidationError writes a 400 "validation error" response. Failures from
// the validator are listed per field; other errors become the details
// string.
func ValidationError(w http.ResponseWriter, err error) {
	detail := ErrorDetail{Message: "validation error"}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		fields := make([]FieldError, 0, len(fieldErrs))
		for _, e := range fieldErrs {
			fields = append(fields, FieldError{Field: e.Field(), Message: e.Tag()})
		}
		detail.Details = fields
	} else {
		detail.Details = err.Error()
	}

	JSON(w, http.StatusBadRequest, ErrorBody{Error: detail})
}
