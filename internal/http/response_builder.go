package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"ninja/internal/core"
	"ninja/internal/log"
	"ninja/internal/period"
	"ninja/internal/receipts"
	"ninja/internal/services"
	"ninja/internal/storage"
)

// errBadRequest marks malformed input that no domain sentinel covers.
var errBadRequest = errors.New("bad request")

// APIError is the body of every error response.
type APIError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var validationErrors = []error{
	core.ErrInvalidAmount,
	core.ErrInvalidType,
	core.ErrInvalidApp,
	core.ErrInvalidCategory,
	core.ErrInvalidTimeframe,
	core.ErrInvalidDistance,
	core.ErrInvalidDuration,
	core.ErrMissingTimestamp,
	core.ErrNoteTooLong,
	core.ErrInvalidRate,
}

// errorStatus maps an error to its HTTP status and machine readable code.
func errorStatus(err error) (int, string) {
	var dateErr *period.InvalidDateError
	var tooBig *http.MaxBytesError

	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.As(err, &dateErr):
		return http.StatusBadRequest, "invalid_date"
	case errors.Is(err, storage.ErrInvalidCursor):
		return http.StatusBadRequest, "invalid_cursor"
	case errors.Is(err, receipts.ErrTooLarge), errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge, "receipt_too_large"
	case errors.Is(err, receipts.ErrUnsupportedType),
		errors.Is(err, receipts.ErrEmpty),
		errors.Is(err, receipts.ErrInvalidName):
		return http.StatusBadRequest, "invalid_receipt"
	case errors.Is(err, services.ErrReceiptsDisabled):
		return http.StatusServiceUnavailable, "receipts_disabled"
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}
	for _, v := range validationErrors {
		if errors.Is(err, v) {
			return http.StatusBadRequest, "validation_error"
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeServiceError logs err and writes the mapped JSON error. Internal
// failures never leak their message to the client.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	status, code := errorStatus(err)
	msg := err.Error()

	logger := log.FromContext(ctx)
	if status >= 500 {
		log.NewStructuredLogger(logger).LogError(ctx, "Request failed", err, logger.Component(), r.Method,
			log.NewFields().WithUser(userFrom(ctx)).WithErrorType(log.ErrorTypeInternal))
		if status == http.StatusInternalServerError {
			msg = "internal server error"
		}
	} else {
		logger.DebugContext(ctx, "Request rejected",
			log.FieldError, err.Error(),
			log.FieldErrorType, code)
	}
	writeError(w, r, status, code, msg)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, APIError{Error: msg, Code: code})
}

func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := encodeJSON(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error","code":"internal_error"}`))
		return
	}
	writeJSONBytes(w, status, body)
}

func writeJSONBytes(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
