package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/webthing-core/internal/journal"
	"github.com/nerrad567/webthing-core/internal/thing"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeForbidden   = "forbidden"
	ErrCodeConflict    = "conflict"
	ErrCodeInternal    = "internal_error"
	ErrCodeValidation  = "validation_error"
	ErrCodeUnavailable = "unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// statusFor maps domain errors onto an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, thing.ErrThingNotFound),
		errors.Is(err, thing.ErrPropertyNotFound),
		errors.Is(err, thing.ErrActionNotSupported),
		errors.Is(err, thing.ErrNotFound),
		errors.Is(err, journal.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, thing.ErrReadOnly):
		return http.StatusForbidden, ErrCodeForbidden
	case errors.Is(err, thing.ErrConstraint),
		errors.Is(err, thing.ErrActionInputInvalid),
		errors.Is(err, thing.ErrHookRejected):
		return http.StatusBadRequest, ErrCodeValidation
	case errors.Is(err, thing.ErrAlreadyTerminal):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, thing.ErrExecutorBusy),
		errors.Is(err, thing.ErrExecutorStopped):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// writeDomainError writes err with the status statusFor assigns it.
// Internal errors are logged and reported without detail.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeInternalError(w, "internal server error")
		return
	}
	writeError(w, status, code, err.Error())
}
