package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/bookforge/bookforge/pkg/job"
	"github.com/bookforge/bookforge/pkg/store"
)

// ErrorResponse is the JSON error body. Error carries a stable
// machine-readable kind; Message is for humans.
//
// Example:
//
//	{"error": "not_found", "message": "job not found: 4f1c..."}
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// WriteError maps a domain error onto an HTTP status and writes the
// standard JSON error body.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	var kind string

	switch {
	case job.IsValidation(err):
		status, kind = http.StatusBadRequest, "validation_error"
	case job.IsNotFound(err) || store.IsNotFound(err):
		status, kind = http.StatusNotFound, "not_found"
	case job.IsInvalidTransition(err):
		status, kind = http.StatusConflict, "invalid_transition"
	case job.IsConflict(err):
		status, kind = http.StatusConflict, "conflict"
	case job.IsShuttingDown(err):
		status, kind = http.StatusServiceUnavailable, "shutting_down"
	default:
		status, kind = http.StatusInternalServerError, "internal_error"
	}

	logEvent := log.Error()
	if status < http.StatusInternalServerError {
		logEvent = log.Warn()
	}
	logEvent.
		Str("component", "api").
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Err(err).
		Msg("Request failed")

	resp := ErrorResponse{Error: kind, Message: err.Error()}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
		resp.RetryAfter = 1
	}
	WriteJSON(w, status, resp)
}

// WriteJSONError writes a custom error body with a specific status code.
func WriteJSONError(w http.ResponseWriter, status int, kind, message string) {
	WriteJSON(w, status, ErrorResponse{Error: kind, Message: message})
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().
			Str("component", "api").
			Err(err).
			Msg("Failed to encode JSON response")
	}
}
