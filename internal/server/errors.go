package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Error codes for structured API error responses
const (
	ErrCodeBadRequest        = "bad_request"
	ErrCodeNotFound          = "not_found"
	ErrCodeInternal          = "internal"
	ErrCodeUnauthorized      = "unauthorized"
	ErrCodeValidationFailed  = "validation_failed"
	ErrCodeInsufficientStock = "insufficient_stock"
	ErrCodeSessionClosed     = "session_closed"
	ErrCodeMissingToken      = "missing_idempotency_key"
	ErrCodeUnavailable       = "unavailable"
)

// APIError represents a structured error returned by the API
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps an APIError for JSON serialization
type ErrorResponse struct {
	Error APIError `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error: APIError{Code: code, Message: message},
	}); err != nil {
		slog.Error("write error response", "err", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("write json response", "err", err)
	}
}
