package transport

import (
	"encoding/json"
	"net/http"
)

// Error types used in JSON error bodies.
const (
	ErrorTypeUnauthorized    = "unauthorized"
	ErrorTypeNotFound        = "not_found"
	ErrorTypeTooManyRequests = "too_many_requests"
	ErrorTypeServerError     = "server_error"
)

// APIError is the body of an error response.
type APIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorResponse wraps an APIError under the "error" key.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// ErrorTypeForStatus maps an HTTP status code to an error type.
func ErrorTypeForStatus(status int) string {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrorTypeUnauthorized
	case http.StatusNotFound:
		return ErrorTypeNotFound
	case http.StatusTooManyRequests:
		return ErrorTypeTooManyRequests
	default:
		return ErrorTypeServerError
	}
}

// WriteError writes a JSON error response. It sets the Content-Type header
// and writes the HTTP status code.
func WriteError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: &APIError{
		Type:    ErrorTypeForStatus(status),
		Message: message,
	}})
}
