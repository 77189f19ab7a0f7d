// Package api holds shared HTTP plumbing for the trust services: error
// responses, idempotent replay, and rate limiting.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// ErrorDetail is the error body every sidecar endpoint returns.
type ErrorDetail struct {
	Detail string `json:"detail"`
}

// Error implements the error interface.
func (e *ErrorDetail) Error() string {
	return e.Detail
}

// WriteJSON writes a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteDetail writes an error response in the sidecar's detail format.
func WriteDetail(w http.ResponseWriter, status int, detail string) {
	WriteJSON(w, status, &ErrorDetail{Detail: detail})
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteDetail(w, http.StatusBadRequest, detail)
}

// WriteUnauthorized writes a 401 error response with a bearer challenge.
func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Not authenticated"
	}
	w.Header().Set("WWW-Authenticate", "Bearer")
	WriteDetail(w, http.StatusUnauthorized, detail)
}

// WriteForbidden writes a 403 error response.
func WriteForbidden(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Insufficient scope"
	}
	WriteDetail(w, http.StatusForbidden, detail)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, detail string) {
	WriteDetail(w, http.StatusNotFound, detail)
}

// WriteMethodNotAllowed writes a 405 error response.
func WriteMethodNotAllowed(w http.ResponseWriter) {
	WriteDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
}

// WriteConflict writes a 409 error response.
func WriteConflict(w http.ResponseWriter, detail string) {
	WriteDetail(w, http.StatusConflict, detail)
}

// WriteUnprocessable writes a 422 error response.
func WriteUnprocessable(w http.ResponseWriter, detail string) {
	WriteDetail(w, http.StatusUnprocessableEntity, detail)
}

// WriteTooManyRequests writes a 429 error response with a Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteDetail(w, http.StatusTooManyRequests, "Rate limit exceeded")
}

// WriteInternal writes a 500 error response.
// The err parameter is logged but never exposed to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteDetail(w, http.StatusInternalServerError, "Internal server error")
}
