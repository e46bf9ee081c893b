// Package middleware holds the HTTP middleware that guards the admin API:
// security headers, abuse screening, bearer authentication and rate limiting.
package middleware

import (
	"encoding/json"
	"net/http"
)

// Generic messages. Specific reasons go to the security event log only.
const (
	MsgAuthRequired   = "Authentication required"
	MsgInvalidToken   = "Invalid or expired token"
	MsgAccessDenied   = "Access denied"
	MsgAuthError      = "Authentication error"
	MsgTooManyRequest = "Too many requests"
)

// ErrorBody is the envelope of every error response.
type ErrorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// WriteJSON writes v as JSON with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes {"success":false,"error":msg}.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorBody{Success: false, Error: msg})
}
