// Package api writes the plain-text wire responses the auth endpoints use.
// Unlike a typical JSON envelope, each response body here is the single
// value the spec's wire format names (a status string, a token, a base64
// blob) with no wrapper object — grounded on the shape of
// original_source/server/central/src/web/routes/auth.rs's context.write
// calls, adapted from the teacher's internal/api/response.go envelope
// helpers to bare text/plain bodies.
package api

import (
	"log"
	"net/http"
)

// Plain writes status and body verbatim as a text/plain response. body is
// the complete wire payload — no trailing newline is added.
func Plain(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(body)); err != nil {
		log.Printf("api: failed to write response body: %v", err)
	}
}

// OK writes a 200 with body.
func OK(w http.ResponseWriter, body string) {
	Plain(w, http.StatusOK, body)
}

// BadRequest writes a 400 with message as the body.
func BadRequest(w http.ResponseWriter, message string) {
	Plain(w, http.StatusBadRequest, message)
}

// Unauthorized writes a 401 with message as the body.
func Unauthorized(w http.ResponseWriter, message string) {
	Plain(w, http.StatusUnauthorized, message)
}

// Forbidden writes a 403 with message as the body.
func Forbidden(w http.ResponseWriter, message string) {
	Plain(w, http.StatusForbidden, message)
}

// TooManyRequests writes a 429 with message as the body.
func TooManyRequests(w http.ResponseWriter, message string) {
	Plain(w, http.StatusTooManyRequests, message)
}

// InternalError logs err and writes a generic 500, never leaking err's
// text to the client.
func InternalError(w http.ResponseWriter, err error) {
	if err != nil {
		log.Printf("api: internal error: %v", err)
	}
	Plain(w, http.StatusInternalServerError, "internal server error")
}

// ServiceUnavailable writes a 503 with message as the body, used for the
// maintenance-mode gate.
func ServiceUnavailable(w http.ResponseWriter, message string) {
	Plain(w, http.StatusServiceUnavailable, message)
}
