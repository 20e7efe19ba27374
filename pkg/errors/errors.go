// Package errors defines the sentinel errors shared by the pipeline stages
// and the gateway, and maps them to HTTP statuses.
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/resilience"
)

var (
	ErrMalformedEnvelope  = errors.New("malformed envelope")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrSessionGone        = errors.New("session no longer connected")
	ErrPublishFailed      = errors.New("publish failed")
	ErrInvalidInput       = errors.New("invalid input")
	ErrRateLimited        = errors.New("rate limit exceeded")
)

// HTTPStatusCode maps err to the status an HTTP handler should answer with.
func HTTPStatusCode(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrMalformedEnvelope):
		return http.StatusBadRequest
	case errors.Is(err, ErrSessionGone):
		return http.StatusGone
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case IsTransient(err), errors.Is(err, ErrPublishFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON answers with err's status and a {"error": msg} body.
func WriteJSON(w http.ResponseWriter, err error, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatusCode(err))
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// IsTransient reports whether err is a backend failure a stage should
// degrade on rather than treat as a bad message.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrBackendUnavailable),
		errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}
