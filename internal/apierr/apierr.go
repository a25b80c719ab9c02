// Package apierr defines the gateway's error taxonomy and the mapping from
// errors to HTTP status codes and caller-visible messages.
package apierr

import (
	"encoding/json"
	"errors"
	"net/http"
)

// StatusGatewayFailure is the non-standard status returned for every failure
// that is not an authentication, authorization or throttling error.
const StatusGatewayFailure = 469

// InternalMessage replaces the detail of any error that must not leak.
const InternalMessage = "Internal server error"

var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidAPIKey     = errors.New("invalid api key")
	ErrBanned            = errors.New("account banned")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrRateLimited       = errors.New("rate limited")
	ErrModelRestricted   = errors.New("model restricted")
	ErrNoProvider        = errors.New("no suitable provider")
	ErrUpstream          = errors.New("upstream provider failed")
	ErrRouteNotFound     = errors.New("route not found")
	ErrMethodNotAllowed  = errors.New("method not allowed")
)

// Error carries the caller-facing message for a classified failure.
type Error struct {
	Kind    error
	Message string
	Err     error
}

// New returns a classified error with the given caller-facing message.
func New(kind error, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies err under kind.
func Wrap(kind error, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Status maps err to the HTTP status the gateway answers with.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrMissingCredential), errors.Is(err, ErrInvalidAPIKey):
		return http.StatusUnauthorized
	case errors.Is(err, ErrBanned), errors.Is(err, ErrModelRestricted):
		return http.StatusForbidden
	case errors.Is(err, ErrQuotaExceeded), errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrRouteNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed
	default:
		return StatusGatewayFailure
	}
}

// Public returns the message safe to show the caller. Details of anything
// answered with StatusGatewayFailure are replaced by InternalMessage.
func Public(err error) string {
	if Status(err) == StatusGatewayFailure {
		return InternalMessage
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// CallerFacing reports whether err is surfaced to the caller verbatim.
func CallerFacing(err error) bool {
	return Status(err) != StatusGatewayFailure
}

type envelope struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// Write answers the request with the error envelope for err.
func Write(w http.ResponseWriter, err error) {
	WriteStatus(w, Status(err), Public(err))
}

// WriteStatus answers the request with the error envelope.
func WriteStatus(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Error: true, Message: message})
}
