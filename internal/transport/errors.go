package transport

import (
	"errors"
	"fmt"
	"net/http"
)

// Error classes. Every failure returned by Client wraps exactly one of these.
var (
	// ErrUnauthenticated means there is no valid session (401 or no token).
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrNotApplicable means the endpoint does not apply to the caller's role (403).
	ErrNotApplicable = errors.New("not applicable for this role")
	// ErrTransient covers 5xx, timeouts and network failures.
	ErrTransient = errors.New("transient server or network error")
	// ErrRejected covers other 4xx responses and envelopes with success=false.
	ErrRejected = errors.New("request rejected")
	// ErrMalformed means the response body could not be decoded.
	ErrMalformed = errors.New("malformed response")
)

// Error describes a failed marketplace API call.
type Error struct {
	Method  string
	Path    string
	Status  int    // 0 when no response was received
	Message string // server-provided message, if any
	Kind    error
	Err     error // underlying cause, if any
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the class and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// classify maps an HTTP status onto an error class. 2xx returns nil.
func classify(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return ErrUnauthenticated
	case status == http.StatusForbidden:
		return ErrNotApplicable
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return ErrTransient
	default:
		return ErrRejected
	}
}

// Class returns a short label for metrics and logs.
func Class(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrNotApplicable):
		return "not_applicable"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	default:
		return "error"
	}
}
