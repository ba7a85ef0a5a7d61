package ampeco

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned when a command argument is rejected before
	// any request is sent.
	ErrValidation = errors.New("validation failed")
	// ErrAuth is returned when the backend rejects the bearer token.
	ErrAuth = errors.New("authentication rejected")
	// ErrNotFound is returned when the charge point is unknown to the backend.
	ErrNotFound = errors.New("not found")
	// ErrTransient covers timeouts, connection failures, rate limiting and 5xx.
	ErrTransient = errors.New("transient failure")
	// ErrProtocol is returned when a response does not have the expected shape.
	ErrProtocol = errors.New("unexpected response")

	ErrNoActiveSession = errors.New("no active charging session")
)

type ErrorResponse struct {
	Message string `json:"message"`
}

// Error is the error type returned by every Client operation. Match it with
// errors.Is against one of the sentinel kinds above.
type Error struct {
	Kind       error
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op string, status int, err error) *Error {
	return &Error{Kind: kind, Op: op, StatusCode: status, Err: err}
}

// IsRetryable reports whether a failed poll should simply be retried on the
// next tick.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrProtocol)
}
