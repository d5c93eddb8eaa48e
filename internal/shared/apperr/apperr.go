// Package apperr provides the typed errors returned by the quote service.
// The HTTP layer maps them to status codes via HTTPStatus.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind represents the category of error.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNotFound indicates the quote does not exist.
	KindNotFound
	// KindValidation indicates malformed input.
	KindValidation
	// KindConflict indicates the caller's expected version is stale, or a
	// duplicate request is still in flight.
	KindConflict
	// KindInvalidTransition indicates the state machine does not permit the move.
	KindInvalidTransition
	// KindConcurrentModification indicates the bounded transition retry ran out.
	KindConcurrentModification
	// KindUnavailable indicates one of our own dependencies is down.
	KindUnavailable
	// KindInternal indicates an unexpected internal error.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindValidation:
		return "Validation"
	case KindConflict:
		return "Conflict"
	case KindInvalidTransition:
		return "InvalidTransition"
	case KindConcurrentModification:
		return "ConcurrentModification"
	case KindUnavailable:
		return "Unavailable"
	case KindInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error is a domain error with a typed Kind for HTTP mapping.
type Error struct {
	Kind    Kind
	Message string
	Err     error // Underlying error (optional)
	Details any   // Additional details for response (optional)
	// Status overrides the kind's default HTTP status when non-zero.
	Status int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code for this error kind.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict, KindConcurrentModification:
		return http.StatusConflict
	case KindInvalidTransition:
		return http.StatusUnprocessableEntity
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WithStatus pins the HTTP status regardless of kind.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// WithDetails attaches response details and returns the error.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func wrapError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func NotFound(message string) *Error {
	return newError(KindNotFound, message)
}

func Validation(message string) *Error {
	return newError(KindValidation, message)
}

func Conflict(message string) *Error {
	return newError(KindConflict, message)
}

func InvalidTransition(message string) *Error {
	return newError(KindInvalidTransition, message)
}

func ConcurrentModification(message string) *Error {
	return newError(KindConcurrentModification, message)
}

func Unavailable(message string, err error) *Error {
	return wrapError(KindUnavailable, message, err)
}

func Internal(message string, err error) *Error {
	return wrapError(KindInternal, message, err)
}

// GetKind extracts the error kind from anywhere in the chain.
// Returns KindUnknown if no *Error is present.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return GetKind(err) == kind
}
