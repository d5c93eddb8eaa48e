// Package remote classifies failures of calls to the catalog, configuration and
// pricing services and provides the JSON-over-HTTP caller the clients share.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Outcome is the three-way result of a remote call.
type Outcome int

const (
	Success Outcome = iota
	// Transient failures (timeouts, unavailability) are worth retrying.
	Transient
	// Permanent failures (rejections, unknown entities, bad input) are not.
	Permanent
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error is a classified remote failure.
type Error struct {
	Service    string
	Outcome    Outcome
	StatusCode int    // 0 when no response was received
	Reason     string // machine-readable code from the remote, if any
	Message    string
	Body       []byte // raw response body for non-2xx replies
	Err        error
}

func (e *Error) Error() string {
	return e.Service + ": " + e.Detail()
}

// Detail is the error text without the service name.
func (e *Error) Detail() string {
	msg := fmt.Sprintf("%s failure", e.Outcome)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewTransient wraps err as a retryable failure of service.
func NewTransient(service string, err error) *Error {
	return &Error{Service: service, Outcome: Transient, Err: err}
}

// NewPermanent builds a non-retryable failure of service.
func NewPermanent(service, reason, message string) *Error {
	return &Error{Service: service, Outcome: Permanent, Reason: reason, Message: message}
}

// Classify reports how err should be handled. Errors that carry no
// classification are treated as permanent unless they are timeouts or
// network errors.
func Classify(err error) Outcome {
	if err == nil {
		return Success
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Outcome
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient
	}
	return Permanent
}

// ClassifyStatus maps an HTTP status code to an Outcome.
func ClassifyStatus(code int) Outcome {
	switch {
	case code >= 200 && code < 300:
		return Success
	case code == http.StatusRequestTimeout,
		code == http.StatusTooEarly,
		code == http.StatusTooManyRequests,
		code >= 500:
		return Transient
	default:
		return Permanent
	}
}
