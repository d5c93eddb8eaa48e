package quote

import (
	"fmt"

	"github.com/cornjacket/quote-service/internal/shared/apperr"
)

// Status is a quote lifecycle state.
type Status string

const (
	StatusDraft      Status = "DRAFT"
	StatusValidating Status = "VALIDATING"
	StatusValidated  Status = "VALIDATED"
	StatusPricing    Status = "PRICING"
	StatusPriced     Status = "PRICED"
	StatusConfirmed  Status = "CONFIRMED"
	StatusFailed     Status = "FAILED"
	StatusExpired    Status = "EXPIRED"
	StatusCancelled  Status = "CANCELLED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusDraft, StatusValidating, StatusValidated, StatusPricing, StatusPriced,
	StatusConfirmed, StatusFailed, StatusExpired, StatusCancelled,
}

// InFlightStatuses are the states the background driver still has work for.
var InFlightStatuses = []Status{StatusDraft, StatusValidating, StatusValidated, StatusPricing}

var transitions = map[Status][]Status{
	StatusDraft:      {StatusValidating, StatusCancelled},
	StatusValidating: {StatusValidated, StatusFailed, StatusCancelled},
	StatusValidated:  {StatusPricing, StatusCancelled},
	StatusPricing:    {StatusPriced, StatusFailed, StatusCancelled},
	StatusPriced:     {StatusConfirmed, StatusExpired, StatusCancelled},
}

// ParseStatus converts a string into a known Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", apperr.Validation(fmt.Sprintf("unknown status %q", s))
	}
	return st, nil
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusConfirmed, StatusFailed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
