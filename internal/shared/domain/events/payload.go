package events

import (
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/cornjacket/quote-service/internal/shared/domain/quote"
)

// QuotePayload is the payload carried by every quote lifecycle event.
// It is a snapshot of the quote right after the transition.
type QuotePayload struct {
	QuoteID       uuid.UUID         `json:"quoteId"`
	QuoteNumber   string            `json:"quoteNumber"`
	Status        quote.Status      `json:"status"`
	Version       int64             `json:"version"`
	CustomerID    string            `json:"customerId,omitempty"`
	CustomerEmail string            `json:"customerEmail,omitempty"`
	PriceQuote    *quote.PriceQuote `json:"priceQuote,omitempty"`
	Violations    []string          `json:"violations,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	ExpiresAt     time.Time         `json:"expiresAt"`
}

// NewQuotePayload snapshots q. version is passed separately because the
// event is built before the store bumps q.Version.
func NewQuotePayload(q *quote.Quote, version int64) QuotePayload {
	p := QuotePayload{
		QuoteID:       q.ID,
		QuoteNumber:   q.Number,
		Status:        q.Status,
		Version:       version,
		CustomerID:    q.Customer.ID,
		CustomerEmail: q.Customer.Email,
		PriceQuote:    q.PriceQuote,
		Reason:        q.FailureReason,
		ExpiresAt:     q.ExpiresAt,
	}
	if q.ValidationResult != nil && !q.ValidationResult.OK {
		p.Violations = q.ValidationResult.Violations
	}
	return p
}
