// Package quote holds the quote aggregate and its lifecycle rules.
package quote

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"

	"github.com/cornjacket/quote-service/internal/shared/apperr"
)

// ErrStaleVersion is returned by stores when a conditional write finds a newer version.
var ErrStaleVersion = errors.New("quote: stale version")

// Customer tiers accepted by pricing.
const (
	TierStandard   = "STANDARD"
	TierPartner    = "PARTNER"
	TierEnterprise = "ENTERPRISE"
)

// LineItem is one configured product.
type LineItem struct {
	SKU        string         `json:"sku"`
	Quantity   int            `json:"quantity"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Customer identifies who the quote is for. All fields are optional.
type Customer struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Tier  string `json:"tier,omitempty"`
}

// PricingOptions are forwarded verbatim to the pricing service.
type PricingOptions struct {
	IncludeSupport bool   `json:"includeSupport"`
	SupportTier    string `json:"supportTier,omitempty"`
}

// ValidationResult is the configuration service verdict.
type ValidationResult struct {
	OK         bool     `json:"ok"`
	Violations []string `json:"violations"`
}

// PriceLine is one breakdown row of a price.
type PriceLine struct {
	SKU       string          `json:"sku"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
}

// PriceQuote is the pricing service result.
type PriceQuote struct {
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Breakdown []PriceLine     `json:"breakdown"`
}

// Quote is the aggregate persisted in the quotes table.
type Quote struct {
	ID               uuid.UUID         `json:"id"`
	Number           string            `json:"quoteNumber"`
	Status           Status            `json:"status"`
	Configuration    []LineItem        `json:"configuration"`
	Customer         Customer          `json:"customer"`
	Options          PricingOptions    `json:"pricingOptions"`
	ValidationResult *ValidationResult `json:"validationResult,omitempty"`
	PriceQuote       *PriceQuote       `json:"priceQuote,omitempty"`
	FailureReason    string            `json:"failureReason,omitempty"`
	Version          int64             `json:"version"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
	ExpiresAt        time.Time         `json:"expiresAt"`
}

// New builds a DRAFT quote at version 1. The number is assigned by the store.
func New(items []LineItem, customer Customer, options PricingOptions, now time.Time, ttl time.Duration) (*Quote, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate quote id: %w", err)
	}
	now = now.Truncate(time.Microsecond)
	return &Quote{
		ID:            id,
		Status:        StatusDraft,
		Configuration: items,
		Customer:      customer,
		Options:       options,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}, nil
}

// Transition moves the quote to status to, enforcing the lifecycle table.
// Leaving PRICED for anything but CONFIRMED drops the price.
func (q *Quote) Transition(to Status, now time.Time) error {
	if !CanTransition(q.Status, to) {
		return apperr.InvalidTransition(fmt.Sprintf("cannot move quote from %s to %s", q.Status, to))
	}
	if q.Status == StatusPriced && to != StatusConfirmed {
		q.PriceQuote = nil
	}
	q.Status = to
	q.UpdatedAt = now.Truncate(time.Microsecond)
	return nil
}

// MarkValidated records a passing validation and moves VALIDATING -> VALIDATED.
func (q *Quote) MarkValidated(result ValidationResult, now time.Time) error {
	if !result.OK {
		return apperr.Validation("validation result is not ok")
	}
	if err := q.Transition(StatusValidated, now); err != nil {
		return err
	}
	q.ValidationResult = &result
	return nil
}

// MarkPriced records the price and moves PRICING -> PRICED.
func (q *Quote) MarkPriced(price PriceQuote, now time.Time) error {
	if err := q.Transition(StatusPriced, now); err != nil {
		return err
	}
	q.PriceQuote = &price
	return nil
}

// MarkFailed moves the quote to FAILED with the given reason.
func (q *Quote) MarkFailed(reason string, now time.Time) error {
	if err := q.Transition(StatusFailed, now); err != nil {
		return err
	}
	q.FailureReason = reason
	return nil
}

// IsExpired reports whether a PRICED quote is past its validity window.
func (q *Quote) IsExpired(now time.Time) bool {
	return q.Status == StatusPriced && !now.Before(q.ExpiresAt)
}

// CheckInvariants verifies the status-dependent fields.
func (q *Quote) CheckInvariants() error {
	priced := q.Status == StatusPriced || q.Status == StatusConfirmed
	if priced != (q.PriceQuote != nil) {
		return fmt.Errorf("quote %s: price present=%t in status %s", q.ID, q.PriceQuote != nil, q.Status)
	}
	switch q.Status {
	case StatusValidated, StatusPricing, StatusPriced, StatusConfirmed:
		if q.ValidationResult == nil || !q.ValidationResult.OK {
			return fmt.Errorf("quote %s: status %s without passing validation", q.ID, q.Status)
		}
	}
	if q.Status == StatusFailed && q.FailureReason == "" {
		return fmt.Errorf("quote %s: failed without reason", q.ID)
	}
	return nil
}

// Clone returns a deep copy, so a mutation attempt never leaks into a cached read.
func (q *Quote) Clone() *Quote {
	c := *q
	c.Configuration = make([]LineItem, len(q.Configuration))
	for i, item := range q.Configuration {
		c.Configuration[i] = item
		if item.Attributes != nil {
			attrs := make(map[string]any, len(item.Attributes))
			for k, v := range item.Attributes {
				attrs[k] = v
			}
			c.Configuration[i].Attributes = attrs
		}
	}
	if q.ValidationResult != nil {
		v := *q.ValidationResult
		v.Violations = append([]string(nil), q.ValidationResult.Violations...)
		c.ValidationResult = &v
	}
	if q.PriceQuote != nil {
		p := *q.PriceQuote
		p.Breakdown = append([]PriceLine(nil), q.PriceQuote.Breakdown...)
		c.PriceQuote = &p
	}
	return &c
}

// FormatNumber renders the human-readable quote number, QT-YYYYMMDD-NNNNN.
func FormatNumber(created time.Time, seq int64) string {
	return fmt.Sprintf("QT-%s-%05d", created.UTC().Format("20060102"), seq)
}

var numberPattern = regexp.MustCompile(`^QT-\d{8}-\d{5,}$`)

// ValidNumber reports whether s has the shape FormatNumber produces.
func ValidNumber(s string) bool {
	return numberPattern.MatchString(s)
}

// ListFilter narrows quote listings.
type ListFilter struct {
	Status     Status
	CustomerID string
	Limit      int
	Offset     int
}
