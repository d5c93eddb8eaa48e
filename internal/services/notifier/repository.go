package notifier

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/cornjacket/quote-service/internal/shared/domain/events"
)

// ProcessedEventStore records handled event ids so redeliveries are skipped.
type ProcessedEventStore interface {
	// Claim returns false when the event was already handled.
	Claim(ctx context.Context, event *events.Envelope) (bool, error)
	// Forget drops a claim after a failed handler so the event can be retried.
	Forget(ctx context.Context, eventID uuid.UUID) error
}

// EventHandler processes a single quote event.
type EventHandler interface {
	Handle(ctx context.Context, event *events.Envelope) error
}

// Notification is a message addressed to the customer of a quote.
type Notification struct {
	QuoteID     uuid.UUID
	QuoteNumber string
	Email       string
	Subject     string
	Body        string
}

// Sender delivers customer notifications.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}
