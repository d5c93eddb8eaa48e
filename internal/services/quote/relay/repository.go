package relay

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/cornjacket/quote-service/internal/shared/domain/events"
)

// OutboxEntry is a claimed, unpublished outbox row.
type OutboxEntry struct {
	Seq      int64
	EventID  uuid.UUID
	QuoteID  uuid.UUID
	Event    *events.Envelope
	Attempts int // failed publish attempts so far
}

// OutboxReader claims and settles outbox rows.
type OutboxReader interface {
	// ClaimPending leases up to limit unpublished rows. Only the oldest
	// unpublished row of each quote is eligible, so a quote's events are never
	// in flight concurrently.
	ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]OutboxEntry, error)
	MarkPublished(ctx context.Context, eventID uuid.UUID) error
	// Release records a failed publish and makes the row claimable again at retryAt.
	Release(ctx context.Context, eventID uuid.UUID, retryAt time.Time, lastErr string) error
	CountUnpublished(ctx context.Context) (int, error)
}

// EventPublisher publishes an event and returns after the broker acknowledged it.
// This interface is satisfied by client/quoteevents.Client.
type EventPublisher interface {
	Publish(ctx context.Context, event *events.Envelope) error
}
