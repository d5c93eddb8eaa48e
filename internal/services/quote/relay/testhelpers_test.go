package relay

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/cornjacket/quote-service/internal/shared/domain/events"
)

// mockOutboxReader implements OutboxReader for testing.
type mockOutboxReader struct {
	ClaimPendingFn  func(ctx context.Context, limit int, lease time.Duration) ([]OutboxEntry, error)
	MarkPublishedFn func(ctx context.Context, eventID uuid.UUID) error
	ReleaseFn       func(ctx context.Context, eventID uuid.UUID, retryAt time.Time, lastErr string) error
	CountFn         func(ctx context.Context) (int, error)
}

func (m *mockOutboxReader) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]OutboxEntry, error) {
	return m.ClaimPendingFn(ctx, limit, lease)
}

func (m *mockOutboxReader) MarkPublished(ctx context.Context, eventID uuid.UUID) error {
	return m.MarkPublishedFn(ctx, eventID)
}

func (m *mockOutboxReader) Release(ctx context.Context, eventID uuid.UUID, retryAt time.Time, lastErr string) error {
	return m.ReleaseFn(ctx, eventID, retryAt, lastErr)
}

func (m *mockOutboxReader) CountUnpublished(ctx context.Context) (int, error) {
	if m.CountFn == nil {
		return 0, nil
	}
	return m.CountFn(ctx)
}

// mockPublisher implements EventPublisher for testing.
type mockPublisher struct {
	PublishFn func(ctx context.Context, event *events.Envelope) error
}

func (m *mockPublisher) Publish(ctx context.Context, event *events.Envelope) error {
	return m.PublishFn(ctx, event)
}

// memOutbox is an in-memory OutboxReader with the same claim rules as the
// Postgres implementation: head-of-line per quote, lease, retry-at.
type memOutbox struct {
	mu     sync.Mutex
	rows   []*memRow
	nextSq int64
}

type memRow struct {
	entry       OutboxEntry
	availableAt time.Time
	published   bool
}

func (o *memOutbox) add(env *events.Envelope) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextSq++
	o.rows = append(o.rows, &memRow{
		entry: OutboxEntry{Seq: o.nextSq, EventID: env.EventID, QuoteID: env.QuoteID, Event: env},
	})
}

func (o *memOutbox) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]OutboxEntry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := time.Now()
	blocked := map[uuid.UUID]bool{}
	var out []OutboxEntry
	for _, r := range o.rows {
		if r.published {
			continue
		}
		if blocked[r.entry.QuoteID] {
			continue
		}
		blocked[r.entry.QuoteID] = true
		if r.availableAt.After(now) {
			continue
		}
		r.availableAt = now.Add(lease)
		out = append(out, r.entry)
		if len(out) == limit {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (o *memOutbox) MarkPublished(ctx context.Context, eventID uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, r := range o.rows {
		if r.entry.EventID == eventID {
			r.published = true
		}
	}
	return nil
}

func (o *memOutbox) Release(ctx context.Context, eventID uuid.UUID, retryAt time.Time, lastErr string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, r := range o.rows {
		if r.entry.EventID == eventID {
			r.entry.Attempts++
			r.availableAt = retryAt
		}
	}
	return nil
}

func (o *memOutbox) CountUnpublished(ctx context.Context) (int, error) {
	return o.pending(), nil
}

func (o *memOutbox) pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, r := range o.rows {
		if !r.published {
			n++
		}
	}
	return n
}
