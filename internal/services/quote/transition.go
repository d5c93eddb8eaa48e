package quote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gofrs/uuid/v5"

	"github.com/cornjacket/quote-service/internal/shared/apperr"
	"github.com/cornjacket/quote-service/internal/shared/correlation"
	"github.com/cornjacket/quote-service/internal/shared/domain/events"
	model "github.com/cornjacket/quote-service/internal/shared/domain/quote"
)

// eventSource is stamped on every envelope this service writes.
const eventSource = "quote-service"

// errNoChange is returned by a mutation when the quote has already moved past
// the step; the transition is skipped without a write.
var errNoChange = errors.New("quote already advanced")

// mutation edits a private copy of the quote and returns the event type to record.
type mutation func(q *model.Quote) (string, error)

// transitioner applies mutations with optimistic concurrency. Every attempt
// starts from a fresh read; a lost race re-runs the mutation against the
// newer row, up to retries times.
type transitioner struct {
	store   Store
	retries int
	logger  *slog.Logger
}

func newTransitioner(store Store, retries int, logger *slog.Logger) *transitioner {
	if retries < 1 {
		retries = 1
	}
	return &transitioner{store: store, retries: retries, logger: logger}
}

// apply returns the written quote. If the mutation reports errNoChange, the
// current quote is returned along with errNoChange.
func (t *transitioner) apply(ctx context.Context, id uuid.UUID, mutate mutation) (*model.Quote, error) {
	for attempt := 1; attempt <= t.retries; attempt++ {
		current, err := t.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		next := current.Clone()
		eventType, err := mutate(next)
		if errors.Is(err, errNoChange) {
			return current, errNoChange
		}
		if err != nil {
			return nil, err
		}
		if err := next.CheckInvariants(); err != nil {
			return nil, apperr.Internal("transition would break quote invariants", err)
		}

		event, err := newQuoteEvent(ctx, eventType, next, current.Version+1)
		if err != nil {
			return nil, apperr.Internal("failed to build event", err)
		}

		err = t.store.Update(ctx, next, current.Version, event)
		if err == nil {
			t.logger.Info("quote transitioned",
				"quote_id", id,
				"from", current.Status,
				"to", next.Status,
				"version", next.Version,
				"event_type", eventType,
			)
			return next, nil
		}
		if !errors.Is(err, model.ErrStaleVersion) {
			return nil, err
		}

		t.logger.Debug("version conflict, retrying transition",
			"quote_id", id,
			"attempt", attempt,
			"expected_version", current.Version,
		)
	}

	return nil, apperr.ConcurrentModification(
		fmt.Sprintf("quote %s kept changing after %d attempts", id, t.retries),
	)
}

func newQuoteEvent(ctx context.Context, eventType string, q *model.Quote, version int64) (*events.Envelope, error) {
	return events.NewEnvelope(eventType, q.ID, events.NewQuotePayload(q, version), events.Metadata{
		TraceID: correlation.FromContext(ctx),
		Source:  eventSource,
	})
}
