package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cornjacket/quote-service/internal/services/quote/relay"
	"github.com/cornjacket/quote-service/internal/shared/domain/clock"
	"github.com/cornjacket/quote-service/internal/shared/domain/events"
)

// OutboxRepo implements relay.OutboxReader using PostgreSQL.
// Rows are written by QuoteRepo inside the quote mutation's transaction.
type OutboxRepo struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewOutboxRepo creates a new OutboxRepo.
func NewOutboxRepo(pool *pgxpool.Pool, logger *slog.Logger) *OutboxRepo {
	return &OutboxRepo{
		pool:   pool,
		logger: logger.With("repository", "outbox"),
	}
}

var _ relay.OutboxReader = (*OutboxRepo)(nil)

// insertOutboxEvent adds event to the outbox inside tx.
func insertOutboxEvent(ctx context.Context, tx pgx.Tx, event *events.Envelope) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal event metadata: %w", err)
	}

	query := `
		INSERT INTO outbox_events (event_id, quote_id, event_type, payload, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = tx.Exec(ctx, query,
		event.EventID,
		event.QuoteID,
		event.Type,
		[]byte(event.Payload),
		metadata,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert into outbox_events: %w", err)
	}
	return nil
}

// ClaimPending leases up to limit head-of-line rows. A row is head-of-line when
// no older unpublished row exists for the same quote. Locked rows are skipped so
// concurrent relays never claim the same row.
func (r *OutboxRepo) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]relay.OutboxEntry, error) {
	query := `
		WITH claimable AS (
			SELECT e.event_id
			FROM outbox_events e
			WHERE e.published_at IS NULL
			  AND e.available_at <= $1
			  AND NOT EXISTS (
				SELECT 1 FROM outbox_events prior
				WHERE prior.quote_id = e.quote_id
				  AND prior.published_at IS NULL
				  AND prior.seq < e.seq
			  )
			ORDER BY e.seq
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox_events o
		SET available_at = $3
		FROM claimable
		WHERE o.event_id = claimable.event_id
		RETURNING o.seq, o.event_id, o.quote_id, o.event_type, o.payload, o.metadata, o.created_at, o.attempts
	`

	now := clock.Now()
	rows, err := r.pool.Query(ctx, query, now, limit, now.Add(lease))
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox rows: %w", err)
	}
	defer rows.Close()

	var entries []relay.OutboxEntry
	for rows.Next() {
		var entry relay.OutboxEntry
		var env events.Envelope
		var payload, metadata []byte

		if err := rows.Scan(&entry.Seq, &env.EventID, &env.QuoteID, &env.Type, &payload, &metadata, &env.CreatedAt, &entry.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		if err := json.Unmarshal(metadata, &env.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event metadata: %w", err)
		}
		env.Payload = json.RawMessage(payload)

		entry.EventID = env.EventID
		entry.QuoteID = env.QuoteID
		entry.Event = &env
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox rows: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	return entries, nil
}

// MarkPublished stamps published_at. Marking an already published row is a no-op.
func (r *OutboxRepo) MarkPublished(ctx context.Context, eventID uuid.UUID) error {
	query := `UPDATE outbox_events SET published_at = $2, last_error = NULL WHERE event_id = $1 AND published_at IS NULL`

	result, err := r.pool.Exec(ctx, query, eventID, clock.Now())
	if err != nil {
		return fmt.Errorf("failed to mark outbox row published: %w", err)
	}

	if result.RowsAffected() == 0 {
		r.logger.Warn("outbox row already published or missing", "event_id", eventID)
	}

	return nil
}

// Release records a failed publish attempt and reschedules the row.
func (r *OutboxRepo) Release(ctx context.Context, eventID uuid.UUID, retryAt time.Time, lastErr string) error {
	query := `
		UPDATE outbox_events
		SET attempts = attempts + 1, available_at = $2, last_error = $3
		WHERE event_id = $1 AND published_at IS NULL
	`

	if _, err := r.pool.Exec(ctx, query, eventID, retryAt, lastErr); err != nil {
		return fmt.Errorf("failed to release outbox row: %w", err)
	}
	return nil
}

// CountUnpublished returns the relay backlog size.
func (r *OutboxRepo) CountUnpublished(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM outbox_events WHERE published_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unpublished outbox rows: %w", err)
	}
	return n, nil
}
