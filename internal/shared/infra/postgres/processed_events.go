package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cornjacket/quote-service/internal/shared/domain/events"
)

// ProcessedEventRepo records which broker events the notifier has handled.
type ProcessedEventRepo struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewProcessedEventRepo creates a new ProcessedEventRepo.
func NewProcessedEventRepo(pool *pgxpool.Pool, logger *slog.Logger) *ProcessedEventRepo {
	return &ProcessedEventRepo{
		pool:   pool,
		logger: logger.With("repository", "processed_events"),
	}
}

// Claim records event as processed. It returns false when the event_id was
// already recorded, meaning this delivery is a duplicate.
func (r *ProcessedEventRepo) Claim(ctx context.Context, event *events.Envelope) (bool, error) {
	query := `
		INSERT INTO processed_events (event_id, event_type, quote_id)
		VALUES ($1, $2, $3)
	`

	_, err := r.pool.Exec(ctx, query, event.EventID, event.Type, event.QuoteID)
	if err != nil {
		if isDuplicateError(err) {
			r.logger.Debug("event already processed", "event_id", event.EventID)
			return false, nil
		}
		return false, fmt.Errorf("failed to insert into processed_events: %w", err)
	}

	return true, nil
}

// Forget removes a claim so a redelivery of the event is handled again.
func (r *ProcessedEventRepo) Forget(ctx context.Context, eventID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM processed_events WHERE event_id = $1`, eventID); err != nil {
		return fmt.Errorf("failed to delete from processed_events: %w", err)
	}
	return nil
}

// isDuplicateError checks if the error is a unique constraint violation.
func isDuplicateError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 23505 is unique_violation
		return pgErr.Code == "23505"
	}
	return false
}
