package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cornjacket/quote-service/internal/shared/apperr"
	"github.com/cornjacket/quote-service/internal/shared/domain/events"
	"github.com/cornjacket/quote-service/internal/shared/domain/quote"
)

const quoteColumns = `id, quote_number, status, configuration, customer, pricing_options,
	validation_result, price_quote, failure_reason, version, created_at, updated_at, expires_at`

// QuoteRepo persists quotes. Every mutation writes its outbox event in the same transaction.
type QuoteRepo struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewQuoteRepo creates a new QuoteRepo.
func NewQuoteRepo(pool *pgxpool.Pool, logger *slog.Logger) *QuoteRepo {
	return &QuoteRepo{
		pool:   pool,
		logger: logger.With("repository", "quotes"),
	}
}

// NextNumber reserves the next quote number sequence value.
func (r *QuoteRepo) NextNumber(ctx context.Context) (int64, error) {
	var seq int64
	if err := r.pool.QueryRow(ctx, `SELECT nextval('quote_number_seq')`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to allocate quote number: %w", err)
	}
	return seq, nil
}

// Create inserts a new quote together with its creation event.
func (r *QuoteRepo) Create(ctx context.Context, q *quote.Quote, event *events.Envelope) error {
	configuration, err := json.Marshal(q.Configuration)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}
	customer, err := json.Marshal(q.Customer)
	if err != nil {
		return fmt.Errorf("failed to marshal customer: %w", err)
	}
	options, err := json.Marshal(q.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal pricing options: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO quotes (id, quote_number, status, configuration, customer, pricing_options,
			failure_reason, version, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = tx.Exec(ctx, query,
		q.ID,
		q.Number,
		string(q.Status),
		configuration,
		customer,
		options,
		q.FailureReason,
		q.Version,
		q.CreatedAt,
		q.UpdatedAt,
		q.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert quote: %w", err)
	}

	if err := insertOutboxEvent(ctx, tx, event); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit quote creation: %w", err)
	}

	r.logger.Debug("quote created",
		"quote_id", q.ID,
		"quote_number", q.Number,
		"event_id", event.EventID,
	)

	return nil
}

// Update writes q's mutable fields if the stored version still equals
// expectedVersion, bumping it by one. On success q.Version is updated.
// A version mismatch returns quote.ErrStaleVersion.
func (r *QuoteRepo) Update(ctx context.Context, q *quote.Quote, expectedVersion int64, event *events.Envelope) error {
	validation, err := marshalNullable(q.ValidationResult != nil, q.ValidationResult)
	if err != nil {
		return fmt.Errorf("failed to marshal validation result: %w", err)
	}
	price, err := marshalNullable(q.PriceQuote != nil, q.PriceQuote)
	if err != nil {
		return fmt.Errorf("failed to marshal price quote: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE quotes
		SET status = $3, validation_result = $4, price_quote = $5, failure_reason = $6,
			version = $7, updated_at = $8
		WHERE id = $1 AND version = $2
	`

	result, err := tx.Exec(ctx, query,
		q.ID,
		expectedVersion,
		string(q.Status),
		validation,
		price,
		q.FailureReason,
		expectedVersion+1,
		q.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update quote: %w", err)
	}

	if result.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM quotes WHERE id = $1)`, q.ID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check quote existence: %w", err)
		}
		if !exists {
			return apperr.NotFound(fmt.Sprintf("quote %s not found", q.ID))
		}
		return quote.ErrStaleVersion
	}

	if event != nil {
		if err := insertOutboxEvent(ctx, tx, event); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit quote update: %w", err)
	}

	q.Version = expectedVersion + 1
	return nil
}

// Get loads a quote by id.
func (r *QuoteRepo) Get(ctx context.Context, id uuid.UUID) (*quote.Quote, error) {
	query := `SELECT ` + quoteColumns + ` FROM quotes WHERE id = $1`

	q, err := scanQuote(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(fmt.Sprintf("quote %s not found", id))
		}
		return nil, fmt.Errorf("failed to get quote: %w", err)
	}
	return q, nil
}

// GetByNumber loads a quote by its human-readable number.
func (r *QuoteRepo) GetByNumber(ctx context.Context, number string) (*quote.Quote, error) {
	query := `SELECT ` + quoteColumns + ` FROM quotes WHERE quote_number = $1`

	q, err := scanQuote(r.pool.QueryRow(ctx, query, number))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(fmt.Sprintf("quote %s not found", number))
		}
		return nil, fmt.Errorf("failed to get quote by number: %w", err)
	}
	return q, nil
}

// List returns quotes matching filter, newest first, with the total match count.
func (r *QuoteRepo) List(ctx context.Context, filter quote.ListFilter) ([]*quote.Quote, int, error) {
	var conds []string
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		conds = append(conds, fmt.Sprintf("customer->>'id' = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM quotes`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count quotes: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM quotes%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		quoteColumns, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list quotes: %w", err)
	}
	defer rows.Close()

	quotes := []*quote.Quote{}
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan quote: %w", err)
		}
		quotes = append(quotes, q)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating quote rows: %w", err)
	}

	return quotes, total, nil
}

// CountByStatus returns the number of quotes per status.
func (r *QuoteRepo) CountByStatus(ctx context.Context) (map[quote.Status]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, count(*) FROM quotes GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count quotes by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[quote.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[quote.Status(status)] = n
	}
	return counts, rows.Err()
}

// ListExpired returns ids of PRICED quotes whose validity ended at or before now.
func (r *QuoteRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT id FROM quotes
		WHERE status = 'PRICED' AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2
	`
	return r.queryIDs(ctx, query, now, limit)
}

// ListStalled returns ids of in-flight quotes not touched since before.
func (r *QuoteRepo) ListStalled(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	statuses := make([]string, len(quote.InFlightStatuses))
	for i, s := range quote.InFlightStatuses {
		statuses[i] = string(s)
	}

	query := `
		SELECT id FROM quotes
		WHERE status = ANY($1) AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3
	`
	return r.queryIDs(ctx, query, statuses, before, limit)
}

func (r *QuoteRepo) queryIDs(ctx context.Context, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query quote ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan quote id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanQuote(row pgx.Row) (*quote.Quote, error) {
	var q quote.Quote
	var status string
	var configuration, customer, options, validation, price []byte

	err := row.Scan(
		&q.ID,
		&q.Number,
		&status,
		&configuration,
		&customer,
		&options,
		&validation,
		&price,
		&q.FailureReason,
		&q.Version,
		&q.CreatedAt,
		&q.UpdatedAt,
		&q.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	q.Status = quote.Status(status)

	if err := json.Unmarshal(configuration, &q.Configuration); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := json.Unmarshal(customer, &q.Customer); err != nil {
		return nil, fmt.Errorf("failed to unmarshal customer: %w", err)
	}
	if err := json.Unmarshal(options, &q.Options); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pricing options: %w", err)
	}
	if validation != nil {
		q.ValidationResult = &quote.ValidationResult{}
		if err := json.Unmarshal(validation, q.ValidationResult); err != nil {
			return nil, fmt.Errorf("failed to unmarshal validation result: %w", err)
		}
	}
	if price != nil {
		q.PriceQuote = &quote.PriceQuote{}
		if err := json.Unmarshal(price, q.PriceQuote); err != nil {
			return nil, fmt.Errorf("failed to unmarshal price quote: %w", err)
		}
	}
	return &q, nil
}

func marshalNullable(present bool, v any) ([]byte, error) {
	if !present {
		return nil, nil
	}
	return json.Marshal(v)
}
