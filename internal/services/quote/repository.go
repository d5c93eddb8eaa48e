package quote

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/cornjacket/quote-service/internal/client/catalog"
	"github.com/cornjacket/quote-service/internal/client/pricing"
	"github.com/cornjacket/quote-service/internal/shared/domain/events"
	model "github.com/cornjacket/quote-service/internal/shared/domain/quote"
)

// Store persists quotes together with their outbox events.
// Create and Update commit the quote row and the event in one transaction.
type Store interface {
	NextNumber(ctx context.Context) (int64, error)
	Create(ctx context.Context, q *model.Quote, event *events.Envelope) error
	Get(ctx context.Context, id uuid.UUID) (*model.Quote, error)
	GetByNumber(ctx context.Context, number string) (*model.Quote, error)
	// Update writes q only if the stored version equals expectedVersion,
	// returning model.ErrStaleVersion otherwise.
	Update(ctx context.Context, q *model.Quote, expectedVersion int64, event *events.Envelope) error
	List(ctx context.Context, filter model.ListFilter) ([]*model.Quote, int, error)
	CountByStatus(ctx context.Context) (map[model.Status]int, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	ListStalled(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error)
}

// CatalogClient looks up product definitions.
type CatalogClient interface {
	GetProduct(ctx context.Context, sku string) (*catalog.ProductSpec, error)
}

// ConfigurationClient validates a configuration against compatibility rules.
type ConfigurationClient interface {
	Validate(ctx context.Context, items []model.LineItem) (*model.ValidationResult, error)
}

// PricingClient prices a validated configuration.
type PricingClient interface {
	Price(ctx context.Context, req pricing.Request) (*model.PriceQuote, error)
}

// IdempotencyStore remembers which quote a client-supplied key produced.
type IdempotencyStore interface {
	// Reserve claims key. When the key is already taken, existingID is the
	// quote it produced, or empty while the first request is still running.
	Reserve(ctx context.Context, key string) (existingID string, reserved bool, err error)
	Complete(ctx context.Context, key, quoteID string) error
	Release(ctx context.Context, key string) error
}

// Enqueuer schedules a quote for background driving.
type Enqueuer interface {
	Enqueue(ctx context.Context, id uuid.UUID) bool
}
