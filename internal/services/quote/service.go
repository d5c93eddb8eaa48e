package quote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid/v5"

	"github.com/cornjacket/quote-service/internal/shared/apperr"
	"github.com/cornjacket/quote-service/internal/shared/domain/clock"
	"github.com/cornjacket/quote-service/internal/shared/domain/events"
	model "github.com/cornjacket/quote-service/internal/shared/domain/quote"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// ServiceConfig holds the lifecycle policy for the service.
type ServiceConfig struct {
	QuoteTTL          time.Duration
	TransitionRetries int
}

// Service handles the synchronous quote operations.
type Service struct {
	tx          *transitioner
	store       Store
	driver      Enqueuer
	idempotency IdempotencyStore // nil disables Idempotency-Key support
	validate    *validator.Validate
	config      ServiceConfig
	logger      *slog.Logger
}

// NewService creates a new quote service.
func NewService(store Store, driver Enqueuer, idempotency IdempotencyStore, config ServiceConfig, logger *slog.Logger) *Service {
	logger = logger.With("service", "quote")
	if config.QuoteTTL <= 0 {
		config.QuoteTTL = 30 * 24 * time.Hour
	}
	return &Service{
		tx:          newTransitioner(store, config.TransitionRetries, logger),
		store:       store,
		driver:      driver,
		idempotency: idempotency,
		validate:    newValidator(),
		config:      config,
		logger:      logger,
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// LineItemRequest is one item of a create request.
type LineItemRequest struct {
	SKU        string         `json:"sku" validate:"required,max=64"`
	Quantity   int            `json:"quantity" validate:"min=1,max=100000"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// CreateQuoteRequest is the body of POST /quotes.
type CreateQuoteRequest struct {
	Items          []LineItemRequest `json:"items" validate:"required,min=1,max=200,dive"`
	CustomerID     string            `json:"customerId,omitempty" validate:"omitempty,max=128"`
	CustomerName   string            `json:"customerName,omitempty" validate:"omitempty,max=256"`
	CustomerEmail  string            `json:"customerEmail,omitempty" validate:"omitempty,email"`
	CustomerTier   string            `json:"customerTier,omitempty" validate:"omitempty,oneof=STANDARD PARTNER ENTERPRISE"`
	IncludeSupport bool              `json:"includeSupport,omitempty"`
	SupportTier    string            `json:"supportTier,omitempty" validate:"omitempty,oneof=STANDARD PREMIUM"`
}

// CreateQuoteResponse is returned once the DRAFT quote is durable.
type CreateQuoteResponse struct {
	QuoteID     string       `json:"quoteId"`
	QuoteNumber string       `json:"quoteNumber"`
	Status      model.Status `json:"status"`
	Version     int64        `json:"version"`
}

// ListResponse is one page of quotes.
type ListResponse struct {
	Quotes []*model.Quote `json:"quotes"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// CreateQuote persists a DRAFT quote with its QuoteCreated event and hands it
// to the driver. It fails only for malformed input or an unavailable store;
// remote failures surface later as a FAILED quote.
func (s *Service) CreateQuote(ctx context.Context, req *CreateQuoteRequest, idempotencyKey string) (*CreateQuoteResponse, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	reserved := false
	if idempotencyKey != "" && s.idempotency != nil {
		existingID, ok, err := s.idempotency.Reserve(ctx, idempotencyKey)
		switch {
		case err != nil:
			s.logger.Warn("idempotency store unavailable, creating without dedup", "error", err)
		case !ok && existingID == "":
			return nil, apperr.Conflict("a request with this Idempotency-Key is still in progress")
		case !ok:
			return s.replay(ctx, existingID)
		default:
			reserved = true
		}
	}

	resp, err := s.create(ctx, req)
	if reserved {
		s.settleKey(ctx, idempotencyKey, resp, err)
	}
	return resp, err
}

func (s *Service) create(ctx context.Context, req *CreateQuoteRequest) (*CreateQuoteResponse, error) {
	items := make([]model.LineItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = model.LineItem{SKU: item.SKU, Quantity: item.Quantity, Attributes: item.Attributes}
	}
	customer := model.Customer{
		ID:    req.CustomerID,
		Name:  req.CustomerName,
		Email: req.CustomerEmail,
		Tier:  req.CustomerTier,
	}
	options := model.PricingOptions{IncludeSupport: req.IncludeSupport, SupportTier: req.SupportTier}

	q, err := model.New(items, customer, options, clock.Now(), s.config.QuoteTTL)
	if err != nil {
		return nil, apperr.Internal("failed to build quote", err)
	}

	seq, err := s.store.NextNumber(ctx)
	if err != nil {
		return nil, apperr.Unavailable("quote store unavailable", err)
	}
	q.Number = model.FormatNumber(q.CreatedAt, seq)

	event, err := newQuoteEvent(ctx, events.TypeQuoteCreated, q, q.Version)
	if err != nil {
		return nil, apperr.Internal("failed to build event", err)
	}

	if err := s.store.Create(ctx, q, event); err != nil {
		s.logger.Error("failed to persist quote", "quote_id", q.ID, "error", err)
		return nil, apperr.Unavailable("quote store unavailable", err)
	}

	s.logger.Info("quote created",
		"quote_id", q.ID,
		"quote_number", q.Number,
		"items", len(items),
	)

	s.driver.Enqueue(ctx, q.ID)

	return &CreateQuoteResponse{
		QuoteID:     q.ID.String(),
		QuoteNumber: q.Number,
		Status:      q.Status,
		Version:     q.Version,
	}, nil
}

func (s *Service) replay(ctx context.Context, quoteID string) (*CreateQuoteResponse, error) {
	id, err := uuid.FromString(quoteID)
	if err != nil {
		return nil, apperr.Internal("corrupt idempotency record", err)
	}
	q, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("replayed create for idempotency key", "quote_id", q.ID)
	return &CreateQuoteResponse{
		QuoteID:     q.ID.String(),
		QuoteNumber: q.Number,
		Status:      q.Status,
		Version:     q.Version,
	}, nil
}

func (s *Service) settleKey(ctx context.Context, key string, resp *CreateQuoteResponse, createErr error) {
	ctx = context.WithoutCancel(ctx)
	if createErr != nil {
		if err := s.idempotency.Release(ctx, key); err != nil {
			s.logger.Warn("failed to release idempotency key", "error", err)
		}
		return
	}
	if err := s.idempotency.Complete(ctx, key, resp.QuoteID); err != nil {
		s.logger.Warn("failed to record idempotency key", "quote_id", resp.QuoteID, "error", err)
	}
}

func (s *Service) validateRequest(req *CreateQuoteRequest) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation(err.Error())
	}
	details := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, fmt.Sprintf("%s: failed %q", strings.TrimPrefix(fe.Namespace(), "CreateQuoteRequest."), fe.Tag()))
	}
	return apperr.Validation("invalid quote request").WithDetails(details)
}

// GetQuote returns the current state of a quote.
func (s *Service) GetQuote(ctx context.Context, id uuid.UUID) (*model.Quote, error) {
	return s.store.Get(ctx, id)
}

// GetQuoteByNumber looks a quote up by its QT-YYYYMMDD-NNNNN number.
func (s *Service) GetQuoteByNumber(ctx context.Context, number string) (*model.Quote, error) {
	if !model.ValidNumber(number) {
		return nil, apperr.Validation(fmt.Sprintf("malformed quote number %q", number))
	}
	return s.store.GetByNumber(ctx, number)
}

// ConfirmQuote accepts a PRICED quote. Status and expiry are checked before
// the version, so a quote that has already left PRICED is always an
// InvalidTransition; a stale expectedVersion on a PRICED quote is a Conflict.
func (s *Service) ConfirmQuote(ctx context.Context, id uuid.UUID, expectedVersion int64) (*model.Quote, error) {
	return s.tx.apply(ctx, id, func(q *model.Quote) (string, error) {
		now := clock.Now()
		if !model.CanTransition(q.Status, model.StatusConfirmed) {
			return "", apperr.InvalidTransition(fmt.Sprintf("quote is %s, not %s", q.Status, model.StatusPriced)).
				WithDetails(versionDetails(q))
		}
		if q.IsExpired(now) {
			return "", apperr.InvalidTransition(fmt.Sprintf("quote expired at %s", q.ExpiresAt.Format(time.RFC3339)))
		}
		if q.Version != expectedVersion {
			return "", apperr.Conflict(fmt.Sprintf("quote is at version %d, not %d", q.Version, expectedVersion)).
				WithDetails(versionDetails(q))
		}
		if err := q.Transition(model.StatusConfirmed, now); err != nil {
			return "", err
		}
		return events.TypeQuoteConfirmed, nil
	})
}

// CancelQuote cancels a quote that has not reached a terminal state. A quote
// that moved past expectedVersion is an InvalidTransition answered with 409,
// so the caller can re-read and decide again.
func (s *Service) CancelQuote(ctx context.Context, id uuid.UUID, expectedVersion int64) (*model.Quote, error) {
	return s.tx.apply(ctx, id, func(q *model.Quote) (string, error) {
		if !model.CanTransition(q.Status, model.StatusCancelled) {
			return "", apperr.InvalidTransition(fmt.Sprintf("cannot cancel a %s quote", q.Status)).
				WithDetails(versionDetails(q))
		}
		if q.Version != expectedVersion {
			return "", apperr.InvalidTransition(fmt.Sprintf("quote moved to version %d since %d", q.Version, expectedVersion)).
				WithDetails(versionDetails(q)).
				WithStatus(http.StatusConflict)
		}
		if err := q.Transition(model.StatusCancelled, clock.Now()); err != nil {
			return "", err
		}
		return events.TypeQuoteCancelled, nil
	})
}

func versionDetails(q *model.Quote) map[string]any {
	return map[string]any{"currentVersion": q.Version, "status": q.Status}
}

// ListQuotes returns a page of quotes, newest first.
func (s *Service) ListQuotes(ctx context.Context, filter model.ListFilter) (*ListResponse, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperr.Validation(fmt.Sprintf("unknown status %q", filter.Status))
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		return nil, apperr.Validation("offset must not be negative")
	}

	quotes, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list quotes: %w", err)
	}
	if quotes == nil {
		quotes = []*model.Quote{}
	}
	return &ListResponse{Quotes: quotes, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// Stats returns the number of quotes in every status.
func (s *Service) Stats(ctx context.Context) (map[model.Status]int, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count quotes: %w", err)
	}
	stats := make(map[model.Status]int, len(model.AllStatuses))
	for _, status := range model.AllStatuses {
		stats[status] = counts[status]
	}
	return stats, nil
}
