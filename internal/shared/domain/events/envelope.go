package events

import (
	"encoding/json"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/cornjacket/quote-service/internal/shared/domain/clock"
)

// Quote lifecycle event types. One is emitted per observable transition.
const (
	TypeQuoteCreated           = "QuoteCreated"
	TypeQuoteValidationStarted = "QuoteValidationStarted"
	TypeQuoteValidated         = "QuoteValidated"
	TypeQuotePricingStarted    = "QuotePricingStarted"
	TypeQuotePriced            = "QuotePriced"
	TypeQuoteFailed            = "QuoteFailed"
	TypeQuoteConfirmed         = "QuoteConfirmed"
	TypeQuoteExpired           = "QuoteExpired"
	TypeQuoteCancelled         = "QuoteCancelled"
)

// CurrentSchemaVersion is stamped on every envelope this service creates.
const CurrentSchemaVersion = 1

// Envelope is the common structure for quote events.
// The same structure is stored in the outbox table and published to Redpanda.
type Envelope struct {
	// EventID is the unique identifier for this event; consumers dedupe on it.
	EventID uuid.UUID `json:"eventId"`

	// QuoteID is the quote the event belongs to and the broker partition key.
	QuoteID uuid.UUID `json:"quoteId"`

	// Type is the discriminator (e.g., "QuotePriced").
	Type string `json:"type"`

	// Payload contains the event-specific data.
	Payload json.RawMessage `json:"payload"`

	// CreatedAt is when the transition was committed.
	CreatedAt time.Time `json:"createdAt"`

	// Metadata contains trace IDs, source info, schema version.
	Metadata Metadata `json:"metadata"`
}

// Metadata contains contextual information about the event.
type Metadata struct {
	// TraceID carries the request correlation id (optional).
	TraceID string `json:"traceId,omitempty"`

	// Source identifies where the event originated.
	Source string `json:"source,omitempty"`

	// SchemaVersion for payload evolution.
	SchemaVersion int `json:"schemaVersion"`
}

// NewEnvelope creates an envelope with a time-ordered ID and the current clock time.
// CreatedAt is truncated to microseconds to match Postgres timestamptz precision.
func NewEnvelope(eventType string, quoteID uuid.UUID, payload any, metadata Metadata) (*Envelope, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	eventID, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	if metadata.SchemaVersion == 0 {
		metadata.SchemaVersion = CurrentSchemaVersion
	}

	return &Envelope{
		EventID:   eventID,
		QuoteID:   quoteID,
		Type:      eventType,
		Payload:   payloadBytes,
		CreatedAt: clock.Now().Truncate(time.Microsecond),
		Metadata:  metadata,
	}, nil
}

// ParsePayload unmarshals the payload into the provided type.
func (e *Envelope) ParsePayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}
