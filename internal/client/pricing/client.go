// Package pricing is the client for the pricing service.
package pricing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cornjacket/quote-service/internal/client/remote"
	"github.com/cornjacket/quote-service/internal/shared/domain/quote"
)

const serviceName = "pricing"

// Request is the body of POST /price.
type Request struct {
	Items        []quote.LineItem `json:"items"`
	CustomerTier string           `json:"customerTier,omitempty"`
	Options      Options          `json:"options"`
}

// Options carries support add-ons that change the price.
type Options struct {
	IncludeSupport bool   `json:"include_support"`
	SupportTier    string `json:"support_tier,omitempty"`
}

// errorPayload is the pricing service's error body.
type errorPayload struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// Client prices validated configurations.
type Client struct {
	caller *remote.Caller
}

// New creates a pricing client.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{caller: remote.NewCaller(serviceName, baseURL, timeout, logger)}
}

// Price asks the pricing service for a quote. Error payloads are surfaced as the
// Reason and Message of the returned *remote.Error.
func (c *Client) Price(ctx context.Context, req Request) (*quote.PriceQuote, error) {
	var price quote.PriceQuote
	err := c.caller.Call(ctx, http.MethodPost, "/price", req, &price)
	if err != nil {
		var re *remote.Error
		if errors.As(err, &re) && len(re.Body) > 0 {
			var payload errorPayload
			if remote.DecodeErrorBody(re, &payload) == nil {
				re.Reason = payload.Reason
				re.Message = payload.Message
			}
		}
		return nil, err
	}

	if price.Currency == "" {
		return nil, remote.NewPermanent(serviceName, "MALFORMED_RESPONSE", "missing currency")
	}
	if price.Amount.IsNegative() {
		return nil, remote.NewPermanent(serviceName, "MALFORMED_RESPONSE", "negative amount")
	}
	if price.Breakdown == nil {
		price.Breakdown = []quote.PriceLine{}
	}
	return &price, nil
}
