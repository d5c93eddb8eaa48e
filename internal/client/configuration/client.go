// Package configuration is the client for the configuration rules service.
package configuration

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cornjacket/quote-service/internal/client/remote"
	"github.com/cornjacket/quote-service/internal/shared/domain/quote"
)

const serviceName = "configuration"

type validateRequest struct {
	Items []quote.LineItem `json:"items"`
}

// Client validates configurations against product compatibility rules.
type Client struct {
	caller *remote.Caller
}

// New creates a configuration client.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{caller: remote.NewCaller(serviceName, baseURL, timeout, logger)}
}

// Validate checks items. A rejected configuration is a successful call
// returning ok=false with violations.
func (c *Client) Validate(ctx context.Context, items []quote.LineItem) (*quote.ValidationResult, error) {
	var result quote.ValidationResult
	if err := c.caller.Call(ctx, http.MethodPost, "/validate", validateRequest{Items: items}, &result); err != nil {
		return nil, err
	}
	if result.Violations == nil {
		result.Violations = []string{}
	}
	return &result, nil
}
