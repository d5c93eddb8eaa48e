// Package catalog is the client for the product catalog service.
package catalog

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cornjacket/quote-service/internal/client/remote"
)

const serviceName = "catalog"

// ErrProductNotFound is wrapped by the permanent error returned for unknown SKUs.
var ErrProductNotFound = errors.New("product not found")

// ProductSpec describes a catalog product.
type ProductSpec struct {
	SKU        string         `json:"sku"`
	Name       string         `json:"name,omitempty"`
	Type       string         `json:"type"`
	Attributes map[string]any `json:"attributes"`
}

// Client looks up products by SKU.
type Client struct {
	caller *remote.Caller
}

// New creates a catalog client.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{caller: remote.NewCaller(serviceName, baseURL, timeout, logger)}
}

// GetProduct fetches the product for sku. An unknown SKU is a permanent failure
// wrapping ErrProductNotFound.
func (c *Client) GetProduct(ctx context.Context, sku string) (*ProductSpec, error) {
	var spec ProductSpec
	err := c.caller.Call(ctx, http.MethodGet, "/products/"+url.PathEscape(sku), nil, &spec)
	if err != nil {
		var re *remote.Error
		if errors.As(err, &re) && re.StatusCode == http.StatusNotFound {
			return nil, &remote.Error{
				Service:    serviceName,
				Outcome:    remote.Permanent,
				StatusCode: re.StatusCode,
				Reason:     "UNKNOWN_SKU",
				Message:    sku,
				Err:        ErrProductNotFound,
			}
		}
		return nil, err
	}
	if spec.SKU == "" {
		spec.SKU = sku
	}
	return &spec, nil
}
