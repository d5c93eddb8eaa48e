package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config holds client configuration.
type Config struct {
	QuoteURL string
}

// LineItem is one configuration entry of a quote request.
type LineItem struct {
	SKU        string         `json:"sku"`
	Quantity   int            `json:"quantity"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// CreateQuoteRequest is the body of POST /api/v1/quotes.
type CreateQuoteRequest struct {
	Items         []LineItem `json:"items"`
	CustomerID    string     `json:"customerId,omitempty"`
	CustomerEmail string     `json:"customerEmail,omitempty"`
	CustomerTier  string     `json:"customerTier,omitempty"`
}

// CreateQuoteResponse is the 202 body of a create.
type CreateQuoteResponse struct {
	QuoteID     string `json:"quoteId"`
	QuoteNumber string `json:"quoteNumber"`
	Status      string `json:"status"`
	Version     int64  `json:"version"`
}

// PriceQuote is the priced total of a quote.
type PriceQuote struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// Quote is the quote resource as returned by the API.
type Quote struct {
	ID            string      `json:"id"`
	QuoteNumber   string      `json:"quoteNumber"`
	Status        string      `json:"status"`
	Version       int64       `json:"version"`
	PriceQuote    *PriceQuote `json:"priceQuote"`
	FailureReason string      `json:"failureReason"`
	ExpiresAt     string      `json:"expiresAt"`
}

// ErrorResponse represents an error response from the API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusError is returned when the API answers with an unexpected status.
type StatusError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s: %s", e.StatusCode, e.Kind, e.Message)
}

// UniqueID generates a unique ID for test isolation.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

// do sends a JSON request and decodes the response into out when the status
// matches want.
func do(ctx context.Context, method, url string, in any, headers map[string]string, want int, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != want {
		var errResp ErrorResponse
		_ = json.Unmarshal(respBody, &errResp)
		return &StatusError{StatusCode: resp.StatusCode, Kind: errResp.Error, Message: errResp.Message}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}

// CreateQuote posts a quote request. idempotencyKey may be empty.
func CreateQuote(ctx context.Context, cfg *Config, req *CreateQuoteRequest, idempotencyKey string) (*CreateQuoteResponse, error) {
	headers := map[string]string{}
	if idempotencyKey != "" {
		headers["Idempotency-Key"] = idempotencyKey
	}
	var resp CreateQuoteResponse
	if err := do(ctx, http.MethodPost, cfg.QuoteURL+"/api/v1/quotes", req, headers, http.StatusAccepted, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetQuote retrieves a quote.
func GetQuote(ctx context.Context, cfg *Config, id string) (*Quote, error) {
	var q Quote
	if err := do(ctx, http.MethodGet, cfg.QuoteURL+"/api/v1/quotes/"+id, nil, nil, http.StatusOK, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// GetQuoteByNumber retrieves a quote by its QT- number.
func GetQuoteByNumber(ctx context.Context, cfg *Config, number string) (*Quote, error) {
	var q Quote
	if err := do(ctx, http.MethodGet, cfg.QuoteURL+"/api/v1/quotes/by-number/"+number, nil, nil, http.StatusOK, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// ConfirmQuote confirms a priced quote at expectedVersion.
func ConfirmQuote(ctx context.Context, cfg *Config, id string, expectedVersion int64) (*Quote, error) {
	return versioned(ctx, cfg, id, "confirm", expectedVersion)
}

// CancelQuote cancels a quote at expectedVersion.
func CancelQuote(ctx context.Context, cfg *Config, id string, expectedVersion int64) (*Quote, error) {
	return versioned(ctx, cfg, id, "cancel", expectedVersion)
}

func versioned(ctx context.Context, cfg *Config, id, action string, expectedVersion int64) (*Quote, error) {
	body := map[string]int64{"expectedVersion": expectedVersion}
	var q Quote
	url := fmt.Sprintf("%s/api/v1/quotes/%s/%s", cfg.QuoteURL, id, action)
	if err := do(ctx, http.MethodPost, url, body, nil, http.StatusOK, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// WaitForStatus polls a quote until its status is one of statuses or timeout.
func WaitForStatus(ctx context.Context, cfg *Config, id string, timeout time.Duration, statuses ...string) (*Quote, error) {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		q, err := GetQuote(ctx, cfg, id)
		if err != nil {
			return nil, err
		}
		for _, s := range statuses {
			if q.Status == s {
				return q, nil
			}
		}

		time.Sleep(100 * time.Millisecond)
	}

	return nil, fmt.Errorf("timeout waiting for quote %s to reach %v", id, statuses)
}

// CheckHealth checks the health endpoint of a service.
func CheckHealth(ctx context.Context, url string) error {
	return do(ctx, http.MethodGet, url+"/health", nil, nil, http.StatusOK, nil)
}
