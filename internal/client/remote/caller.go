package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cornjacket/quote-service/internal/shared/correlation"
)

const maxErrorBody = 64 << 10

// Caller performs JSON requests against one remote service. It never retries;
// retry policy belongs to the orchestrator.
type Caller struct {
	service    string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewCaller creates a caller with a fixed per-request timeout.
func NewCaller(service, baseURL string, timeout time.Duration, logger *slog.Logger) *Caller {
	return &Caller{
		service:    service,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("remote", service),
	}
}

// Call sends in (if non-nil) as JSON and decodes a 2xx body into out (if non-nil).
// Any other outcome is returned as *Error; non-2xx replies keep their body so
// callers can decode service-specific error payloads.
func (c *Caller) Call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &Error{Service: c.service, Outcome: Permanent, Message: "encode request", Err: err}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &Error{Service: c.service, Outcome: Permanent, Message: "create request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := correlation.FromContext(ctx); id != "" {
		req.Header.Set(correlation.Header, id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("remote request failed", "method", method, "path", path, "error", err)
		return &Error{Service: c.service, Outcome: Classify(err), Err: err}
	}
	defer resp.Body.Close()

	outcome := ClassifyStatus(resp.StatusCode)
	if outcome != Success {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn("remote returned error status",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
			"outcome", outcome.String(),
		)
		return &Error{Service: c.service, Outcome: outcome, StatusCode: resp.StatusCode, Body: raw}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Service: c.service, Outcome: Permanent, StatusCode: resp.StatusCode, Message: "decode response", Err: err}
	}
	return nil
}

// DecodeErrorBody decodes the body of a non-2xx *Error into v.
func DecodeErrorBody(err *Error, v any) error {
	if len(err.Body) == 0 {
		return fmt.Errorf("%s: empty error body", err.Service)
	}
	return json.Unmarshal(err.Body, v)
}
