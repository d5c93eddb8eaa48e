package tests

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cornjacket/quote-service/e2e/client"
	"github.com/cornjacket/quote-service/e2e/runner"
)

func init() {
	runner.Register(&runner.Test{
		Name:        "cancel",
		Description: "Cancel a quote and verify it is terminal",
		Run:         runCancelTest,
	})
}

func runCancelTest(ctx context.Context, cfg *runner.Config) error {
	c := newClient(cfg)

	created, err := client.CreateQuote(ctx, c, validRequest(), "")
	if err != nil {
		return fmt.Errorf("failed to create quote: %w", err)
	}

	// The driver advances the quote concurrently, so re-read and retry on conflict.
	var cancelled *client.Quote
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		q, err := client.GetQuote(ctx, c, created.QuoteID)
		if err != nil {
			return err
		}
		cancelled, err = client.CancelQuote(ctx, c, q.ID, q.Version)
		if err == nil {
			break
		}
		var se *client.StatusError
		if !errors.As(err, &se) || se.StatusCode != 409 {
			return fmt.Errorf("failed to cancel quote: %w", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	if cancelled == nil {
		return fmt.Errorf("quote %s could not be cancelled before deadline", created.QuoteID)
	}
	if cancelled.Status != "CANCELLED" {
		return fmt.Errorf("expected CANCELLED, got %s", cancelled.Status)
	}

	// Terminal: cancelling again is an invalid transition.
	_, err = client.CancelQuote(ctx, c, cancelled.ID, cancelled.Version)
	var se *client.StatusError
	if !errors.As(err, &se) || se.StatusCode != 422 {
		return fmt.Errorf("expected 422 cancelling a cancelled quote, got %v", err)
	}

	return nil
}
