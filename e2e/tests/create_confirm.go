package tests

import (
	"context"
	"fmt"
	"time"

	"github.com/cornjacket/quote-service/e2e/client"
	"github.com/cornjacket/quote-service/e2e/runner"
)

func init() {
	runner.Register(&runner.Test{
		Name:        "create-confirm",
		Description: "Create a quote, wait for pricing, confirm it",
		Run:         runCreateConfirmTest,
	})
}

func runCreateConfirmTest(ctx context.Context, cfg *runner.Config) error {
	c := newClient(cfg)

	created, err := client.CreateQuote(ctx, c, validRequest(), "")
	if err != nil {
		return fmt.Errorf("failed to create quote: %w", err)
	}
	if created.Status != "DRAFT" || created.Version != 1 {
		return fmt.Errorf("expected DRAFT at version 1, got %s at %d", created.Status, created.Version)
	}

	q, err := client.WaitForStatus(ctx, c, created.QuoteID, 15*time.Second, "PRICED", "FAILED")
	if err != nil {
		return err
	}
	if q.Status == "FAILED" {
		return fmt.Errorf("quote failed: %s", q.FailureReason)
	}
	if q.PriceQuote == nil || q.PriceQuote.Amount == "" {
		return fmt.Errorf("priced quote %s has no amount", q.ID)
	}

	byNumber, err := client.GetQuoteByNumber(ctx, c, q.QuoteNumber)
	if err != nil {
		return fmt.Errorf("failed to look up %s: %w", q.QuoteNumber, err)
	}
	if byNumber.ID != q.ID {
		return fmt.Errorf("number %s resolved to %s, want %s", q.QuoteNumber, byNumber.ID, q.ID)
	}

	confirmed, err := client.ConfirmQuote(ctx, c, q.ID, q.Version)
	if err != nil {
		return fmt.Errorf("failed to confirm quote: %w", err)
	}
	if confirmed.Status != "CONFIRMED" || confirmed.Version != q.Version+1 {
		return fmt.Errorf("expected CONFIRMED at version %d, got %s at %d", q.Version+1, confirmed.Status, confirmed.Version)
	}

	// A second confirm is refused by state before the version is looked at.
	_, err = client.ConfirmQuote(ctx, c, q.ID, q.Version)
	if se, ok := err.(*client.StatusError); !ok || se.StatusCode != 422 {
		return fmt.Errorf("expected 422 confirming a confirmed quote, got %v", err)
	}

	return nil
}
