package tests

import (
	"context"
	"fmt"

	"github.com/cornjacket/quote-service/e2e/client"
	"github.com/cornjacket/quote-service/e2e/runner"
)

func init() {
	runner.Register(&runner.Test{
		Name:        "idempotent-create",
		Description: "Repeat a create with the same Idempotency-Key",
		Run:         runIdempotentCreateTest,
	})
}

func runIdempotentCreateTest(ctx context.Context, cfg *runner.Config) error {
	c := newClient(cfg)
	key := client.UniqueID("e2e-idem")

	first, err := client.CreateQuote(ctx, c, validRequest(), key)
	if err != nil {
		return fmt.Errorf("failed to create quote: %w", err)
	}
	second, err := client.CreateQuote(ctx, c, validRequest(), key)
	if err != nil {
		return fmt.Errorf("failed to repeat create: %w", err)
	}
	if first.QuoteID != second.QuoteID {
		return fmt.Errorf("expected replay of %s, got new quote %s", first.QuoteID, second.QuoteID)
	}
	return nil
}
