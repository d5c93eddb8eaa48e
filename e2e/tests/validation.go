package tests

import (
	"context"
	"errors"
	"fmt"

	"github.com/cornjacket/quote-service/e2e/client"
	"github.com/cornjacket/quote-service/e2e/runner"
)

func init() {
	runner.Register(&runner.Test{
		Name:        "malformed-request",
		Description: "Reject a quote request with no line items",
		Run:         runMalformedRequestTest,
	})
}

func runMalformedRequestTest(ctx context.Context, cfg *runner.Config) error {
	c := newClient(cfg)

	req := validRequest()
	req.Items = nil

	_, err := client.CreateQuote(ctx, c, req, "")
	var se *client.StatusError
	if !errors.As(err, &se) {
		return fmt.Errorf("expected a status error, got %v", err)
	}
	if se.StatusCode != 400 || se.Kind != "Validation" {
		return fmt.Errorf("expected 400 Validation, got %d %s", se.StatusCode, se.Kind)
	}
	return nil
}
