package tests

import (
	"github.com/cornjacket/quote-service/e2e/client"
	"github.com/cornjacket/quote-service/e2e/runner"
)

// Catalog entries seeded in every environment's dependency stubs.
const (
	skuBase    = "SRV-BASE-01"
	skuStorage = "STOR-SSD-1TB"
)

func newClient(cfg *runner.Config) *client.Config {
	return &client.Config{QuoteURL: cfg.QuoteURL}
}

func validRequest() *client.CreateQuoteRequest {
	return &client.CreateQuoteRequest{
		Items: []client.LineItem{
			{SKU: skuBase, Quantity: 1},
			{SKU: skuStorage, Quantity: 2},
		},
		CustomerID:    client.UniqueID("e2e-customer"),
		CustomerEmail: "e2e@example.com",
		CustomerTier:  "STANDARD",
	}
}
