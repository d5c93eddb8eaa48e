package quote

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cornjacket/quote-service/internal/client/catalog"
	model "github.com/cornjacket/quote-service/internal/shared/domain/quote"
)

// Attribute keys the pricing service reads from each line item.
const (
	attrType = "type"
	attrName = "name"
)

func hasAttr(item model.LineItem, key string) bool {
	_, ok := item.Attributes[key]
	return ok
}

// enrich fills in product attributes the line items do not carry, looking up
// each distinct SKU once. Attributes supplied on the item win over catalog
// values. An item is looked up unless it carries both type and name. The stored configuration is never modified; a copy is returned.
func (d *Driver) enrich(ctx context.Context, items []model.LineItem) ([]model.LineItem, error) {
	var missing []string
	seen := make(map[string]bool)
	for _, item := range items {
		if hasAttr(item, attrType) && hasAttr(item, attrName) {
			continue
		}
		if !seen[item.SKU] {
			seen[item.SKU] = true
			missing = append(missing, item.SKU)
		}
	}
	if len(missing) == 0 {
		return items, nil
	}

	var (
		mu    sync.Mutex
		specs = make(map[string]*catalog.ProductSpec, len(missing))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.config.CatalogConcurrency)
	for _, sku := range missing {
		g.Go(func() error {
			spec, err := callWithRetry(gctx, d.config.Retry, d.catalogTarget(), d.logger,
				func(ctx context.Context) (*catalog.ProductSpec, error) {
					return d.catalog.GetProduct(ctx, sku)
				})
			if err != nil {
				return err
			}
			mu.Lock()
			specs[sku] = spec
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	enriched := make([]model.LineItem, len(items))
	for i, item := range items {
		enriched[i] = item
		spec, ok := specs[item.SKU]
		if !ok {
			continue
		}
		attrs := make(map[string]any, len(spec.Attributes)+len(item.Attributes)+2)
		for k, v := range spec.Attributes {
			attrs[k] = v
		}
		attrs[attrType] = spec.Type
		if spec.Name != "" {
			attrs[attrName] = spec.Name
		}
		for k, v := range item.Attributes {
			attrs[k] = v
		}
		enriched[i].Attributes = attrs
	}
	return enriched, nil
}
