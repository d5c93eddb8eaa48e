// Package correlation carries the request correlation id through contexts.
package correlation

import "context"

// Header is the HTTP header used to accept and forward correlation ids.
const Header = "X-Correlation-ID"

type ctxKey struct{}

// WithID returns a context carrying id.
func WithID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the correlation id, or "" when none is set.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
