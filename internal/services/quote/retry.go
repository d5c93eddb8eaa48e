package quote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/cornjacket/quote-service/internal/client/remote"
)

// RetryPolicy bounds how hard the driver tries a remote call before giving up.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 3
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 200 * time.Millisecond
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return p
}

// backoff is stateful, so each call gets its own.
func (p RetryPolicy) backoff() retry.Backoff {
	b := retry.NewExponential(p.InitialBackoff)
	b = retry.WithCappedDuration(p.MaxBackoff, b)
	return retry.WithMaxRetries(uint64(p.MaxAttempts-1), b)
}

// callTarget names a remote service and its per-attempt timeout.
type callTarget struct {
	service string
	timeout time.Duration
}

// remoteFailure is what a remote call turns into once the driver stops
// retrying it. Its message becomes the quote's failure reason.
type remoteFailure struct {
	service  string
	attempts int
	err      error
}

func (f *remoteFailure) Error() string {
	if remote.Classify(f.err) == remote.Transient {
		return fmt.Sprintf("TransientRemoteFailure-exhausted: %s failed after %d attempts: %s", f.service, f.attempts, f.detail())
	}
	return fmt.Sprintf("PermanentRemoteFailure: %s: %s", f.service, f.detail())
}

// detail drops the service name a *remote.Error already carries.
func (f *remoteFailure) detail() string {
	var re *remote.Error
	if errors.As(f.err, &re) {
		return re.Detail()
	}
	return f.err.Error()
}

func (f *remoteFailure) Unwrap() error {
	return f.err
}

// callWithRetry runs fn under policy p. Transient failures are retried with
// capped exponential backoff; permanent failures stop immediately. Each
// attempt gets its own timeout, and an expired attempt counts as transient.
func callWithRetry[T any](
	ctx context.Context,
	p RetryPolicy,
	target callTarget,
	logger *slog.Logger,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	var result T
	attempts := 0

	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempts++

		attemptCtx := ctx
		if target.timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, target.timeout)
			defer cancel()
		}

		v, err := fn(attemptCtx)
		switch remote.Classify(err) {
		case remote.Success:
			result = v
			return nil
		case remote.Transient:
			logger.Warn("remote call failed, will retry",
				"service", target.service,
				"attempt", attempts,
				"max_attempts", p.MaxAttempts,
				"error", err,
			)
			return retry.RetryableError(err)
		default:
			return err
		}
	})
	if err != nil {
		var zero T
		return zero, &remoteFailure{service: target.service, attempts: attempts, err: err}
	}
	return result, nil
}
