package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/Strob0t/ModGuard/internal/domain"
)

// RetryPolicy bounds Fibonacci backoff for upstream calls.
type RetryPolicy struct {
	MaxRetries uint64
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Retry runs fn through b with Fibonacci backoff. Errors are retried unless
// Permanent reports them as permanent; an open circuit is never retried.
func Retry(ctx context.Context, p RetryPolicy, b *Breaker, fn func(ctx context.Context) error) error {
	backoff := retry.NewFibonacci(p.BaseDelay)
	backoff = retry.WithMaxRetries(p.MaxRetries, backoff)
	if p.MaxDelay > 0 {
		backoff = retry.WithCappedDuration(p.MaxDelay, backoff)
	}

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := b.Execute(ctx, fn)
		if err == nil || Permanent(err) {
			return err
		}
		slog.Debug("retrying upstream call", "breaker", b.name, "attempt", attempt, "error", err)
		return retry.RetryableError(err)
	})
}

// Permanent reports whether err should not be retried: caller cancellation,
// an open circuit, or a request the upstream rejected as invalid.
func Permanent(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, domain.ErrValidation)
}
