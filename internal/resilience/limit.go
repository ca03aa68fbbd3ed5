package resilience

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/Strob0t/ModGuard/internal/port/llm"
)

// Limiter bounds the number of concurrent upstream calls. Callers past the
// limit wait for a slot or for their context to end.
type Limiter struct {
	sem *semaphore.Weighted
}

// NewLimiter creates a Limiter that allows at most limit calls in flight.
func NewLimiter(limit int) *Limiter {
	if limit < 1 {
		limit = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(limit))}
}

// Run acquires a slot, runs fn, and releases the slot. A nil Limiter runs
// fn directly.
func (l *Limiter) Run(ctx context.Context, fn func() error) error {
	if l == nil || l.sem == nil {
		return fn()
	}
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.sem.Release(1)
	return fn()
}

// LimitedClassifier passes Classify calls through a Limiter.
type LimitedClassifier struct {
	inner   llm.Classifier
	limiter *Limiter
}

var _ llm.Classifier = (*LimitedClassifier)(nil)

// LimitClassifier wraps c so that at most limit calls run at once.
func LimitClassifier(c llm.Classifier, limit int) *LimitedClassifier {
	return &LimitedClassifier{inner: c, limiter: NewLimiter(limit)}
}

// Classify implements llm.Classifier.
func (c *LimitedClassifier) Classify(ctx context.Context, system, prompt string) (string, error) {
	var out string
	err := c.limiter.Run(ctx, func() error {
		var err error
		out, err = c.inner.Classify(ctx, system, prompt)
		return err
	})
	return out, err
}
