package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// KeyFunc extracts the rate limit key from a request.
type KeyFunc func(r *http.Request) string

// RateLimiter is token bucket rate limiting keyed per client. It guards the
// submission endpoints, where every accepted request costs a classifier call.
type RateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	rate       float64 // tokens per second
	burst      int
	maxBuckets int
	key        KeyFunc
	now        func() time.Time
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// RateLimitOption configures a RateLimiter.
type RateLimitOption func(*RateLimiter)

// WithKeyFunc replaces the default client IP key.
func WithKeyFunc(fn KeyFunc) RateLimitOption {
	return func(rl *RateLimiter) { rl.key = fn }
}

// WithMaxKeys caps the number of tracked keys. New keys are rejected at the cap.
func WithMaxKeys(n int) RateLimitOption {
	return func(rl *RateLimiter) { rl.maxBuckets = n }
}

// NewRateLimiter creates a limiter with a sustained rate in requests per
// second and a burst size.
func NewRateLimiter(rate float64, burst int, opts ...RateLimitOption) *RateLimiter {
	rl := &RateLimiter{
		buckets:    make(map[string]*bucket),
		rate:       rate,
		burst:      burst,
		maxBuckets: 100000,
		key:        ClientIP,
		now:        time.Now,
	}
	for _, o := range opts {
		o(rl)
	}
	return rl
}

// Handler returns middleware enforcing the limit.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remaining, retryAfter, allowed := rl.allow(rl.key(r))

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.burst))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter))))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allow takes one token for key. It returns the tokens left, the seconds
// until the next token and whether the request may proceed.
func (rl *RateLimiter) allow(key string) (remaining int, retryAfter float64, allowed bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		if len(rl.buckets) >= rl.maxBuckets {
			return 0, 1 / rl.rate, false
		}
		b = &bucket{tokens: float64(rl.burst), lastSeen: now}
		rl.buckets[key] = b
	}

	b.tokens = math.Min(float64(rl.burst), b.tokens+now.Sub(b.lastSeen).Seconds()*rl.rate)
	b.lastSeen = now
	if b.tokens < 1 {
		return 0, (1 - b.tokens) / rl.rate, false
	}
	b.tokens--
	return int(b.tokens), 0, true
}

// StartCleanup drops buckets idle for longer than maxIdle every interval
// until ctx is done.
func (rl *RateLimiter) StartCleanup(ctx context.Context, interval, maxIdle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.cleanup(maxIdle)
			}
		}
	}()
}

func (rl *RateLimiter) cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-maxIdle)
	for k, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, k)
		}
	}
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// ClientIP keys on the connection address. Proxy headers are not trusted.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
