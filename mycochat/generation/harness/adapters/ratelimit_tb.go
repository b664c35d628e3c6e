package adapters

import (
	"context"
	"errors"
	"sync"
	"time"

	ports "github.com/ellenlodin/Mushroom-Chatbot/mycochat/generation/harness/ports"
)

// ErrRateLimitExceeded is returned when a key has no tokens left.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// TokenBucket limits outbound model calls per key (one bucket per model id).
// Tokens refill one at a time every refillRate up to capacity; Acquire never
// blocks.
type TokenBucket struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	capacity   int
	refillRate time.Duration
	now        func() time.Time
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

// NewTokenBucket creates a new token bucket rate limiter.
func NewTokenBucket(capacity int, refillRate time.Duration) *TokenBucket {
	return &TokenBucket{
		buckets:    make(map[string]*bucket),
		capacity:   capacity,
		refillRate: refillRate,
		now:        time.Now,
	}
}

// Acquire takes a token for key. The returned release is a no-op: tokens come
// back with time, not on completion.
func (tb *TokenBucket) Acquire(ctx context.Context, key string) (release func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	b, ok := tb.buckets[key]
	if !ok {
		b = &bucket{tokens: tb.capacity, lastRefill: now}
		tb.buckets[key] = b
	}

	if tb.refillRate > 0 {
		if n := int(now.Sub(b.lastRefill) / tb.refillRate); n > 0 {
			b.tokens = min(b.tokens+n, tb.capacity)
			b.lastRefill = b.lastRefill.Add(time.Duration(n) * tb.refillRate)
		}
	}

	if b.tokens <= 0 {
		return nil, ErrRateLimitExceeded
	}
	b.tokens--
	return func() {}, nil
}

// Ensure TokenBucket implements the RateLimiter interface.
var _ ports.RateLimiter = (*TokenBucket)(nil)
