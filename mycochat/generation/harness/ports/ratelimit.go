package harnessports

import "context"

// RateLimiter throttles outbound provider calls, keyed by model id.
// Acquire fails fast instead of waiting when no permit is available.
type RateLimiter interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
