package ratelimit

import "context"

// RateLimiter admits or denies outbound dispatches over a trailing window.
// TryAcquire never blocks waiting for capacity.
type RateLimiter interface {
	TryAcquire(ctx context.Context) (bool, error)
}
