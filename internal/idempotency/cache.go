package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/kursadbilgin/email-dispatch/internal/domain"
	"golang.org/x/sync/singleflight"
)

const (
	defaultSize = 10_000
	defaultTTL  = 24 * time.Hour
)

// Cache maps idempotency keys to completed outcomes and coalesces concurrent
// dispatches for a key that has not completed yet. Entries are bounded by size
// (least recently used evicted first) and by TTL, and live only as long as the process.
type Cache struct {
	mu       sync.Mutex
	outcomes *expirable.LRU[string, domain.Outcome]
	inflight singleflight.Group
}

func New(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = defaultSize
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	return &Cache{
		outcomes: expirable.NewLRU[string, domain.Outcome](size, nil, ttl),
	}
}

func (c *Cache) Get(key string) (domain.Outcome, bool) {
	return c.outcomes.Get(key)
}

// Put stores outcome under key unless an outcome is already present.
// It reports whether the outcome was stored.
func (c *Cache) Put(key string, outcome domain.Outcome) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.outcomes.Peek(key); ok {
		return false
	}
	c.outcomes.Add(key, outcome)
	return true
}

func (c *Cache) Len() int {
	return c.outcomes.Len()
}

// Do returns the cached outcome for key, joins a dispatch already running for
// key, or runs dispatch itself. A successful outcome is cached before any
// waiter is released; failures are shared with current waiters but never cached.
// shared reports whether the result came from another caller's dispatch or the cache.
// A waiter whose ctx ends stops waiting without affecting the running dispatch.
// When the running dispatch is aborted by its own caller's context, waiters
// whose ctx is still live retry and one of them takes over the dispatch.
func (c *Cache) Do(
	ctx context.Context,
	key string,
	dispatch func(ctx context.Context) (domain.Outcome, error),
) (outcome domain.Outcome, shared bool, err error) {
	for {
		if outcome, ok := c.Get(key); ok {
			return outcome, true, nil
		}

		leader := false
		ch := c.inflight.DoChan(key, func() (any, error) {
			leader = true

			// A dispatch for key may have completed between Get and DoChan.
			if cached, ok := c.Get(key); ok {
				return cached, nil
			}

			result, err := dispatch(ctx)
			if err != nil {
				return domain.Outcome{}, err
			}
			if !c.Put(key, result) {
				if cached, ok := c.Get(key); ok {
					return cached, nil
				}
			}
			return result, nil
		})

		select {
		case <-ctx.Done():
			return domain.Outcome{}, false, fmt.Errorf("waiting for dispatch of key %q: %w", key, ctx.Err())
		case res := <-ch:
			if res.Err != nil {
				if !leader && isContextError(res.Err) && ctx.Err() == nil {
					continue
				}
				return domain.Outcome{}, !leader, res.Err
			}
			return res.Val.(domain.Outcome), !leader, nil
		}
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
