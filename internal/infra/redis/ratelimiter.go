package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/email-dispatch/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "ratelimit:email-dispatch"

// Purge, count and admit run atomically so concurrent instances never exceed the limit.
var slidingWindowScript = goredis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
if redis.call("ZCARD", key) >= limit then
  return 0
end
redis.call("ZADD", key, ARGV[1], ARGV[4])
redis.call("PEXPIRE", key, ARGV[2])
return 1
`)

var _ ratelimit.RateLimiter = (*SlidingWindowLimiter)(nil)

// SlidingWindowLimiter is a sliding-window log limiter shared by every
// instance pointing at the same Redis key.
type SlidingWindowLimiter struct {
	client *goredis.Client
	key    string
	limit  int64
	window time.Duration
	now    func() time.Time
	nextID func() string
	script *goredis.Script
}

func NewSlidingWindowLimiter(client *goredis.Client, keyPrefix string, limit int, window time.Duration) (*SlidingWindowLimiter, error) {
	return newSlidingWindowLimiter(client, keyPrefix, int64(limit), window, time.Now)
}

func newSlidingWindowLimiter(
	client *goredis.Client,
	keyPrefix string,
	limit int64,
	window time.Duration,
	nowFn func() time.Time,
) (*SlidingWindowLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("rate limit must be positive")
	}
	if window < time.Millisecond {
		return nil, fmt.Errorf("rate limit window must be at least 1ms")
	}
	if nowFn == nil {
		nowFn = time.Now
	}

	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}

	return &SlidingWindowLimiter{
		client: client,
		key:    prefix + ":dispatch",
		limit:  limit,
		window: window,
		now:    nowFn,
		nextID: uuid.NewString,
		script: slidingWindowScript,
	}, nil
}

func (r *SlidingWindowLimiter) TryAcquire(ctx context.Context) (bool, error) {
	if r == nil || r.client == nil || r.script == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := r.script.Run(
		ctx,
		r.client,
		[]string{r.key},
		r.now().UnixMilli(),
		r.window.Milliseconds(),
		r.limit,
		r.nextID(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}

	return result == 1, nil
}
