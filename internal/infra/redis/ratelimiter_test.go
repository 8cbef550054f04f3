package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestSlidingWindowLimiterTryAcquire(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	start := time.Unix(1_700_000_000, 0)
	now := start
	limiter, err := newSlidingWindowLimiter(rdb, "test", 2, time.Minute, func() time.Time { return now })
	if err != nil {
		t.Fatalf("newSlidingWindowLimiter() error = %v", err)
	}

	assertAcquire(t, limiter, true)
	now = now.Add(10 * time.Second)
	assertAcquire(t, limiter, true)
	assertAcquire(t, limiter, false)

	now = start.Add(time.Minute - time.Millisecond)
	assertAcquire(t, limiter, false)

	now = start.Add(time.Minute)
	assertAcquire(t, limiter, true)
	assertAcquire(t, limiter, false)
}

func TestSlidingWindowLimiterSharedAcrossInstances(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_100, 0)
	clock := func() time.Time { return now }
	first, err := newSlidingWindowLimiter(rdb, "shared", 1, time.Minute, clock)
	if err != nil {
		t.Fatalf("newSlidingWindowLimiter() error = %v", err)
	}
	second, err := newSlidingWindowLimiter(rdb, "shared", 1, time.Minute, clock)
	if err != nil {
		t.Fatalf("newSlidingWindowLimiter() error = %v", err)
	}

	assertAcquire(t, first, true)
	assertAcquire(t, second, false)

	other, err := newSlidingWindowLimiter(rdb, "other", 1, time.Minute, clock)
	if err != nil {
		t.Fatalf("newSlidingWindowLimiter() error = %v", err)
	}
	assertAcquire(t, other, true)
}

func TestSlidingWindowLimiterSameMillisecondAdmissions(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_200, 0)
	limiter, err := newSlidingWindowLimiter(rdb, "burst", 3, time.Second, func() time.Time { return now })
	if err != nil {
		t.Fatalf("newSlidingWindowLimiter() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		assertAcquire(t, limiter, true)
	}
	assertAcquire(t, limiter, false)
}

func TestSlidingWindowLimiterRedisUnavailable(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() {
		_ = rdb.Close()
	})
	mr.Close()

	limiter, err := NewSlidingWindowLimiter(rdb, "", 1, time.Second)
	if err != nil {
		t.Fatalf("NewSlidingWindowLimiter() error = %v", err)
	}

	if _, err := limiter.TryAcquire(context.Background()); err == nil {
		t.Fatal("expected error when redis is unavailable")
	}
}

func TestNewSlidingWindowLimiterValidation(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	if _, err := NewSlidingWindowLimiter(nil, "", 1, time.Second); err == nil {
		t.Fatal("expected error for nil client")
	}
	if _, err := NewSlidingWindowLimiter(rdb, "", 0, time.Second); err == nil {
		t.Fatal("expected error for zero limit")
	}
	if _, err := NewSlidingWindowLimiter(rdb, "", 1, time.Microsecond); err == nil {
		t.Fatal("expected error for sub-millisecond window")
	}
}

func assertAcquire(t *testing.T, limiter *SlidingWindowLimiter, want bool) {
	t.Helper()

	got, err := limiter.TryAcquire(context.Background())
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	if got != want {
		t.Fatalf("TryAcquire() = %v, want %v", got, want)
	}
}

func newTestRedisClient(t *testing.T) *goredis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	return rdb
}
