package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

var _ RateLimiter = (*SlidingWindow)(nil)

// SlidingWindow is an in-process sliding-window log limiter. It keeps at most
// max timestamps, so memory stays bounded regardless of traffic.
type SlidingWindow struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	admitted []time.Time
}

func NewSlidingWindow(max int, window time.Duration) (*SlidingWindow, error) {
	return newSlidingWindow(max, window, time.Now)
}

func newSlidingWindow(max int, window time.Duration, nowFn func() time.Time) (*SlidingWindow, error) {
	if max <= 0 {
		return nil, fmt.Errorf("rate limit max must be positive")
	}
	if window <= 0 {
		return nil, fmt.Errorf("rate limit window must be positive")
	}
	if nowFn == nil {
		nowFn = time.Now
	}

	return &SlidingWindow{
		max:      max,
		window:   window,
		now:      nowFn,
		admitted: make([]time.Time, 0, max),
	}, nil
}

func (l *SlidingWindow) TryAcquire(ctx context.Context) (bool, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return false, err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.purge(now)

	if len(l.admitted) >= l.max {
		return false, nil
	}
	l.admitted = append(l.admitted, now)
	return true, nil
}

// Remaining reports how many admissions are currently available.
func (l *SlidingWindow) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.purge(l.now())
	return l.max - len(l.admitted)
}

// purge drops timestamps at or before now-window. Caller holds mu.
func (l *SlidingWindow) purge(now time.Time) {
	cutoff := now.Add(-l.window)
	expired := 0
	for expired < len(l.admitted) && !l.admitted[expired].After(cutoff) {
		expired++
	}
	if expired == 0 {
		return
	}

	remaining := copy(l.admitted, l.admitted[expired:])
	l.admitted = l.admitted[:remaining]
}
