package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kursadbilgin/email-dispatch/internal/domain"
)

func outcomeFor(key string) domain.Outcome {
	return domain.Outcome{
		IdempotencyKey: key,
		ProviderID:     "secondary",
		MessageID:      "msg-" + key,
		CompletedAt:    time.Unix(1_700_000_000, 0).UTC(),
	}
}

func TestCachePutIsWriteOnce(t *testing.T) {
	t.Parallel()

	c := New(10, time.Hour)

	if !c.Put("k1", outcomeFor("k1")) {
		t.Fatal("first Put() should store the outcome")
	}

	replacement := outcomeFor("k1")
	replacement.MessageID = "other"
	if c.Put("k1", replacement) {
		t.Fatal("second Put() should not overwrite")
	}

	got, ok := c.Get("k1")
	if !ok {
		t.Fatal("Get() should find k1")
	}
	if got != outcomeFor("k1") {
		t.Fatalf("Get() = %+v, want %+v", got, outcomeFor("k1"))
	}
}

func TestCacheBoundedBySize(t *testing.T) {
	t.Parallel()

	c := New(2, time.Hour)
	c.Put("k1", outcomeFor("k1"))
	c.Put("k2", outcomeFor("k2"))
	c.Put("k3", outcomeFor("k3"))

	if got := c.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
	if _, ok := c.Get("k1"); ok {
		t.Fatal("oldest key should have been evicted")
	}
}

func TestCacheEntriesExpire(t *testing.T) {
	t.Parallel()

	c := New(10, 20*time.Millisecond)
	c.Put("k1", outcomeFor("k1"))

	time.Sleep(60 * time.Millisecond)

	if _, ok := c.Get("k1"); ok {
		t.Fatal("entry should have expired")
	}
}

func TestCacheDoCachesSuccessOnly(t *testing.T) {
	t.Parallel()

	c := New(10, time.Hour)
	errDispatch := errors.New("all providers failed")

	_, _, err := c.Do(context.Background(), "k1", func(ctx context.Context) (domain.Outcome, error) {
		return domain.Outcome{}, errDispatch
	})
	if !errors.Is(err, errDispatch) {
		t.Fatalf("Do() error = %v, want %v", err, errDispatch)
	}
	if _, ok := c.Get("k1"); ok {
		t.Fatal("failed dispatch must not be cached")
	}

	got, shared, err := c.Do(context.Background(), "k1", func(ctx context.Context) (domain.Outcome, error) {
		return outcomeFor("k1"), nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if shared {
		t.Fatal("leader result should not be reported as shared")
	}
	if got != outcomeFor("k1") {
		t.Fatalf("Do() = %+v, want %+v", got, outcomeFor("k1"))
	}

	calls := 0
	again, shared, err := c.Do(context.Background(), "k1", func(ctx context.Context) (domain.Outcome, error) {
		calls++
		return domain.Outcome{}, nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 0 {
		t.Fatalf("dispatch calls = %d, want 0 for cached key", calls)
	}
	if !shared || again != got {
		t.Fatalf("Do() = %+v shared=%v, want cached %+v", again, shared, got)
	}
}

func TestCacheDoCoalescesConcurrentDuplicates(t *testing.T) {
	t.Parallel()

	c := New(10, time.Hour)

	var dispatches atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{})

	dispatch := func(ctx context.Context) (domain.Outcome, error) {
		if dispatches.Add(1) == 1 {
			close(started)
		}
		<-release
		return outcomeFor("k1"), nil
	}

	const callers = 20
	results := make([]domain.Outcome, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _, errs[0] = c.Do(context.Background(), "k1", dispatch)
	}()
	<-started

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = c.Do(context.Background(), "k1", dispatch)
		}(i)
	}

	// Let waiters park on the in-flight call before releasing it.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := dispatches.Load(); got != 1 {
		t.Fatalf("dispatches = %d, want 1", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d error = %v", i, errs[i])
		}
		if results[i] != outcomeFor("k1") {
			t.Fatalf("caller %d outcome = %+v, want %+v", i, results[i], outcomeFor("k1"))
		}
	}
}

func TestCacheDoWaiterContextCancellation(t *testing.T) {
	t.Parallel()

	c := New(10, time.Hour)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, _, err := c.Do(context.Background(), "k1", func(ctx context.Context) (domain.Outcome, error) {
			close(started)
			<-release
			return outcomeFor("k1"), nil
		})
		done <- err
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err := c.Do(ctx, "k1", func(ctx context.Context) (domain.Outcome, error) {
		t.Error("waiter must not dispatch")
		return domain.Outcome{}, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("waiter Do() error = %v, want %v", err, context.DeadlineExceeded)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("leader Do() error = %v", err)
	}
	if _, ok := c.Get("k1"); !ok {
		t.Fatal("leader outcome should be cached after waiter gave up")
	}
}

func TestCacheDoWaiterTakesOverWhenLeaderCancels(t *testing.T) {
	t.Parallel()

	c := New(10, time.Hour)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	defer cancelLeader()

	started := make(chan struct{})
	leaderDone := make(chan error, 1)
	go func() {
		_, _, err := c.Do(leaderCtx, "k1", func(ctx context.Context) (domain.Outcome, error) {
			close(started)
			<-ctx.Done()
			return domain.Outcome{}, fmt.Errorf("dispatch aborted: %w", ctx.Err())
		})
		leaderDone <- err
	}()
	<-started

	var dispatches atomic.Int32
	waiterDone := make(chan struct{})
	var (
		got    domain.Outcome
		shared bool
		err    error
	)
	go func() {
		defer close(waiterDone)
		got, shared, err = c.Do(context.Background(), "k1", func(ctx context.Context) (domain.Outcome, error) {
			dispatches.Add(1)
			return outcomeFor("k1"), nil
		})
	}()

	// Let the waiter park on the in-flight call before the leader gives up.
	time.Sleep(20 * time.Millisecond)
	cancelLeader()

	if leaderErr := <-leaderDone; !errors.Is(leaderErr, context.Canceled) {
		t.Fatalf("leader Do() error = %v, want %v", leaderErr, context.Canceled)
	}
	<-waiterDone

	if err != nil {
		t.Fatalf("waiter Do() error = %v", err)
	}
	if shared {
		t.Fatal("waiter that took over should not report a shared result")
	}
	if got != outcomeFor("k1") {
		t.Fatalf("waiter Do() = %+v, want %+v", got, outcomeFor("k1"))
	}
	if n := dispatches.Load(); n != 1 {
		t.Fatalf("waiter dispatches = %d, want 1", n)
	}
	if _, ok := c.Get("k1"); !ok {
		t.Fatal("outcome of the takeover dispatch should be cached")
	}
}

func TestCacheDoDistinctKeysRunIndependently(t *testing.T) {
	t.Parallel()

	c := New(10, time.Hour)

	var dispatches atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("k%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.Do(context.Background(), key, func(ctx context.Context) (domain.Outcome, error) {
				dispatches.Add(1)
				return outcomeFor(key), nil
			})
			if err != nil {
				t.Errorf("Do(%s) error = %v", key, err)
			}
		}()
	}
	wg.Wait()

	if got := dispatches.Load(); got != 5 {
		t.Fatalf("dispatches = %d, want 5", got)
	}
	if got := c.Len(); got != 5 {
		t.Fatalf("Len() = %d, want 5", got)
	}
}
