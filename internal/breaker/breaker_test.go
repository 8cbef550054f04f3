package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/email-dispatch/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var errSend = errors.New("send failed")

func failN(t *testing.T, r *Registry, provider string, n int) {
	t.Helper()

	for i := 0; i < n; i++ {
		if err := r.Execute(context.Background(), provider, func() error { return errSend }); !errors.Is(err, errSend) {
			t.Fatalf("Execute() error = %v, want %v", err, errSend)
		}
	}
}

func TestRegistryOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	r := NewRegistry(Config{FailureThreshold: 3, Cooldown: time.Hour}, zap.NewNop())

	failN(t, r, "primary", 2)
	if got := r.State("primary"); got != StateClosed {
		t.Fatalf("State() = %s, want CLOSED", got)
	}

	failN(t, r, "primary", 1)
	if got := r.State("primary"); got != StateOpen {
		t.Fatalf("State() = %s, want OPEN", got)
	}

	invoked := false
	err := r.Execute(context.Background(), "primary", func() error {
		invoked = true
		return nil
	})
	if !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("Execute() error = %v, want ErrCircuitOpen", err)
	}
	if invoked {
		t.Fatal("operation should not run while circuit is open")
	}
}

func TestRegistrySuccessResetsConsecutiveFailures(t *testing.T) {
	t.Parallel()

	r := NewRegistry(Config{FailureThreshold: 2, Cooldown: time.Hour}, zap.NewNop())

	failN(t, r, "primary", 1)
	if err := r.Execute(context.Background(), "primary", func() error { return nil }); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	failN(t, r, "primary", 1)

	if got := r.State("primary"); got != StateClosed {
		t.Fatalf("State() = %s, want CLOSED", got)
	}
}

func TestRegistryHalfOpenTransitions(t *testing.T) {
	t.Parallel()

	const cooldown = 20 * time.Millisecond

	t.Run("success closes", func(t *testing.T) {
		t.Parallel()

		r := NewRegistry(Config{FailureThreshold: 1, Cooldown: cooldown}, zap.NewNop())
		failN(t, r, "primary", 1)

		time.Sleep(2 * cooldown)
		if got := r.State("primary"); got != StateHalfOpen {
			t.Fatalf("State() = %s, want HALF_OPEN", got)
		}

		if err := r.Execute(context.Background(), "primary", func() error { return nil }); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if got := r.State("primary"); got != StateClosed {
			t.Fatalf("State() = %s, want CLOSED", got)
		}
	})

	t.Run("failure reopens", func(t *testing.T) {
		t.Parallel()

		r := NewRegistry(Config{FailureThreshold: 1, Cooldown: cooldown}, zap.NewNop())
		failN(t, r, "primary", 1)

		time.Sleep(2 * cooldown)
		failN(t, r, "primary", 1)
		if got := r.State("primary"); got != StateOpen {
			t.Fatalf("State() = %s, want OPEN", got)
		}
	})
}

func TestRegistryHalfOpenAdmitsSingleProbe(t *testing.T) {
	t.Parallel()

	const cooldown = 20 * time.Millisecond
	r := NewRegistry(Config{FailureThreshold: 1, Cooldown: cooldown}, zap.NewNop())
	failN(t, r, "primary", 1)
	time.Sleep(2 * cooldown)

	probeStarted := make(chan struct{})
	releaseProbe := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = r.Execute(context.Background(), "primary", func() error {
			close(probeStarted)
			<-releaseProbe
			return nil
		})
	}()

	<-probeStarted
	err := r.Execute(context.Background(), "primary", func() error { return nil })
	close(releaseProbe)
	wg.Wait()

	if !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("second half-open Execute() error = %v, want ErrCircuitOpen", err)
	}
}

func TestRegistryBreakersAreIndependent(t *testing.T) {
	t.Parallel()

	r := NewRegistry(Config{FailureThreshold: 1, Cooldown: time.Hour}, zap.NewNop())
	failN(t, r, "primary", 1)

	if got := r.State("primary"); got != StateOpen {
		t.Fatalf("State(primary) = %s, want OPEN", got)
	}
	if err := r.Execute(context.Background(), "secondary", func() error { return nil }); err != nil {
		t.Fatalf("Execute(secondary) error = %v", err)
	}
	if got := r.State("secondary"); got != StateClosed {
		t.Fatalf("State(secondary) = %s, want CLOSED", got)
	}
}

func TestRegistryIgnoresCallerCancellation(t *testing.T) {
	t.Parallel()

	r := NewRegistry(Config{FailureThreshold: 2, Cooldown: time.Hour}, zap.NewNop())

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		err := r.Execute(ctx, "primary", func() error {
			<-ctx.Done()
			return ctx.Err()
		})
		cancel()

		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("Execute() error = %v, want %v", err, context.DeadlineExceeded)
		}
	}

	if got := r.State("primary"); got != StateClosed {
		t.Fatalf("State() after caller timeouts = %s, want CLOSED", got)
	}

	// A provider timeout under a live caller context still counts.
	for i := 0; i < 2; i++ {
		err := r.Execute(context.Background(), "primary", func() error {
			return context.DeadlineExceeded
		})
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("Execute() error = %v, want %v", err, context.DeadlineExceeded)
		}
	}
	if got := r.State("primary"); got != StateOpen {
		t.Fatalf("State() after provider timeouts = %s, want OPEN", got)
	}
}

func TestRegistryLogsStateChanges(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.InfoLevel)
	r := NewRegistry(Config{FailureThreshold: 1, Cooldown: time.Hour}, zap.New(core))

	failN(t, r, "Primary", 1)

	entries := recorded.FilterMessage("circuit breaker opened").All()
	if len(entries) != 1 {
		t.Fatalf("opened entries = %d, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["provider"]; got != "primary" {
		t.Fatalf("provider = %v, want primary", got)
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	tests := map[State]string{
		StateClosed:   "CLOSED",
		StateHalfOpen: "HALF_OPEN",
		StateOpen:     "OPEN",
		State(42):     "UNKNOWN",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}
