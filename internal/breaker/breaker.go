package breaker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/email-dispatch/internal/domain"
	"github.com/kursadbilgin/email-dispatch/internal/observability"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	defaultFailureThreshold = 5
	defaultCooldown         = 30 * time.Second
)

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold uint32
	// Cooldown is how long the circuit stays open before admitting a probe.
	Cooldown time.Duration
}

// Registry owns one breaker per provider so that one backend's failures never
// gate another backend.
type Registry struct {
	cfg     Config
	logger  *zap.Logger
	metrics *observability.Metrics

	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewRegistry(cfg Config, logger *zap.Logger) *Registry {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Registry{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (r *Registry) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

// Execute runs fn through the provider's breaker. While the circuit is open,
// or a half-open probe is already in flight, fn is not invoked and the
// returned error wraps domain.ErrCircuitOpen. A failure that coincides with
// ctx ending was caused by the caller and is not counted against the provider.
func (r *Registry) Execute(ctx context.Context, provider string, fn func() error) error {
	cb := r.getOrCreate(provider)

	_, err := cb.Execute(func() (any, error) {
		err := fn()
		if err != nil && ctx.Err() != nil {
			return nil, &callerAbortedError{err: err}
		}
		return nil, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: provider %s", domain.ErrCircuitOpen, provider)
	}

	var aborted *callerAbortedError
	if errors.As(err, &aborted) {
		return aborted.err
	}
	return err
}

func (r *Registry) State(provider string) State {
	r.mu.RLock()
	cb, ok := r.breakers[normalizeName(provider)]
	r.mu.RUnlock()

	if !ok {
		return StateClosed
	}
	return convertState(cb.State())
}

func (r *Registry) getOrCreate(provider string) *gobreaker.CircuitBreaker {
	name := normalizeName(provider)

	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok = r.breakers[name]; ok {
		return cb
	}

	threshold := r.cfg.FailureThreshold
	cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     r.cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: isProviderHealthy,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.handleStateChange(name, from, to)
		},
	})
	r.breakers[name] = cb
	r.metrics.SetCircuitBreakerState(name, float64(StateClosed))

	return cb
}

func (r *Registry) handleStateChange(provider string, from gobreaker.State, to gobreaker.State) {
	fields := []zap.Field{
		zap.String("provider", provider),
		zap.String("from", convertState(from).String()),
		zap.String("to", convertState(to).String()),
	}

	switch to {
	case gobreaker.StateOpen:
		r.logger.Warn("circuit breaker opened", append(fields, zap.Duration("cooldown", r.cfg.Cooldown))...)
	case gobreaker.StateHalfOpen:
		r.logger.Info("circuit breaker half-open, probing provider", fields...)
	case gobreaker.StateClosed:
		r.logger.Info("circuit breaker closed", fields...)
	}

	r.metrics.SetCircuitBreakerState(provider, float64(convertState(to)))
}

// callerAbortedError marks a send that failed because the caller's context ended.
type callerAbortedError struct {
	err error
}

func (e *callerAbortedError) Error() string { return e.err.Error() }

func (e *callerAbortedError) Unwrap() error { return e.err }

func isProviderHealthy(err error) bool {
	var aborted *callerAbortedError
	return err == nil || errors.As(err, &aborted)
}

func convertState(state gobreaker.State) State {
	switch state {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

func normalizeName(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
