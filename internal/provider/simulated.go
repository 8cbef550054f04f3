package provider

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/email-dispatch/internal/domain"
)

const simulatedFailureStatus = 503

// SimulatedOption customizes a SimulatedProvider.
type SimulatedOption func(*SimulatedProvider)

func WithLatency(latency time.Duration) SimulatedOption {
	return func(p *SimulatedProvider) {
		if latency < 0 {
			latency = 0
		}
		p.latency = latency
	}
}

// WithFailureRate sets the probability in [0,1] that a send fails transiently.
func WithFailureRate(rate float64) SimulatedOption {
	return func(p *SimulatedProvider) {
		switch {
		case rate < 0:
			rate = 0
		case rate > 1:
			rate = 1
		}
		p.failureRate = rate
	}
}

func WithRandomSeed(seed int64) SimulatedOption {
	return func(p *SimulatedProvider) {
		p.rnd = rand.New(rand.NewSource(seed)) // #nosec G404 -- simulation only.
	}
}

// SimulatedProvider stands in for a real backend: it waits for a fixed latency
// and then fails with the configured probability.
type SimulatedProvider struct {
	name        string
	latency     time.Duration
	failureRate float64
	sleep       func(ctx context.Context, d time.Duration) error

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSimulatedProvider(name string, opts ...SimulatedOption) (*SimulatedProvider, error) {
	trimmedName := strings.ToLower(strings.TrimSpace(name))
	if trimmedName == "" {
		return nil, fmt.Errorf("simulated provider name is required")
	}

	p := &SimulatedProvider{
		name:  trimmedName,
		sleep: sleepWithContext,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- simulation only.
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	return p, nil
}

func (p *SimulatedProvider) Name() string {
	return p.name
}

func (p *SimulatedProvider) Send(ctx context.Context, req domain.EmailRequest) (*ProviderResponse, error) {
	if p.latency > 0 {
		if err := p.sleep(ctx, p.latency); err != nil {
			return nil, transientError(p.name, "send interrupted", err)
		}
	}

	if p.shouldFail() {
		return nil, &ProviderError{
			Provider:   p.name,
			StatusCode: simulatedFailureStatus,
			Message:    fmt.Sprintf("%s temporarily unavailable", p.name),
			Transient:  true,
		}
	}

	return &ProviderResponse{
		StatusCode: 250,
		Body:       "queued",
		MessageID:  fmt.Sprintf("%s_%s", p.name, uuid.NewString()),
	}, nil
}

func (p *SimulatedProvider) shouldFail() bool {
	if p.failureRate <= 0 {
		return false
	}
	if p.failureRate >= 1 {
		return true
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rnd.Float64() < p.failureRate
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
