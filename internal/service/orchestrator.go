package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/email-dispatch/internal/domain"
	"github.com/kursadbilgin/email-dispatch/internal/idempotency"
	"github.com/kursadbilgin/email-dispatch/internal/observability"
	"github.com/kursadbilgin/email-dispatch/internal/provider"
	"github.com/kursadbilgin/email-dispatch/internal/ratelimit"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultMaxAttempts = 3

// CircuitBreaker guards a single provider call.
type CircuitBreaker interface {
	Execute(ctx context.Context, provider string, fn func() error) error
}

type AttemptRecorder interface {
	Create(ctx context.Context, a *domain.DeliveryAttempt) error
}

type EventPublisher interface {
	Publish(ctx context.Context, event domain.DeliveryEvent) error
}

// RetryPolicy bounds the retry/failover loop. Zero delays disable backoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Orchestrator sends emails through an ordered list of providers with
// idempotency, admission control, per-provider circuit breaking and backoff.
type Orchestrator struct {
	providers []provider.Provider
	limiter   ratelimit.RateLimiter
	cache     *idempotency.Cache
	breakers  CircuitBreaker
	policy    RetryPolicy

	attempts AttemptRecorder
	events   EventPublisher
	logger   *zap.Logger
	metrics  *observability.Metrics
	tracer   trace.Tracer

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator wires the dispatch pipeline. breakers may be nil to call
// providers unguarded.
func NewOrchestrator(
	providers []provider.Provider,
	limiter ratelimit.RateLimiter,
	cache *idempotency.Cache,
	breakers CircuitBreaker,
	policy RetryPolicy,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}
	for i, p := range providers {
		if p == nil {
			return nil, fmt.Errorf("provider at index %d is nil", i)
		}
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if cache == nil {
		return nil, fmt.Errorf("idempotency cache is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = defaultMaxAttempts
	}
	if policy.BaseDelay < 0 {
		policy.BaseDelay = 0
	}
	if policy.MaxDelay < policy.BaseDelay {
		policy.MaxDelay = policy.BaseDelay
	}

	return &Orchestrator{
		providers: append([]provider.Provider(nil), providers...),
		limiter:   limiter,
		cache:     cache,
		breakers:  breakers,
		policy:    policy,
		logger:    logger,
		tracer:    observability.Tracer(),
		now:       time.Now,
		sleep:     sleepWithContext,
	}, nil
}

// SendEmail validates req, replays a cached outcome for its idempotency key,
// joins a dispatch already in flight for the key, or dispatches it. Only
// successful outcomes are cached.
func (o *Orchestrator) SendEmail(ctx context.Context, req domain.EmailRequest) (domain.Outcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req = req.Normalize()

	ctx, span := o.tracer.Start(ctx, "dispatch.SendEmail",
		trace.WithAttributes(attribute.String("email.idempotency_key", req.IdempotencyKey)),
	)
	defer span.End()

	logger := observability.WithContextLogger(o.logger, ctx).
		With(zap.String("idempotencyKey", req.IdempotencyKey))

	if err := req.Validate(); err != nil {
		o.metrics.IncEmailFailed(domain.CodeValidation)
		markSpanError(span, err)
		return domain.Outcome{}, err
	}

	if outcome, ok := o.cache.Get(req.IdempotencyKey); ok {
		o.metrics.IncIdempotencyHit("cached")
		span.SetAttributes(attribute.Bool("email.replayed", true))
		logger.Info("returning cached outcome",
			zap.String("provider", outcome.ProviderID),
			zap.String("messageId", outcome.MessageID),
		)
		return outcome, nil
	}

	outcome, shared, err := o.cache.Do(ctx, req.IdempotencyKey, func(ctx context.Context) (domain.Outcome, error) {
		return o.dispatch(ctx, req, logger)
	})
	if shared {
		o.metrics.IncIdempotencyHit("inflight")
		span.SetAttributes(attribute.Bool("email.replayed", true))
	}
	if err != nil {
		markSpanError(span, err)
		return domain.Outcome{}, err
	}

	span.SetAttributes(
		attribute.String("email.provider", outcome.ProviderID),
		attribute.String("email.message_id", outcome.MessageID),
	)
	return outcome, nil
}

// Lookup returns the cached outcome for key, if any.
func (o *Orchestrator) Lookup(key string) (domain.Outcome, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.Outcome{}, false
	}
	return o.cache.Get(key)
}

func (o *Orchestrator) dispatch(ctx context.Context, req domain.EmailRequest, logger *zap.Logger) (domain.Outcome, error) {
	allowed, err := o.limiter.TryAcquire(ctx)
	if err != nil {
		o.metrics.IncEmailFailed(domain.CodeInternal)
		logger.Error("rate limiter check failed", zap.Error(err))
		return domain.Outcome{}, fmt.Errorf("rate limiter check failed: %w", err)
	}
	if !allowed {
		o.metrics.IncRateLimitRejected()
		o.metrics.IncEmailFailed(domain.CodeRateLimitExceeded)
		logger.Warn("rate limit exceeded")
		return domain.Outcome{}, fmt.Errorf("%w: try again later", domain.ErrRateLimitExceeded)
	}

	o.metrics.IncDispatchInFlight()
	defer o.metrics.DecDispatchInFlight()

	total := o.policy.MaxAttempts * len(o.providers)
	invocation := 0
	invoked := false
	var lastErr error

	for round := 0; round < o.policy.MaxAttempts; round++ {
		for _, p := range o.providers {
			invocation++

			resp, err := o.invoke(ctx, logger, p, req, round+1, invocation)
			if err == nil {
				outcome := o.buildOutcome(req, p.Name(), resp)
				o.metrics.IncEmailSent(outcome.ProviderID)
				logger.Info("email dispatched",
					zap.String("provider", outcome.ProviderID),
					zap.String("messageId", outcome.MessageID),
					zap.Int("invocations", invocation),
				)
				o.publish(ctx, logger, domain.DeliveryEvent{
					IdempotencyKey: req.IdempotencyKey,
					Status:         domain.DeliveryStatusSent,
					Provider:       outcome.ProviderID,
					MessageID:      outcome.MessageID,
					Attempts:       invocation,
					OccurredAt:     outcome.CompletedAt,
				})
				return outcome, nil
			}
			lastErr = err

			if ctxErr := ctx.Err(); ctxErr != nil {
				logger.Warn("dispatch aborted", zap.Int("invocations", invocation), zap.Error(ctxErr))
				return domain.Outcome{}, fmt.Errorf("dispatch aborted: %w", ctxErr)
			}

			// An open circuit skipped the call, so there is nothing to back off from.
			if errors.Is(err, domain.ErrCircuitOpen) {
				continue
			}
			invoked = true
			if invocation == total {
				continue
			}

			delay := BackoffDelay(o.policy.BaseDelay, o.policy.MaxDelay, round)
			o.metrics.ObserveRetryBackoff(delay)
			if err := o.sleep(ctx, delay); err != nil {
				logger.Warn("dispatch aborted during backoff", zap.Int("invocations", invocation), zap.Error(err))
				return domain.Outcome{}, fmt.Errorf("dispatch aborted during backoff: %w", err)
			}
		}
	}

	if invoked {
		err = fmt.Errorf("%w: %d attempts across %d providers failed, last error: %v",
			domain.ErrMaxRetriesExceeded, o.policy.MaxAttempts, len(o.providers), lastErr)
	} else {
		err = fmt.Errorf("%w: %w: every provider circuit stayed open for %d attempts",
			domain.ErrMaxRetriesExceeded, domain.ErrCircuitOpen, o.policy.MaxAttempts)
	}

	o.metrics.IncEmailFailed(domain.ErrorCode(err))
	logger.Error("email dispatch exhausted all providers",
		zap.Int("invocations", invocation),
		zap.Error(lastErr),
	)
	o.publish(ctx, logger, domain.DeliveryEvent{
		IdempotencyKey: req.IdempotencyKey,
		Status:         domain.DeliveryStatusFailed,
		Attempts:       invocation,
		Error:          err.Error(),
		OccurredAt:     o.now().UTC(),
	})

	return domain.Outcome{}, err
}

func (o *Orchestrator) invoke(
	ctx context.Context,
	logger *zap.Logger,
	p provider.Provider,
	req domain.EmailRequest,
	round int,
	invocation int,
) (*provider.ProviderResponse, error) {
	name := p.Name()
	ctx, span := o.tracer.Start(ctx, "provider.Send", trace.WithAttributes(
		attribute.String("provider", name),
		attribute.Int("dispatch.round", round),
		attribute.Int("dispatch.invocation", invocation),
	))
	defer span.End()

	var resp *provider.ProviderResponse
	call := func() error {
		var err error
		resp, err = p.Send(ctx, req)
		return err
	}

	start := o.now()
	var err error
	if o.breakers != nil {
		err = o.breakers.Execute(ctx, name, call)
	} else {
		err = call()
	}
	duration := o.now().Sub(start)

	result := provider.Classify(err)
	o.metrics.IncProviderAttempt(name, result)
	if !errors.Is(err, domain.ErrCircuitOpen) {
		o.metrics.ObserveProviderSendDuration(name, duration)
	}

	if err != nil {
		markSpanError(span, err)
		logger.Warn("provider send failed",
			zap.String("provider", name),
			zap.Int("round", round),
			zap.Int("invocation", invocation),
			zap.String("result", result),
			zap.Error(err),
		)
	}

	o.recordAttempt(ctx, logger, req.IdempotencyKey, name, round, invocation, duration, resp, err)
	return resp, err
}

func (o *Orchestrator) buildOutcome(req domain.EmailRequest, providerName string, resp *provider.ProviderResponse) domain.Outcome {
	messageID := ""
	if resp != nil {
		messageID = strings.TrimSpace(resp.MessageID)
	}
	if messageID == "" {
		messageID = uuid.NewString()
	}

	return domain.Outcome{
		IdempotencyKey: req.IdempotencyKey,
		ProviderID:     providerName,
		MessageID:      messageID,
		CompletedAt:    o.now().UTC(),
	}
}

func (o *Orchestrator) recordAttempt(
	ctx context.Context,
	logger *zap.Logger,
	key string,
	providerName string,
	round int,
	invocation int,
	duration time.Duration,
	resp *provider.ProviderResponse,
	sendErr error,
) {
	if o.attempts == nil {
		return
	}

	attempt := &domain.DeliveryAttempt{
		ID:             uuid.NewString(),
		IdempotencyKey: key,
		Provider:       providerName,
		Round:          round,
		Invocation:     invocation,
		Success:        sendErr == nil,
		Transient:      provider.IsTransient(sendErr),
		DurationMs:     duration.Milliseconds(),
		CreatedAt:      o.now().UTC(),
	}
	if resp != nil && resp.StatusCode > 0 {
		code := resp.StatusCode
		attempt.StatusCode = &code
	}
	if sendErr != nil {
		var providerErr *provider.ProviderError
		if errors.As(sendErr, &providerErr) && providerErr.StatusCode > 0 {
			code := providerErr.StatusCode
			attempt.StatusCode = &code
		}
		msg := sendErr.Error()
		attempt.Error = &msg
	}

	if err := o.attempts.Create(ctx, attempt); err != nil {
		logger.Warn("failed to record delivery attempt",
			zap.String("provider", providerName),
			zap.Int("invocation", invocation),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) publish(ctx context.Context, logger *zap.Logger, event domain.DeliveryEvent) {
	if o.events == nil {
		return
	}
	if err := o.events.Publish(ctx, event); err != nil {
		logger.Warn("failed to publish delivery event",
			zap.String("status", event.Status.String()),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) SetMetrics(metrics *observability.Metrics) {
	if o == nil {
		return
	}
	o.metrics = metrics
}

func (o *Orchestrator) SetAttemptRecorder(attempts AttemptRecorder) {
	if o == nil {
		return
	}
	o.attempts = attempts
}

func (o *Orchestrator) SetEventPublisher(events EventPublisher) {
	if o == nil {
		return
	}
	o.events = events
}

func (o *Orchestrator) SetTracer(tracer trace.Tracer) {
	if o == nil || tracer == nil {
		return
	}
	o.tracer = tracer
}

func markSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, domain.ErrorCode(err))
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
