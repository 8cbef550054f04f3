package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/kursadbilgin/email-dispatch/internal/breaker"
	"github.com/kursadbilgin/email-dispatch/internal/config"
	"github.com/kursadbilgin/email-dispatch/internal/handler"
	"github.com/kursadbilgin/email-dispatch/internal/idempotency"
	"github.com/kursadbilgin/email-dispatch/internal/infra/postgresql"
	"github.com/kursadbilgin/email-dispatch/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/email-dispatch/internal/infra/redis"
	"github.com/kursadbilgin/email-dispatch/internal/observability"
	"github.com/kursadbilgin/email-dispatch/internal/provider"
	"github.com/kursadbilgin/email-dispatch/internal/queue"
	"github.com/kursadbilgin/email-dispatch/internal/ratelimit"
	"github.com/kursadbilgin/email-dispatch/internal/repository"
	"github.com/kursadbilgin/email-dispatch/internal/service"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("email-dispatch api stopped with error", zap.Error(err))
	}
	logger.Info("email-dispatch api stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	tp := observability.NewTracerProvider(cfg.ServiceName)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		if err := observability.ShutdownTracerProvider(shutdownCtx, tp); err != nil {
			logger.Warn("tracer provider shutdown failed", zap.Error(err))
		}
	}()

	metrics := observability.NewMetrics()

	providers, err := provider.NewFromConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("provider initialization failed: %w", err)
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = infraredis.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
		defer rdb.Close()
	}

	limiter, err := newRateLimiter(cfg, rdb)
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}

	var breakers service.CircuitBreaker
	if cfg.BreakerEnabled {
		registry := breaker.NewRegistry(breaker.Config{
			FailureThreshold: uint32(cfg.BreakerFailureThreshold),
			Cooldown:         cfg.BreakerCooldown(),
		}, logger)
		registry.SetMetrics(metrics)
		breakers = registry
	}

	orchestrator, err := service.NewOrchestrator(
		providers,
		limiter,
		idempotency.New(cfg.IdempotencyCacheSize, cfg.IdempotencyTTL()),
		breakers,
		service.RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay(),
			MaxDelay:    cfg.RetryMaxDelay(),
		},
		logger,
	)
	if err != nil {
		return fmt.Errorf("orchestrator initialization failed: %w", err)
	}
	orchestrator.SetMetrics(metrics)

	var (
		sqlDB   *sql.DB
		history handler.AttemptHistory
	)
	if cfg.DatabaseDSN != "" {
		db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN)
		if err != nil {
			return fmt.Errorf("postgres initialization failed: %w", err)
		}
		if err := migrations.Migrate(db); err != nil {
			return fmt.Errorf("database migrations failed: %w", err)
		}
		sqlDB, err = db.DB()
		if err != nil {
			return fmt.Errorf("postgres underlying db init failed: %w", err)
		}
		defer sqlDB.Close()

		attempts := repository.NewGormAttemptRepo(db)
		orchestrator.SetAttemptRecorder(attempts)
		history = attempts
	}

	if cfg.RabbitMQURL != "" {
		rmq, err := queue.NewRabbitMQ(ctx, cfg.RabbitMQURL)
		if err != nil {
			return fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		publisher := queue.NewRabbitMQPublisher(rmq)
		defer publisher.Close()

		orchestrator.SetEventPublisher(publisher)
	}

	app, err := newApp(cfg, logger, metrics, orchestrator, history, sqlDB, rdb)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("email-dispatch api started",
			zap.Int("port", cfg.APIPort),
			zap.Strings("providers", names),
			zap.String("rateLimitBackend", cfg.RateLimitBackend),
			zap.Bool("breakerEnabled", cfg.BreakerEnabled),
		)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func newRateLimiter(cfg *config.Config, rdb *redis.Client) (ratelimit.RateLimiter, error) {
	switch cfg.RateLimitBackend {
	case config.RateLimitBackendRedis:
		return infraredis.NewSlidingWindowLimiter(rdb, "", cfg.RateLimitMax, cfg.RateLimitWindow())
	default:
		return ratelimit.NewSlidingWindow(cfg.RateLimitMax, cfg.RateLimitWindow())
	}
}
