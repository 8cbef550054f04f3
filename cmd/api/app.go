package main

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/email-dispatch/internal/config"
	"github.com/kursadbilgin/email-dispatch/internal/handler"
	"github.com/kursadbilgin/email-dispatch/internal/observability"
	"github.com/kursadbilgin/email-dispatch/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	bodyLimit    = 1 << 20
	readTimeout  = 10 * time.Second
	writeTimeout = 60 * time.Second
)

// newApp assembles the HTTP surface. history, sqlDB and rdb are optional.
func newApp(
	cfg *config.Config,
	logger *zap.Logger,
	metrics *observability.Metrics,
	emails handler.EmailService,
	history handler.AttemptHistory,
	sqlDB *sql.DB,
	rdb *redis.Client,
) (*fiber.App, error) {
	app := fiber.New(fiber.Config{
		AppName:               cfg.ServiceName,
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
		BodyLimit:             bodyLimit,
		ReadTimeout:           readTimeout,
		WriteTimeout:          writeTimeout,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(transport.RequestContext())
	app.Use(helmet.New())
	app.Use(cors.New())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	api := app.Group("/api", limiter.New(limiter.Config{
		Max:               cfg.HTTPRateLimitMax,
		Expiration:        cfg.HTTPRateLimitWindow(),
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
		LimitReached:      ipLimitReached,
	}))
	if err := handler.RegisterEmailRoutes(api, emails, history, cfg.RequireIdempotencyKey); err != nil {
		return nil, fmt.Errorf("failed to register email routes: %w", err)
	}

	return app, nil
}

func ipLimitReached(c *fiber.Ctx) error {
	return fiber.NewError(fiber.StatusTooManyRequests, "too many requests from this IP, please try again later")
}
