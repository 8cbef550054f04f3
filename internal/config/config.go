package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"

	defaultProviders = "primary,secondary"
)

type Config struct {
	APIPort           int    `env:"API_PORT,default=8080"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`
	ShutdownTimeoutMs int    `env:"SHUTDOWN_TIMEOUT_MS,default=10000"`
	ServiceName       string `env:"OTEL_SERVICE_NAME,default=email-dispatch"`

	Providers        string `env:"PROVIDERS"`
	MaxAttempts      int    `env:"MAX_ATTEMPTS,default=3"`
	RetryBaseDelayMs int    `env:"RETRY_BASE_DELAY_MS,default=1000"`
	RetryMaxDelayMs  int    `env:"RETRY_MAX_DELAY_MS,default=5000"`

	RateLimitMax      int    `env:"RATE_LIMIT_MAX,default=60"`
	RateLimitWindowMs int    `env:"RATE_LIMIT_WINDOW_MS,default=60000"`
	RateLimitBackend  string `env:"RATE_LIMIT_BACKEND,default=memory"`
	RedisURL          string `env:"REDIS_URL"`

	BreakerEnabled          bool `env:"BREAKER_ENABLED,default=true"`
	BreakerFailureThreshold int  `env:"BREAKER_FAILURE_THRESHOLD,default=5"`
	BreakerCooldownMs       int  `env:"BREAKER_COOLDOWN_MS,default=30000"`

	IdempotencyCacheSize  int  `env:"IDEMPOTENCY_CACHE_SIZE,default=10000"`
	IdempotencyTTLMs      int  `env:"IDEMPOTENCY_TTL_MS,default=86400000"`
	RequireIdempotencyKey bool `env:"REQUIRE_IDEMPOTENCY_KEY,default=false"`

	HTTPRateLimitMax      int `env:"HTTP_RATE_LIMIT_MAX,default=100"`
	HTTPRateLimitWindowMs int `env:"HTTP_RATE_LIMIT_WINDOW_MS,default=900000"`

	PrimaryFailureRate   float64 `env:"PRIMARY_FAILURE_RATE,default=0.3"`
	PrimaryLatencyMs     int     `env:"PRIMARY_LATENCY_MS,default=100"`
	SecondaryFailureRate float64 `env:"SECONDARY_FAILURE_RATE,default=0.2"`
	SecondaryLatencyMs   int     `env:"SECONDARY_LATENCY_MS,default=150"`

	EmailSender    string `env:"EMAIL_SENDER,default=no-reply@example.com"`
	WebhookURL     string `env:"WEBHOOK_URL"`
	SESRegion      string `env:"SES_REGION"`
	SendGridAPIKey string `env:"SENDGRID_API_KEY"`
	MailgunDomain  string `env:"MAILGUN_DOMAIN"`
	MailgunAPIKey  string `env:"MAILGUN_API_KEY"`

	DatabaseDSN string `env:"DATABASE_DSN"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Providers == "" {
		cfg.Providers = defaultProviders
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.ProviderKinds()) == 0 {
		return fmt.Errorf("invalid config: PROVIDERS must name at least one provider")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("invalid config: MAX_ATTEMPTS must be >= 1")
	}
	if c.RetryBaseDelayMs < 0 || c.RetryMaxDelayMs < c.RetryBaseDelayMs {
		return fmt.Errorf("invalid config: retry delays must satisfy 0 <= RETRY_BASE_DELAY_MS <= RETRY_MAX_DELAY_MS")
	}
	if c.RateLimitMax < 1 || c.RateLimitWindowMs < 1 {
		return fmt.Errorf("invalid config: RATE_LIMIT_MAX and RATE_LIMIT_WINDOW_MS must be positive")
	}
	switch c.RateLimitBackend {
	case RateLimitBackendMemory:
	case RateLimitBackendRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("invalid config: REDIS_URL is required when RATE_LIMIT_BACKEND=redis")
		}
	default:
		return fmt.Errorf("invalid config: unknown RATE_LIMIT_BACKEND %q", c.RateLimitBackend)
	}
	if c.BreakerEnabled && (c.BreakerFailureThreshold < 1 || c.BreakerCooldownMs < 1) {
		return fmt.Errorf("invalid config: breaker threshold and cooldown must be positive")
	}
	if c.IdempotencyCacheSize < 1 {
		return fmt.Errorf("invalid config: IDEMPOTENCY_CACHE_SIZE must be >= 1")
	}
	return nil
}

// ProviderKinds returns the ordered failover list.
func (c *Config) ProviderKinds() []string {
	kinds := make([]string, 0, 2)
	for _, part := range strings.Split(c.Providers, ",") {
		if kind := strings.ToLower(strings.TrimSpace(part)); kind != "" {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMs) * time.Millisecond
}

func (c *Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.RetryMaxDelayMs) * time.Millisecond
}

func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowMs) * time.Millisecond
}

func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.BreakerCooldownMs) * time.Millisecond
}

func (c *Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLMs) * time.Millisecond
}

func (c *Config) HTTPRateLimitWindow() time.Duration {
	return time.Duration(c.HTTPRateLimitWindowMs) * time.Millisecond
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMs) * time.Millisecond
}
