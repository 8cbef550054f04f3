package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/email-dispatch/internal/config"
)

const (
	KindPrimary   = "primary"
	KindSecondary = "secondary"
	KindWebhook   = "webhook"
	KindSES       = "ses"
	KindSendGrid  = "sendgrid"
	KindMailgun   = "mailgun"
)

// New builds the backend registered under kind.
func New(ctx context.Context, kind string, cfg *config.Config) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	switch kind {
	case KindPrimary:
		return NewSimulatedProvider(KindPrimary,
			WithLatency(time.Duration(cfg.PrimaryLatencyMs)*time.Millisecond),
			WithFailureRate(cfg.PrimaryFailureRate),
		)
	case KindSecondary:
		return NewSimulatedProvider(KindSecondary,
			WithLatency(time.Duration(cfg.SecondaryLatencyMs)*time.Millisecond),
			WithFailureRate(cfg.SecondaryFailureRate),
		)
	case KindWebhook:
		return NewWebhookProvider(cfg.WebhookURL, cfg.EmailSender)
	case KindSES:
		return NewSESProvider(ctx, cfg.SESRegion, cfg.EmailSender)
	case KindSendGrid:
		return NewSendGridProvider(cfg.SendGridAPIKey, cfg.EmailSender)
	case KindMailgun:
		return NewMailgunProvider(cfg.MailgunDomain, cfg.MailgunAPIKey, cfg.EmailSender)
	default:
		return nil, fmt.Errorf("unknown provider kind %q", kind)
	}
}

// NewFromConfig builds the ordered failover list named by PROVIDERS.
func NewFromConfig(ctx context.Context, cfg *config.Config) ([]Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	kinds := cfg.ProviderKinds()
	providers := make([]Provider, 0, len(kinds))
	seen := make(map[string]struct{}, len(kinds))
	for _, kind := range kinds {
		if _, dup := seen[kind]; dup {
			return nil, fmt.Errorf("provider %q listed more than once", kind)
		}
		seen[kind] = struct{}{}

		p, err := New(ctx, kind, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to build provider %q: %w", kind, err)
		}
		providers = append(providers, p)
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}

	return providers, nil
}
