package provider

import (
	"context"

	"github.com/kursadbilgin/email-dispatch/internal/domain"
)

// Provider is an interchangeable email delivery backend.
type Provider interface {
	Name() string
	Send(ctx context.Context, req domain.EmailRequest) (*ProviderResponse, error)
}

// ProviderResponse stores provider call metadata for audit and outcome building.
type ProviderResponse struct {
	StatusCode int
	Body       string
	MessageID  string
}
