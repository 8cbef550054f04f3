package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/email-dispatch/internal/domain"
)

const (
	webhookProviderName   = "webhook"
	defaultWebhookTimeout = 10 * time.Second
)

type webhookRequest struct {
	From           string `json:"from,omitempty"`
	To             string `json:"to"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// WebhookProvider posts emails as JSON to an HTTP relay endpoint.
type WebhookProvider struct {
	client   *resty.Client
	endpoint string
	sender   string
}

func NewWebhookProvider(endpoint string, sender string) (*WebhookProvider, error) {
	client := resty.New()
	client.SetTimeout(defaultWebhookTimeout)
	client.SetRetryCount(0)

	return NewWebhookProviderWithClient(endpoint, sender, client)
}

func NewWebhookProviderWithClient(endpoint string, sender string, client *resty.Client) (*WebhookProvider, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("webhook endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid webhook endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	// Retries belong to the orchestrator.
	client.SetRetryCount(0)

	return &WebhookProvider{
		client:   client,
		endpoint: trimmedEndpoint,
		sender:   strings.TrimSpace(sender),
	}, nil
}

func (p *WebhookProvider) Name() string {
	return webhookProviderName
}

func (p *WebhookProvider) Send(ctx context.Context, req domain.EmailRequest) (*ProviderResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Idempotency-Key", req.IdempotencyKey).
		SetBody(webhookRequest{
			From:           p.sender,
			To:             req.To,
			Subject:        req.Subject,
			Body:           req.Body,
			IdempotencyKey: req.IdempotencyKey,
		}).
		Post(p.endpoint)
	if err != nil {
		return nil, transientError(webhookProviderName, "provider request failed", err)
	}
	if response == nil {
		return nil, &ProviderError{
			Provider:  webhookProviderName,
			Message:   "provider returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &ProviderResponse{
			StatusCode: statusCode,
			Body:       responseBody,
			MessageID:  providerMessageID(response.Header()),
		}, nil
	}

	return nil, &ProviderError{
		Provider:   webhookProviderName,
		StatusCode: statusCode,
		Message:    providerErrorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusRequestTimeout ||
		(statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func providerErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("provider returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func providerMessageID(header http.Header) string {
	for _, key := range []string{"X-Message-Id", "X-Request-Id", "X-Correlation-Id"} {
		if value := strings.TrimSpace(header.Get(key)); value != "" {
			return value
		}
	}

	return ""
}
