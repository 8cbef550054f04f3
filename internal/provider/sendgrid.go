package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/kursadbilgin/email-dispatch/internal/domain"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const sendGridProviderName = "sendgrid"

type sendGridAPI interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

type SendGridProvider struct {
	client sendGridAPI
	sender string
}

func NewSendGridProvider(apiKey string, sender string) (*SendGridProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("sendgrid api key is required")
	}
	return NewSendGridProviderWithClient(sendgrid.NewSendClient(apiKey), sender)
}

func NewSendGridProviderWithClient(client sendGridAPI, sender string) (*SendGridProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("sendgrid client is required")
	}
	if strings.TrimSpace(sender) == "" {
		return nil, fmt.Errorf("sendgrid sender is required")
	}

	return &SendGridProvider{client: client, sender: strings.TrimSpace(sender)}, nil
}

func (p *SendGridProvider) Name() string {
	return sendGridProviderName
}

func (p *SendGridProvider) Send(ctx context.Context, req domain.EmailRequest) (*ProviderResponse, error) {
	message := mail.NewSingleEmail(
		mail.NewEmail("", p.sender),
		req.Subject,
		mail.NewEmail("", req.To),
		req.Body,
		"",
	)
	message.SetHeader("Idempotency-Key", req.IdempotencyKey)

	response, err := p.client.SendWithContext(ctx, message)
	if err != nil {
		return nil, transientError(sendGridProviderName, "sendgrid request failed", err)
	}
	if response == nil {
		return nil, &ProviderError{
			Provider:  sendGridProviderName,
			Message:   "provider returned empty response",
			Transient: true,
		}
	}

	body := strings.TrimSpace(response.Body)
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return nil, &ProviderError{
			Provider:   sendGridProviderName,
			StatusCode: response.StatusCode,
			Message:    providerErrorMessage(response.StatusCode, body),
			Transient:  isTransientHTTPStatus(response.StatusCode),
		}
	}

	return &ProviderResponse{
		StatusCode: response.StatusCode,
		Body:       body,
		MessageID:  providerMessageID(http.Header(response.Headers)),
	}, nil
}
