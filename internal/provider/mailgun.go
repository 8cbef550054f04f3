package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/kursadbilgin/email-dispatch/internal/domain"
	"github.com/mailgun/mailgun-go/v4"
)

const mailgunProviderName = "mailgun"

type mailgunAPI interface {
	Send(ctx context.Context, m *mailgun.Message) (string, string, error)
}

type MailgunProvider struct {
	client mailgunAPI
	sender string
}

func NewMailgunProvider(domainName string, apiKey string, sender string) (*MailgunProvider, error) {
	if strings.TrimSpace(domainName) == "" || strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("mailgun domain and api key are required")
	}
	return NewMailgunProviderWithClient(mailgun.NewMailgun(domainName, apiKey), sender)
}

func NewMailgunProviderWithClient(client mailgunAPI, sender string) (*MailgunProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("mailgun client is required")
	}
	if strings.TrimSpace(sender) == "" {
		return nil, fmt.Errorf("mailgun sender is required")
	}

	return &MailgunProvider{client: client, sender: strings.TrimSpace(sender)}, nil
}

func (p *MailgunProvider) Name() string {
	return mailgunProviderName
}

func (p *MailgunProvider) Send(ctx context.Context, req domain.EmailRequest) (*ProviderResponse, error) {
	message := mailgun.NewMessage(p.sender, req.Subject, req.Body, req.To)
	message.AddHeader("Idempotency-Key", req.IdempotencyKey)

	status, id, err := p.client.Send(ctx, message)
	if err != nil {
		code := mailgun.GetStatusFromErr(err)
		if code > 0 {
			return nil, &ProviderError{
				Provider:   mailgunProviderName,
				StatusCode: code,
				Message:    "mailgun rejected message",
				Transient:  isTransientHTTPStatus(code),
				Cause:      err,
			}
		}
		return nil, transientError(mailgunProviderName, "mailgun request failed", err)
	}

	return &ProviderResponse{
		StatusCode: http.StatusOK,
		Body:       status,
		MessageID:  strings.Trim(id, "<>"),
	}, nil
}
