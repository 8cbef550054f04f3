package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/kursadbilgin/email-dispatch/internal/domain"
)

const sesProviderName = "ses"

type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESProvider delivers through Amazon SES using the default AWS credential chain.
type SESProvider struct {
	client sesAPI
	sender string
}

func NewSESProvider(ctx context.Context, region string, sender string) (*SESProvider, error) {
	if strings.TrimSpace(region) == "" {
		return nil, fmt.Errorf("ses region is required")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return NewSESProviderWithClient(ses.NewFromConfig(cfg), sender)
}

func NewSESProviderWithClient(client sesAPI, sender string) (*SESProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("ses client is required")
	}
	if strings.TrimSpace(sender) == "" {
		return nil, fmt.Errorf("ses sender is required")
	}

	return &SESProvider{client: client, sender: strings.TrimSpace(sender)}, nil
}

func (p *SESProvider) Name() string {
	return sesProviderName
}

func (p *SESProvider) Send(ctx context.Context, req domain.EmailRequest) (*ProviderResponse, error) {
	output, err := p.client.SendEmail(ctx, &ses.SendEmailInput{
		Source: aws.String(p.sender),
		Destination: &types.Destination{
			ToAddresses: []string{req.To},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(req.Subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(req.Body)},
			},
		},
	})
	if err != nil {
		if isPermanentSESError(err) {
			return nil, &ProviderError{
				Provider: sesProviderName,
				Message:  "message rejected",
				Cause:    err,
			}
		}
		return nil, transientError(sesProviderName, "send email failed", err)
	}

	return &ProviderResponse{
		StatusCode: 200,
		MessageID:  aws.ToString(output.MessageId),
	}, nil
}

func isPermanentSESError(err error) bool {
	var rejected *types.MessageRejected
	if errors.As(err, &rejected) {
		return true
	}
	var unverified *types.MailFromDomainNotVerifiedException
	return errors.As(err, &unverified)
}
