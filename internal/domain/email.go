package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	MaxSubjectLength        = 200
	MaxIdempotencyKeyLength = 255
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// EmailRequest is a single logical send. IdempotencyKey must stay stable
// across client retries of the same send.
type EmailRequest struct {
	To             string
	Subject        string
	Body           string
	IdempotencyKey string
}

// Normalize returns a copy with surrounding whitespace removed from every
// field except Body, which is delivered as sent.
func (r EmailRequest) Normalize() EmailRequest {
	return EmailRequest{
		To:             strings.TrimSpace(r.To),
		Subject:        strings.TrimSpace(r.Subject),
		Body:           r.Body,
		IdempotencyKey: strings.TrimSpace(r.IdempotencyKey),
	}
}

func (r EmailRequest) Validate() error {
	if r.To == "" {
		return fmt.Errorf("%w: to is required", ErrValidation)
	}
	if !emailPattern.MatchString(r.To) {
		return fmt.Errorf("%w: to must be a valid email address", ErrValidation)
	}
	if r.Subject == "" {
		return fmt.Errorf("%w: subject is required", ErrValidation)
	}
	if len([]rune(r.Subject)) > MaxSubjectLength {
		return fmt.Errorf("%w: subject exceeds %d characters", ErrValidation, MaxSubjectLength)
	}
	if strings.TrimSpace(r.Body) == "" {
		return fmt.Errorf("%w: body is required", ErrValidation)
	}
	if r.IdempotencyKey == "" {
		return fmt.Errorf("%w: idempotency key is required", ErrValidation)
	}
	if len(r.IdempotencyKey) > MaxIdempotencyKeyLength {
		return fmt.Errorf("%w: idempotency key exceeds %d characters", ErrValidation, MaxIdempotencyKeyLength)
	}
	return nil
}

// Outcome describes a completed delivery. It is immutable once cached.
type Outcome struct {
	IdempotencyKey string
	ProviderID     string
	MessageID      string
	CompletedAt    time.Time
}
