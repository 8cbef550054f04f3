package domain

import (
	"fmt"
	"strings"
	"time"
)

type DeliveryStatus string

const (
	DeliveryStatusSent   DeliveryStatus = "SENT"
	DeliveryStatusFailed DeliveryStatus = "FAILED"
)

func (s DeliveryStatus) String() string {
	return string(s)
}

func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliveryStatusSent, DeliveryStatusFailed:
		return true
	}
	return false
}

func ParseDeliveryStatusFromString(s string) (DeliveryStatus, error) {
	status := DeliveryStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !status.IsValid() {
		return "", fmt.Errorf("%w: invalid delivery status %q", ErrValidation, s)
	}
	return status, nil
}

// DeliveryEvent announces the terminal result of a dispatch.
type DeliveryEvent struct {
	IdempotencyKey string         `json:"idempotencyKey"`
	Status         DeliveryStatus `json:"status"`
	Provider       string         `json:"provider,omitempty"`
	MessageID      string         `json:"messageId,omitempty"`
	Attempts       int            `json:"attempts"`
	Error          string         `json:"error,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
}
