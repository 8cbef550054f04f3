package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/email-dispatch/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

func validateEvent(event domain.DeliveryEvent) error {
	if strings.TrimSpace(event.IdempotencyKey) == "" {
		return fmt.Errorf("idempotencyKey is required")
	}
	if !event.Status.IsValid() {
		return fmt.Errorf("invalid status %q", event.Status)
	}
	if event.Status == domain.DeliveryStatusSent && strings.TrimSpace(event.Provider) == "" {
		return fmt.Errorf("provider is required for a sent event")
	}
	return nil
}

// newPublishing encodes event as a persistent JSON message.
func newPublishing(event domain.DeliveryEvent, correlationID string, now time.Time) (amqp.Publishing, error) {
	if err := validateEvent(event); err != nil {
		return amqp.Publishing{}, fmt.Errorf("invalid delivery event: %w", err)
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = now.UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal delivery event: %w", err)
	}

	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     now.UTC(),
		MessageId:     event.IdempotencyKey + ":" + strings.ToLower(event.Status.String()),
		CorrelationId: correlationID,
		Type:          RoutingKey(event.Status),
		Body:          payload,
	}, nil
}
