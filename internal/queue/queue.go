package queue

import (
	"context"
	"strings"

	"github.com/kursadbilgin/email-dispatch/internal/domain"
)

// Publisher publishes delivery events to the broker.
type Publisher interface {
	Publish(ctx context.Context, event domain.DeliveryEvent) error
	Close() error
}

const (
	// ExchangeName is the topic exchange delivery events are published to.
	ExchangeName = "email.events"
	// AuditQueueName receives every delivery event.
	AuditQueueName = "email.events.audit"

	dlxExchangeName = "email.events.dlx"
	dlqName         = "dlq.email.events"
	auditBindingKey = "email.#"
)

// RoutingKey returns the routing key for a delivery status, e.g. email.sent.
func RoutingKey(status domain.DeliveryStatus) string {
	return "email." + strings.ToLower(status.String())
}
