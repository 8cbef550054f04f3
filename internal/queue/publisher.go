package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/email-dispatch/internal/domain"
	"github.com/kursadbilgin/email-dispatch/internal/observability"
)

const defaultPublishTimeout = 2 * time.Second

type RabbitMQPublisher struct {
	client  *RabbitMQ
	timeout time.Duration
	now     func() time.Time
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{
		client:  client,
		timeout: defaultPublishTimeout,
		now:     time.Now,
	}
}

// Publish sends event to the events exchange. The publish outlives caller
// cancellation but is bounded by the publisher timeout.
func (p *RabbitMQPublisher) Publish(ctx context.Context, event domain.DeliveryEvent) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}

	correlationID, _ := observability.RequestIDFromContext(ctx)
	publishing, err := newPublishing(event, correlationID, p.now())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	routingKey := RoutingKey(event.Status)
	if err := ch.PublishWithContext(ctx, ExchangeName, routingKey, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish delivery event %q: %w", routingKey, err)
	}

	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
