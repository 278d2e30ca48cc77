package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type RabbitMQEventPublisher struct {
	client *RabbitMQ
}

func NewRabbitMQEventPublisher(client *RabbitMQ) *RabbitMQEventPublisher {
	return &RabbitMQEventPublisher{client: client}
}

func (p *RabbitMQEventPublisher) PublishEvent(ctx context.Context, event AttributionEventMessage) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid attribution event: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal attribution event: %w", err)
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    event.AttributionID,
		Type:         string(event.Type),
		Body:         payload,
	}

	if err := ch.PublishWithContext(ctx, "", AttributionEventsQueue, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish event to queue %q: %w", AttributionEventsQueue, err)
	}

	return nil
}

func (p *RabbitMQEventPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
