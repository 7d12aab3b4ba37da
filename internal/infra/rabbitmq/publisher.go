package rabbitmq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	routingKeyProcessing = "capture.processing"
	routingKeyStatus     = "capture.status"
)

// Publisher emits both outbound message kinds of the worker: status updates
// routed through the capture exchange and failed payloads parked on the DLQ.
// It implements port.StatusPublisher and port.DLQPublisher.
type Publisher struct {
	channel  *amqp.Channel
	exchange string
	dlqQueue string
}

func NewPublisher(conn *amqp.Connection, exchange, dlqQueue string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open publisher channel: %w", err)
	}
	return &Publisher{channel: ch, exchange: exchange, dlqQueue: dlqQueue}, nil
}

func (p *Publisher) PublishStatus(ctx context.Context, msg []byte) error {
	return p.publish(ctx, p.exchange, routingKeyStatus, amqp.Publishing{
		ContentType:  "application/json",
		Body:         msg,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
	})
}

// PublishToDLQ parks a raw message on the dead-letter queue via the default
// exchange, tagging it with the failure reason.
func (p *Publisher) PublishToDLQ(ctx context.Context, msg []byte, reason string) error {
	return p.publish(ctx, "", p.dlqQueue, amqp.Publishing{
		ContentType:  "application/json",
		Body:         msg,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers: amqp.Table{
			"x-dlq-reason": reason,
		},
	})
}

func (p *Publisher) publish(ctx context.Context, exchange, key string, pub amqp.Publishing) error {
	if err := p.channel.PublishWithContext(ctx, exchange, key, false, false, pub); err != nil {
		return fmt.Errorf("publish to %q: %w", key, err)
	}
	return nil
}
