package events

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/vipul43/leadsync/internal/service"
)

const (
	ExchangeName            = "ex.leads"
	RoutingKeySyncCompleted = "lead.sync.completed"
)

// AMQPPublisher publishes sync results to a durable topic exchange
type AMQPPublisher struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPPublisher(amqpURL string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &AMQPPublisher{conn: conn, ch: ch}, nil
}

// NotifySyncCompleted implements service.Notifier
func (p *AMQPPublisher) NotifySyncCompleted(ctx context.Context, event service.SyncCompletedEvent) error {
	msg, err := syncCompletedMessage(event)
	if err != nil {
		return err
	}

	if err := p.ch.PublishWithContext(ctx, ExchangeName, RoutingKeySyncCompleted, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish sync event: %w", err)
	}
	return nil
}

func syncCompletedMessage(event service.SyncCompletedEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal sync event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.RunID,
		Timestamp:    event.FinishedAt,
		Type:         RoutingKeySyncCompleted,
		Headers:      amqp.Table{"agency_id": event.AgencyID},
		Body:         body,
	}, nil
}

func (p *AMQPPublisher) Close() error {
	if err := p.ch.Close(); err != nil {
		_ = p.conn.Close()
		return err
	}
	return p.conn.Close()
}
