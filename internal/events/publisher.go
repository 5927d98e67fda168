package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"scentcart/internal/cart"
	"scentcart/internal/logger"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	CartUpdatedQueue = "cart.updated"

	publishTimeout = 3 * time.Second
)

// CartUpdated is the message body published on every cart change.
type CartUpdated struct {
	EventType string    `json:"eventType"`
	UserID    string    `json:"userId"`
	Reason    string    `json:"reason"`
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

// channel is the part of *amqp.Channel the publisher needs.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Publisher struct {
	ch channel
}

// Dial connects to RabbitMQ.
func Dial(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(CartUpdatedQueue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare %s: %w", CartUpdatedQueue, err)
	}

	return &Publisher{ch: ch}, nil
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}

func (p *Publisher) PublishCartUpdated(ctx context.Context, ev cart.Event) error {
	body, err := json.Marshal(CartUpdated{
		EventType: "CartUpdated",
		UserID:    ev.UserID,
		Reason:    ev.Reason,
		Count:     ev.Count,
		Timestamp: ev.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("marshal CartUpdated: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = p.ch.PublishWithContext(
		pubCtx,
		"",               // default exchange
		CartUpdatedQueue, // queue name as routing key
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    ev.OccurredAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", CartUpdatedQueue, err)
	}
	return nil
}

// Noop drops events. Used when no broker is configured.
type Noop struct{}

func (Noop) PublishCartUpdated(ctx context.Context, ev cart.Event) error {
	logger.FromCtx(ctx).Debug("cart event dropped, no broker configured",
		zap.String("user_id", ev.UserID),
		zap.String("reason", ev.Reason),
	)
	return nil
}
