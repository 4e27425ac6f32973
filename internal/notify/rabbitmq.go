package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// ExchangeName is the topic exchange notifications are published to.
	ExchangeName = "pulse.notifications"

	// routingKey routes by notification type.
	routingKeyPrefix = "pulse.notify."
)

// RabbitMQSink publishes notifications to a RabbitMQ topic exchange.
// The websocket/email fan-out on the other side is out of scope.
type RabbitMQSink struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
	mu      sync.Mutex
}

// NewRabbitMQSink connects and declares the exchange.
func NewRabbitMQSink(url string, logger *slog.Logger) (*RabbitMQSink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		ExchangeName, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	logger.Info("RabbitMQ notification sink connected", "exchange", ExchangeName)

	return &RabbitMQSink{conn: conn, channel: ch, logger: logger}, nil
}

// Notify publishes the notification with a type-based routing key.
func (s *RabbitMQSink) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.channel.PublishWithContext(ctx,
		ExchangeName,
		routingKeyPrefix+n.Type,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         payload,
		},
	)
	if err != nil {
		s.logger.Error("failed to publish notification",
			"user_id", n.UserID,
			"type", n.Type,
			"error", err,
		)
		return err
	}

	s.logger.Debug("notification published",
		"user_id", n.UserID,
		"type", n.Type,
		"reference_id", n.ReferenceID,
	)
	return nil
}

// Close closes the channel and connection.
func (s *RabbitMQSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channel != nil {
		if err := s.channel.Close(); err != nil {
			s.logger.Warn("error closing channel", "error", err)
		}
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			return err
		}
	}
	s.logger.Info("RabbitMQ notification sink closed")
	return nil
}
