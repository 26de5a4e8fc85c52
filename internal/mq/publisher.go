package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher handles event publishing to RabbitMQ
type Publisher struct {
	conn              *Connection
	channel           *amqp.Channel
	mu                sync.Mutex // amqp channels are not safe for concurrent publishing
	exchange          string
	readingRoutingKey string
	alertRoutingKey   string
	logger            *zap.Logger
}

// PublisherConfig holds publisher configuration
type PublisherConfig struct {
	Connection        *Connection
	Exchange          string
	ReadingRoutingKey string
	AlertRoutingKey   string
	Logger            *zap.Logger
}

// NewPublisher creates a new RabbitMQ publisher
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	ch, err := cfg.Connection.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	// Declare exchange
	err = ch.ExchangeDeclare(
		cfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{
		conn:              cfg.Connection,
		channel:           ch,
		exchange:          cfg.Exchange,
		readingRoutingKey: cfg.ReadingRoutingKey,
		alertRoutingKey:   cfg.AlertRoutingKey,
		logger:            cfg.Logger,
	}, nil
}

// ReadingEvent is published after a reading has been persisted
type ReadingEvent struct {
	EventID                   string             `json:"event_id"`
	DeviceID                  string             `json:"device_id"`
	DeviceClass               string             `json:"device_class"`
	ReadingID                 int64              `json:"reading_id"`
	Timestamp                 string             `json:"timestamp"`
	Values                    map[string]float64 `json:"values"`
	ComputedWithDeviceProfile bool               `json:"computed_with_device_profile,omitempty"`
	Metadata                  any                `json:"metadata,omitempty"`
}

// AlertEvent is published after an alert has been raised
type AlertEvent struct {
	EventID   string  `json:"event_id"`
	AlertID   int64   `json:"alert_id"`
	UserID    string  `json:"user_id"`
	DeviceID  string  `json:"device_id"`
	AlertType string  `json:"alert_type"`
	Severity  string  `json:"severity"`
	Message   string  `json:"message"`
	Value     float64 `json:"value"`
	RaisedAt  string  `json:"raised_at"`
}

// ReadingRoutingKey returns the routing key for readings of a device class
func ReadingRoutingKey(prefix, deviceClass string) string {
	return prefix + "." + deviceClass
}

// PublishReading publishes a reading ingested event
func (p *Publisher) PublishReading(ctx context.Context, event ReadingEvent) error {
	routingKey := ReadingRoutingKey(p.readingRoutingKey, event.DeviceClass)
	if err := p.publish(ctx, routingKey, event); err != nil {
		return err
	}

	p.logger.Debug("published reading event",
		zap.String("routing_key", routingKey),
		zap.String("device_id", event.DeviceID),
		zap.Int64("reading_id", event.ReadingID),
	)
	return nil
}

// PublishAlert publishes an alert raised event
func (p *Publisher) PublishAlert(ctx context.Context, event AlertEvent) error {
	if err := p.publish(ctx, p.alertRoutingKey, event); err != nil {
		return err
	}

	p.logger.Debug("published alert event",
		zap.String("routing_key", p.alertRoutingKey),
		zap.String("device_id", event.DeviceID),
		zap.String("alert_type", event.AlertType),
	)
	return nil
}

func (p *Publisher) publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
