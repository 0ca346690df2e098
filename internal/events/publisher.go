// Package events publishes domain events (message created, presence changes)
// to a RabbitMQ topic exchange. When no broker is configured, or the broker
// cannot be reached at startup, a noop publisher is used and the service runs
// unchanged.
package events

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-dm-backend/internal/observability"
)

// Routing keys.
const (
	MessageCreated  = "message.created"
	PresenceOnline  = "presence.online"
	PresenceOffline = "presence.offline"
)

// Envelope is the JSON body of every published event.
type Envelope struct {
	Type       string    `json:"type"`
	Service    string    `json:"service"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// MessagePayload describes a stored message. The body is not included.
type MessagePayload struct {
	MessageID uint   `json:"message_id"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	HasFile   bool   `json:"has_file"`
	Delivery  string `json:"delivery"`
}

// PresencePayload describes a user going online or offline.
type PresencePayload struct {
	Username string `json:"username"`
}

// Publisher publishes events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
	Close() error
}

// NewPublisher builds a RabbitMQ publisher, or a noop publisher when amqpURL
// is empty or the exchange cannot be declared.
func NewPublisher(amqpURL, exchange, service string) Publisher {
	if amqpURL == "" {
		log.Info().Msg("event bus disabled: empty AMQP_URL")
		return Noop{reason: "empty amqp url"}
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		log.Warn().Err(err).Msg("event bus disabled, using noop")
		return Noop{reason: err.Error()}
	}

	ch, err := conn.Channel()
	if err != nil {
		log.Warn().Err(err).Msg("event bus disabled, using noop")
		_ = conn.Close()
		return Noop{reason: err.Error()}
	}

	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		log.Warn().Err(err).Msg("event bus disabled, using noop")
		_ = ch.Close()
		_ = conn.Close()
		return Noop{reason: err.Error()}
	}

	log.Info().Str("exchange", exchange).Msg("event bus connected")
	return &amqpPublisher{conn: conn, ch: ch, exchange: exchange, service: service}
}

type amqpPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	service  string
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, payload any) error {
	body, err := encode(routingKey, p.service, payload)
	if err != nil {
		return err
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		observability.ObserveEventPublishError()
		log.Warn().Err(err).Str("routing_key", routingKey).Msg("event publish failed")
	}
	return err
}

func (p *amqpPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Noop discards events.
type Noop struct {
	reason string
}

// Publish logs the routing key at debug level and returns nil.
func (n Noop) Publish(_ context.Context, routingKey string, _ any) error {
	log.Debug().Str("routing_key", routingKey).Str("reason", n.reason).Msg("event dropped")
	return nil
}

// Close is a no-op.
func (Noop) Close() error { return nil }

// Mode reports the publisher mode for logging.
func Mode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case Noop, *Noop:
		return "noop"
	default:
		return "unknown"
	}
}

func encode(routingKey, service string, payload any) ([]byte, error) {
	return json.Marshal(Envelope{
		Type:       routingKey,
		Service:    service,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	})
}
