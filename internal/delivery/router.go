// Package delivery pushes newly stored messages to online recipients.
//
// Delivery is best effort: a message is always durable before Deliver runs,
// so a recipient that is offline or whose connection fails to accept the
// push reads it from history on next pull. Failures are logged and counted,
// never returned.
package delivery

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/observability"
	"github.com/tbourn/go-dm-backend/internal/presence"
)

// Outcome reports whether a push reached a live connection.
type Outcome string

const (
	// Delivered means the payload was accepted by the recipient's connection.
	Delivered Outcome = "delivered"
	// Queued means the message waits in history for the next pull.
	Queued Outcome = "queued"
)

// EventMessage is the type tag of a pushed message frame.
const EventMessage = "message"

// Event is the JSON frame pushed to a recipient.
type Event struct {
	Type    string                `json:"type"`
	Message *domain.MessageRecord `json:"message,omitempty"`
}

// Locator finds a user's live connection.
type Locator interface {
	Lookup(username string) (presence.Conn, bool)
}

// Router delivers events through the presence directory.
type Router struct {
	Presence Locator
}

// NewRouter returns a Router backed by dir.
func NewRouter(dir Locator) *Router {
	return &Router{Presence: dir}
}

// Deliver pushes msg to its recipient if online.
func (r *Router) Deliver(ctx context.Context, msg *domain.MessageRecord) Outcome {
	_, span := otel.Tracer("delivery/Router").Start(ctx, "Deliver",
		trace.WithAttributes(
			attribute.Int64("message.id", int64(msg.ID)),
			attribute.String("recipient", msg.Recipient),
		),
	)
	defer span.End()

	out := r.deliver(msg)
	span.SetAttributes(attribute.String("delivery.outcome", string(out)))
	return out
}

func (r *Router) deliver(msg *domain.MessageRecord) Outcome {
	if r == nil || r.Presence == nil {
		observability.ObserveDelivery(string(Queued))
		return Queued
	}
	conn, ok := r.Presence.Lookup(msg.Recipient)
	if !ok {
		observability.ObserveDelivery(string(Queued))
		return Queued
	}

	payload, err := json.Marshal(Event{Type: EventMessage, Message: msg})
	if err != nil {
		log.Error().Err(err).Uint("message_id", msg.ID).Msg("encode push")
		observability.ObserveDelivery("push_failed")
		return Queued
	}
	if err := conn.Push(payload); err != nil {
		log.Warn().
			Err(err).
			Uint("message_id", msg.ID).
			Str("recipient", msg.Recipient).
			Msg("live push failed; message stays in history")
		observability.ObserveDelivery("push_failed")
		return Queued
	}
	observability.ObserveDelivery(string(Delivered))
	return Delivered
}
