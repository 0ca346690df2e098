// Package services – MessageService
//
// This file implements MessageService, the ingest pipeline for direct
// messages. It validates the request, persists the message together with its
// pairing and links in one transaction, and only after commit hands the
// stored message to the delivery router and the event bus.
//
// A message is durable before anyone is told about it: a live push or an
// acknowledgement never refers to a message that could still roll back.
//
// Observability: Ingest is OpenTelemetry-instrumented and counted in the
// dm_ingest_total metric.

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/delivery"
	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/events"
	"github.com/tbourn/go-dm-backend/internal/observability"
	"github.com/tbourn/go-dm-backend/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultIdempotencyTTL = 24 * time.Hour

// Deliverer pushes a stored message to its recipient.
type Deliverer interface {
	Deliver(ctx context.Context, msg *domain.MessageRecord) delivery.Outcome
}

// AccountLookup reports whether a username is registered.
type AccountLookup interface {
	Exists(ctx context.Context, username string) (bool, error)
}

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// IngestRequest is one sendMessage call. FileID references a previously
// uploaded file. IdempotencyKey is optional.
type IngestRequest struct {
	Sender         string
	Recipient      string
	Body           string
	FileID         *uint
	IdempotencyKey string
}

// IngestResult is the outcome of a successful ingest. Replayed is set when
// the idempotency key matched an earlier send; no push happens in that case
// and Delivery is Queued.
type IngestResult struct {
	Message  *domain.MessageRecord
	Delivery delivery.Outcome
	Replayed bool
}

// MessageService accepts messages from authenticated senders.
type MessageService struct {
	DB     *gorm.DB
	Router Deliverer

	// Optional collaborators
	Accounts AccountLookup
	Events   EventPublisher

	// MaxBodyRunes caps the message body; 0 disables the check.
	MaxBodyRunes int
	// IdempotencyTTL is how long a key stays bound to its message.
	IdempotencyTTL time.Duration
}

// NewMessageService constructs a MessageService with default limits.
func NewMessageService(db *gorm.DB, router Deliverer) *MessageService {
	return &MessageService{
		DB:             db,
		Router:         router,
		MaxBodyRunes:   4000,
		IdempotencyTTL: defaultIdempotencyTTL,
	}
}

// errReplay aborts a transaction whose idempotency key was claimed
// concurrently.
var errReplay = errors.New("idempotency key already used")

// Ingest validates, persists and delivers one message.
func (s *MessageService) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Ingest",
		trace.WithAttributes(
			attribute.String("sender", req.Sender),
			attribute.String("recipient", req.Recipient),
			attribute.Bool("has_file", req.FileID != nil),
			attribute.Bool("has_idempotency_key", req.IdempotencyKey != ""),
		),
	)
	defer span.End()

	res, err := s.ingest(ctx, req)
	switch {
	case err == nil && res.Replayed:
		observability.ObserveIngest("replayed")
	case err == nil:
		observability.ObserveIngest("ok")
		span.SetAttributes(
			attribute.Int64("message.id", int64(res.Message.ID)),
			attribute.String("delivery.outcome", string(res.Delivery)),
		)
	case errors.Is(err, ErrPersistence):
		observability.ObserveIngest("failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "persistence failure")
	default:
		observability.ObserveIngest("invalid")
	}
	return res, err
}

func (s *MessageService) ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	sender := domain.NormalizeUsername(req.Sender)
	recipient := domain.NormalizeUsername(req.Recipient)
	body := strings.TrimSpace(req.Body)
	key := strings.TrimSpace(req.IdempotencyKey)

	switch {
	case sender == "":
		return nil, fmt.Errorf("%w: sender is required", ErrInvalidRequest)
	case recipient == "":
		return nil, fmt.Errorf("%w: recipient is required", ErrInvalidRequest)
	case sender == recipient:
		return nil, fmt.Errorf("%w: cannot message yourself", ErrInvalidRequest)
	case body == "" && req.FileID == nil:
		return nil, fmt.Errorf("%w: body is empty and no file is attached", ErrInvalidRequest)
	case s.MaxBodyRunes > 0 && utf8.RuneCountInString(body) > s.MaxBodyRunes:
		return nil, fmt.Errorf("%w: body exceeds %d characters", ErrInvalidRequest, s.MaxBodyRunes)
	}

	if s.Accounts != nil {
		ok, err := s.Accounts.Exists(ctx, recipient)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: unknown recipient %q", ErrInvalidRequest, recipient)
		}
	}

	userA, userB := domain.CanonicalPair(sender, recipient)
	scope := idemScope{sender: sender, userA: userA, userB: userB, key: key}

	if key != "" {
		if rec, err := s.replay(ctx, scope, body, req.FileID); err != nil || rec != nil {
			return rec, err
		}
	}

	ttl := s.IdempotencyTTL
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}

	var stored *domain.MessageRecord
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if req.FileID != nil {
			if err := checkAttachable(ctx, tx, *req.FileID, sender); err != nil {
				return err
			}
		}

		m, err := repo.CreateMessage(ctx, tx, sender, body)
		if err != nil {
			return err
		}
		if err := repo.UpsertPairing(ctx, tx, userA, userB); err != nil {
			return err
		}
		if err := repo.CreateChatMessageLink(ctx, tx, m.ID, userA, userB); err != nil {
			return err
		}
		if req.FileID != nil {
			if err := repo.CreateFileMessageLink(ctx, tx, *req.FileID, m.ID); err != nil {
				if errors.Is(err, repo.ErrDuplicate) {
					return fmt.Errorf("%w: file %d is already attached to a message", ErrInvalidRequest, *req.FileID)
				}
				return err
			}
		}
		if key != "" {
			if _, err := repo.CreateIdempotency(ctx, tx, sender, userA, userB, key, m.ID, ttl); err != nil {
				if errors.Is(err, repo.ErrDuplicate) {
					return errReplay
				}
				return err
			}
		}

		stored, err = repo.GetMessageRecord(ctx, tx, m.ID)
		return err
	})
	switch {
	case errors.Is(err, errReplay):
		rec, rerr := s.replay(ctx, scope, body, req.FileID)
		if rerr != nil {
			return nil, rerr
		}
		if rec == nil {
			return nil, fmt.Errorf("%w: idempotency record vanished", ErrPersistence)
		}
		return rec, nil
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrForbidden):
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	outcome := delivery.Queued
	if s.Router != nil {
		outcome = s.Router.Deliver(ctx, stored)
	}
	s.publish(ctx, stored, outcome)

	return &IngestResult{Message: stored, Delivery: outcome}, nil
}

// idemScope identifies an idempotency key: the sender and the conversation,
// pair in canonical order.
type idemScope struct {
	sender, userA, userB, key string
}

// replay returns the message bound to the key in scope, or nil when the key
// is unused or expired. A key bound to a message with a different body or
// attachment is a conflict: the earlier message is not what the caller is
// sending now.
func (s *MessageService) replay(ctx context.Context, sc idemScope, body string, fileID *uint) (*IngestResult, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, sc.sender, sc.userA, sc.userB, sc.key, time.Now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	msg, err := repo.GetMessageRecord(ctx, s.DB, rec.MessageID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if msg.Body != body || !sameFile(msg.FileID, fileID) {
		return nil, fmt.Errorf("%w: idempotency key %q was used for message %d with different content", ErrConflict, sc.key, msg.ID)
	}
	return &IngestResult{Message: msg, Delivery: delivery.Queued, Replayed: true}, nil
}

func sameFile(a, b *uint) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// checkAttachable rejects file ids that were never issued, were tombstoned,
// belong to another uploader, or are already attached to a message.
func checkAttachable(ctx context.Context, tx *gorm.DB, fileID uint, sender string) error {
	f, err := repo.FileMeta(ctx, tx, fileID)
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%w: file %d does not exist", ErrInvalidRequest, fileID)
	}
	if err != nil {
		return err
	}
	if f.Status() == domain.FileDeleted {
		return fmt.Errorf("%w: file %d was deleted", ErrInvalidRequest, fileID)
	}
	if f.Uploader != sender {
		return fmt.Errorf("%w: file %d was uploaded by another user", ErrForbidden, fileID)
	}
	linked, err := repo.FileLinked(ctx, tx, fileID)
	if err != nil {
		return err
	}
	if linked {
		return fmt.Errorf("%w: file %d is already attached to a message", ErrInvalidRequest, fileID)
	}
	return nil
}

func (s *MessageService) publish(ctx context.Context, msg *domain.MessageRecord, outcome delivery.Outcome) {
	if s.Events == nil {
		return
	}
	err := s.Events.Publish(ctx, events.MessageCreated, events.MessagePayload{
		MessageID: msg.ID,
		Sender:    msg.Sender,
		Recipient: msg.Recipient,
		HasFile:   msg.FileID != nil,
		Delivery:  string(outcome),
	})
	if err != nil {
		log.Warn().Err(err).Uint("message_id", msg.ID).Msg("publish message.created")
	}
}
