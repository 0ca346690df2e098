package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-dm-backend/internal/events"
	"github.com/tbourn/go-dm-backend/internal/http/middleware"
	"github.com/tbourn/go-dm-backend/internal/observability"
	"github.com/tbourn/go-dm-backend/internal/presence"
	"github.com/tbourn/go-dm-backend/internal/services"
)

// Error codes carried by error frames.
const (
	codeBadRequest  = "bad_request"
	codeForbidden   = "forbidden"
	codeNotFound    = "not_found"
	codeGone        = "gone"
	codeConflict    = "conflict"
	codePersistence = "persistence_failed"
	codeInternal    = "internal_error"
)

// Ingester stores and routes a message.
type Ingester interface {
	Ingest(ctx context.Context, req services.IngestRequest) (*services.IngestResult, error)
}

// Publisher emits presence events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// Registry is the presence directory as seen by the transport.
type Registry interface {
	Register(username string, conn presence.Conn) presence.Conn
	Unregister(username string, conn presence.Conn) bool
}

// Handler upgrades authenticated requests to WebSocket connections.
type Handler struct {
	Presence Registry
	Messages Ingester
	Events   Publisher // optional

	// AllowedOrigins restricts browser origins; empty allows any.
	AllowedOrigins []string
	SendBuffer     int
	MaxFrameBytes  int64

	upgrader websocket.Upgrader
}

// NewHandler builds a Handler with default limits.
func NewHandler(dir Registry, msgs Ingester, pub Publisher) *Handler {
	return &Handler{
		Presence:      dir,
		Messages:      msgs,
		Events:        pub,
		SendBuffer:    defaultSendBuffer,
		MaxFrameBytes: defaultMaxFrameBytes,
	}
}

// Serve is the gin handler for GET /ws. It must run behind
// middleware.RequireAuth; the username comes from the verified token.
func (h *Handler) Serve(c *gin.Context) {
	username := middleware.CurrentUser(c)
	if username == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	up := h.upgrader
	up.ReadBufferSize, up.WriteBufferSize = 4096, 4096
	up.CheckOrigin = h.checkOrigin
	conn, err := up.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		middleware.LoggerFrom(c).Warn().Err(err).Msg("ws upgrade failed")
		observability.ObserveWSConnection("rejected")
		return
	}

	client := newClient(h, conn, username, h.SendBuffer)
	h.run(client)
}

// run registers client, pumps until it disconnects, and cleans up. It blocks
// for the lifetime of the connection.
func (h *Handler) run(client *Client) {
	if prev := h.Presence.Register(client.username, client); prev != nil {
		if old, ok := prev.(*Client); ok {
			old.supersede()
			observability.ObserveWSConnection("superseded")
		}
	}
	observability.ObserveWSConnection("opened")
	h.publish(events.PresenceOnline, client.username)
	client.log.Info().Msg("ws connected")

	go client.writePump()
	client.readPump(h.MaxFrameBytes)

	client.Close(websocket.CloseNormalClosure, "")
	observability.ObserveWSConnection("closed")
	if h.Presence.Unregister(client.username, client) {
		h.publish(events.PresenceOffline, client.username)
	}
	client.log.Info().Msg("ws disconnected")
}

func (h *Handler) ingest(ctx context.Context, sender string, f ClientFrame) (AckFrame, *ErrorFrame) {
	res, err := h.Messages.Ingest(ctx, services.IngestRequest{
		Sender:         sender,
		Recipient:      f.Recipient,
		Body:           f.Body,
		FileID:         f.FileID,
		IdempotencyKey: f.IdempotencyKey,
	})
	if err != nil {
		code, msg := errorCode(err)
		if code == codeInternal || code == codePersistence {
			h.logger().Error().Err(err).Str("user_id", sender).Msg("ws send failed")
		}
		return AckFrame{}, &ErrorFrame{Type: FrameError, ID: f.ID, Code: code, Message: msg}
	}
	return AckFrame{
		Type:      FrameAck,
		ID:        f.ID,
		MessageID: res.Message.ID,
		Delivery:  string(res.Delivery),
		Replayed:  res.Replayed,
	}, nil
}

func (h *Handler) publish(key, username string) {
	if h.Events == nil {
		return
	}
	if err := h.Events.Publish(context.Background(), key, events.PresencePayload{Username: username}); err != nil {
		h.logger().Warn().Err(err).Str("routing_key", key).Msg("presence event not published")
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if len(h.AllowedOrigins) == 0 || origin == "" {
		return true
	}
	for _, o := range h.AllowedOrigins {
		if strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func (h *Handler) logger() *zerolog.Logger {
	l := log.With().Str("component", "ws").Logger()
	return &l
}

func errorCode(err error) (string, string) {
	switch {
	case errors.Is(err, services.ErrInvalidRequest):
		return codeBadRequest, err.Error()
	case errors.Is(err, services.ErrForbidden):
		return codeForbidden, err.Error()
	case errors.Is(err, services.ErrNotFound):
		return codeNotFound, err.Error()
	case errors.Is(err, services.ErrGone):
		return codeGone, err.Error()
	case errors.Is(err, services.ErrConflict):
		return codeConflict, err.Error()
	case errors.Is(err, services.ErrPersistence):
		return codePersistence, "storage unavailable, retry later"
	default:
		return codeInternal, "internal server error"
	}
}
