// Message HTTP handlers.
//
// This file exposes the messaging endpoints:
//   - POST /messages   (send a direct message, optional attachment)
//   - GET  /messages   (conversation history between two users, ETag support)
//   - GET  /chats      (users the caller has exchanged messages with)
//
// Sending over HTTP and over the WebSocket share the same ingest pipeline;
// the response reports whether the recipient got a live push.
package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/tbourn/go-dm-backend/internal/delivery"
	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/http/middleware"
	"github.com/tbourn/go-dm-backend/internal/services"
	"github.com/tbourn/go-dm-backend/internal/utils"
)

// maxHistoryLimit caps the limit query parameter of GET /messages.
const maxHistoryLimit = 1000

//
// DTOs
//

// SendMessageRequest is the JSON payload for POST /messages.
type SendMessageRequest struct {
	// Recipient is the username of the other party.
	Recipient string `json:"recipient" binding:"required" example:"bob"`
	// Body is the message text. It may be empty only when FileID is set.
	Body string `json:"body" example:"see attached"`
	// FileID references a file uploaded with PUT /files.
	FileID *uint `json:"file_id,omitempty" example:"3"`
}

// SendMessageResponse acknowledges a stored message.
type SendMessageResponse struct {
	Message *domain.MessageRecord `json:"message"`
	// Delivery is "delivered" when the recipient was online and received the
	// push, "queued" when they will read it from history.
	Delivery delivery.Outcome `json:"delivery" example:"delivered"`
	// Replayed is true when the Idempotency-Key matched an earlier send.
	Replayed bool `json:"replayed"`
}

// HistoryResponse is a conversation, oldest message first.
type HistoryResponse struct {
	Messages []domain.HistoryEntry `json:"messages"`
}

// ChatsResponse lists the caller's chat partners.
type ChatsResponse struct {
	Partners []string `json:"partners"`
}

//
// Handlers
//

// SendMessage godoc
// @ID          sendMessage
// @Summary     Send a direct message
// @Description Stores the message and pushes it to the recipient when online.
// @Description Supports idempotency via the Idempotency-Key header, scoped to the sender and the
// @Description conversation. Reusing a key for different content is a conflict.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.SendMessageRequest  true  "Message payload"
//
// @Success     201  {object}  handlers.SendMessageResponse  "Stored"
// @Success     200  {object}  handlers.SendMessageResponse  "Replay of an earlier send"
// @Failure     400  {object}  handlers.ErrorResponse        "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse        "Unauthorized"
// @Failure     403  {object}  handlers.ErrorResponse        "File uploaded by another user"
// @Failure     409  {object}  handlers.ErrorResponse        "Idempotency key reused for different content"
// @Failure     503  {object}  handlers.ErrorResponse        "Storage unavailable"
// @Router      /messages [post]
func (h *Handlers) SendMessage(c *gin.Context) {
	// The idempotency middleware may already have read the body.
	var req SendMessageRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "recipient required")
		return
	}

	key, _ := middleware.GetIdempotencyKey(c)
	res, err := h.msgSvc.Ingest(c.Request.Context(), services.IngestRequest{
		Sender:         userID(c),
		Recipient:      req.Recipient,
		Body:           req.Body,
		FileID:         req.FileID,
		IdempotencyKey: key,
	})
	if err != nil {
		failService(c, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
		c.Header("Idempotency-Replayed", "true")
	}
	ok(c, status, SendMessageResponse{Message: res.Message, Delivery: res.Delivery, Replayed: res.Replayed})
}

// GetHistory godoc
// @ID          getHistory
// @Summary     Conversation history
// @Description Returns the newest `limit` messages between two users in ascending order.
// @Description The caller must be one of the two users. Supports weak ETag via If-None-Match.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
//
// @Param       username1      query   string  true  "First participant"   example(alice)
// @Param       username2      query   string  true  "Second participant"  example(bob)
// @Param       limit          query   int     false "Maximum number of messages"  minimum(1) maximum(1000) default(100)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
//
// @Success     200  {object} handlers.HistoryResponse
// @Header      200  {string} ETag  "Weak ETag for the conversation"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Not a participant"
// @Failure     503  {object} handlers.ErrorResponse "Storage unavailable"
// @Router      /messages [get]
func (h *Handlers) GetHistory(c *gin.Context) {
	ctx := c.Request.Context()
	me := userID(c)
	a, b := c.Query("username1"), c.Query("username2")
	limit := utils.ClampLimit(c.Query("limit"), h.maxLimit)

	entries, err := h.histSvc.GetHistory(ctx, a, b, limit, me)
	if err != nil {
		failService(c, err)
		return
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}

	// Derived from the rows being returned so tag and body always agree.
	etag := historyETag(a, b, limit, entries)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return
	}
	ok(c, http.StatusOK, HistoryResponse{Messages: entries})
}

// ListChats godoc
// @ID          listChats
// @Summary     List chat partners
// @Description Returns the usernames the caller has exchanged at least one message with.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {object} handlers.ChatsResponse
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     503  {object} handlers.ErrorResponse "Storage unavailable"
// @Router      /chats [get]
func (h *Handlers) ListChats(c *gin.Context) {
	partners, err := h.histSvc.Partners(c.Request.Context(), userID(c))
	if err != nil {
		failService(c, err)
		return
	}
	if partners == nil {
		partners = []string{}
	}
	ok(c, http.StatusOK, ChatsResponse{Partners: partners})
}

// historyETag is order-independent in the two usernames. A new message moves
// the newest id, a tombstoned attachment raises the gone count.
func historyETag(a, b string, limit int, entries []domain.HistoryEntry) string {
	x, y := domain.CanonicalPair(domain.NormalizeUsername(a), domain.NormalizeUsername(b))
	pair := strings.NewReplacer(`"`, "", "\\", "").Replace(x + ":" + y)

	var first, last uint
	gone := 0
	for i, e := range entries {
		if i == 0 {
			first = e.ID
		}
		last = e.ID
		if e.FileStatus == domain.FileGone {
			gone++
		}
	}
	return fmt.Sprintf(`W/"history:%s:%d:%d:%d-%d:%d"`, pair, limit, len(entries), first, last, gone)
}
