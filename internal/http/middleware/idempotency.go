// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file validates the Idempotency-Key header sent with message
// submissions. A valid key is stashed in the Gin context for the handler,
// which passes it on to ingestion. Keys are scoped to the sender and the
// conversation; when a lookup is configured and the authenticated sender
// already used the key towards the same recipient within its TTL, the
// request is flagged as a replay so the rate limiter does not charge it
// again. Requests outside IdempotencyOptions.Applies are passed through
// untouched and never reach the store.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/rs/zerolog/log"
)

// HeaderIdempotencyKey is the request header carrying the client's key.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

var defaultIdemPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the validated key, if the request carried one.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether the key was already used by the same sender.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures key validation.
type IdempotencyOptions struct {
	// MaxLen caps the key length. Values <= 0 default to 200, which is also
	// the width of the stored column.
	MaxLen int
	// Pattern restricts allowed characters. Nil means ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
	// Applies selects the requests that take part. Nil means all.
	Applies func(*gin.Context) bool
}

// IdempotencyLookup reports whether sender already used key towards
// recipient and the bound message has not expired at now.
type IdempotencyLookup func(ctx context.Context, sender, recipient, key string, now time.Time) (bool, error)

// RouteIs matches requests routed to the given method and route pattern.
func RouteIs(method, pattern string) func(*gin.Context) bool {
	return func(c *gin.Context) bool {
		return c.Request.Method == method && c.FullPath() == pattern
	}
}

// IdempotencyValidator rejects malformed keys with 400 bad_idempotency_key
// and otherwise marks replays. Lookup errors are logged and ignored; the
// service layer performs the authoritative check inside its transaction.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultIdemPattern
	}

	return func(c *gin.Context) {
		if opts.Applies != nil && !opts.Applies(c) {
			c.Next()
			return
		}
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		// Anonymous requests are rejected later; an unreadable body is left
		// for the handler to refuse.
		if uid := userIDFromCtx(c); lookup != nil && uid != "" {
			recipient, ok := peekRecipient(c)
			if !ok {
				c.Next()
				return
			}
			exists, err := lookup(c.Request.Context(), uid, recipient, key, time.Now().UTC())
			switch {
			case err != nil:
				log.Warn().Err(err).Str("user_id", uid).Msg("idempotency lookup failed")
			case exists:
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}

		c.Next()
	}
}

// peekRecipient reads the recipient from a JSON body. The body is cached on
// the context, so handlers must bind with ShouldBindBodyWith.
func peekRecipient(c *gin.Context) (string, bool) {
	var body struct {
		Recipient string `json:"recipient"`
	}
	if err := c.ShouldBindBodyWith(&body, binding.JSON); err != nil || body.Recipient == "" {
		return "", false
	}
	return body.Recipient, true
}

// userIDFromCtx returns the username set by Authenticate, or "".
func userIDFromCtx(c *gin.Context) string {
	return CurrentUser(c)
}
