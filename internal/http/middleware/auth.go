// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements bearer-token authentication. Authenticate runs on every
// request: it resolves the caller from the Authorization header (or a "token"
// query parameter, which browsers need for WebSocket upgrades) and stores the
// username under the "userID" context key read by logging, rate limiting and
// handlers. RequireAuth rejects requests that did not authenticate.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dm-backend/internal/auth"
)

const (
	ctxKeyUserID      = "userID"
	ctxKeyAuthExpired = "auth.expired"
)

// TokenVerifier validates a bearer token.
type TokenVerifier interface {
	Verify(token string) auth.Verification
}

// Authenticate resolves the caller's identity when a token is presented.
// It never rejects a request on its own.
func Authenticate(v TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := BearerToken(c.Request)
		if tok == "" || v == nil {
			c.Next()
			return
		}
		res := v.Verify(tok)
		switch {
		case res.Valid:
			c.Set(ctxKeyUserID, res.Username)
		case res.Expired:
			c.Set(ctxKeyAuthExpired, true)
		}
		c.Next()
	}
}

// RequireAuth aborts with 401 unless Authenticate identified the caller.
// An expired token is reported with code "token_expired".
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CurrentUser(c) != "" {
			c.Next()
			return
		}
		code, msg := "unauthorized", "authentication required"
		if c.GetBool(ctxKeyAuthExpired) {
			code, msg = "token_expired", "token expired"
		}
		c.Header("WWW-Authenticate", `Bearer realm="api"`)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       code,
			"message":    msg,
		})
	}
}

// CurrentUser returns the authenticated username or "".
func CurrentUser(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyUserID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// BearerToken extracts the token from "Authorization: Bearer <t>" or, when
// the header is absent, from the "token" query parameter.
func BearerToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		const prefix = "bearer "
		if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
			return strings.TrimSpace(h[len(prefix):])
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
