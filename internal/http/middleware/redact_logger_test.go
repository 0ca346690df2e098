package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func withCapturedLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}

type accessLine struct {
	Level     string            `json:"level"`
	RequestID string            `json:"request_id"`
	UserID    string            `json:"user_id"`
	Path      string            `json:"path"`
	Query     string            `json:"query"`
	Status    int               `json:"status"`
	Headers   map[string]string `json:"headers"`
}

func accessLines(t *testing.T, buf *bytes.Buffer) []accessLine {
	t.Helper()
	var out []accessLine
	for _, raw := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if raw == "" {
			continue
		}
		var l accessLine
		if err := json.Unmarshal([]byte(raw), &l); err != nil {
			t.Fatalf("bad log line %q: %v", raw, err)
		}
		out = append(out, l)
	}
	return out
}

func TestRedactingLogger_ScrubsHistoryQueryAndHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := withCapturedLogger(t)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Header(requestIDHeader, "rid-resp")
		c.Set("userID", "alice")
		c.Next()
	})
	r.Use(RedactingLogger(RedactOptions{MaskHeaders: []string{"X-Api-Key"}}))
	r.GET("/api/v1/messages", func(c *gin.Context) { c.Status(http.StatusOK) })

	q := "username1=alice&username2=bob.smith@example.com&ref=123e4567-e89b-12d3-a456-426614174000&cb=212-555-1212"
	req := httptest.NewRequest(http.MethodGet, "/api/v1/messages?"+q, nil)
	req.Header.Set("Authorization", "Bearer eyJ.payload.sig")
	req.Header.Set("Cookie", "sid=topsecret")
	req.Header.Set("X-Api-Key", "shhh")
	req.Header.Set("X-Forwarded-For-User", "bob@example.com")
	req.Header.Set(requestIDHeader, "rid-req")
	r.ServeHTTP(httptest.NewRecorder(), req)

	lines := accessLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("want one access line, got %d", len(lines))
	}
	l := lines[0]

	if l.Level != "info" || l.Status != http.StatusOK {
		t.Fatalf("level/status = %s/%d", l.Level, l.Status)
	}
	if l.RequestID != "rid-resp" {
		t.Fatalf("request_id = %q; response header should win", l.RequestID)
	}
	if l.UserID != "alice" || l.Path != "/api/v1/messages" {
		t.Fatalf("user/path = %q/%q", l.UserID, l.Path)
	}
	wantQuery := "username1=alice&username2=[REDACTED:email]&ref=[REDACTED:id]&cb=[REDACTED:phone]"
	if l.Query != wantQuery {
		t.Fatalf("query = %q\nwant    %q", l.Query, wantQuery)
	}
	for _, h := range []string{"Authorization", "Cookie", "X-Api-Key"} {
		if l.Headers[h] != "[REDACTED]" {
			t.Fatalf("%s = %q; want masked", h, l.Headers[h])
		}
	}
	if got := l.Headers["X-Forwarded-For-User"]; got != "[REDACTED:email]" {
		t.Fatalf("pattern redaction in header = %q", got)
	}
	if strings.Contains(buf.String(), "eyJ.payload.sig") {
		t.Fatal("bearer token leaked")
	}
}

func TestRedactingLogger_LevelByStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		status int
		level  string
	}{
		{http.StatusCreated, "info"},
		{http.StatusNotModified, "info"},
		{http.StatusGone, "warn"},
		{http.StatusTooManyRequests, "warn"},
		{http.StatusServiceUnavailable, "error"},
	}
	for _, tc := range cases {
		buf := withCapturedLogger(t)
		r := gin.New()
		r.Use(RedactingLogger(RedactOptions{}))
		r.GET("/x", func(c *gin.Context) { c.Status(tc.status) })

		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set(requestIDHeader, "rid-in")
		r.ServeHTTP(httptest.NewRecorder(), req)

		l := accessLines(t, buf)[0]
		if l.Level != tc.level {
			t.Fatalf("status %d logged at %q; want %q", tc.status, l.Level, tc.level)
		}
		if l.RequestID != "rid-in" {
			t.Fatalf("request_id fallback = %q", l.RequestID)
		}
	}
}

func TestRedactingLogger_WebSocketCredentials(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := withCapturedLogger(t)

	r := gin.New()
	r.Use(RedactingLogger(RedactOptions{MaskQuery: []string{"sig"}}))
	r.GET("/ws", func(c *gin.Context) { c.Status(http.StatusUnauthorized) })

	req := httptest.NewRequest(http.MethodGet, "/ws?token=eyJhbGciOi.abc.def&x=1&access_token=zzz&sig=s3cr3t", nil)
	req.Header.Set("Sec-WebSocket-Protocol", "bearer.eyJhbGciOi")
	r.ServeHTTP(httptest.NewRecorder(), req)

	if logs := buf.String(); strings.Contains(logs, "eyJhbGciOi") || strings.Contains(logs, "s3cr3t") || strings.Contains(logs, "zzz") {
		t.Fatalf("credential leaked into logs: %s", logs)
	}
	l := accessLines(t, buf)[0]
	if want := "token=[REDACTED]&x=1&access_token=[REDACTED]&sig=[REDACTED]"; l.Query != want {
		t.Fatalf("query = %q; want %q", l.Query, want)
	}
	if l.Headers["Sec-Websocket-Protocol"] != "[REDACTED]" {
		t.Fatalf("subprotocol header = %q", l.Headers["Sec-Websocket-Protocol"])
	}
	if l.Path != "/ws" || l.Level != "warn" {
		t.Fatalf("path/level = %q/%q", l.Path, l.Level)
	}
}
