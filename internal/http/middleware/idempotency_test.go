package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

func TestHelpers_GetIdempotencyKey_IsReplay_UserIDFromCtx(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	if k, ok := GetIdempotencyKey(c); k != "" || ok {
		t.Fatalf("expected empty key when not set")
	}
	if IsReplay(c) {
		t.Fatalf("expected IsReplay=false by default")
	}

	c.Set(ctxKeyIdemKey, 123)
	if _, ok := GetIdempotencyKey(c); ok {
		t.Fatalf("expected GetIdempotencyKey to be absent for non-string value")
	}
	c.Set(ctxKeyIdemReplay, true)
	if !IsReplay(c) {
		t.Fatalf("expected IsReplay=true")
	}
	c.Set(ctxKeyIdemReplay, "yes")
	if IsReplay(c) {
		t.Fatalf("expected IsReplay=false for non-bool")
	}

	if got := userIDFromCtx(c); got != "" {
		t.Fatalf("expected no user, got %q", got)
	}
	c.Set("userID", "alice")
	if got := userIDFromCtx(c); got != "alice" {
		t.Fatalf("userIDFromCtx mismatch: %q", got)
	}
	c.Set("userID", 42)
	if got := userIDFromCtx(c); got != "" {
		t.Fatalf("wrong-type user should be ignored, got %q", got)
	}
}

func TestIdempotencyValidator_NoHeader_NoLookupCalled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	lookupCalled := false
	lookup := func(context.Context, string, string, string, time.Time) (bool, error) {
		lookupCalled = true
		return false, nil
	}
	r.Use(IdempotencyValidator(IdempotencyOptions{}, lookup))
	r.POST("/messages", func(c *gin.Context) {
		if _, ok := GetIdempotencyKey(c); ok {
			t.Fatalf("key should not be present when header missing")
		}
		c.Status(http.StatusNoContent)
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/messages", nil))

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if lookupCalled {
		t.Fatalf("lookup should not be called when header missing")
	}
}

func TestIdempotencyValidator_InvalidKey(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name string
		opts IdempotencyOptions
		key  string
	}{
		{"too long", IdempotencyOptions{MaxLen: 5}, "abcdef"},
		{"pattern", IdempotencyOptions{Pattern: regexp.MustCompile(`^[0-9]+$`)}, "abc123"},
		{"default pattern rejects spaces", IdempotencyOptions{}, "a b"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.Use(IdempotencyValidator(tc.opts, nil))
			r.POST("/messages", func(c *gin.Context) { c.Status(http.StatusOK) })

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/messages", nil)
			req.Header.Set(HeaderIdempotencyKey, tc.key)
			r.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid json: %v", err)
			}
			if body["code"] != "bad_idempotency_key" {
				t.Fatalf("unexpected body: %v", body)
			}
		})
	}
}

func TestIdempotencyValidator_AnonymousSkipsLookup(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{}, func(context.Context, string, string, string, time.Time) (bool, error) {
		t.Fatalf("lookup must not run without a user")
		return false, nil
	}))
	r.POST("/messages", func(c *gin.Context) {
		if key, ok := GetIdempotencyKey(c); !ok || key != "abc-123" {
			t.Fatalf("expected stashed key abc-123, got %q ok=%v", key, ok)
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/messages", nil)
	req.Header.Set(HeaderIdempotencyKey, "abc-123")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestIdempotencyValidator_Lookup(t *testing.T) {
	gin.SetMode(gin.TestMode)

	run := func(t *testing.T, body string, lookup IdempotencyLookup, check func(*gin.Context)) {
		t.Helper()
		r := gin.New()
		r.Use(func(c *gin.Context) { c.Set("userID", "alice"); c.Next() })
		r.Use(IdempotencyValidator(IdempotencyOptions{}, lookup))
		r.POST("/messages", func(c *gin.Context) { check(c); c.Status(http.StatusOK) })

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(body))
		req.Header.Set(HeaderIdempotencyKey, "k-9")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
	}

	t.Run("hit marks replay and bypass", func(t *testing.T) {
		run(t, `{"recipient":"bob","body":"hi"}`, func(_ context.Context, sender, recipient, key string, now time.Time) (bool, error) {
			if sender != "alice" || recipient != "bob" || key != "k-9" || now.IsZero() {
				t.Fatalf("unexpected lookup args: %q %q %q %v", sender, recipient, key, now)
			}
			return true, nil
		}, func(c *gin.Context) {
			if !IsReplay(c) || !IsRateBypass(c) {
				t.Fatalf("expected replay and bypass on hit")
			}
		})
	})

	t.Run("body stays readable downstream", func(t *testing.T) {
		run(t, `{"recipient":"bob","body":"hi"}`, func(context.Context, string, string, string, time.Time) (bool, error) {
			return false, nil
		}, func(c *gin.Context) {
			var req struct {
				Recipient string `json:"recipient"`
				Body      string `json:"body"`
			}
			if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil || req.Recipient != "bob" || req.Body != "hi" {
				t.Fatalf("downstream bind: %+v err=%v", req, err)
			}
			if IsReplay(c) || IsRateBypass(c) {
				t.Fatalf("expected no replay on miss")
			}
		})
	})

	t.Run("no recipient skips lookup", func(t *testing.T) {
		for _, body := range []string{``, `{`, `{"body":"hi"}`} {
			run(t, body, func(context.Context, string, string, string, time.Time) (bool, error) {
				t.Fatalf("lookup ran for body %q", body)
				return true, nil
			}, func(c *gin.Context) {
				if key, ok := GetIdempotencyKey(c); !ok || key != "k-9" {
					t.Fatalf("key not stashed: %q", key)
				}
			})
		}
	})

	t.Run("lookup error is not fatal", func(t *testing.T) {
		_ = captureLogger(t)
		run(t, `{"recipient":"bob"}`, func(context.Context, string, string, string, time.Time) (bool, error) {
			return true, errors.New("db down")
		}, func(c *gin.Context) {
			if IsReplay(c) {
				t.Fatalf("errors must not mark a replay")
			}
		})
	})
}

func TestIdempotencyValidator_AppliesOnlyToSelectedRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)

	lookups := 0
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("userID", "alice"); c.Next() })
	r.Use(IdempotencyValidator(
		IdempotencyOptions{Applies: RouteIs(http.MethodPost, "/api/v1/messages")},
		func(context.Context, string, string, string, time.Time) (bool, error) {
			lookups++
			return false, nil
		},
	))
	stashed := func(c *gin.Context) {
		if _, ok := GetIdempotencyKey(c); ok {
			c.Status(http.StatusAccepted)
			return
		}
		c.Status(http.StatusOK)
	}
	r.POST("/api/v1/messages", stashed)
	r.GET("/api/v1/messages", stashed)
	r.PUT("/api/v1/files", stashed)

	cases := []struct {
		method, path, key string
		want              int
	}{
		{http.MethodGet, "/api/v1/messages?username1=alice&username2=bob", "k-1", http.StatusOK},
		{http.MethodPut, "/api/v1/files?name=a.txt", "k-1", http.StatusOK},
		// malformed keys are not even inspected off-route
		{http.MethodGet, "/api/v1/messages", "not a key", http.StatusOK},
		{http.MethodPost, "/api/v1/messages", "k-1", http.StatusAccepted},
		{http.MethodPost, "/api/v1/messages", "not a key", http.StatusBadRequest},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(`{"recipient":"bob"}`))
		req.Header.Set(HeaderIdempotencyKey, tc.key)
		r.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Fatalf("%s %s key=%q: status %d, want %d", tc.method, tc.path, tc.key, w.Code, tc.want)
		}
	}
	if lookups != 1 {
		t.Fatalf("lookups = %d; want only the POST /messages one", lookups)
	}
}
