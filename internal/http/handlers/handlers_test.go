package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/services"
)

// ---------- test plumbing ----------

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}

// asUser mimics middleware.Authenticate for a fixed caller.
func asUser(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if name != "" {
			c.Set("userID", name)
		}
		c.Next()
	}
}

func newEngine(user string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Header("X-Request-ID", "rid-test"); c.Next() })
	r.Use(asUser(user))
	return r
}

func do(r http.Handler, method, target string, body io.Reader, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeErr(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return er
}

// ---------- stubs ----------

type stubIngester struct {
	fn   func(ctx context.Context, req services.IngestRequest) (*services.IngestResult, error)
	last services.IngestRequest
}

func (s *stubIngester) Ingest(ctx context.Context, req services.IngestRequest) (*services.IngestResult, error) {
	s.last = req
	return s.fn(ctx, req)
}

type stubHistory struct {
	history  func(ctx context.Context, a, b string, limit int, requester string) ([]domain.HistoryEntry, error)
	partners func(ctx context.Context, requester string) ([]string, error)
}

func (s stubHistory) GetHistory(ctx context.Context, a, b string, limit int, requester string) ([]domain.HistoryEntry, error) {
	return s.history(ctx, a, b, limit, requester)
}

func (s stubHistory) Partners(ctx context.Context, requester string) ([]string, error) {
	return s.partners(ctx, requester)
}

type stubFiles struct {
	upload   func(ctx context.Context, uploader, filename string, content []byte) (*domain.File, error)
	download func(ctx context.Context, id uint) (*domain.File, error)
	del      func(ctx context.Context, requester string, id uint) error
}

func (s stubFiles) Upload(ctx context.Context, uploader, filename string, content []byte) (*domain.File, error) {
	return s.upload(ctx, uploader, filename, content)
}

func (s stubFiles) Download(ctx context.Context, id uint) (*domain.File, error) {
	return s.download(ctx, id)
}

func (s stubFiles) Delete(ctx context.Context, requester string, id uint) error {
	return s.del(ctx, requester, id)
}

// stubAccounts implements AccountManager over an in-memory map.
type stubAccounts struct {
	users    map[string]*domain.Account
	password map[string]string
	err      error
}

func newStubAccounts() *stubAccounts {
	return &stubAccounts{users: map[string]*domain.Account{}, password: map[string]string{}}
}

func (s *stubAccounts) Register(_ context.Context, username, email, password string) (*domain.Account, error) {
	if s.err != nil {
		return nil, s.err
	}
	if _, dup := s.users[username]; dup {
		return nil, services.ErrConflict
	}
	a := &domain.Account{Username: username, VisibleName: username, Email: email}
	s.users[username] = a
	s.password[username] = password
	return a, nil
}

func (s *stubAccounts) Login(_ context.Context, username, password string) (string, time.Time, error) {
	if s.password[username] != password || password == "" {
		return "", time.Time{}, services.ErrUnauthorized
	}
	return "tok-" + username, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), nil
}

func (s *stubAccounts) ChangePassword(_ context.Context, username, oldPassword, newPassword string) error {
	if s.password[username] != oldPassword {
		return services.ErrUnauthorized
	}
	s.password[username] = newPassword
	return nil
}

func (s *stubAccounts) ListUsers(_ context.Context, requester string) ([]domain.Account, error) {
	var out []domain.Account
	for name, a := range s.users {
		if name != requester {
			out = append(out, *a)
		}
	}
	return out, s.err
}

func (s *stubAccounts) VisibleName(_ context.Context, username string) (string, error) {
	a, found := s.users[username]
	if !found {
		return "", services.ErrNotFound
	}
	return a.VisibleName, nil
}

func (s *stubAccounts) SetVisibleName(_ context.Context, username, name string) error {
	a, found := s.users[username]
	if !found {
		return services.ErrNotFound
	}
	a.VisibleName = name
	return nil
}

func (s *stubAccounts) SetAvatar(_ context.Context, username string, data []byte) error {
	a, found := s.users[username]
	if !found {
		return services.ErrNotFound
	}
	a.Avatar, a.AvatarType = data, "image/png"
	return nil
}

func (s *stubAccounts) Avatar(_ context.Context, username string) ([]byte, string, error) {
	a, found := s.users[username]
	if !found || len(a.Avatar) == 0 {
		return nil, "", services.ErrNotFound
	}
	return a.Avatar, a.AvatarType, nil
}

func (s *stubAccounts) DeleteAvatar(_ context.Context, username string) error {
	a, found := s.users[username]
	if !found {
		return services.ErrNotFound
	}
	a.Avatar, a.AvatarType = nil, ""
	return nil
}
