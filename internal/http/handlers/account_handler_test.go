package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func accountRouter(user string, accts AccountManager) *gin.Engine {
	r := newEngine(user)
	h := New(nil, nil, nil, accts)
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.POST("/auth/password", h.ChangePassword)
	r.GET("/users", h.ListUsers)
	return r
}

func TestRegisterLoginFlow(t *testing.T) {
	accts := newStubAccounts()
	r := accountRouter("", accts)

	body := `{"username":"alice","email":"alice@example.com","password":"s3cret-pass"}`
	w := do(r, http.MethodPost, "/auth/register", strings.NewReader(body), nil)
	if w.Code != http.StatusCreated || !strings.Contains(w.Body.String(), `"username":"alice"`) {
		t.Fatalf("register: status=%d body=%s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "s3cret") || strings.Contains(w.Body.String(), "example.com") {
		t.Fatalf("register response leaks credentials: %s", w.Body.String())
	}

	w = do(r, http.MethodPost, "/auth/register", strings.NewReader(body), nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate: status=%d", w.Code)
	}

	w = do(r, http.MethodPost, "/auth/login", strings.NewReader(`{"username":"alice","password":"s3cret-pass"}`), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login: status=%d", w.Code)
	}
	var tok TokenResponse
	if err := json.Unmarshal(w.Body.Bytes(), &tok); err != nil || tok.Token != "tok-alice" || tok.TokenType != "Bearer" {
		t.Fatalf("unexpected token response %s (%v)", w.Body.String(), err)
	}

	w = do(r, http.MethodPost, "/auth/login", strings.NewReader(`{"username":"alice","password":"wrong"}`), nil)
	if w.Code != http.StatusUnauthorized || decodeErr(t, w).Code != ErrCodeUnauthorized {
		t.Fatalf("bad login: status=%d", w.Code)
	}

	w = do(r, http.MethodPost, "/auth/login", strings.NewReader(`{"username":"alice"}`), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing password: status=%d", w.Code)
	}
}

func TestChangePassword(t *testing.T) {
	accts := newStubAccounts()
	accts.password["alice"] = "old-password"
	r := accountRouter("alice", accts)

	w := do(r, http.MethodPost, "/auth/password", strings.NewReader(`{"old_password":"nope","new_password":"new-password"}`), nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong old password: status=%d", w.Code)
	}
	w = do(r, http.MethodPost, "/auth/password", strings.NewReader(`{"old_password":"old-password","new_password":"new-password"}`), nil)
	if w.Code != http.StatusNoContent || accts.password["alice"] != "new-password" {
		t.Fatalf("change: status=%d", w.Code)
	}
}

func TestListUsers_ExcludesCaller(t *testing.T) {
	accts := newStubAccounts()
	for _, u := range []string{"alice", "bob"} {
		if _, err := accts.Register(context.Background(), u, u+"@example.com", "password"); err != nil {
			t.Fatal(err)
		}
	}

	w := do(accountRouter("alice", accts), http.MethodGet, "/users", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var resp UsersResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(resp.Users) != 1 || resp.Users[0].Username != "bob" {
		t.Fatalf("unexpected users: %+v", resp.Users)
	}
}
