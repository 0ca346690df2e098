package handlers

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func profileRouter(user string, accts AccountManager) *gin.Engine {
	r := newEngine(user)
	h := New(nil, nil, nil, accts)
	r.GET("/profile/visible-name", h.GetVisibleName)
	r.PUT("/profile/visible-name", h.SetVisibleName)
	r.GET("/profile/picture", h.GetPicture)
	r.PUT("/profile/picture", h.SetPicture)
	r.DELETE("/profile/picture", h.DeletePicture)
	return r
}

func TestVisibleName_GetSet(t *testing.T) {
	accts := newStubAccounts()
	_, _ = accts.Register(context.Background(), "alice", "a@example.com", "password")
	_, _ = accts.Register(context.Background(), "bob", "b@example.com", "password")
	r := profileRouter("alice", accts)

	w := do(r, http.MethodPut, "/profile/visible-name", strings.NewReader(`{"visible_name":"Alice L."}`), nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("set: status=%d", w.Code)
	}
	w = do(r, http.MethodGet, "/profile/visible-name", nil, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"visible_name":"Alice L."`) {
		t.Fatalf("get own: %d %s", w.Code, w.Body.String())
	}
	w = do(r, http.MethodGet, "/profile/visible-name?username=bob", nil, nil)
	if !strings.Contains(w.Body.String(), `"username":"bob"`) {
		t.Fatalf("get other: %s", w.Body.String())
	}
	w = do(r, http.MethodGet, "/profile/visible-name?username=zed", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown user: status=%d", w.Code)
	}
	w = do(r, http.MethodPut, "/profile/visible-name", strings.NewReader(`{}`), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing name: status=%d", w.Code)
	}
}

func TestPicture_Lifecycle(t *testing.T) {
	accts := newStubAccounts()
	_, _ = accts.Register(context.Background(), "alice", "a@example.com", "password")
	r := profileRouter("alice", accts)

	if w := do(r, http.MethodGet, "/profile/picture", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("no picture yet: status=%d", w.Code)
	}

	img := []byte("\x89PNG\r\n\x1a\nfake")
	if w := do(r, http.MethodPut, "/profile/picture", bytes.NewReader(img), nil); w.Code != http.StatusNoContent {
		t.Fatalf("upload: status=%d", w.Code)
	}
	w := do(r, http.MethodGet, "/profile/picture", nil, nil)
	if w.Code != http.StatusOK || !bytes.Equal(w.Body.Bytes(), img) || w.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("download: %d %q", w.Code, w.Header().Get("Content-Type"))
	}

	if w := do(r, http.MethodDelete, "/profile/picture", nil, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete: status=%d", w.Code)
	}
	if w := do(r, http.MethodGet, "/profile/picture", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("after delete: status=%d", w.Code)
	}
}
