// Package handlers exposes the direct-messaging API over HTTP.
//
// Handlers are transport-thin: they bind and validate input, call the
// application services, and translate service errors into the JSON error
// envelope. Identity always comes from the bearer token resolved by the
// auth middleware; handlers never trust a client-supplied username for the
// acting user.
package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/http/middleware"
	"github.com/tbourn/go-dm-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// MessageIngester accepts a message for persistence and delivery.
type MessageIngester interface {
	Ingest(ctx context.Context, req services.IngestRequest) (*services.IngestResult, error)
}

// HistoryReader reads conversations between two users.
type HistoryReader interface {
	GetHistory(ctx context.Context, userA, userB string, limit int, requester string) ([]domain.HistoryEntry, error)
	Partners(ctx context.Context, requester string) ([]string, error)
}

// FileStore stores and serves attachments.
type FileStore interface {
	Upload(ctx context.Context, uploader, filename string, content []byte) (*domain.File, error)
	Download(ctx context.Context, id uint) (*domain.File, error)
	Delete(ctx context.Context, requester string, id uint) error
}

// AccountManager covers registration, credentials and the public profile.
type AccountManager interface {
	Register(ctx context.Context, username, email, password string) (*domain.Account, error)
	Login(ctx context.Context, username, password string) (string, time.Time, error)
	ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error
	ListUsers(ctx context.Context, requester string) ([]domain.Account, error)
	VisibleName(ctx context.Context, username string) (string, error)
	SetVisibleName(ctx context.Context, username, name string) error
	SetAvatar(ctx context.Context, username string, data []byte) error
	Avatar(ctx context.Context, username string) ([]byte, string, error)
	DeleteAvatar(ctx context.Context, username string) error
}

//
// Handler wiring
//

// Handlers groups every REST endpoint. Nil services are allowed in tests
// that exercise a single resource.
type Handlers struct {
	msgSvc   MessageIngester
	histSvc  HistoryReader
	fileSvc  FileStore
	acctSvc  AccountManager
	maxLimit int
}

// New constructs Handlers bound to the given services.
func New(msgSvc MessageIngester, histSvc HistoryReader, fileSvc FileStore, acctSvc AccountManager) *Handlers {
	return &Handlers{
		msgSvc:   msgSvc,
		histSvc:  histSvc,
		fileSvc:  fileSvc,
		acctSvc:  acctSvc,
		maxLimit: maxHistoryLimit,
	}
}

// userID returns the authenticated username set by middleware.Authenticate.
// Routes that call it run behind middleware.RequireAuth.
func userID(c *gin.Context) string {
	return middleware.CurrentUser(c)
}
