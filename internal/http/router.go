// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, route handlers and the WebSocket endpoint. It centralizes
// cross-cutting concerns such as tracing, correlation IDs, authentication,
// logging/redaction, panic recovery, metrics, compression, CORS, security
// headers, idempotency, and rate limiting.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/go-dm-backend/docs"
	"github.com/tbourn/go-dm-backend/internal/auth"
	"github.com/tbourn/go-dm-backend/internal/config"
	"github.com/tbourn/go-dm-backend/internal/delivery"
	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/events"
	"github.com/tbourn/go-dm-backend/internal/http/handlers"
	"github.com/tbourn/go-dm-backend/internal/http/middleware"
	"github.com/tbourn/go-dm-backend/internal/presence"
	"github.com/tbourn/go-dm-backend/internal/repo"
	"github.com/tbourn/go-dm-backend/internal/services"
	"github.com/tbourn/go-dm-backend/internal/ws"
)

// Deps are the long-lived collaborators the routes are built on. Presence
// and Events are optional; a fresh directory and a noop publisher are used
// when they are nil.
type Deps struct {
	DB       *gorm.DB
	Presence *presence.Directory
	Events   events.Publisher
}

// bodyOverride raises the body cap for routes under Prefix.
type bodyOverride struct {
	Prefix string
	Max    int64
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the versioned public API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Authenticate: resolve the bearer token (never rejects)
//  4. ContextLogger + RedactingLogger: scoped and access logs, tokens masked
//  5. Recovery: capture panics after logger
//  6. Metrics
//  7. Gzip (not for /ws or binary downloads)
//  8. Body size limiter, larger for uploads
//  9. Idempotency validator (before rate limiter to allow bypass on replay)
//  10. Rate limiter (per user/IP, bypass on replay)
//  11. CORS and Security headers
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	db := deps.DB
	dir := deps.Presence
	if dir == nil {
		dir = presence.NewDirectory()
	}
	pub := deps.Events
	if pub == nil {
		pub = events.Noop{}
	}
	base := cfg.APIBasePath
	if base == "/" {
		base = ""
	}

	ttl := cfg.Auth.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	tokens := auth.NewTokens(cfg.Auth.JWTSecret, ttl)

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Identify the caller; RequireAuth on protected routes rejects
	r.Use(middleware.Authenticate(tokens))

	// 4) Structured logging with redaction
	r.Use(middleware.ContextLogger())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))

	// 5) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Compression for JSON responses
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{
		"/ws",
		"/metrics",
		base + "/files",
		base + "/profile/picture",
	})))

	// 8) Body caps
	r.Use(limitBody(cfg.MaxBodyBytes,
		bodyOverride{Prefix: base + "/files", Max: cfg.MaxUploadBytes},
		bodyOverride{Prefix: base + "/profile/picture", Max: cfg.MaxUploadBytes},
	))

	// 9) Idempotency validation for message sends (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen:  200,
			Applies: middleware.RouteIs(http.MethodPost, base+"/messages"),
		},
		func(ctx context.Context, sender, recipient, key string, now time.Time) (bool, error) {
			userA, userB := domain.CanonicalPair(domain.NormalizeUsername(sender), domain.NormalizeUsername(recipient))
			rec, err := repo.GetIdempotency(ctx, db, domain.NormalizeUsername(sender), userA, userB, key, now)
			if errors.Is(err, repo.ErrNotFound) {
				return false, nil
			}
			if err != nil {
				return false, err
			}
			return rec != nil, nil
		},
	))

	// 10) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	rl.Skip = middleware.SkipPaths("/health", "/metrics", "/swagger")
	r.Use(rl.Handler())

	// 11) CORS posture (allow all if none configured)
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match", middleware.HeaderIdempotencyKey}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed", "Retry-After"}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "online": dir.Len(), "events": events.Mode(pub)})
	})

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db, presence, event bus
	acctSvc := services.NewAccountService(db, tokens)
	if cfg.Auth.MinPasswordLength > 0 {
		acctSvc.MinPasswordLength = cfg.Auth.MinPasswordLength
	}

	msgSvc := services.NewMessageService(db, delivery.NewRouter(dir))
	msgSvc.Accounts = acctSvc
	msgSvc.Events = pub
	if cfg.MaxMessageRunes > 0 {
		msgSvc.MaxBodyRunes = cfg.MaxMessageRunes
	}
	if cfg.IdempotencyTTL > 0 {
		msgSvc.IdempotencyTTL = cfg.IdempotencyTTL
	}

	histSvc := services.NewHistoryService(db)
	if cfg.HistoryDefaultLimit > 0 {
		histSvc.DefaultLimit = cfg.HistoryDefaultLimit
	}

	fileSvc := services.NewFileService(db)
	if cfg.MaxUploadBytes > 0 {
		fileSvc.MaxBytes = cfg.MaxUploadBytes
	}

	h := handlers.New(msgSvc, histSvc, fileSvc, acctSvc)

	wsh := ws.NewHandler(dir, msgSvc, pub)
	wsh.AllowedOrigins = cfg.CORS.AllowedOrigins
	if cfg.Realtime.SendBuffer > 0 {
		wsh.SendBuffer = cfg.Realtime.SendBuffer
	}
	if cfg.Realtime.MaxFrameBytes > 0 {
		wsh.MaxFrameBytes = cfg.Realtime.MaxFrameBytes
	}
	r.GET("/ws", middleware.RequireAuth(), wsh.Serve)

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)

	authGroup := api.Group("/auth", middleware.SecurityHeaders(middleware.SecurityOptions{NoStore: true}))
	{
		authGroup.POST("/register", h.Register)
		authGroup.POST("/login", h.Login)
		authGroup.POST("/password", middleware.RequireAuth(), h.ChangePassword)
	}

	private := api.Group("", middleware.RequireAuth())
	{
		private.GET("/users", h.ListUsers)
		private.GET("/chats", h.ListChats)

		private.POST("/messages", h.SendMessage)
		private.GET("/messages", h.GetHistory)

		private.GET("/profile/visible-name", h.GetVisibleName)
		private.PUT("/profile/visible-name", h.SetVisibleName)
	}

	// User-supplied bytes are served sandboxed.
	sandboxed := private.Group("", middleware.SecurityHeaders(middleware.SecurityOptions{Sandbox: true}))
	{
		sandboxed.PUT("/files", h.UploadFile)
		sandboxed.GET("/files/:id", h.DownloadFile)
		sandboxed.DELETE("/files/:id", h.DeleteFile)

		sandboxed.GET("/profile/picture", h.GetPicture)
		sandboxed.PUT("/profile/picture", h.SetPicture)
		sandboxed.DELETE("/profile/picture", h.DeletePicture)
	}
}

// limitBody returns a Gin middleware that caps the request body size to
// maxBytes using http.MaxBytesReader, or to the first override whose prefix
// matches the request path. Requests exceeding the cap will cause
// downstream body reads to error.
func limitBody(maxBytes int64, overrides ...bodyOverride) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := maxBytes
		for _, o := range overrides {
			if o.Max > 0 && strings.HasPrefix(c.Request.URL.Path, o.Prefix) {
				limit = o.Max
				break
			}
		}
		if limit > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
