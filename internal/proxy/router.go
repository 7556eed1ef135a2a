// Package proxy serves a local dashboard endpoint. Browser views and scripts talk to it without
// holding credentials; every backend call goes through the session-aware dispatcher.
package proxy

import (
	"context"
	"errors"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tyemirov/highland/internal/catalog"
	"github.com/tyemirov/highland/internal/dispatch"
	"github.com/tyemirov/highland/internal/session"
	"github.com/tyemirov/highland/pkg/tokencache"
	webassets "github.com/tyemirov/highland/web"
	"go.uber.org/zap"
)

// ErrMissingSessions is returned when the router is built without a session manager.
var ErrMissingSessions = errors.New("proxy.missing_sessions")

const (
	errorSessionUnavailable = "session_unavailable"
	errorStorageUnavailable = "storage_unavailable"
)

// Sessions is the session manager surface used by the proxy.
type Sessions interface {
	EstablishSession(ctx context.Context) (tokencache.CredentialBundle, error)
	Login(ctx context.Context, username string, password string) (session.ExchangeResponse, error)
	Init(ctx context.Context) (session.Identity, error)
	Identity() (session.Identity, session.InitStatus)
	Logout(ctx context.Context) error
}

// Backend forwards JSON requests to the REST backend.
type Backend interface {
	Get(ctx context.Context, path string) (*dispatch.Response, error)
	Post(ctx context.Context, path string, payload any) (*dispatch.Response, error)
	Put(ctx context.Context, path string, payload any) (*dispatch.Response, error)
	Delete(ctx context.Context, path string, payload any) (*dispatch.Response, error)
}

// MediaCatalog uploads and registers media assets.
type MediaCatalog interface {
	UploadMedia(ctx context.Context, kind catalog.MediaKind, filename string, body io.Reader, contentType string) (catalog.Upload, error)
}

// Config wires the proxy router.
type Config struct {
	Sessions Sessions
	Backend  Backend
	Media    MediaCatalog
	// Gatherer backs GET /metrics when set.
	Gatherer prometheus.Gatherer
	// AllowedOrigins enables CORS for the listed origins when non-empty.
	AllowedOrigins []string
	// ClearBackendSession forgets persisted backend cookies on logout.
	ClearBackendSession func(ctx context.Context) error
	// MaxUploadBytes bounds multipart uploads; zero means 64 MiB.
	MaxUploadBytes int64
	Logger         *zap.Logger
}

// NewRouter builds the proxy's gin engine. middlewares run before CORS and the routes.
func NewRouter(configuration Config, middlewares ...gin.HandlerFunc) (*gin.Engine, error) {
	if configuration.Sessions == nil {
		return nil, ErrMissingSessions
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(middlewares...)
	if len(configuration.AllowedOrigins) > 0 {
		corsMiddleware, corsErr := ConfigureCORS(logger, configuration.AllowedOrigins)
		if corsErr != nil {
			return nil, corsErr
		}
		router.Use(corsMiddleware)
	}

	router.GET("/static/"+webassets.ClientScript, func(contextGin *gin.Context) {
		ServeEmbeddedStaticJS(contextGin, webassets.FS, webassets.ClientScript)
	})
	if configuration.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(configuration.Gatherer, promhttp.HandlerOpts{})))
	}

	MountAuthRoutes(router, configuration.Sessions, configuration.ClearBackendSession, logger)

	authenticated := router.Group("/")
	authenticated.Use(RequireSession(configuration.Sessions, logger))
	authenticated.GET("/me", HandleWhoAmI(logger, configuration.Sessions))
	if configuration.Backend != nil {
		MountAPIRoutes(router.Group("/api"), configuration.Backend, logger)
	}
	if configuration.Media != nil {
		maxUploadBytes := configuration.MaxUploadBytes
		if maxUploadBytes <= 0 {
			maxUploadBytes = 64 << 20
		}
		authenticated.POST("/media/:kind", HandleMediaUpload(logger, configuration.Sessions, configuration.Media, maxUploadBytes))
	}
	return router, nil
}
