package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/sydlexius/iconforge/internal/api/middleware"
	"github.com/sydlexius/iconforge/internal/backup"
	"github.com/sydlexius/iconforge/internal/conversion"
	"github.com/sydlexius/iconforge/internal/convert"
	"github.com/sydlexius/iconforge/internal/event"
	"github.com/sydlexius/iconforge/internal/maintenance"
)

// RouterDeps bundles all dependencies needed by the HTTP router.
type RouterDeps struct {
	Converter      *convert.Converter
	Conversions    *conversion.Service
	EventBus       *event.Bus
	Backups        *backup.Service
	Maintenance    *maintenance.Service
	DB             *sql.DB
	Logger         *slog.Logger
	BasePath       string
	MaxUploadBytes int64
	APITokenHash   string
	RateLimit      float64
	RateBurst      int
}

// Router sets up all HTTP routes for the application.
type Router struct {
	converter   *convert.Converter
	conversions *conversion.Service
	eventBus    *event.Bus
	backups     *backup.Service
	maintenance *maintenance.Service
	db          *sql.DB
	logger      *slog.Logger
	basePath    string
	maxUpload   int64
	auth        *middleware.TokenAuth
	rateLimit   float64
	rateBurst   int
}

const defaultMaxUpload = 10 << 20

// NewRouter creates a new Router with all routes configured.
func NewRouter(deps RouterDeps) *Router {
	maxUpload := deps.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	return &Router{
		converter:   deps.Converter,
		conversions: deps.Conversions,
		eventBus:    deps.EventBus,
		backups:     deps.Backups,
		maintenance: deps.Maintenance,
		db:          deps.DB,
		logger:      deps.Logger.With(slog.String("component", "api")),
		basePath:    deps.BasePath,
		maxUpload:   maxUpload,
		auth:        middleware.NewTokenAuth(deps.APITokenHash),
		rateLimit:   deps.RateLimit,
		rateBurst:   deps.RateBurst,
	}
}

// Handler returns the fully wrapped HTTP handler. ctx bounds the lifetime of
// background helpers such as the rate limiter sweeper.
func (r *Router) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	bp := r.basePath

	limiter := middleware.NewRateLimiter(ctx, r.rateLimit, r.rateBurst)
	protected := func(h http.HandlerFunc) http.Handler {
		return r.auth.Middleware(h)
	}
	// conversions are CPU bound; they are rate limited per client
	expensive := func(h http.HandlerFunc) http.Handler {
		return middleware.Chain(h, r.auth.Middleware, limiter.Middleware)
	}

	mux.HandleFunc("GET "+bp+"/api/v1/health", r.handleHealth)

	mux.Handle("GET "+bp+"/api/v1/presets", protected(r.handlePresets))
	mux.Handle("POST "+bp+"/api/v1/convert", expensive(r.handleConvert))
	mux.Handle("POST "+bp+"/api/v1/silhouette/preview", expensive(r.handlePreview))

	mux.Handle("GET "+bp+"/api/v1/conversions", protected(r.handleListConversions))
	mux.Handle("GET "+bp+"/api/v1/conversions/{id}", protected(r.handleGetConversion))
	mux.Handle("DELETE "+bp+"/api/v1/conversions/{id}", protected(r.handleDeleteConversion))
	mux.Handle("GET "+bp+"/api/v1/conversions/{id}/bundle", protected(r.handleBundle))
	mux.Handle("GET "+bp+"/api/v1/artifacts/{cid}", protected(r.handleArtifact))

	if r.maintenance != nil {
		mux.Handle("GET "+bp+"/api/v1/maintenance/status", protected(r.handleMaintenanceStatus))
		mux.Handle("POST "+bp+"/api/v1/maintenance/optimize", protected(r.handleMaintenanceOptimize))
		mux.Handle("POST "+bp+"/api/v1/maintenance/sweep", protected(r.handleMaintenanceSweep))
	}
	if r.backups != nil {
		mux.Handle("GET "+bp+"/api/v1/backups", protected(r.handleBackupList))
		mux.Handle("POST "+bp+"/api/v1/backups", protected(r.handleBackupCreate))
		mux.Handle("GET "+bp+"/api/v1/backups/{filename}", protected(r.handleBackupDownload))
		mux.Handle("DELETE "+bp+"/api/v1/backups/{filename}", protected(r.handleBackupDelete))
	}

	return middleware.Chain(mux,
		middleware.Logging(r.logger),
		middleware.SecurityHeaders,
	)
}

func (r *Router) publish(t event.Type, data map[string]any) {
	if r.eventBus == nil {
		return
	}
	r.eventBus.Publish(event.Event{Type: t, Data: data})
}
