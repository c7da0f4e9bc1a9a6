package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/seismic-feed-service/internal/config"
	"github.com/couchcryptid/seismic-feed-service/internal/domain"
	"github.com/couchcryptid/seismic-feed-service/internal/notify"
	"github.com/couchcryptid/seismic-feed-service/internal/scheduler"
)

// QuakeStore is the store surface the API reads and deletes through.
type QuakeStore interface {
	sharedobs.ReadinessChecker
	Query(ctx context.Context, f domain.Filter, order domain.Sort) ([]domain.StoredQuake, error)
	Get(ctx context.Context, id int64) (domain.StoredQuake, error)
	Suggest(ctx context.Context, term string, limit int) ([]domain.Suggestion, error)
	DeleteByID(ctx context.Context, id int64) (int64, error)
	Delete(ctx context.Context, f domain.Filter) (int64, error)
	Changes(buffer int) *notify.Subscription[domain.Change]
}

// Scheduler starts manual runs and owns the live preferences.
type Scheduler interface {
	Trigger(ctx context.Context) (domain.IngestionResult, error)
	Preferences() config.Preferences
	Reconfigure(prefs config.Preferences) error
	State() scheduler.State
}

// Deps are the collaborators behind the API routes.
type Deps struct {
	Store     QuakeStore
	Scheduler Scheduler
	// PreferencesFile, when set, is rewritten after a successful PUT /api/preferences.
	PreferencesFile string
}

// Server exposes the quake API plus health, readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	deps       Deps
	logger     *slog.Logger
}

// NewServer creates an HTTP server with the API, /healthz, /readyz, and /metrics routes.
func NewServer(addr string, deps Deps, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		deps:   deps,
		logger: logger,
	}

	r.Get("/healthz", sharedobs.LivenessHandler())
	r.Get("/readyz", sharedobs.ReadinessHandler(deps.Store))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.accessLog)

		r.Get("/quakes", s.handleListQuakes)
		r.Delete("/quakes", s.handleDeleteQuakes)
		r.Get("/quakes/live", s.handleLive)
		r.Get("/quakes/{id}", s.handleGetQuake)
		r.Delete("/quakes/{id}", s.handleDeleteQuake)
		r.Get("/suggest", s.handleSuggest)
		r.Post("/refresh", s.handleRefresh)
		r.Get("/preferences", s.handleGetPreferences)
		r.Put("/preferences", s.handlePutPreferences)
	})

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client may have gone away
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
