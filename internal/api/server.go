package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/webwrapper/internal/config"
	"github.com/JakeFAU/webwrapper/internal/fetch"
	"github.com/JakeFAU/webwrapper/internal/metrics"
	"github.com/JakeFAU/webwrapper/internal/middleware"
	"github.com/JakeFAU/webwrapper/internal/storage"
)

// DefaultRequestTimeout bounds a single API call, retries included.
const DefaultRequestTimeout = 5 * time.Minute

// Pool lends orchestrators to handlers.
type Pool interface {
	Do(ctx context.Context, fn func(*fetch.Orchestrator) error) error
	Idle() int
	Size() int
}

// Archiver digests and mirrors saved artifacts.
type Archiver interface {
	Archive(ctx context.Context, kind, sourceURL, localPath string) (storage.Artifact, error)
}

// Server wires HTTP handlers to the worker pool and artifact archiver.
type Server struct {
	router   chi.Router
	pool     Pool
	archiver Archiver
	cfg      config.Config
	logger   *zap.Logger
}

// Option customizes a Server.
type Option func(*serverOptions)

type serverOptions struct {
	timeout time.Duration
}

// WithRequestTimeout overrides DefaultRequestTimeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *serverOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// NewServer constructs a Server with middleware and routes.
func NewServer(pool Pool, archiver Archiver, cfg config.Config, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := serverOptions{timeout: DefaultRequestTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Server{
		pool:     pool,
		archiver: archiver,
		cfg:      cfg,
		logger:   logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(middleware.Metrics)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Use(timeoutMiddleware(o.timeout))
		r.Post("/fetch", s.fetch)
		r.Post("/screenshot", s.screenshot)
		r.Post("/download", s.download)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.pool == nil || s.pool.Size() == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no workers"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"workers":      s.pool.Size(),
		"idle_workers": s.pool.Idle(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
