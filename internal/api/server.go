// Package api provides the HTTP API server for the job orchestration
// service.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/jobforge/jobforge/internal/api/handlers"
	"github.com/jobforge/jobforge/internal/api/middleware"
	"github.com/jobforge/jobforge/internal/control"
	"github.com/jobforge/jobforge/internal/queue"
	"github.com/jobforge/jobforge/internal/registry"
	"github.com/jobforge/jobforge/pkg/config"
)

// Version is the current version of the API server.
// This should be set at build time using ldflags.
var Version = "dev"

// Server represents the HTTP API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	control    *control.Control
	queue      queue.Queue
	functions  registry.Lister
	config     *config.Config
	logger     *slog.Logger
}

// NewServer creates a new API server. The queue may be nil when async
// builds are disabled; functions backs the function discovery
// endpoint.
func NewServer(cfg *config.Config, ctl *control.Control, q queue.Queue, functions registry.Lister, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		control:   ctl,
		queue:     q,
		functions: functions,
		config:    cfg,
		logger:    logger,
	}
	s.setupRouter()
	return s
}

// setupRouter configures the router with middleware and routes.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Recovery(s.logger))
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		jobHandler := handlers.NewJobHandler(s.control, s.queue, s.logger)
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", jobHandler.List)
			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", jobHandler.Get)
				r.Post("/build", jobHandler.Build)
				r.Get("/builds", jobHandler.ListBuilds)
			})
		})

		functionHandler := handlers.NewFunctionHandler(s.functions, s.logger)
		r.Get("/functions", functionHandler.List)

		buildHandler := handlers.NewBuildHandler(s.control, s.logger)
		r.Route("/builds/{buildID}", func(r chi.Router) {
			r.Get("/", buildHandler.Get)
			r.Get("/progress", buildHandler.Progress)
			r.Get("/logs", buildHandler.Logs)
		})
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	handlers.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": Version,
	})
}

// Router exposes the configured router, mainly for tests.
func (s *Server) Router() http.Handler { return s.router }

// Start begins listening for HTTP requests. It blocks until the server
// stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.API.Host, s.config.API.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr, "version", Version)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
