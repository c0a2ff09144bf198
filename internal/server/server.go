// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the "wiring" layer: the composition root where the
// registry, runtime, repository, services and handlers are assembled. Each
// layer only receives what it needs:
//
//	sqlite.DB      → implements repository.RunRepository
//	Orchestrator   → runs backend trees on the injected runtime.Host
//	RunService     → gets the repository, the orchestrator and the token service
//	RunHandler     → gets the service, never the repository
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/live-playground/internal/auth"
	"github.com/sakif/live-playground/internal/config"
	"github.com/sakif/live-playground/internal/handler"
	"github.com/sakif/live-playground/internal/middleware"
	"github.com/sakif/live-playground/internal/registry"
	sqliteRepo "github.com/sakif/live-playground/internal/repository/sqlite"
	"github.com/sakif/live-playground/internal/runtime"
	"github.com/sakif/live-playground/internal/service"
)

// shutdownTimeout bounds the graceful shutdown: in-flight requests, running
// executions and the runtime teardown.
const shutdownTimeout = 30 * time.Second

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection and the orchestrator's session.
// Shutdown cancels in-flight runs, tears the session down (killing the server
// process and removing the container) and closes the database last.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger

	db     *sqliteRepo.DB
	orch   *runtime.Orchestrator
	runs   *service.RunService
	render *service.RenderService
}

// New assembles the server on the given runtime host. The host is owned by
// the caller; the session booted on it is owned by the server.
func New(cfg *config.Config, host runtime.Host, logger *slog.Logger) (*Server, error) {
	reg, err := registry.Default()
	if err != nil {
		return nil, fmt.Errorf("loading framework registry: %w", err)
	}

	secret, generated, err := cfg.Secret()
	if err != nil {
		return nil, err
	}
	if generated {
		logger.Warn("jwt_secret not set; run tokens will not survive a restart")
	}
	tokens, err := auth.NewTokenService(secret, cfg.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	orch := runtime.NewOrchestrator(runtime.NewSession(host), cfg.Runtime.Orchestrator(), logger)
	runs := service.NewRunService(reg, orch, db, tokens, logger)
	if err := runs.Recover(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
		orch:   orch,
		runs:   runs,
		render: service.NewRenderService(reg, logger),
	}
	s.setupRoutes(reg, tokens)
	return s, nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /healthz                     → liveness
// GET    /api/frameworks              → framework catalog (?kind=)
// GET    /api/frameworks/{id}         → one framework with its template
// POST   /api/render                  → frontend document
// POST   /api/runs                    → start a backend / full-stack run
// GET    /api/runs                    → run history
// GET    /api/runs/{id}               → one run
// GET    /api/runs/{id}/events        → SSE stream          [run token]
// DELETE /api/runs/{id}               → stop the run        [run token]
//
// Middleware executes in the order it's added: RequestID first so the
// logger can see the id, Recoverer before Logger so panics are logged as 500s.
func (s *Server) setupRoutes(reg *registry.Registry, tokens *auth.TokenService) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	health := handler.NewHealthHandler(s.runs.Current)
	frameworks := handler.NewFrameworkHandler(reg, s.logger)
	render := handler.NewRenderHandler(s.render, s.logger)
	runs := handler.NewRunHandler(s.runs, s.logger)

	s.router.Get("/healthz", health.HandleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/frameworks", frameworks.HandleList)
		r.Get("/frameworks/{id}", frameworks.HandleGet)

		r.Post("/render", render.HandleRender)

		r.Post("/runs", runs.HandleStart)
		r.Get("/runs", runs.HandleList)
		r.Get("/runs/{id}", runs.HandleGet)

		// PROTECTED ROUTES: the token returned by POST /api/runs, for that run only
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRunToken(tokens, "id"))
			r.Get("/runs/{id}/events", runs.HandleEvents)
			r.Delete("/runs/{id}", runs.HandleStop)
		})
	})
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until SIGINT or SIGTERM, then shuts down gracefully.
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

// Run serves on the configured port until ctx ends.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting connections and wait for in-flight requests
//  2. Cancel running executions and close every event stream
//  3. Tear down the runtime session (process + container)
//  4. Close the database, flushing the WAL
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		_ = s.Close(context.Background())
		return fmt.Errorf("listening on port %d: %w", s.config.Port, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second, // event streams clear their own deadline
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.String("addr", ln.Addr().String()),
			slog.String("database", s.config.DBPath),
			slog.String("image", s.config.Runtime.Image),
		)
		serverErrors <- srv.Serve(ln)
	}()

	var serveErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// event streams end when their request context does; BaseContext is ctx
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown incomplete", slog.String("error", err.Error()))
	}
	if err := s.Close(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	if serveErr == nil {
		s.logger.Info("server stopped gracefully")
	}
	return serveErr
}

// Close releases everything the server owns. It is safe to call once.
func (s *Server) Close(ctx context.Context) error {
	var errs []error
	if err := s.runs.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stopping runs: %w", err))
	}
	if err := s.orch.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tearing down runtime: %w", err))
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing database: %w", err))
	}
	return errors.Join(errs...)
}
