// Package server provides the HTTP API for the agent service.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/burrowai/burrow/internal/command"
	"github.com/burrowai/burrow/internal/config"
	"github.com/burrowai/burrow/internal/engine"
	"github.com/burrowai/burrow/internal/event"
	"github.com/burrowai/burrow/internal/extension"
	"github.com/burrowai/burrow/internal/logging"
	"github.com/burrowai/burrow/internal/run"
	"github.com/burrowai/burrow/internal/session"
	"github.com/burrowai/burrow/internal/storage"
	"github.com/burrowai/burrow/internal/workspace"
)

// Server is the HTTP server.
type Server struct {
	cfg     *config.Config
	router  *chi.Mux
	httpSrv *http.Server

	sessions    *session.Store
	locker      *session.Locker
	extensions  *extension.Store
	workspace   *workspace.Manager
	artifacts   *workspace.Manager
	coordinator *run.Coordinator
	bus         *event.Bus
	log         zerolog.Logger
}

// New wires a Server from configuration. A nil eng selects the configured
// CLI engine; tests inject a scripted one.
func New(cfg *config.Config, eng engine.Engine) (*Server, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	ws, err := workspace.NewManager(cfg.WorkspaceDir)
	if err != nil {
		return nil, err
	}
	artifacts, err := workspace.NewManager(cfg.ArtifactsDir)
	if err != nil {
		return nil, err
	}
	if err := workspace.EnsureProjectContext(cfg.ProjectContextPath); err != nil {
		return nil, err
	}
	projectContext, err := workspace.LoadProjectContext(cfg.ProjectContextPath, cfg.MaxProjectContextChars)
	if err != nil {
		return nil, err
	}

	if eng == nil {
		eng, err = engine.NewCLI(cfg.EngineCommand)
		if err != nil {
			return nil, err
		}
	}

	sessions := session.NewStore(storage.New(cfg.StorageDir))
	locker := session.NewLocker()
	extensions := extension.NewStore(cfg.SkillsDir, cfg.CommandsDir, extension.ArchiveLimits{
		MaxFiles:      cfg.MaxArchiveFiles,
		MaxFileBytes:  cfg.MaxArchiveFileBytes,
		MaxTotalBytes: cfg.MaxArchiveTotalBytes,
	})
	bus := event.NewBus()

	coordinator := run.NewCoordinator(sessions, locker, command.NewResolver(extensions), eng, bus, run.Options{
		Timeout:       cfg.EngineTimeout,
		DefaultModel:  cfg.Model,
		WorkingDir:    ws.Root(),
		SystemContext: projectContext,
		AllowBypass:   cfg.AllowBypassPermissions,
	})

	s := &Server{
		cfg:         cfg,
		router:      chi.NewRouter(),
		sessions:    sessions,
		locker:      locker,
		extensions:  extensions,
		workspace:   ws,
		artifacts:   artifacts,
		coordinator: coordinator,
		bus:         bus,
		log:         logging.Component("server"),
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	if s.cfg.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-API-Key", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	s.router.Use(s.requireAPIKey)
}

// Start runs the HTTP server until it is shut down. The extension watcher
// shares the server's lifetime.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		if err := s.extensions.Watch(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn().Err(err).Msg("extension watcher stopped")
		}
	}()

	s.httpSrv = &http.Server{
		Addr:        fmt.Sprintf(":%d", s.cfg.Port),
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		// No write timeout: SSE responses are long-lived.
	}
	s.log.Info().Int("port", s.cfg.Port).Msg("server listening")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.bus.Close()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
