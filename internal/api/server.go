// Package api serves the observer HTTP surface: health, status, plugin
// control, and a server-sent events stream off the internal bridge.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/blasty8084/Nexus-247/internal/events"
	"github.com/blasty8084/Nexus-247/internal/plugin"
	"github.com/blasty8084/Nexus-247/internal/supervisor"
)

// PluginRuntime is the plugin control surface the API needs.
type PluginRuntime interface {
	Descriptors() []plugin.Descriptor
	Reload(ctx context.Context, name string, opts plugin.LoadOptions) error
	SetEnabled(ctx context.Context, name string, enabled bool) error
}

// StatusProvider reports the connection supervisor's snapshot.
type StatusProvider interface {
	Status() supervisor.Status
}

// Config holds API server configuration.
type Config struct {
	Listen string
}

// Server is the observer HTTP server.
type Server struct {
	config    Config
	runtime   PluginRuntime
	status    StatusProvider
	hub       *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates an API server instance.
func New(config Config, runtime PluginRuntime, status StatusProvider, hub *events.Hub, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		runtime:   runtime,
		status:    status,
		hub:       hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.setupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Minute, // SSE streams stay open
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("api server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("api server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	r.Get("/events", s.handleEvents)
	r.Get("/plugins", s.handlePlugins)
	r.Post("/plugins/{name}/reload", s.handlePluginReload)
	r.Post("/plugins/{name}/enabled", s.handlePluginEnabled)

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
