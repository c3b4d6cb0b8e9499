// Package api exposes a small read-only ops surface over HTTP: current
// debounced status, recent dispatch cycles, fleet membership, and the event
// feed. It never mutates daemon state.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/skeops/diwatch/internal/events"
	"github.com/skeops/diwatch/internal/journal"
	"github.com/skeops/diwatch/internal/status"
)

// StatusSource reports the debounced status. The watchdog implements this.
type StatusSource interface {
	Current() (status.Token, time.Time, bool)
	Deadline() time.Time
}

// CycleReader reads dispatch history. The journal implements this.
type CycleReader interface {
	Recent(ctx context.Context, limit int) ([]journal.CycleSummary, error)
}

// FleetReader lists dispatch targets. Fleet directories implement this.
type FleetReader interface {
	ListMembers(ctx context.Context) ([]string, error)
}

// Config holds API server configuration.
type Config struct {
	Listen string
	APIKey string
}

// Server is the HTTP ops server.
type Server struct {
	config    Config
	source    StatusSource
	cycles    CycleReader
	fleet     FleetReader
	hub       *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates an API server over the daemon's read surfaces.
func New(config Config, source StatusSource, cycles CycleReader, fleet FleetReader, hub *events.Hub, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		source:    source,
		cycles:    cycles,
		fleet:     fleet,
		hub:       hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.setupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
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

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/api/status", s.handleStatus)
		r.Get("/api/cycles", s.handleCycles)
		r.Get("/api/fleet", s.handleFleet)
		r.Get("/api/events", s.handleEvents)
	})

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
