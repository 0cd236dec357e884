package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/facegate/internal/metrics"
	"github.com/kozaktomas/facegate/internal/web/handlers"
	"github.com/kozaktomas/facegate/internal/web/middleware"
)

// Deps are the collaborators the HTTP API is served from.
type Deps struct {
	Service interface {
		handlers.Attender
		handlers.CacheStatter
	}
	Ledger  handlers.LedgerReader
	Storage handlers.HealthReporter
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Server represents the web server
type Server struct {
	deps       Deps
	router     *chi.Mux
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new web server
func NewServer(deps Deps, host string, port int, allowedOrigins []string) *Server {
	r := chi.NewRouter()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		deps:   deps,
		router: r,
		logger: logger,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(30 * time.Second))
	r.Use(middleware.CORS(allowedOrigins))
	r.Use(middleware.SecurityHeaders())
	if deps.Metrics != nil {
		r.Use(middleware.Latency(deps.Metrics.EndpointLatency))
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      45 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("starting web server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down web server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
