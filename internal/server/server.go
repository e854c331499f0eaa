package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/llmshield/llm-shield/internal/config"
	"github.com/llmshield/llm-shield/internal/handlers"
	"github.com/llmshield/llm-shield/internal/metrics"
	"github.com/llmshield/llm-shield/internal/middleware"
)

type Server struct {
	config  *config.Manager
	metrics *metrics.Metrics
	logger  *slog.Logger
	server  *http.Server
}

func New(configManager *config.Manager, logger *slog.Logger) *Server {
	return &Server{
		config:  configManager,
		metrics: metrics.New(),
		logger:  logger,
	}
}

func (s *Server) Start() error {
	cfg := s.config.Get()
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	mux := s.setupRoutes()

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	s.logger.Info("Starting server",
		"address", addr,
		"endpoint", cfg.Upstream.Endpoint,
		"forced_model", cfg.ForcedModel,
		"max_attempts", cfg.Retry.MaxAttempts,
	)

	// Reload config on file changes until shutdown.
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()

	watcher := config.NewWatcher(s.config, s.logger)

	go func() {
		if err := watcher.Watch(watchCtx); err != nil {
			s.logger.Error("Config watcher stopped", "error", err)
		}
	}()

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server error", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	s.logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.logger.Info("Server exited")

	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Handler exposes the fully wired route tree, mainly so tests can drive the
// server through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	shieldHandler := handlers.NewShieldHandler(s.config, s.metrics, s.logger)
	healthHandler := handlers.NewHealthHandler(s.logger)

	middlewareSet := middleware.NewMiddlewareSet(s.logger)

	mux.Handle("/health", middlewareSet.HealthChain().Handler(healthHandler))
	mux.Handle("/metrics", s.metrics.Handler())
	mux.Handle("/", middlewareSet.DefaultChain().Handler(shieldHandler))

	return mux
}
