package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"orchestra/internal/cache"
	"orchestra/internal/constants"
	"orchestra/internal/events"
	"orchestra/internal/logger"
	"orchestra/internal/operations"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Config holds the server configuration
type Config struct {
	Host            string        `toml:"host"`
	Port            int           `toml:"port"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`

	// CORS settings
	AllowOrigins []string `toml:"allow_origins"`
	AllowHeaders []string `toml:"allow_headers"`
}

// DefaultConfig returns the default server configuration
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            constants.DefaultServerPort,
		ReadTimeout:     constants.DefaultServerReadTimeout,
		WriteTimeout:    constants.DefaultServerWriteTimeout,
		ShutdownTimeout: constants.DefaultServerShutdownTimeout,
		AllowOrigins:    []string{"*"},
		AllowHeaders:    []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}
}

// ContextCache is the cache surface of the context provider
type ContextCache interface {
	ClearCache(url string)
	GetCacheStats() cache.Stats
}

// Pinger checks the database connection
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Dependencies are the components the API serves. Context, Metrics and
// Database are optional.
type Dependencies struct {
	Worktrees *operations.WorktreeOperations
	Zones     *operations.ZoneOperations
	Actions   *operations.ActionRegistry
	Bus       *events.Bus
	Context   ContextCache
	Metrics   http.Handler
	Database  Pinger
}

// Server represents the main HTTP server
type Server struct {
	config    *Config
	deps      Dependencies
	echo      *echo.Echo
	startTime time.Time
	setup     sync.Once
}

// New creates a server over deps
func New(cfg *Config, deps Dependencies) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler

	return &Server{
		config:    cfg,
		deps:      deps,
		echo:      e,
		startTime: time.Now(),
	}
}

// Echo returns the Echo instance
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Handler returns the HTTP handler with middleware and routes installed
func (s *Server) Handler() http.Handler {
	s.setup.Do(func() {
		s.setupMiddleware()
		s.setupRoutes()
	})
	return s.echo
}

// Start serves until ctx is cancelled or the process receives SIGINT/SIGTERM,
// then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.WithField("addr", addr).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("failed to start server: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errChan:
		return err
	case <-quit:
		logger.Logger.Info("Shutting down server...")
	case <-ctx.Done():
		logger.Logger.Info("Context cancelled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Logger.Info("Server stopped gracefully")
	return nil
}

// setupMiddleware configures all middleware
func (s *Server) setupMiddleware() {
	s.echo.Use(logger.RequestLogger())
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.config.AllowOrigins,
		AllowHeaders: s.config.AllowHeaders,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
	}))
	s.echo.Use(requireJSON)
}
