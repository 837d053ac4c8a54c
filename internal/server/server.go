// Package server exposes the poller's health and retriever controls over
// HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/unklstewy/equinox/pkg/healthcheck"
	"github.com/unklstewy/equinox/pkg/lifecycle"
	"github.com/unklstewy/equinox/pkg/requester"
	"github.com/unklstewy/equinox/pkg/retriever"
	"go.uber.org/zap"
)

// Controller is what the API drives.
type Controller interface {
	Manager() *retriever.Manager
	Machine() *lifecycle.Machine
	CheckHealth(ctx context.Context) *healthcheck.AggregatedResult
	Result(name string) (*requester.Envelope, bool)
	SetActiveContext(token retriever.Token)
	Activate(token retriever.Token) error
}

// Config holds the HTTP server settings.
type Config struct {
	ListenAddress string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
	Debug         bool
}

// Server serves the status and control API.
type Server struct {
	config     Config
	controller Controller
	logger     *zap.Logger
	router     *gin.Engine

	mu         sync.Mutex
	httpServer *http.Server
}

// New creates a server. It does not listen until Start.
func New(config Config, controller Controller, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 10 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = 60 * time.Second
	}

	s := &Server{
		config:     config,
		controller: controller,
		logger:     logger.With(zap.String("component", "server")),
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens until ctx is cancelled or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         s.config.ListenAddress,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
	s.mu.Lock()
	s.httpServer = httpServer
	s.mu.Unlock()

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server starting", zap.String("address", httpServer.Addr))
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	httpServer := s.httpServer
	s.mu.Unlock()
	if httpServer == nil {
		return nil
	}

	s.logger.Info("Shutting down HTTP server")
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return nil
}

func (s *Server) setupRouter() *gin.Engine {
	if s.config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(RecoveryMiddleware(s.logger))
	router.Use(LoggingMiddleware(s.logger))

	router.GET("/healthz", s.handleHealth)

	retrievers := router.Group("/retrievers")
	retrievers.GET("", s.handleListRetrievers)
	retrievers.GET("/:name", s.handleGetRetriever)
	retrievers.GET("/:name/result", s.handleGetResult)
	retrievers.POST("/:name/suspend", s.handleSuspend)
	retrievers.POST("/:name/restart", s.handleRestart)

	router.GET("/context", s.handleGetContext)
	router.PUT("/context", s.handlePutContext)

	router.GET("/lifecycle", s.handleGetLifecycle)
	router.POST("/lifecycle/:event", s.handleLifecycleEvent)

	return router
}
