// Package api exposes the engine over HTTP: the run endpoint (JSON or
// SSE), thread inspection endpoints, a WebSocket event feed and health.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/copilotz/copilotz/pkg/config"
	"github.com/copilotz/copilotz/pkg/database"
	"github.com/copilotz/copilotz/pkg/engine"
	"github.com/copilotz/copilotz/pkg/events"
)

// Server is the HTTP front of one engine.
type Server struct {
	engine      *engine.Engine
	db          *database.Client
	connManager *events.ConnectionManager
	cfg         config.ServerConfig
	logger      *slog.Logger

	httpServer *http.Server
}

// NewServer creates the API server. connManager may be nil; the
// WebSocket endpoint then responds 503.
func NewServer(eng *engine.Engine, db *database.Client, connManager *events.ConnectionManager, cfg config.ServerConfig) *Server {
	return &Server{
		engine:      eng,
		db:          db,
		connManager: connManager,
		cfg:         cfg,
		logger:      slog.With("component", "api"),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger(), securityHeaders())

	router.GET("/health", s.health)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/runs", s.createRun)
		v1.GET("/threads/:id", s.getThread)
		v1.GET("/threads/:id/messages", s.getThreadMessages)
		v1.GET("/threads/:id/events", s.getThreadEvents)
	}

	router.GET("/ws/threads/:id", s.threadFeed)
	return router
}

// Start runs the HTTP server until it fails or Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.logger.Info("API server listening", "addr", s.cfg.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// health reports process and database liveness.
func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status, err := s.db.Health(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": status,
			"error":    err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": status,
	})
}
