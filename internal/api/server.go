// Package api exposes the trial-matching workflow over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/c-answer-server/internal/database"
	"github.com/c-answer-server/internal/domain"
	"github.com/c-answer-server/internal/service"
)

// Server represents the HTTP server
type Server struct {
	cfg     *domain.Config
	matcher *service.Matcher
	db      *database.DB // nil unless the postgres shortlist backend is active
	logger  *logrus.Logger
	router  *gin.Engine
	server  *http.Server
}

// NewServer creates a new HTTP server instance. db may be nil.
func NewServer(cfg *domain.Config, matcher *service.Matcher, db *database.DB, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}

	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middleware
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestIDMiddleware())

	server := &Server{
		cfg:     cfg,
		matcher: matcher,
		db:      db,
		logger:  logger,
		router:  router,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	cfg := s.cfg.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/sessions", s.handleCreateSession)
		v1.DELETE("/sessions/:id", s.handleEndSession)
		v1.POST("/sessions/:id/search", s.handleSearch)
		v1.POST("/sessions/:id/trials/:nct/analyze", s.handleAnalyze)
		v1.GET("/sessions/:id/trials/:nct/verdict", s.handleVerdict)
		v1.POST("/sessions/:id/shortlist/:nct", s.handleSaveTrial)
		v1.DELETE("/sessions/:id/shortlist/:nct", s.handleRemoveTrial)
		v1.GET("/sessions/:id/shortlist", s.handleShortlist)
		v1.POST("/sessions/:id/landscape", s.handleLandscape)
		v1.POST("/sessions/:id/compare", s.handleCompare)
		v1.GET("/sessions/:id/report", s.handleReport)
		v1.POST("/extract", s.handleExtract)
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"sessions":  s.matcher.SessionCount(),
	}

	if s.db != nil {
		if err := s.db.Health(c.Request.Context()); err != nil {
			body["status"] = "degraded"
			body["database"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			body["database"] = "ok"
		}
	}

	c.JSON(status, body)
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", "Content-Length, Content-Disposition")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestIDMiddleware adds a unique request ID to each request
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}
