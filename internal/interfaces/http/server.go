// Package http provides the HTTP adapter for the rental workflow.
// Handlers translate requests into Coordinator calls and errors into the JSON envelope.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/equiprent/rental-workflow/internal/application/service"
)

const requestIDHeader = "X-Request-ID"

// WebhookHandler receives provider callbacks
type WebhookHandler interface {
	HandleLalamove(c *gin.Context)
	HandleAsaas(c *gin.Context)
}

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Version      string
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		Version:      "dev",
	}
}

// Server is the HTTP server adapter
type Server struct {
	config      ServerConfig
	httpServer  *http.Server
	router      *gin.Engine
	coordinator service.Coordinator
	webhooks    WebhookHandler
	health      HealthChecker
	logger      Logger
}

// NewServer creates a new HTTP server. webhooks and health may be nil.
func NewServer(
	config ServerConfig,
	coordinator service.Coordinator,
	webhooks WebhookHandler,
	health HealthChecker,
	logger Logger,
) *Server {
	// Set gin mode based on environment
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	server := &Server{
		config:      config,
		router:      router,
		coordinator: coordinator,
		webhooks:    webhooks,
		health:      health,
		logger:      logger,
	}

	// Setup middleware
	server.setupMiddleware()

	// Setup routes
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.router.Use(gin.Recovery())

	s.router.Use(requestIDMiddleware())

	// Logging middleware
	s.router.Use(s.loggingMiddleware())
}

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		// Process request
		c.Next()

		// Log request details
		latency := time.Since(start)
		status := c.Writer.Status()

		s.logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status", status,
			"latency", latency.String(),
			"client_ip", c.ClientIP(),
			"request_id", c.GetString("request_id"),
		)
	}
}

// requestIDMiddleware propagates or assigns X-Request-ID
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	handlers := NewHandlers(s.coordinator, s.health, s.config.Version, s.logger)

	// Health check
	s.router.GET("/health", handlers.HealthCheck)

	api := s.router.Group("/api")
	{
		orders := api.Group("/orders")
		orders.POST("", handlers.PlaceOrder)
		orders.GET("/:id", handlers.GetOrder)
		orders.GET("/:id/history", handlers.GetOrderHistory)
		orders.POST("/:id/transitions", handlers.TransitionOrder)
		orders.POST("/:id/dispatch", handlers.RequestDispatch)
		orders.DELETE("/:id/dispatch", handlers.CancelDispatch)
		orders.POST("/:id/dispatch/sync", handlers.SyncDispatch)
		orders.POST("/:id/inspection", handlers.CompleteInspection)
		orders.POST("/:id/damage-reports", handlers.CreateDamageReport)
		orders.GET("/:id/damage-reports", handlers.ListDamageReports)

		reports := api.Group("/damage-reports")
		reports.GET("/:id", handlers.GetDamageReport)
		reports.POST("/:id/lines", handlers.AddDamageLine)
		reports.DELETE("/:id/lines/:lineId", handlers.RemoveDamageLine)
		reports.POST("/:id/submit", handlers.SubmitReport)
		reports.POST("/:id/approve", handlers.ApproveReport)
		reports.POST("/:id/reject", handlers.RejectReport)
		reports.POST("/:id/resubmit", handlers.ResubmitReport)
		reports.POST("/:id/billing", handlers.GenerateBilling)
		reports.GET("/:id/statement", handlers.ExportStatement)

		billing := api.Group("/billing")
		billing.GET("/:reference", handlers.GetBilling)
		billing.POST("/:reference/refresh", handlers.RefreshBilling)
	}

	if s.webhooks != nil {
		hooks := s.router.Group("/webhooks")
		hooks.POST("/lalamove", s.webhooks.HandleLalamove)
		hooks.POST("/asaas", s.webhooks.HandleAsaas)
	}
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	// Create shutdown context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
