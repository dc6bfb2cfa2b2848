package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wellsgz/speedpulse/internal/config"
	"github.com/wellsgz/speedpulse/internal/export"
	"github.com/wellsgz/speedpulse/internal/logging"
)

// Deps are the collaborators the API serves
type Deps struct {
	Session  Session
	Servers  ServerLister
	Exporter export.Exporter // nil reports export as not configured
	Metrics  http.Handler    // nil disables GET /metrics
}

// Server represents the API server
type Server struct {
	config     *config.Config
	router     *gin.Engine
	httpServer *http.Server
	handler    *Handler
	hub        *Hub
}

// NewServer creates a new API server with the given configuration
func NewServer(cfg *config.Config, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(ErrorHandler())
	router.Use(RequestLogger())
	router.Use(CORS())

	handler := NewHandler(cfg, deps)
	hub := NewHub(deps.Session, deps.Servers, cfg.Session.CompactBufferSize)

	SetupRoutes(router, handler, hub, deps.Metrics)

	return &Server{
		config:  cfg,
		router:  router,
		handler: handler,
		hub:     hub,
	}
}

// Start starts the API server in a blocking manner
func (s *Server) Start(address string) error {
	s.httpServer = &http.Server{
		Addr:         address,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logging.Info("API", "Starting server on "+address, nil)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the hub and the server in goroutines and returns immediately
func (s *Server) StartAsync(address string) {
	go s.hub.Run()

	go func() {
		if err := s.Start(address); err != nil {
			logging.Error("API", "Server error", err)
		}
	}()
}

// Shutdown gracefully shuts down the server with a timeout
func (s *Server) Shutdown(timeout time.Duration) error {
	// Closes all websocket clients first
	if s.hub != nil {
		s.hub.Stop()
	}

	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logging.Info("API", "Shutting down server...", nil)
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	logging.Info("API", "Server stopped", nil)
	return nil
}

// Router returns the underlying Gin router for testing or extension
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Handler returns the API handler
func (s *Server) Handler() *Handler {
	return s.handler
}

// Hub returns the WebSocket hub
func (s *Server) Hub() *Hub {
	return s.hub
}
