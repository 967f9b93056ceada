// Package web exposes the HTTP API and the WebSocket event stream.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/ralphlabs/ralphd/internal/events"
	"github.com/ralphlabs/ralphd/internal/orchestrator"
	"github.com/ralphlabs/ralphd/internal/store"
)

// DefaultPort is the listen port when none is configured.
const DefaultPort = 3000

// Server hosts the REST API and the observer WebSocket.
type Server struct {
	store       *store.Store
	registry    *orchestrator.Registry
	broadcaster *orchestrator.Broadcaster
	events      *events.Recorder
	logger      *slog.Logger

	// onSettings is called after a full settings replacement so the chat
	// bridge can be re-initialised.
	onSettings func(store.Settings)

	httpServer *http.Server
}

// Config wires the Server.
type Config struct {
	Store       *store.Store
	Registry    *orchestrator.Registry
	Broadcaster *orchestrator.Broadcaster
	Events      *events.Recorder
	Logger      *slog.Logger
	OnSettings  func(store.Settings)
	Port        int
}

// New builds a Server and its route table.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	onSettings := cfg.OnSettings
	if onSettings == nil {
		onSettings = func(store.Settings) {}
	}
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}

	s := &Server{
		store:       cfg.Store,
		registry:    cfg.Registry,
		broadcaster: cfg.Broadcaster,
		events:      cfg.Events,
		logger:      logger,
		onSettings:  onSettings,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api")
	{
		api.GET("/projects", s.listProjects)
		api.POST("/projects", s.createProject)
		api.POST("/projects/:id/start", s.startProject)
		api.POST("/projects/:id/stop", s.stopProject)
		api.POST("/projects/:id/init", s.initProject)
		api.POST("/projects/:id/generate-prd", s.generatePRD)
		api.POST("/projects/:id/update-prd", s.updatePRD)
		api.POST("/projects/:id/update-settings", s.updateProjectSettings)
		api.GET("/projects/:id/analytics", s.projectAnalytics)
		api.GET("/lessons", s.listLessons)
		api.DELETE("/lessons/:timestamp", s.deleteLesson)
		api.GET("/settings", s.getSettings)
		api.POST("/settings", s.replaceSettings)
	}
	router.GET("/", s.handleWebSocket)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}
	return s
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleWebSocket upgrades and hands the connection to the broadcaster,
// which sends the opening info envelope and owns the lifecycle.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	s.broadcaster.HandleConnection(ctx, conn)
}
