// Package http exposes the session hierarchy over a REST API plus a
// websocket event stream. It is a thin façade: every operation delegates to
// the coordinator, resolver, context resolver, or ledger, and hierarchy
// errors map onto HTTP statuses by kind.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"navi/internal/config"
	"navi/internal/hierarchy"
	"navi/internal/shared/logging"
)

// Deps are the collaborators the server exposes.
type Deps struct {
	Coordinator *hierarchy.Coordinator
	Resolver    *hierarchy.Resolver
	Context     *hierarchy.ContextResolver
	Ledger      *hierarchy.Ledger
	Notifier    *hierarchy.Notifier
	Presets     *config.PresetSet
	Metrics     http.Handler
	Logger      logging.Logger
}

// Server hosts the hierarchy API.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	deps       Deps
	logger     logging.Logger
	startTime  time.Time
}

// New builds the server and its routes.
func New(cfg config.ServerConfig, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.CORSOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.CORSOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowWebSockets = true
	engine.Use(cors.New(corsConfig))

	s := &Server{
		engine:    engine,
		deps:      deps,
		logger:    logging.OrNop(deps.Logger),
		startTime: time.Now(),
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	h := newHierarchyHandler(s.deps)

	api := s.engine.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/presets", h.listPresets)
	api.GET("/events", newEventStream(s.deps.Notifier, s.logger).handle)

	sessions := api.Group("/sessions")
	{
		sessions.POST("", h.createRoot)
		sessions.GET("/:id", h.getSession)
		sessions.GET("/:id/tree", h.getTree)
		sessions.GET("/:id/children", h.listChildren)
		sessions.GET("/:id/ancestors", h.listAncestors)
		sessions.GET("/:id/active", h.listActive)
		sessions.GET("/:id/blocked", h.listBlocked)
		sessions.GET("/:id/can-spawn", h.canSpawn)

		sessions.POST("/:id/children", h.spawnChild)
		sessions.POST("/:id/escalate", h.escalate)
		sessions.POST("/:id/resolve", h.resolveEscalation)
		sessions.POST("/:id/deliver", h.deliver)
		sessions.POST("/:id/pause", h.pause)
		sessions.POST("/:id/resume", h.resume)
		sessions.POST("/:id/archive", h.archive)
		sessions.POST("/:id/cancel-children", h.cancelChildren)

		sessions.GET("/:id/context", h.getContext)
		sessions.POST("/:id/context/query", h.queryContext)

		sessions.POST("/:id/decisions", h.logDecision)
		sessions.GET("/:id/decisions", h.listDecisions)
		sessions.POST("/:id/artifacts", h.logArtifact)
		sessions.GET("/:id/artifacts", h.listArtifacts)
	}

	if s.deps.Metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, apiResponse{
		Success: true,
		Data: gin.H{
			"status": "ok",
			"uptime": time.Since(s.startTime).String(),
		},
	})
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.logger.Info("hierarchy API listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("hierarchy API shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the engine for httptest-based tests.
func (s *Server) Handler() http.Handler { return s.engine }
