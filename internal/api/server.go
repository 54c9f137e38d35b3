package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"fundarb/internal/arbitrage"
	"fundarb/internal/auth"
	"fundarb/internal/cache"
	"fundarb/internal/config"
	"fundarb/internal/database"
	"fundarb/internal/logger"
	"fundarb/internal/market"
	"fundarb/internal/middleware"
	"fundarb/internal/monitoring"
	"fundarb/internal/orchestrator"
)

// Deps are the constructed components the server exposes over HTTP. DB may
// be nil when running without persistence and Metrics may be nil when
// monitoring is disabled; everything else is required.
type Deps struct {
	DB        *database.DB
	Cache     cache.Cacher
	Markets   *market.Manager
	Service   *arbitrage.Service
	Scheduler *orchestrator.Scheduler
	JWT       *auth.JWTManager
	Metrics   *monitoring.Metrics
}

// Server is the HTTP surface: REST endpoints, the WebSocket stream, health
// and metrics.
type Server struct {
	cfg        *config.Config
	router     *gin.Engine
	httpServer *http.Server
	handler    *Handler
	hub        *Hub
	deps       Deps
}

// NewServer wires routes and middleware around already-constructed
// components.
func NewServer(cfg *config.Config, deps Deps) *Server {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:     cfg,
		router:  gin.New(),
		handler: NewHandler(cfg, deps.Markets, deps.Service, deps.Scheduler, deps.JWT, deps.Metrics),
		hub:     NewHub(deps.Service, deps.Metrics, cfg.CORS.AllowedOrigins),
		deps:    deps,
	}
	s.setupRoutes()
	return s
}

// Hub exposes the WebSocket hub so the sampling task can broadcast
// through it.
func (s *Server) Hub() *Hub { return s.hub }

// Router returns the underlying gin engine.
func (s *Server) Router() *gin.Engine { return s.router }

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.RequestLogger())
	s.router.Use(middleware.ErrorHandler())
	s.router.Use(middleware.HandleError)
	s.router.Use(middleware.CORS(middleware.CORSConfig{
		Enabled:        true,
		AllowedOrigins: s.cfg.CORS.AllowedOrigins,
		AllowedMethods: s.cfg.CORS.AllowedMethods,
		AllowedHeaders: s.cfg.CORS.AllowedHeaders,
	}))
	if s.cfg.RateLimit.Enabled {
		s.router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			Enabled:        true,
			RequestsPerSec: float64(s.cfg.RateLimit.RequestsPerMinute) / 60,
			Burst:          s.cfg.RateLimit.Burst,
		}))
	}
	if s.deps.Metrics != nil {
		s.router.Use(s.deps.Metrics.MetricsMiddleware())
	}

	s.router.GET("/health", s.handleHealth)

	if s.cfg.Monitoring.PrometheusEnabled {
		s.router.GET(s.cfg.Monitoring.PrometheusPath, gin.WrapH(monitoring.PrometheusHandler()))
	}

	if s.cfg.App.Env == "development" {
		s.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	s.router.GET("/ws/opportunities", s.hub.OpportunityStream)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/auth/token", s.handler.IssueToken)

		v1.GET("/opportunities", s.handler.GetOpportunities)
		v1.GET("/assets/search", s.handler.SearchAssets)
		v1.GET("/exchanges", s.handler.GetExchanges)
		v1.GET("/pairs/:asset/history", s.handler.GetPairHistory)
		v1.GET("/pairs/:asset/statistics", s.handler.GetPairStatistics)

		protected := v1.Group("")
		protected.Use(middleware.Auth(s.deps.JWT))
		{
			protected.POST("/snapshots", s.handler.IngestSnapshots)
			protected.GET("/tasks", s.handler.ListTasks)
			protected.POST("/tasks/:name/run", s.handler.RunTask)
		}
	}
}

// handleHealth reports per-dependency health. The endpoint stays at 200
// while the snapshot read path works, even with optional dependencies
// down, and flips to 503 only when opportunities can no longer be served.
func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()
	checks := make(map[string]HealthCheck)
	status := statusHealthy

	if s.deps.DB == nil {
		checks["database"] = HealthCheck{Status: statusDisabled}
		status = statusDegraded
	} else if err := s.deps.DB.HealthCheck(ctx); err != nil {
		checks["database"] = HealthCheck{Status: statusDown, Error: err.Error()}
		status = statusDegraded
	} else if !s.deps.DB.IsHealthy() {
		checks["database"] = HealthCheck{Status: statusDegraded, Error: "connection pool under pressure"}
		status = statusDegraded
	} else {
		checks["database"] = HealthCheck{Status: statusHealthy}
	}

	if err := s.deps.Cache.HealthCheck(ctx); err != nil {
		checks["cache"] = HealthCheck{Status: statusDown, Error: err.Error()}
		status = statusDegraded
	} else {
		checks["cache"] = HealthCheck{Status: statusHealthy}
	}

	if err := s.deps.Markets.HealthCheck(ctx); err != nil {
		checks["snapshots"] = HealthCheck{Status: statusDown, Error: err.Error()}
		status = statusDown
	} else {
		checks["snapshots"] = HealthCheck{Status: statusHealthy}
	}

	resp := HealthResponse{
		Status:         status,
		Version:        s.cfg.App.Version,
		Timestamp:      time.Now().UTC(),
		Checks:         checks,
		StatsPairCount: s.deps.Service.StatsPairCount(),
	}
	if refreshed := s.deps.Service.StatsLastRefreshed(); !refreshed.IsZero() {
		resp.StatsRefreshedAt = &refreshed
	}
	if s.deps.Scheduler != nil {
		resp.Tasks = s.deps.Scheduler.ListTasks()
	}

	code := http.StatusOK
	if status == statusDown {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:        s.router,
		ReadTimeout:    s.cfg.Server.ReadTimeout,
		WriteTimeout:   s.cfg.Server.WriteTimeout,
		MaxHeaderBytes: s.cfg.Server.MaxHeaderBytes,
	}

	logger.Info("Starting API server", "addr", s.httpServer.Addr, "env", s.cfg.App.Env)
	return s.httpServer.ListenAndServe()
}

// Stop drains in-flight requests and disconnects WebSocket clients. The
// caller owns the database and cache connections.
func (s *Server) Stop(ctx context.Context) error {
	logger.Info("Shutting down API server")

	s.hub.Close()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
	}

	logger.Info("API server stopped")
	return nil
}
