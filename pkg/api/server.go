package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"leadforge/pkg/api/middleware"
	"leadforge/pkg/budget"
	"leadforge/pkg/coordination"
	"leadforge/pkg/logger"
	"leadforge/pkg/metrics"
	"leadforge/pkg/notifier"
	"leadforge/pkg/runner"
	"leadforge/pkg/scheduler"
	"leadforge/pkg/storage"
)

// Server encapsulates the HTTP API server and its dependencies.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server

	campaigns storage.CampaignStore
	runs      storage.RunStore
	archive   storage.ArchiveStore
	scheduler *scheduler.Scheduler
	runner    *runner.Runner
	budget    *budget.Gate
	notifier  *notifier.Notifier
	election  coordination.Election

	startedAt time.Time
}

// Config holds API server configuration.
type Config struct {
	Port        string
	Campaigns   storage.CampaignStore
	Runs        storage.RunStore
	Archive     storage.ArchiveStore
	Scheduler   *scheduler.Scheduler
	Runner      *runner.Runner
	Budget      *budget.Gate
	Notifier    *notifier.Notifier
	Election    coordination.Election
	AuthMW      gin.HandlerFunc // nil disables auth
}

// NewServer creates a new API server with all dependencies.
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.TracingMiddleware("leadforge-api"))
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(requestLogger())
	router.Use(middleware.RateLimitMiddleware())
	router.Use(middleware.BodySizeLimitMiddleware(1 << 20))

	s := &Server{
		router:    router,
		campaigns: cfg.Campaigns,
		runs:      cfg.Runs,
		archive:   cfg.Archive,
		scheduler: cfg.Scheduler,
		runner:    cfg.Runner,
		budget:    cfg.Budget,
		notifier:  cfg.Notifier,
		election:  cfg.Election,
		startedAt: time.Now(),
	}

	s.registerRoutes(cfg.AuthMW)

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	logger.Get().Info("starting API server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Get().Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes sets up all API endpoints. authMW, when non-nil, guards
// every mutating campaign route.
func (s *Server) registerRoutes(authMW gin.HandlerFunc) {
	s.router.GET("/api/health", s.healthCheck)
	s.router.GET("/api/stats", s.stats)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	campaigns := s.router.Group("/api/campaigns")
	if s.campaigns == nil {
		// API-only mode: no store is configured, so campaign
		// resources cannot be served.
		campaigns.Use(func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "no store configured"})
		})
	}
	{
		if authMW != nil {
			campaigns.POST("", authMW, s.createCampaign)
			campaigns.PUT("/:id/pause", authMW, s.pauseCampaign)
			campaigns.PUT("/:id/resume", authMW, s.resumeCampaign)
			campaigns.DELETE("/:id", authMW, s.deleteCampaign)
			campaigns.POST("/:id/run", authMW, s.runCampaign)
		} else {
			campaigns.POST("", s.createCampaign)
			campaigns.PUT("/:id/pause", s.pauseCampaign)
			campaigns.PUT("/:id/resume", s.resumeCampaign)
			campaigns.DELETE("/:id", s.deleteCampaign)
			campaigns.POST("/:id/run", s.runCampaign)
		}
		campaigns.GET("", s.listCampaigns)
		campaigns.GET("/:id", s.getCampaign)
		campaigns.GET("/:id/runs", s.listCampaignRuns)
	}
}

// requestLogger is a middleware that logs HTTP requests.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Get().Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// healthCheck reports orchestrator status, active scheduled count,
// leader status, and process resource usage.
func (s *Server) healthCheck(c *gin.Context) {
	deps := map[string]bool{
		"postgres": s.campaigns != nil,
		"runs":     s.runs != nil,
	}
	healthy := true
	for _, ok := range deps {
		if !ok {
			healthy = false
		}
	}

	activeSchedules := 0
	if s.scheduler != nil {
		activeSchedules = len(s.scheduler.ActiveTasks())
	}

	leader := ""
	if s.election != nil {
		if v, err := s.election.Leader(c.Request.Context()); err == nil {
			leader = v
		}
	}

	procStats := gin.H{}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		procStats["cpu_percent"] = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		procStats["memory_used_percent"] = vm.UsedPercent
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":           status,
		"dependencies":     deps,
		"active_schedules": activeSchedules,
		"leader":           leader,
		"uptime_seconds":   time.Since(s.startedAt).Seconds(),
		"process":          procStats,
		"timestamp":        time.Now().UTC(),
	})
}

// stats aggregates counts across all campaigns.
func (s *Server) stats(c *gin.Context) {
	if s.campaigns == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "no store configured"})
		return
	}
	all, err := s.campaigns.ListCampaigns(c.Request.Context(), storage.CampaignFilters{})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to load campaigns: " + err.Error()})
		return
	}

	byStatus := map[string]int{}
	var totalRuns int64
	var totalCost float64
	for _, camp := range all {
		byStatus[string(camp.Status)]++
		totalRuns += camp.TotalRuns
		totalCost += camp.TotalCost
	}
	for status, count := range byStatus {
		metrics.CampaignsTotal.WithLabelValues(status).Set(float64(count))
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"total_campaigns":  len(all),
		"by_status":        byStatus,
		"total_runs":       totalRuns,
		"total_cost":       totalCost,
	})
}
