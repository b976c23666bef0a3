// Package api provides the HTTP API server for fastvm.
// It uses Echo framework to serve REST endpoints for VMs, volumes and
// snapshots, and WebSocket endpoints for consoles and live metrics.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	echoSwagger "github.com/swaggo/echo-swagger"
	"golang.org/x/time/rate"

	_ "evalgo.org/fastvm/docs" // Import generated docs
	"evalgo.org/fastvm/internal/config"
	"evalgo.org/fastvm/internal/engine"
	"evalgo.org/fastvm/internal/logging"
	"evalgo.org/fastvm/internal/version"
)

// Server represents the fastvm API server.
type Server struct {
	echo    *echo.Echo
	engine  *engine.Engine
	config  *config.Config
	metrics *prometheus.Registry
	log     *logrus.Entry
}

// New creates a new API server instance.
func New(cfg *config.Config, eng *engine.Engine) *Server {
	e := echo.New()

	e.HideBanner = true
	e.HidePort = true
	e.Debug = cfg.Server.Debug
	e.HTTPErrorHandler = HTTPErrorHandler

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		eng.Collector(),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	server := &Server{
		echo:    e,
		engine:  eng,
		config:  cfg,
		metrics: reg,
		log:     logging.For("api"),
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: skipProbes,
		Format:  "[${time_rfc3339}] ${status} ${method} ${uri} (${latency_human})\n",
	}))

	s.echo.Use(middleware.Recover())
	s.echo.Use(SecurityHeaders)

	if len(s.config.Security.AllowedOrigins) > 0 {
		s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: s.config.Security.AllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}))
	}

	s.echo.Use(middleware.RequestID())

	if s.config.Security.RateLimit > 0 {
		s.echo.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Skipper:             skipProbes,
			Store:               middleware.NewRateLimiterMemoryStore(rate.Limit(s.config.Security.RateLimit)),
			IdentifierExtractor: realIP,
			DenyHandler:         rateLimited,
		}))
	}

	s.echo.Use(ValidateContentType)
	s.echo.Use(ValidateAcceptHeader)
}

// skipProbes keeps scrapes and health checks out of the access log and the
// rate limiter.
func skipProbes(c echo.Context) bool {
	return c.Path() == "/metrics" || c.Path() == "/health"
}

func realIP(c echo.Context) (string, error) {
	return c.RealIP(), nil
}

func rateLimited(echo.Context, string, error) error {
	return NewAPIError(http.StatusTooManyRequests, getHTTPMessage(http.StatusTooManyRequests), "rate limit exceeded")
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/", s.healthCheck)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{})))

	// Swagger UI documentation
	s.echo.GET("/docs/*", echoSwagger.WrapHandler)

	v1 := s.echo.Group("/api/v1")

	vms := v1.Group("/vms")
	vms.Use(ValidateQueryParams)
	vms.GET("", s.listVMs)
	vms.POST("", s.createVM)
	vms.GET("/:id", s.getVM, ValidateIDFormat)
	vms.PUT("/:id", s.updateVM, ValidateIDFormat)
	vms.DELETE("/:id", s.deleteVM, ValidateIDFormat)
	vms.POST("/:id/start", s.startVM, ValidateIDFormat)
	vms.POST("/:id/stop", s.stopVM, ValidateIDFormat)
	vms.POST("/:id/restart", s.restartVM, ValidateIDFormat)
	vms.POST("/:id/clone", s.cloneVM, ValidateIDFormat)
	vms.GET("/:id/logs", s.getVMLogs, ValidateIDFormat)

	vms.POST("/:id/volumes/:vol", s.attachVolume, ValidateIDFormat)
	vms.DELETE("/:id/volumes/:vol", s.detachVolume, ValidateIDFormat)

	vms.GET("/:id/snapshots", s.listSnapshots, ValidateIDFormat)
	vms.POST("/:id/snapshots", s.createSnapshot, ValidateIDFormat)
	vms.POST("/:id/snapshots/:snap/restore", s.restoreSnapshot, ValidateIDFormat)
	vms.DELETE("/:id/snapshots/:snap", s.deleteSnapshot, ValidateIDFormat)

	vms.GET("/:id/console", s.getConsole, ValidateIDFormat)
	vms.POST("/:id/console/disconnect", s.disconnectVMConsoles, ValidateIDFormat)
	v1.DELETE("/console/sessions/:sid", s.disconnectSession, ValidateIDFormat)

	vms.GET("/:id/metrics", s.getVMMetrics, ValidateIDFormat)
	vms.GET("/:id/metrics/history", s.getVMMetricsHistory, ValidateIDFormat)

	volumes := v1.Group("/volumes")
	volumes.GET("", s.listVolumes)
	volumes.POST("", s.createVolume)
	volumes.GET("/:id", s.getVolume, ValidateIDFormat)
	volumes.DELETE("/:id", s.deleteVolume, ValidateIDFormat)

	v1.GET("/system/metrics", s.getSystemMetrics)
	metrics := v1.Group("/metrics")
	metrics.Use(ValidateQueryParams)
	metrics.GET("/history", s.getMetricsHistory)
	metrics.GET("/history/extended", s.getExtendedHistory)

	v1.POST("/validate/vm", s.validateVM)

	v1.GET("/integrity/scan", s.scanIntegrity)
	v1.POST("/integrity/repair", s.repairIntegrity)
	v1.GET("/maintenance/jobs", s.listMaintenanceJobs)

	host := v1.Group("/host")
	host.GET("/bridges", s.listBridges)
	host.GET("/interfaces", s.listInterfaces)

	ws := s.echo.Group("/ws")
	ws.GET("/console/:id", s.HandleConsole, ValidateIDFormat)
	ws.GET("/metrics", s.HandleMetrics)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	s.log.WithFields(logrus.Fields{
		"address":  addr,
		"data_dir": s.config.Storage.DataDir,
		"debug":    s.config.Server.Debug,
		"version":  version.Version,
	}).Info("starting fastvm API server")

	s.echo.Server.ReadTimeout = s.config.Server.ReadTimeout
	s.echo.Server.WriteTimeout = s.config.Server.WriteTimeout

	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server. The engine is closed by its
// owner.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down fastvm API server")

	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down server: %w", err)
	}

	s.log.Info("server shutdown complete")
	return nil
}

// healthCheck handles GET /health
// @Summary Health check
// @Description Report host readiness for running VMs
// @Tags System
// @Produce json
// @Success 200 {object} map[string]interface{} "Healthy"
// @Failure 503 {object} map[string]interface{} "Degraded"
// @Router /health [get]
func (s *Server) healthCheck(c echo.Context) error {
	health := s.engine.Health(c.Request().Context())

	code := http.StatusOK
	if !health.Healthy() {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, map[string]interface{}{
		"status":  health.Status,
		"service": "fastvm",
		"version": version.Version,
		"checks":  health.Checks,
		"vms":     len(s.engine.ListVMs()),
	})
}

// ServeHTTP allows Server to implement http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
