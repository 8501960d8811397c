package http

import (
	"net/http"

	"quickdowntime/internal/core/domain"
	"quickdowntime/internal/core/services"
	"quickdowntime/internal/infrastructure/middleware"
	"quickdowntime/internal/infrastructure/monitoring"
	"quickdowntime/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SocketRoutes mounts the live-update endpoints.
type SocketRoutes interface {
	RegisterRoutes(r gin.IRoutes)
}

// RouterDeps collects everything the HTTP surface is built from. Nil optional
// fields disable the matching routes or middleware.
type RouterDeps struct {
	Auth      services.AuthService
	Ingestion Ingestor
	Reporting Reporter
	Health    *monitoring.HealthChecker

	Sockets SocketRoutes
	Metrics http.Handler

	// RateLimit wraps every REST route. Sockets are mounted outside it so a
	// long-lived connection does not hold a concurrency slot.
	RateLimit   gin.HandlerFunc
	// SubmitLimit additionally guards the routes that create records.
	SubmitLimit gin.HandlerFunc
	Tracing     bool

	AllowedOrigins []string
	UploadDir      string
	UploadPrefix   string
	MaxUploadBytes int64

	AccessLog *logger.ContextLogger
	Logger    *zap.SugaredLogger
}

// NewRouter assembles the gin engine.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}

	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(deps.Logger),
		middleware.RequestIDMiddleware(),
		middleware.CORSMiddleware(deps.AllowedOrigins),
	)
	if deps.AccessLog != nil {
		router.Use(middleware.LoggingMiddleware(deps.AccessLog))
	}
	router.Use(middleware.ErrorHandlerMiddleware(deps.Logger))

	if deps.Health != nil {
		NewHealthHandler(deps.Health).SetupRoutes(router)
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}
	if deps.UploadDir != "" {
		prefix := deps.UploadPrefix
		if prefix == "" {
			prefix = "/uploads"
		}
		router.Static(prefix, deps.UploadDir)
	}
	if deps.Sockets != nil {
		deps.Sockets.RegisterRoutes(router)
	}

	var chain []gin.HandlerFunc
	if deps.RateLimit != nil {
		chain = append(chain, deps.RateLimit)
	}
	if deps.Tracing {
		chain = append(chain, middleware.TracingMiddleware())
	}
	api := router.Group("/api", chain...)

	authenticated := middleware.AuthMiddleware(deps.Auth)
	managersOnly := middleware.RequireRole(domain.RoleManager)

	NewAuthHandler(deps.Auth).SetupRoutes(api.Group("/auth", authenticated))

	var submit []gin.HandlerFunc
	if deps.SubmitLimit != nil {
		submit = append(submit, deps.SubmitLimit)
	}

	operator := NewOperatorHandler(deps.Ingestion, deps.Reporting, deps.MaxUploadBytes)
	operator.SetupRoutes(api.Group("/operator", authenticated, middleware.RequireRole(domain.RoleOperator)), submit...)

	downtime := NewDowntimeHandler(deps.Ingestion, deps.MaxUploadBytes)
	api.POST("/downtime/log-local", append(submit, downtime.LogLocal)...)
	api.POST("/downtime/sync", authenticated, managersOnly, downtime.Sync)

	NewManagementHandler(deps.Ingestion, deps.Reporting).
		SetupRoutes(api.Group("/management", authenticated, managersOnly))
	NewAIHandler(deps.Ingestion, deps.Reporting).
		SetupRoutes(api.Group("/ai/analysis", authenticated, managersOnly))

	return router
}
