package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gevsen/Mini-Arima/internal/api/handlers"
	"github.com/gevsen/Mini-Arima/internal/api/middleware"
	"github.com/gevsen/Mini-Arima/internal/config"
)

type Server struct {
	Config  *config.Config
	Router  *gin.Engine
	handler *handlers.Handler
}

func NewServer(cfg *config.Config, handler *handlers.Handler, logger *zap.Logger) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	// Middleware
	router.Use(middleware.Logger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())

	server := &Server{
		Config:  cfg,
		Router:  router,
		handler: handler,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	// Health check and metrics
	s.Router.GET("/health", handlers.HealthCheck)
	s.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.Router.Group("/api/v1")
	{
		api.GET("/models", s.handler.Catalog)
		api.GET("/models/status", s.handler.ModelStatus)
		api.GET("/models/report", s.handler.ModelReport)

		api.POST("/chat", s.handler.Chat)
		api.POST("/ensemble", s.handler.Ensemble)
		api.POST("/images", s.handler.GenerateImage)

		api.GET("/users/:id/limits", s.handler.UserLimits)
		api.GET("/users/:id/usage", s.handler.UserUsage)
	}

	// Admin routes (protected)
	admin := s.Router.Group("/api/v1/admin")
	admin.Use(middleware.AuthRequired(s.Config.Server.JWTSecret))
	{
		admin.POST("/models/probe", s.handler.TriggerProbe)
		admin.GET("/stats", s.handler.Stats)
		admin.GET("/users", s.handler.ListUsers)
		admin.POST("/users/:id/tier", s.handler.SetTier)
		admin.POST("/users/:id/block", s.handler.SetBlocked)
		admin.POST("/users/:id/verify", s.handler.SetVerified)
		admin.POST("/users/:id/bonus", s.handler.GrantBonus)
		admin.POST("/users/:id/instruction", s.handler.SetInstruction)
		admin.POST("/users/:id/temperature", s.handler.SetTemperature)
	}
}
