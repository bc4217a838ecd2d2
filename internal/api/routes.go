package api

import (
	"example.com/backstage/services/iotcore/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, handlers *APIHandlers, services *core.Services, logger *logrus.Logger) {
	// Global middleware
	router.Use(Recovery(logger))
	router.Use(RequestLogger(logger))
	router.Use(CORS())

	// Health check (public)
	router.GET("/health", handlers.HealthCheck)

	// Auth endpoints (public, tighter rate limit)
	auth := router.Group("/auth")
	auth.Use(RateLimiter(20))
	{
		auth.POST("/login", handlers.Login)
		auth.POST("/register", handlers.Register)
		auth.POST("/forgot-password", handlers.ForgotPassword)
		auth.POST("/reset-password", handlers.ResetPassword)
	}

	// Account management
	v1 := router.Group("/api/v1")
	v1.Use(RateLimiter(100))
	v1.Use(JWTAuthentication(services.Tokens))
	{
		users := v1.Group("/users")
		{
			users.GET("", handlers.ListAccounts)
			users.POST("", RequireAdmin(), handlers.CreateAccount)
			users.GET("/:id", handlers.GetAccount)
			users.PUT("/:id", handlers.UpdateAccount)
			users.DELETE("/:id", handlers.DeleteAccount)

			users.GET("/:id/devices", handlers.ListAccountDevices)
			users.POST("/:id/devices", handlers.AddAccountDevice)
			users.PUT("/:id/devices/:deviceId", handlers.UpdateAccountDevice)
			users.DELETE("/:id/devices/:deviceId", handlers.DeleteAccountDevice)

			users.GET("/:id/subscriptions", handlers.ListSubscriptions)
			users.GET("/:id/tanks", handlers.ListTanks)
		}

		plans := v1.Group("/plans")
		{
			plans.GET("", handlers.ListPlans)
			plans.POST("", RequireAdmin(), handlers.CreatePlan)
		}

		subs := v1.Group("/subscriptions")
		{
			subs.POST("", handlers.Subscribe)
			subs.DELETE("/:id", handlers.CancelSubscription)
		}

		tanks := v1.Group("/tanks")
		{
			tanks.POST("", handlers.SaveTank)
			tanks.PUT("/:id", handlers.SaveTank)
		}
	}

	// Telemetry and device catalog
	iot := router.Group("/iot/v1")
	iot.Use(RateLimiter(300))
	iot.Use(JWTAuthentication(services.Tokens))
	{
		data := iot.Group("/data")
		{
			data.POST("/_create", handlers.IngestTelemetry)
			data.POST("/_bulkCreate", handlers.IngestTelemetryBatch)
			data.GET("/_search", handlers.SearchTelemetry)
			data.GET("/_latest", handlers.LatestTelemetry)
			data.GET("/_stats", handlers.TelemetryStats)
			data.POST("/_publish", RequireAdmin(), handlers.PublishCommand)
		}

		devices := iot.Group("/devices")
		{
			devices.GET("", handlers.ListCatalogDevices)
			devices.GET("/:deviceId", handlers.GetCatalogDevice)
			devices.POST("", RequireAdmin(), handlers.RegisterCatalogDevice)
			devices.PUT("/:deviceId", RequireAdmin(), handlers.UpdateCatalogDevice)
			devices.DELETE("/:deviceId", RequireAdmin(), handlers.DeleteCatalogDevice)
		}
	}
}
