package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/piogold/ico_service/docs"
	"github.com/piogold/ico_service/internal/api/middleware"
	"github.com/piogold/ico_service/internal/infrastructure/di"
)

const serviceName = "ico-service"

// SetupRoutes configures all application routes
func SetupRoutes(container *di.Container) *gin.Engine {
	router := gin.New()
	cfg := container.Config

	// Global middleware - order matters
	router.Use(middleware.Tracing(serviceName))
	router.Use(middleware.RequestID())
	router.Use(middleware.Metrics())
	router.Use(middleware.RequestSizeLimit())
	router.Use(middleware.Logger(container.Logger))
	router.Use(middleware.Recovery(container.Logger))
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.Use(middleware.RateLimit(cfg.Server.RateLimitPerMin))
	router.Use(middleware.SecurityHeaders())

	// Health checks (no auth required)
	router.GET("/health", container.HealthHandlers.Health)
	router.GET("/live", container.HealthHandlers.Live)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Swagger documentation (development only)
	if cfg.Environment != "production" || cfg.Server.EnableSwagger {
		router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := router.Group("/api")
	{
		ico := container.ICOHandlers
		api.GET("/settings/public", ico.PublicSettings)
		api.POST("/calculate-purchase", ico.CalculatePurchase)
		api.POST("/orders/create", ico.CreateOrder)
		api.GET("/orders/:id/status", ico.OrderStatus)

		users := api.Group("/users")
		{
			users.POST("/register", container.UserHandlers.Register)
			users.GET("/:address", container.UserHandlers.Profile)
			users.GET("/:address/orders", container.UserHandlers.Orders)
			users.GET("/:address/referrals", container.UserHandlers.Referrals)
		}

		setupAdminRoutes(api, container)
	}

	return router
}

func setupAdminRoutes(api *gin.RouterGroup, container *di.Container) {
	h := container.AdminHandlers

	adminGroup := api.Group("/admin")
	loginLimit := container.LoginLimiter.Limit()
	adminGroup.POST("/setup", loginLimit, h.Setup)
	adminGroup.POST("/login", loginLimit, h.Login)

	authed := adminGroup.Group("", middleware.AdminAuth(container.Config.JWT.Secret))
	{
		authed.POST("/2fa/enroll", h.EnrollTOTP)
		authed.POST("/2fa/enable", h.EnableTOTP)

		authed.GET("/settings", h.GetSettings)
		authed.PUT("/settings", h.UpdateSettings)
		authed.POST("/ico/pause", h.PauseICO)
		authed.POST("/ico/resume", h.ResumeICO)

		authed.GET("/offers", h.ListOffers)
		authed.POST("/offers", h.CreateOffer)
		authed.PUT("/offers/:id", h.UpdateOffer)
		authed.DELETE("/offers/:id", h.DeleteOffer)

		authed.GET("/orders", h.ListOrders)
		authed.POST("/orders/:id/requeue", h.RequeueOrder)

		authed.GET("/referrals", h.ListReferrals)
		authed.PUT("/referrals/:id", h.UpdateReferral)

		authed.GET("/users", h.ListUsers)
		authed.GET("/users/:id/details", h.UserDetails)

		authed.GET("/transactions", h.ListTransactions)
		authed.GET("/stats", h.Stats)
	}
}
