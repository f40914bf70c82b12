package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"

	"pitaxi/internal/domain"
	"pitaxi/internal/handler"
	"pitaxi/internal/logger"
	"pitaxi/internal/middleware"
	"pitaxi/internal/redis"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	UserHandler         *handler.UserHandler
	PricingHandler      *handler.PricingHandler
	DriverHandler       *handler.DriverHandler
	TripHandler         *handler.TripHandler
	PaymentHandler      *handler.PaymentHandler
	DisputeHandler      *handler.DisputeHandler
	TransparencyHandler *handler.TransparencyHandler
	TokenParser         middleware.TokenParser
	IdempotencyStore    redis.IdempotencyStoreInterface
	Logger              logger.ILogger
	NewRelicApp         *newrelic.Application
	AllowedOrigins      []string
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.CORSMiddleware(deps.AllowedOrigins))

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1")

	// Public routes.
	v1.POST("/auth/pi", deps.UserHandler.Authenticate)
	v1.POST("/fares/calculate", deps.PricingHandler.CalculateFare)
	v1.GET("/pricing/active", deps.PricingHandler.Active)

	transparency := v1.Group("/transparency")
	{
		transparency.GET("/logs", deps.TransparencyHandler.Logs)
		transparency.GET("/treasury", deps.TransparencyHandler.Treasury)
	}

	// Authenticated routes. Idempotency keys are scoped per caller, so the
	// middleware runs after Auth.
	authed := v1.Group("")
	authed.Use(middleware.Auth(deps.TokenParser))
	authed.Use(middleware.IdempotencyMiddleware(deps.IdempotencyStore, deps.Logger))

	users := authed.Group("/users")
	{
		users.GET("/me", deps.UserHandler.Me)
		users.GET("/me/referrals", deps.UserHandler.Referrals)
	}

	drivers := authed.Group("/drivers")
	{
		drivers.POST("", deps.DriverHandler.Register)
		drivers.GET("/me", deps.DriverHandler.Me)
		drivers.POST("/me/online", deps.DriverHandler.GoOnline)
		drivers.POST("/me/offline", deps.DriverHandler.GoOffline)
	}

	trips := authed.Group("/trips")
	{
		trips.POST("", deps.TripHandler.CreateTrip)
		trips.GET("", deps.TripHandler.ListTrips)
		trips.GET("/:id", deps.TripHandler.GetTrip)
		trips.POST("/:id/accept", deps.TripHandler.AcceptTrip)
		trips.POST("/:id/status", deps.TripHandler.UpdateStatus)
		trips.POST("/:id/cancel", deps.TripHandler.CancelTrip)
		trips.POST("/:id/rate", deps.TripHandler.RateTrip)
		trips.GET("/:id/transactions", deps.TripHandler.ListTransactions)
		trips.GET("/:id/disputes", deps.DisputeHandler.ListByTrip)
	}

	payments := authed.Group("/payments")
	{
		payments.POST("/approve", deps.PaymentHandler.Approve)
		payments.POST("/complete", deps.PaymentHandler.Complete)
		payments.POST("/refund", middleware.RequireRole(domain.UserRoleAdmin), deps.PaymentHandler.Refund)
		payments.GET("/:id/status", deps.PaymentHandler.Status)
	}

	disputes := authed.Group("/disputes")
	{
		disputes.POST("", deps.DisputeHandler.File)
		disputes.GET("/:id", deps.DisputeHandler.Get)
	}

	admin := authed.Group("/admin")
	admin.Use(middleware.RequireRole(domain.UserRoleAdmin))
	{
		admin.GET("/pricing", deps.PricingHandler.List)
		admin.POST("/pricing", deps.PricingHandler.Create)
		admin.POST("/pricing/:id/activate", deps.PricingHandler.Activate)
		admin.POST("/drivers/:id/verify", deps.DriverHandler.Verify)
		admin.POST("/disputes/:id/review", deps.DisputeHandler.StartReview)
		admin.POST("/disputes/:id/resolve", deps.DisputeHandler.Resolve)
		admin.POST("/disputes/:id/reject", deps.DisputeHandler.Reject)
	}

	return router
}
