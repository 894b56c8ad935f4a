package api

import (
	"github.com/gin-gonic/gin"
	v1 "github.com/reckonhq/reckon/internal/api/v1"
	"github.com/reckonhq/reckon/internal/rest/middleware"
)

type Handlers struct {
	Health      *v1.HealthHandler
	Billing     *v1.BillingHandler
	Catalog     *v1.CatalogHandler
	Entitlement *v1.EntitlementHandler
	Webhook     *v1.WebhookHandler
}

func NewRouter(handlers Handlers) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware)
	router.Use(middleware.CORSMiddleware)
	router.Use(middleware.ErrorHandler())

	router.GET("/health", handlers.Health.Health)

	// Provider deliveries authenticate by signature, not caller identity
	webhooks := router.Group("/webhooks")
	{
		webhooks.POST("/:provider", handlers.Webhook.Ingest)
	}

	v1Group := router.Group("/v1")
	v1Group.Use(middleware.ContextMiddleware)
	registerV1Routes(v1Group, handlers)

	return router
}

func registerV1Routes(router *gin.RouterGroup, handlers Handlers) {
	billing := router.Group("/billing")
	{
		billing.POST("/checkout", handlers.Billing.CreateCheckout)
		billing.POST("/portal", handlers.Billing.CreatePortal)
		billing.POST("/payment-links", handlers.Billing.CreatePaymentLink)
		billing.GET("/subscription", handlers.Billing.GetSubscription)
		billing.GET("/payment-methods", handlers.Billing.ListPaymentMethods)
		billing.GET("/timeline", handlers.Billing.GetTimeline)
		billing.GET("/limitations", handlers.Billing.ListLimitations)
	}

	plans := router.Group("/plans")
	{
		plans.POST("", handlers.Catalog.CreatePlan)
		plans.GET("", handlers.Catalog.ListPlans)
		plans.GET("/:id", handlers.Catalog.GetPlan)
		plans.POST("/:id/prices", handlers.Catalog.CreatePrice)
	}
	router.POST("/prices/:id/retire", handlers.Catalog.RetirePrice)

	entitlements := router.Group("/entitlements")
	{
		entitlements.POST("/consume", handlers.Entitlement.Consume)
		entitlements.GET("/access", handlers.Entitlement.CheckAccess)
	}

	// Repair surface for durably failed deliveries
	webhookAdmin := router.Group("/webhooks")
	{
		webhookAdmin.GET("/failed", handlers.Webhook.ListFailed)
		webhookAdmin.POST("/events/:id/retry", handlers.Webhook.Retry)
	}
}
