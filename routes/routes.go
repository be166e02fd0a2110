// Package routes wires the HTTP surface.
package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/emeka-okafor/kudipal/controllers"
	"github.com/emeka-okafor/kudipal/middleware"
	"github.com/emeka-okafor/kudipal/utils"
)

// Controllers bundles the handlers the routes need.
type Controllers struct {
	Webhook *controllers.WebhookController
	Flow    *controllers.FlowController
	Health  *controllers.HealthController
}

// Setup builds the gin engine with middleware and routes attached.
func Setup(ctrl Controllers, appSecret string) *gin.Engine {
	router := gin.New()
	router.Use(utils.RequestIDMiddleware())
	router.Use(utils.LoggerMiddleware())
	router.Use(utils.RecoveryMiddleware())

	router.GET("/health", ctrl.Health.Health)

	webhook := router.Group("/webhook")
	{
		webhook.GET("/whatsapp", ctrl.Webhook.Verify)
		webhook.POST("/whatsapp", middleware.VerifyWebhookSignature(appSecret), ctrl.Webhook.Receive)
	}

	flow := router.Group("/api/flow")
	{
		// Business Manager probes any of these with GET and expects a JSON
		// status body.
		flow.GET("/health", ctrl.Flow.Ping)
		flow.GET("/ping", ctrl.Flow.Ping)
		flow.GET("/endpoint", ctrl.Flow.Ping)
		flow.POST("/endpoint", ctrl.Flow.Exchange)
	}

	return router
}
