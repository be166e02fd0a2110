// Package controllers holds the HTTP handlers: the WhatsApp webhook, the
// encrypted Flow endpoint and health checks.
package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/emeka-okafor/kudipal/services/dispatch"
	"github.com/emeka-okafor/kudipal/utils"
)

// WebhookController terminates Meta's webhook callbacks.
type WebhookController struct {
	router      *dispatch.Router
	verifyToken string
}

// NewWebhookController wires the webhook controller.
func NewWebhookController(router *dispatch.Router, verifyToken string) *WebhookController {
	return &WebhookController{router: router, verifyToken: verifyToken}
}

// Verify answers Meta's subscription handshake: echo hub.challenge when the
// verify token matches.
func (wc *WebhookController) Verify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && token == wc.verifyToken && wc.verifyToken != "" {
		c.String(http.StatusOK, challenge)
		return
	}
	utils.LogWarn("Webhook verification rejected (mode=%q)", mode)
	c.Status(http.StatusForbidden)
}

// Receive accepts an event batch. The response is always 200 once the body
// parses: WhatsApp retries non-200s aggressively, and processing failures are
// handled by dedup plus the ledger's idempotency, not by redelivery.
func (wc *WebhookController) Receive(c *gin.Context) {
	var env dispatch.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		utils.LogWarn("Unparseable webhook body: %v", err)
		c.Status(http.StatusOK)
		return
	}
	c.Status(http.StatusOK)

	wc.router.Dispatch(c.Request.Context(), &env)
}
