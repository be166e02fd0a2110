package controllers

import (
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/emeka-okafor/kudipal/services/flows"
	"github.com/emeka-okafor/kudipal/utils"
)

// Meta-specific status codes for the Flow endpoint: 421 makes the client
// refresh the business public key, 427 invalidates the flow token.
const (
	statusRefreshKey   = 421
	statusInvalidToken = 427
)

// FlowController terminates the encrypted WhatsApp Flow data exchange.
type FlowController struct {
	service *flows.Service
}

// NewFlowController wires the flow controller.
func NewFlowController(service *flows.Service) *FlowController {
	return &FlowController{service: service}
}

// Exchange handles one encrypted request. The response body is the raw
// base64 ciphertext, not JSON; only the unencrypted health ping answers in
// the clear.
func (fc *FlowController) Exchange(c *gin.Context) {
	var req struct {
		flows.EncryptedRequest
		Action string `json:"action"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.LogWarn("Malformed flow request: %v", err)
		c.Status(http.StatusBadRequest)
		return
	}

	// Business Manager probes the endpoint with a bare {"action":"ping"}
	// carrying no encryption fields.
	if req.Action == "ping" && req.EncryptedAESKey == "" && req.EncryptedFlowData == "" {
		c.JSON(http.StatusOK, gin.H{"data": gin.H{"status": "active"}})
		return
	}

	body, err := fc.service.Handle(c.Request.Context(), req.EncryptedRequest)
	if err != nil {
		switch utils.KindOf(err) {
		case utils.KindFlowDecryptFailed:
			utils.LogError("Flow decryption failed: %v", err)
			payload := base64.StdEncoding.EncodeToString([]byte(`{"error_msg":"Unable to decrypt request. Refresh the public key and retry."}`))
			c.Data(statusRefreshKey, "text/plain", []byte(payload))
		case utils.KindFlowTokenInvalid:
			utils.LogWarn("Flow token rejected: %v", err)
			c.Status(statusInvalidToken)
		default:
			utils.LogError("Flow exchange failed: %v", err)
			c.Status(http.StatusInternalServerError)
		}
		return
	}
	c.Data(http.StatusOK, "text/plain", []byte(body))
}

// Ping is the unencrypted health probe for the Flow endpoint URL itself.
func (fc *FlowController) Ping(c *gin.Context) {
	utils.Success(c, "Flow endpoint is up", nil)
}
