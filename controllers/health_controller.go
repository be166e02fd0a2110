package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/emeka-okafor/kudipal/utils"
)

// HealthController reports process liveness and which optional backends are
// attached.
type HealthController struct {
	dbAttached    bool
	redisAttached bool
}

// NewHealthController wires the health controller.
func NewHealthController(dbAttached, redisAttached bool) *HealthController {
	return &HealthController{dbAttached: dbAttached, redisAttached: redisAttached}
}

// Health answers liveness probes.
func (hc *HealthController) Health(c *gin.Context) {
	utils.Success(c, "ok", gin.H{
		"database": backendLabel(hc.dbAttached),
		"redis":    backendLabel(hc.redisAttached),
	})
}

func backendLabel(attached bool) string {
	if attached {
		return "attached"
	}
	return "in-memory"
}
