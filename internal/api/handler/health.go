package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pdu-bridge/internal/manager"
)

// HealthHandler serves the never-gated bridge-wide health contract.
type HealthHandler struct {
	mgr *manager.BridgeManager
}

func NewHealthHandler(mgr *manager.BridgeManager) *HealthHandler {
	return &HealthHandler{mgr: mgr}
}

// Health returns 200 when the bridge is healthy, 503 when degraded or
// unhealthy, always as JSON with an issues[] array.
func (h *HealthHandler) Health(c *gin.Context) {
	health := h.mgr.Health()
	status := http.StatusOK
	if health.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, health)
}

func (h *HealthHandler) Ready(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ready": true})
}
