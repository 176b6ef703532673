package handler

import (
	"github.com/gin-gonic/gin"

	"pdu-bridge/internal/manager"
)

// ConfigHandler serves the bridge-wide runtime settings endpoint.
type ConfigHandler struct {
	mgr *manager.BridgeManager
}

func NewConfigHandler(mgr *manager.BridgeManager) *ConfigHandler {
	return &ConfigHandler{mgr: mgr}
}

func (h *ConfigHandler) Get(c *gin.Context) {
	RespondOK(c, gin.H{"poll_interval_ms": h.mgr.PollIntervalMS()})
}

type configUpdateRequest struct {
	PollIntervalMS int `json:"poll_interval_ms" binding:"required"`
}

func (h *ConfigHandler) Update(c *gin.Context) {
	var req configUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, err.Error())
		return
	}
	if err := h.mgr.SetPollIntervalMS(req.PollIntervalMS); err != nil {
		RespondErr(c, err)
		return
	}
	RespondOK(c, gin.H{"poll_interval_ms": req.PollIntervalMS})
}
