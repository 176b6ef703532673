package handler

import (
	"github.com/gin-gonic/gin"

	"pdu-bridge/internal/manager"
)

// StatusHandler serves the bridge-wide device summary backing
// GET /api/status, distinct from /api/health: status reports what the
// bridge currently knows about each device, health reports whether
// that knowledge is trustworthy.
type StatusHandler struct {
	mgr *manager.BridgeManager
}

func NewStatusHandler(mgr *manager.BridgeManager) *StatusHandler {
	return &StatusHandler{mgr: mgr}
}

type deviceStatus struct {
	DeviceID string `json:"device_id"`
	Label    string `json:"label"`
	Snapshot any    `json:"snapshot"`
	Health   any    `json:"health"`
}

func (h *StatusHandler) Status(c *gin.Context) {
	configs := h.mgr.DeviceConfigs()
	out := make([]deviceStatus, 0, len(configs))
	for _, dc := range configs {
		p, ok := h.mgr.Device(dc.DeviceID)
		if !ok {
			continue
		}
		out = append(out, deviceStatus{
			DeviceID: dc.DeviceID,
			Label:    dc.Label,
			Snapshot: p.Snapshot(),
			Health:   p.Health(),
		})
	}
	RespondOK(c, out)
}
