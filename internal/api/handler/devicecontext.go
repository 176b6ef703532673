package handler

import (
	"github.com/gin-gonic/gin"

	"pdu-bridge/internal/manager"
	"pdu-bridge/internal/poller"
)

// resolvePoller implements the multi-device resolution convention: a
// `?device_id=` query param selects the target; with exactly one
// device configured it is implied. Writes a 400/404 response and
// returns ok=false when the target cannot be resolved.
func resolvePoller(c *gin.Context, mgr *manager.BridgeManager) (*poller.Poller, string, bool) {
	deviceID := c.Query("device_id")
	if deviceID == "" {
		ids := mgr.DeviceIDs()
		if len(ids) != 1 {
			RespondBadRequest(c, "device_id is required when more than one device is configured")
			return nil, "", false
		}
		deviceID = ids[0]
	}
	p, ok := mgr.Device(deviceID)
	if !ok {
		RespondNotFound(c, "device not found: "+deviceID)
		return nil, "", false
	}
	return p, deviceID, true
}
