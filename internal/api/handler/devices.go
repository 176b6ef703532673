package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pdu-bridge/internal/bridgeerr"
	"pdu-bridge/internal/domain"
	"pdu-bridge/internal/logging"
	"pdu-bridge/internal/manager"
	"pdu-bridge/internal/transport"
)

// DeviceHandler serves GET/POST /api/pdus, PUT/DELETE /api/pdus/{id},
// and POST /api/pdus/discover.
type DeviceHandler struct {
	mgr *manager.BridgeManager
}

func NewDeviceHandler(mgr *manager.BridgeManager) *DeviceHandler {
	return &DeviceHandler{mgr: mgr}
}

// List returns every configured device's static config alongside its
// live health, since the UI needs both in one call.
func (h *DeviceHandler) List(c *gin.Context) {
	type deviceView struct {
		domain.DeviceConfig
		Health domain.TransportHealth `json:"health"`
	}
	configs := h.mgr.DeviceConfigs()
	out := make([]deviceView, 0, len(configs))
	for _, dc := range configs {
		view := deviceView{DeviceConfig: dc}
		if p, ok := h.mgr.Device(dc.DeviceID); ok {
			view.Health = p.Health()
		}
		out = append(out, view)
	}
	RespondOK(c, out)
}

// Create adds a device and starts its poller immediately.
func (h *DeviceHandler) Create(c *gin.Context) {
	var dc domain.DeviceConfig
	if err := c.ShouldBindJSON(&dc); err != nil {
		RespondBadRequest(c, err.Error())
		return
	}
	if dc.DeviceID == "" {
		dc.DeviceID = manager.DeriveDeviceID("", "pdu-"+time.Now().Format("150405"))
	}
	dc.Enabled = true

	if err := h.mgr.AddDevice(c.Request.Context(), dc); err != nil {
		RespondErr(c, err)
		return
	}
	RespondCreated(c, dc)
}

// Update replaces a device's persisted config and restarts its
// poller so the new values take effect immediately.
func (h *DeviceHandler) Update(c *gin.Context) {
	deviceID := c.Param("id")
	var dc domain.DeviceConfig
	if err := c.ShouldBindJSON(&dc); err != nil {
		RespondBadRequest(c, err.Error())
		return
	}
	dc.DeviceID = deviceID

	if _, ok := h.mgr.Device(deviceID); ok {
		if err := h.mgr.RemoveDevice(deviceID); err != nil {
			RespondErr(c, err)
			return
		}
	}
	if err := h.mgr.AddDevice(c.Request.Context(), dc); err != nil {
		RespondErr(c, err)
		return
	}
	RespondOK(c, dc)
}

// Delete stops the device's poller and deletes its persisted state.
func (h *DeviceHandler) Delete(c *gin.Context) {
	deviceID := c.Param("id")
	if err := h.mgr.RemoveDevice(deviceID); err != nil {
		RespondErr(c, err)
		return
	}
	RespondOK(c, gin.H{"deleted": deviceID})
}

// discoverRequest probes exactly one host; the interactive subnet
// wizard that would call this repeatedly across a CIDR range is out of
// scope here, same as the dashboard that would render it.
type discoverRequest struct {
	Host          string `json:"host" binding:"required"`
	SNMPPort      int    `json:"snmp_port"`
	ReadCommunity string `json:"read_community"`
}

// Discover probes a single host over SNMP and returns its identity
// without persisting anything, so a caller can confirm reachability
// before POSTing to /api/pdus.
func (h *DeviceHandler) Discover(c *gin.Context) {
	var req discoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, err.Error())
		return
	}
	port := req.SNMPPort
	if port == 0 {
		port = 161
	}
	community := req.ReadCommunity
	if community == "" {
		community = "public"
	}

	t := transport.NewSNMPTransport(transport.SNMPConfig{
		Host:          req.Host,
		Port:          port,
		ReadCommunity: community,
		Timeout:       2 * time.Second,
		OutletCount:   8,
		BankCount:     1,
	}, logging.Default())
	defer t.Close()

	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	identity, err := t.Identify(ctx)
	if err != nil {
		RespondErr(c, bridgeerr.Wrap(bridgeerr.KindTransportUnreachable, "probe "+req.Host, err))
		return
	}
	RespondOK(c, identity)
}
