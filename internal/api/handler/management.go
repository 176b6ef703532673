package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"pdu-bridge/internal/bridgeerr"
	"pdu-bridge/internal/domain"
	"pdu-bridge/internal/manager"
	"pdu-bridge/internal/transport"
)

// ManagementHandler serves the PDU console management surface
// (thresholds, network, ATS config, security, users, notifications,
// event log, EnergyWise). Every method requires the device's active
// transport to implement transport.Management — the serial console
// transport and the mock both do; SNMP-only devices get 503
// requires_serial.
type ManagementHandler struct {
	mgr *manager.BridgeManager
}

func NewManagementHandler(mgr *manager.BridgeManager) *ManagementHandler {
	return &ManagementHandler{mgr: mgr}
}

func (h *ManagementHandler) Thresholds(c *gin.Context) {
	mgmt, _, ok := h.mgmt(c)
	if !ok {
		return
	}
	values, err := mgmt.GetThresholds(c.Request.Context())
	if err != nil {
		RespondInternalError(c, err.Error())
		return
	}
	RespondOK(c, values)
}

func (h *ManagementHandler) SetThresholds(c *gin.Context) {
	mgmt, _, ok := h.mgmt(c)
	if !ok {
		return
	}
	var values map[string]float64
	if err := c.ShouldBindJSON(&values); err != nil {
		RespondBadRequest(c, err.Error())
		return
	}
	if err := mgmt.SetThresholds(c.Request.Context(), values); err != nil {
		RespondInternalError(c, err.Error())
		return
	}
	RespondOK(c, values)
}

func (h *ManagementHandler) Network(c *gin.Context) {
	mgmt, _, ok := h.mgmt(c)
	if !ok {
		return
	}
	values, err := mgmt.GetNetwork(c.Request.Context())
	if err != nil {
		RespondInternalError(c, err.Error())
		return
	}
	RespondOK(c, values)
}

func (h *ManagementHandler) SetNetwork(c *gin.Context) {
	mgmt, _, ok := h.mgmt(c)
	if !ok {
		return
	}
	var values map[string]string
	if err := c.ShouldBindJSON(&values); err != nil {
		RespondBadRequest(c, err.Error())
		return
	}
	if err := mgmt.SetNetwork(c.Request.Context(), values); err != nil {
		RespondInternalError(c, err.Error())
		return
	}
	RespondOK(c, values)
}

func (h *ManagementHandler) ATSConfig(c *gin.Context) {
	mgmt, _, ok := h.mgmt(c)
	if !ok {
		return
	}
	values, err := mgmt.GetATSConfig(c.Request.Context())
	if err != nil {
		RespondInternalError(c, err.Error())
		return
	}
	RespondOK(c, values)
}

func (h *ManagementHandler) SetATSConfig(c *gin.Context) {
	mgmt, _, ok := h.mgmt(c)
	if !ok {
		return
	}
	var values map[string]string
	if err := c.ShouldBindJSON(&values); err != nil {
		RespondBadRequest(c, err.Error())
		return
	}
	if err := mgmt.SetATSConfig(c.Request.Context(), values); err != nil {
		RespondInternalError(c, err.Error())
		return
	}
	RespondOK(c, values)
}

func (h *ManagementHandler) SetOutletConfig(c *gin.Context) {
	mgmt, _, ok := h.mgmt(c)
	if !ok {
		return
	}
	outlet, err := parseOutletParam(c)
	if err != nil {
		RespondBadRequest(c, err.Error())
		return
	}
	var values map[string]string
	if err := c.ShouldBindJSON(&values); err != nil {
		RespondBadRequest(c, err.Error())
		return
	}
	if err := mgmt.SetOutletConfig(c.Request.Context(), outlet, values); err != nil {
		RespondInternalError(c, err.Error())
		return
	}
	RespondOK(c, values)
}

type deviceSettingsRequest struct {
	Name     string `json:"name"`
	Location string `json:"location"`
}

func (h *ManagementHandler) SetDeviceSettings(c *gin.Context) {
	mgmt, _, ok := h.mgmt(c)
	if !ok {
		return
	}
	var req deviceSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, err.Error())
		return
	}
	if req.Name != "" {
		if err := mgmt.SetDeviceName(c.Request.Context(), req.Name); err != nil {
			RespondInternalError(c, err.Error())
			return
		}
	}
	if req.Location != "" {
		if err := mgmt.SetDeviceLocation(c.Request.Context(), req.Location); err != nil {
			RespondInternalError(c, err.Error())
			return
		}
	}
	RespondOK(c, req)
}

func (h *ManagementHandler) SecurityCheck(c *gin.Context) {
	p, deviceID, ok := resolvePoller(c, h.mgr)
	if !ok {
		return
	}
	mgmt, ok := p.Management()
	if !ok {
		RespondErr(c, bridgeerr.New(bridgeerr.KindRequiresSerial, "this operation requires a serial or mock transport").WithDevice(deviceID))
		return
	}
	isDefault, err := mgmt.CheckDefaultCredentials(c.Request.Context())
	if err != nil {
		RespondInternalError(c, err.Error())
		return
	}
	if isDefault {
		p.PushEvent(domain.EventRecord{Type: domain.EventSecurityWarning, Details: "default credentials still in use"})
	}
	RespondOK(c, gin.H{"default_credentials": isDefault})
}

type changePasswordRequest struct {
	User        string `json:"user" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

func (h *ManagementHandler) ChangePassword(c *gin.Context) {
	mgmt, _, ok := h.mgmt(c)
	if !ok {
		return
	}
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, err.Error())
		return
	}
	if err := mgmt.ChangePassword(c.Request.Context(), req.User, req.NewPassword); err != nil {
		RespondInternalError(c, err.Error())
		return
	}
	RespondOK(c, gin.H{"changed": true})
}

func (h *ManagementHandler) Users(c *gin.Context) {
	mgmt, _, ok := h.mgmt(c)
	if !ok {
		return
	}
	users, err := mgmt.GetUsers(c.Request.Context())
	if err != nil {
		RespondInternalError(c, err.Error())
		return
	}
	RespondOK(c, users)
}

func (h *ManagementHandler) EventLog(c *gin.Context) {
	mgmt, _, ok := h.mgmt(c)
	if !ok {
		return
	}
	lines, err := mgmt.GetEventLog(c.Request.Context())
	if err != nil {
		RespondInternalError(c, err.Error())
		return
	}
	RespondOK(c, lines)
}

func (h *ManagementHandler) Notifications(c *gin.Context) {
	mgmt, _, ok := h.mgmt(c)
	if !ok {
		return
	}
	values, err := mgmt.GetNotifications(c.Request.Context())
	if err != nil {
		RespondInternalError(c, err.Error())
		return
	}
	RespondOK(c, values)
}

func (h *ManagementHandler) SetNotifications(c *gin.Context) {
	mgmt, _, ok := h.mgmt(c)
	if !ok {
		return
	}
	var values map[string]bool
	if err := c.ShouldBindJSON(&values); err != nil {
		RespondBadRequest(c, err.Error())
		return
	}
	if err := mgmt.SetNotifications(c.Request.Context(), values); err != nil {
		RespondInternalError(c, err.Error())
		return
	}
	RespondOK(c, values)
}

func (h *ManagementHandler) EnergyWise(c *gin.Context) {
	mgmt, _, ok := h.mgmt(c)
	if !ok {
		return
	}
	values, err := mgmt.GetEnergyWise(c.Request.Context())
	if err != nil {
		RespondInternalError(c, err.Error())
		return
	}
	RespondOK(c, values)
}

func (h *ManagementHandler) SetEnergyWise(c *gin.Context) {
	mgmt, _, ok := h.mgmt(c)
	if !ok {
		return
	}
	var values map[string]string
	if err := c.ShouldBindJSON(&values); err != nil {
		RespondBadRequest(c, err.Error())
		return
	}
	if err := mgmt.SetEnergyWise(c.Request.Context(), values); err != nil {
		RespondInternalError(c, err.Error())
		return
	}
	RespondOK(c, values)
}

// mgmt resolves the target device's poller and its transport's
// Management extension, writing the 503 requires_serial response when
// the active transport does not support management operations.
func (h *ManagementHandler) mgmt(c *gin.Context) (transport.Management, string, bool) {
	p, deviceID, ok := resolvePoller(c, h.mgr)
	if !ok {
		return nil, "", false
	}
	m, ok := p.Management()
	if !ok {
		RespondErr(c, bridgeerr.New(bridgeerr.KindRequiresSerial, "this operation requires a serial or mock transport").WithDevice(deviceID))
		return nil, "", false
	}
	return m, deviceID, true
}

func parseOutletParam(c *gin.Context) (int, error) {
	return strconv.Atoi(c.Param("n"))
}
