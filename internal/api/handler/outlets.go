package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"pdu-bridge/internal/domain"
	"pdu-bridge/internal/manager"
)

// OutletHandler serves outlet command/name endpoints.
type OutletHandler struct {
	mgr *manager.BridgeManager
}

func NewOutletHandler(mgr *manager.BridgeManager) *OutletHandler {
	return &OutletHandler{mgr: mgr}
}

type outletCommandRequest struct {
	Action domain.OutletAction `json:"action" binding:"required"`
}

// Command enqueues one outlet write and blocks for its result,
// matching the synchronous contract of the HTTP facade.
func (h *OutletHandler) Command(c *gin.Context) {
	outlet, err := strconv.Atoi(c.Param("n"))
	if err != nil {
		RespondBadRequest(c, "outlet number must be an integer")
		return
	}
	var req outletCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, err.Error())
		return
	}

	p, _, ok := resolvePoller(c, h.mgr)
	if !ok {
		return
	}

	res := p.SubmitCommand(outlet, req.Action)
	if !res.Success {
		c.JSON(http.StatusOK, gin.H{"ok": false, "success": false, "error": res.Error, "ts": res.Ts})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "success": true, "ts": res.Ts})
}

type outletNameRequest struct {
	Name string `json:"name" binding:"required"`
}

// SetName applies and persists an outlet name override.
func (h *OutletHandler) SetName(c *gin.Context) {
	outlet, err := strconv.Atoi(c.Param("n"))
	if err != nil {
		RespondBadRequest(c, "outlet number must be an integer")
		return
	}
	var req outletNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, err.Error())
		return
	}

	_, deviceID, ok := resolvePoller(c, h.mgr)
	if !ok {
		return
	}
	if err := h.mgr.SetOutletName(deviceID, outlet, req.Name); err != nil {
		RespondErr(c, err)
		return
	}
	RespondOK(c, gin.H{"outlet": outlet, "name": req.Name})
}

// Names returns the current outlet name overrides for one device.
func (h *OutletHandler) Names(c *gin.Context) {
	p, _, ok := resolvePoller(c, h.mgr)
	if !ok {
		return
	}
	RespondOK(c, p.OutletNames())
}
