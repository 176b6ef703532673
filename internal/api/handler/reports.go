package handler

import (
	"sort"

	"github.com/gin-gonic/gin"

	"pdu-bridge/internal/bridgeerr"
	"pdu-bridge/internal/history"
	"pdu-bridge/internal/manager"
)

// ReportHandler serves the weekly energy report endpoints.
type ReportHandler struct {
	mgr  *manager.BridgeManager
	hist *history.Store
}

func NewReportHandler(mgr *manager.BridgeManager, hist *history.Store) *ReportHandler {
	return &ReportHandler{mgr: mgr, hist: hist}
}

// List returns every generated report for one device, newest first.
func (h *ReportHandler) List(c *gin.Context) {
	_, deviceID, ok := resolvePoller(c, h.mgr)
	if !ok {
		return
	}
	reports, err := h.hist.Reports(c.Request.Context(), deviceID)
	if err != nil {
		RespondInternalError(c, err.Error())
		return
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].WeekStart.After(reports[j].WeekStart) })
	RespondOK(c, reports)
}

// Latest returns the most recently generated report for one device.
func (h *ReportHandler) Latest(c *gin.Context) {
	_, deviceID, ok := resolvePoller(c, h.mgr)
	if !ok {
		return
	}
	reports, err := h.hist.Reports(c.Request.Context(), deviceID)
	if err != nil {
		RespondInternalError(c, err.Error())
		return
	}
	if len(reports) == 0 {
		RespondErr(c, bridgeerr.New(bridgeerr.KindNotFound, "no reports generated yet").WithDevice(deviceID))
		return
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].WeekStart.After(reports[j].WeekStart) })
	RespondOK(c, reports[0])
}

// ByID returns one report by its generated ID.
func (h *ReportHandler) ByID(c *gin.Context) {
	report, err := h.hist.ReportByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondErr(c, bridgeerr.Wrap(bridgeerr.KindNotFound, "report not found", err))
		return
	}
	RespondOK(c, report)
}
