package handler

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"pdu-bridge/internal/domain"
	"pdu-bridge/internal/history"
	"pdu-bridge/internal/manager"
)

// HistoryHandler serves the downsampled bank/outlet history queries,
// each with a JSON and a CSV variant.
type HistoryHandler struct {
	mgr  *manager.BridgeManager
	hist *history.Store
}

func NewHistoryHandler(mgr *manager.BridgeManager, hist *history.Store) *HistoryHandler {
	return &HistoryHandler{mgr: mgr, hist: hist}
}

// parseTimeRange accepts either `?range=1h|6h|24h|7d|30d` or an explicit
// `?start=`+`?end=` pair of RFC3339 timestamps, defaulting to the last
// 24 hours when neither is given.
func parseTimeRange(c *gin.Context) (start, end time.Time, err error) {
	end = time.Now()
	if s := c.Query("start"); s != "" {
		start, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start: %w", err)
		}
		if e := c.Query("end"); e != "" {
			end, err = time.Parse(time.RFC3339, e)
			if err != nil {
				return time.Time{}, time.Time{}, fmt.Errorf("invalid end: %w", err)
			}
		}
		return start, end, nil
	}

	window := 24 * time.Hour
	switch c.DefaultQuery("range", "24h") {
	case "1h":
		window = time.Hour
	case "6h":
		window = 6 * time.Hour
	case "24h":
		window = 24 * time.Hour
	case "7d":
		window = 7 * 24 * time.Hour
	case "30d":
		window = 30 * 24 * time.Hour
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unsupported range %q", c.Query("range"))
	}
	return end.Add(-window), end, nil
}

// Banks returns downsampled bank metrics as JSON.
func (h *HistoryHandler) Banks(c *gin.Context) {
	h.query(c, h.hist.QueryBanks, false)
}

// BanksCSV returns the same data as CSV.
func (h *HistoryHandler) BanksCSV(c *gin.Context) {
	h.query(c, h.hist.QueryBanks, true)
}

// Outlets returns downsampled outlet metrics as JSON.
func (h *HistoryHandler) Outlets(c *gin.Context) {
	h.query(c, h.hist.QueryOutlets, false)
}

// OutletsCSV returns the same data as CSV.
func (h *HistoryHandler) OutletsCSV(c *gin.Context) {
	h.query(c, h.hist.QueryOutlets, true)
}

func (h *HistoryHandler) query(c *gin.Context, fn func(ctx context.Context, deviceID string, start, end time.Time) ([]domain.Bucket, error), csvOut bool) {
	_, deviceID, ok := resolvePoller(c, h.mgr)
	if !ok {
		return
	}
	start, end, err := parseTimeRange(c)
	if err != nil {
		RespondBadRequest(c, err.Error())
		return
	}
	buckets, err := fn(c.Request.Context(), deviceID, start, end)
	if err != nil {
		RespondInternalError(c, err.Error())
		return
	}
	if csvOut {
		writeBucketsCSV(c, buckets)
		return
	}
	RespondOK(c, buckets)
}

func writeBucketsCSV(c *gin.Context, buckets []domain.Bucket) {
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename=history.csv")
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	defer w.Flush()
	_ = w.Write([]string{"bucket", "key", "voltage", "current", "power", "apparent", "pf", "state", "sample_size"})
	for _, b := range buckets {
		_ = w.Write([]string{
			b.BucketStart.Format(time.RFC3339),
			strconv.Itoa(b.Key),
			strconv.FormatFloat(b.Voltage, 'f', 2, 64),
			strconv.FormatFloat(b.Current, 'f', 2, 64),
			strconv.FormatFloat(b.Power, 'f', 2, 64),
			strconv.FormatFloat(b.Apparent, 'f', 2, 64),
			strconv.FormatFloat(b.PF, 'f', 3, 64),
			string(b.State),
			strconv.Itoa(b.SampleSize),
		})
	}
}
