package domain

import "time"

// ReportPayload aggregates one device-week of samples.
type ReportPayload struct {
	TotalKWh       float64            `json:"total_kwh"`
	PerOutletKWh   map[int]float64    `json:"per_outlet_kwh,omitempty"`
	PerDayKWh      map[string]float64 `json:"per_day_kwh"` // "2026-07-20" keys
	PeakPowerW     float64            `json:"peak_power_w"`
	AveragePowerW  float64            `json:"average_power_w"`
	SampleCount    int                `json:"sample_count"`
}

// Report is one generated weekly report, idempotent by
// (device_id, week_start).
type Report struct {
	ID        string        `json:"id" gorm:"primaryKey"`
	DeviceID  string        `json:"device_id" gorm:"index:idx_report_device_week,priority:1"`
	WeekStart time.Time     `json:"week_start" gorm:"index:idx_report_device_week,priority:2"`
	WeekEnd   time.Time     `json:"week_end"`
	CreatedAt time.Time     `json:"created_at"`
	Payload   ReportPayload `json:"payload" gorm:"serializer:json"`
}

// TableName stores reports in the energy_reports table.
func (Report) TableName() string { return "energy_reports" }
