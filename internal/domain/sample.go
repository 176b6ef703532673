package domain

import "time"

// BankSample is one point of the bank_samples history table.
type BankSample struct {
	Timestamp time.Time `json:"ts" gorm:"column:ts;index:idx_bank_device_ts,priority:2"`
	DeviceID  string    `json:"device_id" gorm:"index:idx_bank_device_ts,priority:1"`
	Bank      int       `json:"bank"`
	Voltage   float64   `json:"voltage"`
	Current   float64   `json:"current"`
	Power     float64   `json:"power"`
	Apparent  float64   `json:"apparent"`
	PF        float64   `json:"pf"`
}

// OutletSample is one point of the outlet_samples history table.
// Current/Power/Energy are nil for non-metered outlets.
type OutletSample struct {
	Timestamp time.Time   `json:"ts" gorm:"column:ts;index:idx_outlet_device_ts,priority:2"`
	DeviceID  string      `json:"device_id" gorm:"index:idx_outlet_device_ts,priority:1"`
	Outlet    int         `json:"outlet"`
	State     OutletState `json:"state"`
	Current   *float64    `json:"current,omitempty"`
	Power     *float64    `json:"power,omitempty"`
	Energy    *float64    `json:"energy,omitempty"`
}

// HistoryMetric selects which table a query reads.
type HistoryMetric string

const (
	MetricBanks   HistoryMetric = "banks"
	MetricOutlets HistoryMetric = "outlets"
)

// Bucket is one downsampled output point: numeric fields averaged
// within the bucket, state fields set to the bucket's last value.
type Bucket struct {
	BucketStart time.Time `json:"bucket"`
	Key         int       `json:"key"` // bank or outlet number

	Voltage  float64 `json:"voltage,omitempty"`
	Current  float64 `json:"current,omitempty"`
	Power    float64 `json:"power,omitempty"`
	Apparent float64 `json:"apparent,omitempty"`
	PF       float64 `json:"pf,omitempty"`

	State      OutletState `json:"state,omitempty"`
	SampleSize int         `json:"sample_size"`
}
