package history

import (
	"context"
	"fmt"
	"time"

	"pdu-bridge/internal/domain"
)

// WeekWindow returns the Monday 00:00 to next-Monday 00:00 window
// containing t, in t's location.
func WeekWindow(t time.Time) (start, end time.Time) {
	weekday := int(t.Weekday())
	// time.Weekday: Sunday=0..Saturday=6; convert to Monday=0..Sunday=6.
	mondayOffset := (weekday + 6) % 7
	dayStart := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	start = dayStart.AddDate(0, 0, -mondayOffset)
	end = start.AddDate(0, 0, 7)
	return start, end
}

// GenerateReport aggregates one device-week from stored samples and
// persists it, idempotent by (device_id, week_start).
func (s *Store) GenerateReport(ctx context.Context, deviceID string, weekStart time.Time) (domain.Report, error) {
	start, end := WeekWindow(weekStart)

	outletSamples, err := s.RawOutletSamples(ctx, deviceID, start, end)
	if err != nil {
		return domain.Report{}, err
	}
	bankSamples, err := s.RawBankSamples(ctx, deviceID, start, end)
	if err != nil {
		return domain.Report{}, err
	}

	payload := domain.ReportPayload{
		PerOutletKWh: make(map[int]float64),
		PerDayKWh:    make(map[string]float64),
	}

	var totalPower, peakPower float64
	var powerSamples int

	for _, b := range bankSamples {
		totalPower += b.Power
		if b.Power > peakPower {
			peakPower = b.Power
		}
		powerSamples++
		day := b.Timestamp.Format("2006-01-02")
		payload.PerDayKWh[day] += b.Power / 3600 / 1000 // 1Hz samples: Wh per sample, scaled to kWh
	}

	lastEnergyByOutlet := make(map[int]float64)
	firstEnergyByOutlet := make(map[int]float64)
	seenOutlet := make(map[int]bool)
	for _, o := range outletSamples {
		if o.Energy == nil {
			continue
		}
		if !seenOutlet[o.Outlet] {
			firstEnergyByOutlet[o.Outlet] = *o.Energy
			seenOutlet[o.Outlet] = true
		}
		lastEnergyByOutlet[o.Outlet] = *o.Energy
	}
	for outlet, last := range lastEnergyByOutlet {
		delta := last - firstEnergyByOutlet[outlet]
		if delta < 0 {
			delta = 0
		}
		payload.PerOutletKWh[outlet] = delta
		payload.TotalKWh += delta
	}

	payload.PeakPowerW = peakPower
	if powerSamples > 0 {
		payload.AveragePowerW = totalPower / float64(powerSamples)
	}
	payload.SampleCount = len(bankSamples) + len(outletSamples)

	report := domain.Report{
		ID:        fmt.Sprintf("%s-%s", deviceID, start.Format("2006-01-02")),
		DeviceID:  deviceID,
		WeekStart: start,
		WeekEnd:   end,
		CreatedAt: time.Now(),
		Payload:   payload,
	}

	if err := s.SaveReport(ctx, report); err != nil {
		return domain.Report{}, err
	}
	return report, nil
}
