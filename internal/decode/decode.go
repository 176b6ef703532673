// Package decode holds the pure, total functions that turn a raw
// dictionary of polled values into a domain.Snapshot. Nothing here
// touches a network or a clock: given the same raw input it always
// returns the same snapshot (ts aside, which the caller stamps).
// Missing raw fields leave the corresponding snapshot field unset —
// callers must never substitute zero for "not reported".
package decode

import (
	"pdu-bridge/internal/domain"
)

// ScaleTenths converts a raw integer reading (voltage, current,
// frequency, energy) to its real value, per the wire-scaling rule.
func ScaleTenths(raw int64) float64 {
	return float64(raw) / 10
}

// ScaleHundredths converts a raw integer power-factor reading.
func ScaleHundredths(raw int64) float64 {
	return float64(raw) / 100
}

// MeteringFloorCurrent zeroes raw current readings <= 2 (0.2A) so idle
// outlets do not report phantom noise.
func MeteringFloorCurrent(raw int64) int64 {
	if raw <= 2 {
		return 0
	}
	return raw
}

// MeteringFloorPower zeroes raw power readings <= 1 (1W).
func MeteringFloorPower(raw int64) int64 {
	if raw <= 1 {
		return 0
	}
	return raw
}

// loadStateByOID is the CyberPower ePDU MIB's bank load-state enum.
var loadStateByOID = map[int64]domain.LoadState{
	1: domain.LoadNormal,
	2: domain.LoadLow,
	3: domain.LoadNearOverload,
	4: domain.LoadOverload,
}

// LoadStateFromRaw maps a raw bank load-state integer to the domain
// enum, defaulting to LoadNormal for an unrecognized value rather than
// failing the whole poll over one cosmetic field.
func LoadStateFromRaw(raw int64) domain.LoadState {
	if ls, ok := loadStateByOID[raw]; ok {
		return ls
	}
	return domain.LoadNormal
}

// voltageStatusByOID is the CyberPower ePDU2 MIB's ATS source voltage
// status enum.
var voltageStatusByOID = map[int64]domain.VoltageStatus{
	1: domain.VoltageNormal,
	2: domain.VoltageOver,
	3: domain.VoltageUnder,
}

// VoltageStatusFromRaw maps a raw ATS voltage-status integer.
func VoltageStatusFromRaw(raw int64) domain.VoltageStatus {
	if vs, ok := voltageStatusByOID[raw]; ok {
		return vs
	}
	return domain.VoltageNormal
}

// atsSourceByOID maps the ePDU2 "current/preferred source" enum.
var atsSourceByOID = map[int64]domain.ATSSource{
	1: domain.SourceA,
	2: domain.SourceB,
}

// ATSSourceFromRaw maps a raw ATS source-select integer.
func ATSSourceFromRaw(raw int64) domain.ATSSource {
	if s, ok := atsSourceByOID[raw]; ok {
		return s
	}
	return domain.SourceA
}

// RawBank is one bank's raw polled fields before scaling. LoadState is
// read directly from the device's own load-state OID, already mapped
// to the domain enum by the transport.
type RawBank struct {
	Number         int
	VoltageRaw     int64
	CurrentRaw     int64
	PowerRaw       int64
	ApparentRaw    int64
	PowerFactorRaw int64
	EnergyRaw      *int64
	LoadState      domain.LoadState
}

// RawOutlet is one outlet's raw polled fields before scaling.
type RawOutlet struct {
	Number     int
	On         bool
	Name       string
	CurrentRaw *int64
	PowerRaw   *int64
	EnergyRaw  *int64
}

// RawATSSource is one ATS input's raw polled fields.
type RawATSSource struct {
	VoltageRaw   int64
	FrequencyRaw int64
	Status       domain.VoltageStatus
}

// RawATS is the raw ATS block, nil when the device has no ATS.
type RawATS struct {
	PreferredSource domain.ATSSource
	CurrentSource   domain.ATSSource
	AutoTransfer    bool
	Redundancy      domain.RedundancyStatus
	A, B            RawATSSource
}

// RawEnvironment is the raw environment block, nil when no monitor is
// attached.
type RawEnvironment struct {
	TemperatureRaw *int64
	HumidityRaw    *int64
	Contacts       map[int]string
}

// Raw is everything one poll cycle reads, before scaling.
type Raw struct {
	InputVoltageRaw   int64
	InputFrequencyRaw int64
	Banks             []RawBank
	Outlets           []RawOutlet
	ATS               *RawATS
	Environment       *RawEnvironment
	ColdStartDelay    int
	ColdStartState    string
	UptimeTicks       uint32
}

// BuildSnapshot applies the fixed scaling rules and metering floor to
// raw and produces an immutable Snapshot. identity may be nil when the
// poller has not yet completed an identify() call.
func BuildSnapshot(raw Raw, identity *domain.Identity) domain.Snapshot {
	snap := domain.Snapshot{
		Identity:       identity,
		InputVoltage:   ScaleTenths(raw.InputVoltageRaw),
		InputFrequency: ScaleTenths(raw.InputFrequencyRaw),
		ColdStartDelay: raw.ColdStartDelay,
		ColdStartState: raw.ColdStartState,
		UptimeTicks:    raw.UptimeTicks,
	}

	for _, rb := range raw.Banks {
		b := domain.Bank{
			Number:        rb.Number,
			Voltage:       ScaleTenths(rb.VoltageRaw),
			Current:       ScaleTenths(MeteringFloorCurrent(rb.CurrentRaw)),
			ActivePower:   float64(MeteringFloorPower(rb.PowerRaw)),
			ApparentPower: float64(MeteringFloorPower(rb.ApparentRaw)),
			PowerFactor:   ScaleHundredths(rb.PowerFactorRaw),
		}
		if rb.EnergyRaw != nil {
			e := ScaleTenths(*rb.EnergyRaw)
			b.Energy = &e
		}
		b.LoadState = rb.LoadState
		snap.Banks = append(snap.Banks, b)
	}

	for _, ro := range raw.Outlets {
		o := domain.Outlet{Number: ro.Number, Name: ro.Name}
		if ro.On {
			o.State = domain.OutletOn
		} else {
			o.State = domain.OutletOff
		}
		if ro.CurrentRaw != nil {
			c := ScaleTenths(MeteringFloorCurrent(*ro.CurrentRaw))
			o.Current = &c
		}
		if ro.PowerRaw != nil {
			p := float64(MeteringFloorPower(*ro.PowerRaw))
			o.Power = &p
		}
		if ro.EnergyRaw != nil {
			e := ScaleTenths(*ro.EnergyRaw)
			o.Energy = &e
		}
		snap.Outlets = append(snap.Outlets, o)
	}

	if raw.ATS != nil {
		snap.ATS = &domain.ATS{
			PreferredSource: raw.ATS.PreferredSource,
			CurrentSource:   raw.ATS.CurrentSource,
			AutoTransfer:    raw.ATS.AutoTransfer,
			Redundancy:      raw.ATS.Redundancy,
			Sources: map[domain.ATSSource]domain.ATSSourceReading{
				domain.SourceA: {
					Voltage:       ScaleTenths(raw.ATS.A.VoltageRaw),
					Frequency:     ScaleTenths(raw.ATS.A.FrequencyRaw),
					VoltageStatus: raw.ATS.A.Status,
				},
				domain.SourceB: {
					Voltage:       ScaleTenths(raw.ATS.B.VoltageRaw),
					Frequency:     ScaleTenths(raw.ATS.B.FrequencyRaw),
					VoltageStatus: raw.ATS.B.Status,
				},
			},
		}
	}

	if raw.Environment != nil {
		env := &domain.Environment{}
		if raw.Environment.TemperatureRaw != nil {
			t := ScaleTenths(*raw.Environment.TemperatureRaw)
			env.TemperatureC = &t
		}
		if raw.Environment.HumidityRaw != nil {
			h := ScaleTenths(*raw.Environment.HumidityRaw)
			env.HumidityPct = &h
		}
		if len(raw.Environment.Contacts) > 0 {
			env.Contacts = raw.Environment.Contacts
		}
		snap.Environment = env
	}

	return snap
}
