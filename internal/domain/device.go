// Package domain holds the types shared across the bridge: device
// configuration, decoded snapshots, transport health, automation rules,
// and the samples/events persisted about them. Types here are plain
// data — behavior lives in the packages that operate on them
// (transport, decode, automation, poller, history).
package domain

import (
	"strings"
	"time"
)

// Transport selects which protocol a poller treats as primary.
type Transport string

const (
	TransportSNMP   Transport = "snmp"
	TransportSerial Transport = "serial"
	TransportMock   Transport = "mock"
)

// DeviceConfig identifies one PDU and how to reach it. DeviceID is
// immutable once assigned; everything else can be mutated through HTTP
// and is persisted atomically by the manager.
type DeviceConfig struct {
	DeviceID string `json:"device_id"`
	Label    string `json:"label"`
	Enabled  bool   `json:"enabled"`

	Host           string `json:"host"`
	SNMPPort       int    `json:"snmp_port"`
	ReadCommunity  string `json:"read_community"`
	WriteCommunity string `json:"write_community"`

	SerialPort  string `json:"serial_port,omitempty"`
	BaudRate    int    `json:"baud_rate,omitempty"`
	ConsoleUser string `json:"console_user,omitempty"`
	ConsolePass string `json:"console_pass,omitempty"`

	PrimaryTransport Transport `json:"primary_transport"`
	BankCountHint    int       `json:"bank_count_hint,omitempty"`

	PollIntervalMS int `json:"poll_interval_ms,omitempty"` // 0 = bridge default
}

// forbiddenDeviceIDChars mirrors the MQTT topic-special and whitespace
// characters that would break the "pdu/{device_id}" topic prefix.
const forbiddenDeviceIDChars = "/#+ \t\n\r"

// ValidateDeviceID reports whether id is a legal slug: non-empty and
// free of MQTT-special or whitespace characters.
func ValidateDeviceID(id string) error {
	if id == "" {
		return ErrEmptyDeviceID
	}
	if strings.ContainsAny(id, forbiddenDeviceIDChars) {
		return ErrInvalidDeviceID
	}
	return nil
}

// Identity is the discovered-once hardware record for a device,
// populated by the poller on its first successful cycle.
type Identity struct {
	SerialNumber    string  `json:"serial_number"`
	Model           string  `json:"model"`
	FirmwareVersion string  `json:"firmware_version"`
	OutletCount     int     `json:"outlet_count"`
	PhaseCount      int     `json:"phase_count"`
	MaxInputAmps    float64 `json:"max_input_amps,omitempty"`
}

// TransportHealthState is the device-level failover state machine.
type TransportHealthState string

const (
	HealthHealthy    TransportHealthState = "HEALTHY"
	HealthDegraded   TransportHealthState = "DEGRADED"
	HealthRecovering TransportHealthState = "RECOVERING"
	HealthLost       TransportHealthState = "LOST"
)

// TransportHealth is the edge data backing the failover state machine
// for one device. It is mutated only by the poller that owns the
// device; other components read it through the manager.
type TransportHealth struct {
	State               TransportHealthState `json:"state"`
	ConsecutiveFailures int                  `json:"consecutive_failures"`
	LastSuccess         time.Time            `json:"last_success"`
	LastErrorKind       string               `json:"last_error_kind,omitempty"`
	ActiveTransport     Transport            `json:"active_transport"`
	SwapHistory         []TransportSwap      `json:"swap_history,omitempty"`
}

// TransportSwap records one failover from one transport to another.
type TransportSwap struct {
	From Transport `json:"from"`
	To   Transport `json:"to"`
	At   time.Time `json:"at"`
}
