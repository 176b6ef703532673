// Package bridgeerr defines the closed error taxonomy shared across the
// bridge. Components never invent ad-hoc error strings for failures
// that cross a package boundary: they wrap an ErrorKind so callers
// (HTTP handlers, the health endpoint, the automation engine) can
// branch on it without string matching.
package bridgeerr

import (
	"errors"
	"fmt"
)

// ErrorKind is the taxonomy from the error handling design: a closed
// set, not a type hierarchy.
type ErrorKind string

const (
	KindConfigInvalid        ErrorKind = "config_invalid"
	KindTransportTimeout     ErrorKind = "transport_timeout"
	KindTransportUnreachable ErrorKind = "transport_unreachable"
	KindTransportAuth        ErrorKind = "transport_auth"
	KindTransportParse       ErrorKind = "transport_parse"
	KindSNMPSetRejected      ErrorKind = "snmp_set_rejected"
	KindMQTTDisconnected     ErrorKind = "mqtt_disconnected"
	KindMQTTPublishDropped   ErrorKind = "mqtt_publish_dropped"
	KindHistoryWriteFailed   ErrorKind = "history_write_failed"
	KindRuleInvalid          ErrorKind = "rule_invalid"
	KindNotFound             ErrorKind = "not_found"
	KindConflict             ErrorKind = "conflict"
	KindForbidden            ErrorKind = "forbidden"
	KindRequiresSerial       ErrorKind = "requires_serial"
)

// BridgeError carries an ErrorKind alongside the wrapped cause so
// errors.Is/errors.As keep working through the usual %w chain.
type BridgeError struct {
	Kind    ErrorKind
	Device  string // device_id, empty when not device-scoped
	Message string
	Cause   error
}

func (e *BridgeError) Error() string {
	prefix := string(e.Kind)
	if e.Device != "" {
		prefix = fmt.Sprintf("[%s] %s", e.Device, prefix)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *BridgeError) Unwrap() error {
	return e.Cause
}

// New builds a BridgeError with no wrapped cause.
func New(kind ErrorKind, message string) *BridgeError {
	return &BridgeError{Kind: kind, Message: message}
}

// Wrap builds a BridgeError wrapping cause. Returns nil if cause is nil.
func Wrap(kind ErrorKind, message string, cause error) *BridgeError {
	if cause == nil {
		return nil
	}
	return &BridgeError{Kind: kind, Message: message, Cause: cause}
}

// WithDevice returns a copy of e scoped to a device_id, for the
// "[device_id] message" formatting the health endpoint uses.
func (e *BridgeError) WithDevice(deviceID string) *BridgeError {
	cp := *e
	cp.Device = deviceID
	return &cp
}

// KindOf extracts the ErrorKind from err if it (or something it wraps)
// is a *BridgeError. Returns ok=false otherwise.
func KindOf(err error) (ErrorKind, bool) {
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Kind, true
	}
	return "", false
}
