// Package transport defines the single interface the poller uses to
// talk to a physical PDU, with two real implementations (SNMP, serial
// console) and a Mock used by tests and by devices configured without
// network reachability.
package transport

import (
	"context"

	"pdu-bridge/internal/domain"
)

// Kind is the transport-level failure classification. It is narrower
// than bridgeerr.ErrorKind — only the subset a Transport can itself
// detect — and is mapped onto the broader taxonomy by callers.
type Kind string

const (
	KindTimeout       Kind = "timeout"
	KindUnreachable   Kind = "unreachable"
	KindAuthentication Kind = "authentication"
	KindParse         Kind = "parse"
	KindRefused       Kind = "refused"
	KindUnknown       Kind = "unknown"
)

// Error is the typed error every Transport method returns on failure.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Transport is the capability set every implementation exposes. Poll
// budgets are carried through ctx; a Transport must respect deadline
// cancellation and never retry past its own configured retry count.
type Transport interface {
	// Identify discovers hardware identity: model, serial, firmware,
	// outlet/phase counts. Called once on first successful contact and
	// again after a detected reboot.
	Identify(ctx context.Context) (domain.Identity, error)

	// Poll reads all metrics for one cycle and returns a fresh snapshot.
	Poll(ctx context.Context) (domain.Snapshot, error)

	// SetOutlet issues one outlet command.
	SetOutlet(ctx context.Context, outlet int, action domain.OutletAction) error

	// Close releases any held connection/session. Safe to call on an
	// already-closed transport.
	Close() error
}

// Management is an optional extension a Transport may also implement;
// the serial console transport and the mock do. The bridge manager and
// HTTP facade type-assert for it and return requires_serial otherwise.
type Management interface {
	GetThresholds(ctx context.Context) (map[string]float64, error)
	SetThresholds(ctx context.Context, values map[string]float64) error
	GetNetwork(ctx context.Context) (map[string]string, error)
	SetNetwork(ctx context.Context, values map[string]string) error
	GetATSConfig(ctx context.Context) (map[string]string, error)
	SetATSConfig(ctx context.Context, values map[string]string) error
	SetOutletConfig(ctx context.Context, outlet int, values map[string]string) error
	SetDeviceName(ctx context.Context, name string) error
	SetDeviceLocation(ctx context.Context, location string) error
	CheckDefaultCredentials(ctx context.Context) (bool, error)
	ChangePassword(ctx context.Context, user, newPassword string) error
	GetEventLog(ctx context.Context) ([]string, error)
	GetNotifications(ctx context.Context) (map[string]bool, error)
	SetNotifications(ctx context.Context, values map[string]bool) error
	GetEnergyWise(ctx context.Context) (map[string]string, error)
	SetEnergyWise(ctx context.Context, values map[string]string) error
	GetUsers(ctx context.Context) ([]string, error)
}
