package transport

import (
	"context"
	"sync"

	"pdu-bridge/internal/domain"
)

// Mock is a first-class transport variant (per the design notes: a
// mock is required for testing, not bolted on). It is also the
// fallback used for the configuration-priority rule's single "mock"
// device when no device list file or env vars are present.
type Mock struct {
	mu      sync.Mutex
	Ident   domain.Identity
	Snap    domain.Snapshot
	Outlets map[int]domain.OutletState

	// UptimeTicks is copied onto every built snapshot; tests drive
	// reboot detection by lowering it between Poll calls.
	UptimeTicks uint32

	// PollErr, when set, is returned by the next N Poll calls (N =
	// FailNextPolls) to let tests drive the failure state machine.
	PollErr       error
	FailNextPolls int

	SetCalls []MockSetCall

	// management state, lazily initialized by the Management methods in
	// mock_management.go.
	thresholds      map[string]float64
	network         map[string]string
	atsConfig       map[string]string
	outletConfig    map[int]map[string]string
	notifications   map[string]bool
	energyWise      map[string]string
	location        string
	passwordChanged bool
}

// MockSetCall records one SetOutlet invocation for test assertions.
type MockSetCall struct {
	Outlet int
	Action domain.OutletAction
}

// NewMock builds a mock PDU with n outlets, all on, and a plausible
// single-bank snapshot.
func NewMock(deviceID string, outletCount int) *Mock {
	m := &Mock{
		Ident: domain.Identity{
			SerialNumber: "MOCK-" + deviceID,
			Model:        "CyberPower PDU41004 (mock)",
			OutletCount:  outletCount,
			PhaseCount:   1,
		},
		Outlets: make(map[int]domain.OutletState, outletCount),
	}
	for i := 1; i <= outletCount; i++ {
		m.Outlets[i] = domain.OutletOn
	}
	m.Snap = m.buildSnapshot()
	return m
}

func (m *Mock) buildSnapshot() domain.Snapshot {
	outlets := make([]domain.Outlet, 0, len(m.Outlets))
	for n := 1; n <= len(m.Outlets); n++ {
		outlets = append(outlets, domain.Outlet{Number: n, State: m.Outlets[n]})
	}
	return domain.Snapshot{
		InputVoltage:   120.0,
		InputFrequency: 60.0,
		Banks: []domain.Bank{{
			Number: 1, Voltage: 120.0, Current: 2.0, ActivePower: 240, ApparentPower: 250,
			PowerFactor: 0.96, LoadState: domain.LoadNormal,
		}},
		Outlets:     outlets,
		UptimeTicks: m.UptimeTicks,
	}
}

func (m *Mock) Identify(ctx context.Context) (domain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Ident, nil
}

func (m *Mock) Poll(ctx context.Context) (domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailNextPolls > 0 {
		m.FailNextPolls--
		if m.PollErr != nil {
			return domain.Snapshot{}, m.PollErr
		}
		return domain.Snapshot{}, &Error{Kind: KindTimeout, Message: "mock poll failure"}
	}
	m.Snap = m.buildSnapshot()
	return m.Snap, nil
}

func (m *Mock) SetOutlet(ctx context.Context, outlet int, action domain.OutletAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SetCalls = append(m.SetCalls, MockSetCall{Outlet: outlet, Action: action})

	switch action {
	case domain.ActionOn, domain.ActionDelayOn:
		m.Outlets[outlet] = domain.OutletOn
	case domain.ActionOff, domain.ActionDelayOff:
		m.Outlets[outlet] = domain.OutletOff
	case domain.ActionReboot:
		m.Outlets[outlet] = domain.OutletOn
	case domain.ActionCancel:
		// no state change
	default:
		return &Error{Kind: KindParse, Message: "unsupported mock action"}
	}
	return nil
}

func (m *Mock) Close() error { return nil }

var _ Transport = (*SNMPTransport)(nil)
var _ Transport = (*SerialTransport)(nil)
var _ Transport = (*Mock)(nil)
