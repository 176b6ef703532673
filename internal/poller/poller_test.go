package poller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdu-bridge/internal/automation"
	"pdu-bridge/internal/domain"
	"pdu-bridge/internal/logging"
	"pdu-bridge/internal/transport"
)

func testConfig(id string) Config {
	return Config{
		DeviceID:         id,
		Label:            id,
		Interval:         20 * time.Millisecond,
		TransportTimeout: 200 * time.Millisecond,
		DegradedAfter:    3,
		RecoveringAfter:  5,
	}
}

func TestPoller_OutletCommandAppliesAndPublishesResponse(t *testing.T) {
	mock := transport.NewMock("pdu1", 4)
	p := New(testConfig("pdu1"), mock, domain.TransportSNMP, nil, nil, nil, automation.New(logging.Default()), logging.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Start(ctx)
	defer p.Stop()

	res := p.SubmitCommand(3, domain.ActionOff)
	require.True(t, res.Success)
	require.Len(t, mock.SetCalls, 1)
	assert.Equal(t, transport.MockSetCall{Outlet: 3, Action: domain.ActionOff}, mock.SetCalls[0])
}

func TestPoller_FailuresDegradeThenSwap(t *testing.T) {
	primary := transport.NewMock("pdu2", 2)
	primary.FailNextPolls = 100
	fallback := transport.NewMock("pdu2", 2)

	p := New(testConfig("pdu2"), primary, domain.TransportSNMP, fallback, nil, nil, nil, logging.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Start(ctx)
	defer p.Stop()

	require.Eventually(t, func() bool {
		return p.Health().State == domain.HealthRecovering
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, domain.TransportSerial, p.Health().ActiveTransport)
}

// TestPoller_RecoveringAfterDivisibleByTenSwapsCleanly guards against a
// case-ordering regression in onFailure: when RecoveringAfter is a
// multiple of ten, the DegradedAfter-multiple-of-ten logging branch
// must not take priority over the swap-to-fallback branch at that
// failure count.
func TestPoller_RecoveringAfterDivisibleByTenSwapsCleanly(t *testing.T) {
	primary := transport.NewMock("pdu5", 2)
	primary.FailNextPolls = 100
	fallback := transport.NewMock("pdu5", 2)

	cfg := testConfig("pdu5")
	cfg.DegradedAfter = 10
	cfg.RecoveringAfter = 30

	p := New(cfg, primary, domain.TransportSNMP, fallback, nil, nil, nil, logging.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Start(ctx)
	defer p.Stop()

	require.Eventually(t, func() bool {
		h := p.Health()
		return h.State == domain.HealthRecovering || h.ActiveTransport == domain.TransportSerial
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, domain.TransportSerial, p.Health().ActiveTransport)
	assert.Len(t, p.Health().SwapHistory, 1)
}

func TestPoller_RebootDetectionReIdentifies(t *testing.T) {
	mock := transport.NewMock("pdu3", 1)
	mock.UptimeTicks = 1000

	p := New(testConfig("pdu3"), mock, domain.TransportSNMP, nil, nil, nil, nil, logging.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Start(ctx)
	defer p.Stop()

	require.Eventually(t, func() bool {
		return p.Snapshot().UptimeTicks == 1000
	}, time.Second, 5*time.Millisecond)

	mock.UptimeTicks = 10 // decreased: reboot

	require.Eventually(t, func() bool {
		events := p.Events()
		for _, ev := range events {
			if ev.Type == domain.EventDeviceRebooted {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}
