package manager

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdu-bridge/internal/config"
	"pdu-bridge/internal/domain"
	"pdu-bridge/internal/history"
	"pdu-bridge/internal/logging"
	"pdu-bridge/internal/mqtt"
)

func testManager(t *testing.T) *BridgeManager {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{
		DataDir: dir,
		MQTT: config.MQTTConfig{
			TopicPrefix:     "pdu",
			Discovery:       false,
			OfflineQueueCap: 100,
		},
		Poller: config.PollerConfig{
			IntervalMS:       20,
			TransportTimeout: 200 * time.Millisecond,
			DegradedAfter:    3,
			RecoveringAfter:  5,
			StaggerMS:        1,
		},
		History: config.HistoryConfig{RetentionDays: 60, CoalesceCount: 10, CoalesceMS: 1000},
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			DSN:    filepath.Join(dir, "history.db"),
		},
	}

	hist, err := history.Open(cfg.Database, cfg.History, logging.Default())
	require.NoError(t, err)

	client := mqtt.NewClient(cfg.MQTT, logging.Default())
	return New(cfg, hist, client, logging.Default())
}

func TestBridgeManager_StartLoadsMockDeviceByDefault(t *testing.T) {
	m := testManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, m.Start(ctx))
	defer m.Shutdown()

	ids := m.DeviceIDs()
	require.Len(t, ids, 1)
	assert.Equal(t, "mock", ids[0])

	require.Eventually(t, func() bool {
		p, ok := m.Device("mock")
		return ok && p.Health().State == domain.HealthHealthy
	}, time.Second, 10*time.Millisecond)
}

func TestBridgeManager_AddAndRemoveDevice(t *testing.T) {
	m := testManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Shutdown()

	dc := domain.DeviceConfig{
		DeviceID:         "pdu2",
		Label:            "Rack 2",
		Enabled:          true,
		PrimaryTransport: domain.TransportMock,
		BankCountHint:    2,
	}
	require.NoError(t, m.AddDevice(ctx, dc))

	_, ok := m.Device("pdu2")
	require.True(t, ok)

	require.NoError(t, m.RemoveDevice("pdu2"))
	_, ok = m.Device("pdu2")
	assert.False(t, ok)

	all, err := m.devices.Load()
	require.NoError(t, err)
	for _, d := range all {
		assert.NotEqual(t, "pdu2", d.DeviceID)
	}
}

func TestBridgeManager_HealthAggregatesDeviceState(t *testing.T) {
	m := testManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Shutdown()

	// No broker is running in this test, so MQTT never connects; the
	// aggregation should still surface the device's own transport
	// health as HEALTHY once its first poll cycle completes, with the
	// bridge-wide status reflecting the disconnected MQTT issue.
	require.Eventually(t, func() bool {
		h := m.Health()
		dev, ok := h.Devices["mock"]
		return ok && dev.State == domain.HealthHealthy
	}, time.Second, 10*time.Millisecond)

	h := m.Health()
	assert.Equal(t, "degraded", h.Status)
	assert.Contains(t, h.Issues, "MQTT disconnected")
}

func TestBridgeManager_SetRulesPersists(t *testing.T) {
	m := testManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Shutdown()

	rules := domain.Ruleset{
		"low-voltage": &domain.Rule{
			Name: "low-voltage", Condition: domain.ConditionVoltageBelow, Threshold: "100",
			Outlet: "1", Action: domain.RuleActionOff, Enabled: true, ScheduleType: domain.ScheduleContinuous,
		},
	}
	require.NoError(t, m.SetRules("mock", rules))

	all, err := m.rules.Load()
	require.NoError(t, err)
	assert.Contains(t, all, "mock")
	assert.Contains(t, all["mock"], "low-voltage")
}
