package transport

import (
	"context"
)

// Management support for Mock: an in-memory stand-in for the serial
// console's menu tree, so PDU management endpoints can be exercised
// against a mock device without real hardware.

func (m *Mock) GetThresholds(ctx context.Context) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.thresholds == nil {
		m.thresholds = map[string]float64{"low_voltage": 100, "high_voltage": 130, "overload_amps": 15}
	}
	return cloneFloatMap(m.thresholds), nil
}

func (m *Mock) SetThresholds(ctx context.Context, values map[string]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.thresholds == nil {
		m.thresholds = make(map[string]float64, len(values))
	}
	for k, v := range values {
		m.thresholds[k] = v
	}
	return nil
}

func (m *Mock) GetNetwork(ctx context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.network == nil {
		m.network = map[string]string{"dhcp": "on", "ip": "192.0.2.10", "gateway": "192.0.2.1"}
	}
	return cloneStringMap(m.network), nil
}

func (m *Mock) SetNetwork(ctx context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.network == nil {
		m.network = make(map[string]string, len(values))
	}
	for k, v := range values {
		m.network[k] = v
	}
	return nil
}

func (m *Mock) GetATSConfig(ctx context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.atsConfig == nil {
		m.atsConfig = map[string]string{"preferred_source": "A", "auto_transfer": "on"}
	}
	return cloneStringMap(m.atsConfig), nil
}

func (m *Mock) SetATSConfig(ctx context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.atsConfig == nil {
		m.atsConfig = make(map[string]string, len(values))
	}
	for k, v := range values {
		m.atsConfig[k] = v
	}
	return nil
}

func (m *Mock) SetOutletConfig(ctx context.Context, outlet int, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outletConfig == nil {
		m.outletConfig = make(map[int]map[string]string)
	}
	cfg, ok := m.outletConfig[outlet]
	if !ok {
		cfg = make(map[string]string)
		m.outletConfig[outlet] = cfg
	}
	for k, v := range values {
		cfg[k] = v
	}
	return nil
}

func (m *Mock) SetDeviceName(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Ident.Model = name
	return nil
}

func (m *Mock) SetDeviceLocation(ctx context.Context, location string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.location = location
	return nil
}

func (m *Mock) CheckDefaultCredentials(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.passwordChanged, nil
}

func (m *Mock) ChangePassword(ctx context.Context, user, newPassword string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passwordChanged = true
	return nil
}

func (m *Mock) GetEventLog(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return []string{"mock device booted", "mock device identified"}, nil
}

func (m *Mock) GetNotifications(ctx context.Context) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.notifications == nil {
		m.notifications = map[string]bool{"email": false, "snmp_trap": false}
	}
	out := make(map[string]bool, len(m.notifications))
	for k, v := range m.notifications {
		out[k] = v
	}
	return out, nil
}

func (m *Mock) SetNotifications(ctx context.Context, values map[string]bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.notifications == nil {
		m.notifications = make(map[string]bool, len(values))
	}
	for k, v := range values {
		m.notifications[k] = v
	}
	return nil
}

func (m *Mock) GetEnergyWise(ctx context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.energyWise == nil {
		m.energyWise = map[string]string{"enabled": "off", "domain": "", "port": "43440"}
	}
	return cloneStringMap(m.energyWise), nil
}

func (m *Mock) SetEnergyWise(ctx context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.energyWise == nil {
		m.energyWise = make(map[string]string, len(values))
	}
	for k, v := range values {
		m.energyWise[k] = v
	}
	return nil
}

func (m *Mock) GetUsers(ctx context.Context) ([]string, error) {
	return []string{"admin"}, nil
}

func cloneStringMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneFloatMap(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

var _ Management = (*Mock)(nil)
