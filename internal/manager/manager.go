package manager

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"pdu-bridge/internal/automation"
	"pdu-bridge/internal/bridgeerr"
	"pdu-bridge/internal/config"
	"pdu-bridge/internal/domain"
	"pdu-bridge/internal/history"
	"pdu-bridge/internal/logging"
	"pdu-bridge/internal/mqtt"
	"pdu-bridge/internal/poller"
	"pdu-bridge/internal/transport"
)

// deviceRuntime bundles one device's live collaborators so AddDevice
// and RemoveDevice can tear the whole set down together.
type deviceRuntime struct {
	cfg    domain.DeviceConfig
	poller *poller.Poller
	cancel context.CancelFunc
}

// BridgeManager owns every singleton service (MQTT, history, scheduler)
// and one Poller per enabled device. It is the only place that mutates
// the device/rule/name JSON documents and the only caller into a
// poller's command FIFO from outside that poller's own cycle loop.
type BridgeManager struct {
	cfg *config.Config
	log logging.Logger

	devices    *deviceStore
	rules      *ruleStore
	names      *nameStore
	settings   *settingsStore
	history    *history.Store
	mqttClient *mqtt.Client
	publisher  *mqtt.Publisher
	discovery  *mqtt.Discovery
	engine     *automation.Engine
	scheduler  *scheduler

	mu       sync.RWMutex
	runtimes map[string]*deviceRuntime
}

// New wires every singleton collaborator but starts nothing; call
// Start to load devices and spin up pollers.
func New(cfg *config.Config, hist *history.Store, mqttClient *mqtt.Client, log logging.Logger) *BridgeManager {
	pub := mqtt.NewPublisher(mqttClient)
	var disc *mqtt.Discovery
	if cfg.MQTT.Discovery {
		disc = mqtt.NewDiscovery(mqttClient, cfg.MQTT.DiscoveryPrefix, cfg.MQTT.TopicPrefix)
	}
	return &BridgeManager{
		cfg:        cfg,
		log:        log.With("component", "manager"),
		devices:    newDeviceStore(cfg.DataDir),
		rules:      newRuleStore(cfg.DataDir),
		names:      newNameStore(cfg.DataDir),
		settings:   newSettingsStore(cfg.DataDir),
		history:    hist,
		mqttClient: mqttClient,
		publisher:  pub,
		discovery:  disc,
		engine:     automation.New(log),
		scheduler:  newScheduler(log),
		runtimes:   make(map[string]*deviceRuntime),
	}
}

// Start loads the device list per the configuration-priority rule
// (file beats env beats a single mock device), starts one poller per
// enabled device staggered by 100ms, and starts the scheduler.
func (m *BridgeManager) Start(ctx context.Context) error {
	if settings, err := m.settings.Load(); err != nil {
		return err
	} else if settings.PollIntervalMS > 0 {
		m.cfg.Poller.IntervalMS = settings.PollIntervalMS
	}

	devices, err := m.loadDeviceList()
	if err != nil {
		return err
	}

	allRules, err := m.rules.Load()
	if err != nil {
		return err
	}
	allNames, err := m.names.Load()
	if err != nil {
		return err
	}

	for i, dc := range devices {
		if !dc.Enabled {
			continue
		}
		if i > 0 {
			time.Sleep(time.Duration(m.staggerMS()) * time.Millisecond)
		}
		if err := m.startDevice(ctx, dc, allRules[dc.DeviceID], allNames[dc.DeviceID]); err != nil {
			m.log.Error().Err(err).Str("device_id", dc.DeviceID).Msg("failed to start device")
		}
	}

	m.scheduler.Start(m.history, m.cfg.History.RetentionDays, m.DeviceIDs)
	return nil
}

func (m *BridgeManager) staggerMS() int {
	if m.cfg.Poller.StaggerMS <= 0 {
		return 100
	}
	return m.cfg.Poller.StaggerMS
}

// loadDeviceList implements the configuration-priority rule: a
// non-empty device list file beats environment variables beats a
// single "mock" device.
func (m *BridgeManager) loadDeviceList() ([]domain.DeviceConfig, error) {
	fromFile, err := m.devices.Load()
	if err != nil {
		return nil, err
	}
	if len(fromFile) > 0 {
		return fromFile, nil
	}

	if dc, ok := deviceFromEnv(); ok {
		if err := m.devices.Save([]domain.DeviceConfig{dc}); err != nil {
			return nil, err
		}
		return []domain.DeviceConfig{dc}, nil
	}

	mockDevice := domain.DeviceConfig{
		DeviceID:         "mock",
		Label:            "Mock PDU",
		Enabled:          true,
		PrimaryTransport: domain.TransportMock,
		BankCountHint:    1,
	}
	if err := m.devices.Save([]domain.DeviceConfig{mockDevice}); err != nil {
		return nil, err
	}
	return []domain.DeviceConfig{mockDevice}, nil
}

func deviceFromEnv() (domain.DeviceConfig, bool) {
	host := os.Getenv("PDU_BRIDGE_DEVICE_HOST")
	if host == "" {
		return domain.DeviceConfig{}, false
	}
	dc := domain.DeviceConfig{
		DeviceID:         envOr("PDU_BRIDGE_DEVICE_ID", "pdu1"),
		Label:            envOr("PDU_BRIDGE_DEVICE_LABEL", "PDU"),
		Enabled:          true,
		Host:             host,
		SNMPPort:         envOrInt("PDU_BRIDGE_DEVICE_SNMP_PORT", 161),
		ReadCommunity:    envOr("PDU_BRIDGE_DEVICE_READ_COMMUNITY", "public"),
		WriteCommunity:   envOr("PDU_BRIDGE_DEVICE_WRITE_COMMUNITY", "private"),
		SerialPort:       os.Getenv("PDU_BRIDGE_DEVICE_SERIAL_PORT"),
		BaudRate:         envOrInt("PDU_BRIDGE_DEVICE_BAUD_RATE", 9600),
		ConsoleUser:      os.Getenv("PDU_BRIDGE_DEVICE_CONSOLE_USER"),
		ConsolePass:      os.Getenv("PDU_BRIDGE_DEVICE_CONSOLE_PASS"),
		PrimaryTransport: domain.Transport(envOr("PDU_BRIDGE_DEVICE_PRIMARY_TRANSPORT", string(domain.TransportSNMP))),
	}
	return dc, true
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// DeriveDeviceID builds the deterministic slug used when a caller (HTTP
// device-add, discovery) does not supply one: "pdu-" + the first 8 hex
// characters of the SHA-1 of the hardware serial number, falling back
// to a user-supplied slug when no serial is known yet.
func DeriveDeviceID(serial, fallbackSlug string) string {
	if serial != "" {
		sum := sha1.Sum([]byte(serial))
		return "pdu-" + hex.EncodeToString(sum[:])[:8]
	}
	return fallbackSlug
}

// startDevice builds the transport(s) for dc, constructs its Poller,
// subscribes its MQTT command topics, publishes discovery, and starts
// its cycle loop.
func (m *BridgeManager) startDevice(parent context.Context, dc domain.DeviceConfig, rules domain.Ruleset, names map[int]string) error {
	primary, primaryKind, fallback, err := m.buildTransports(dc)
	if err != nil {
		return err
	}

	interval := time.Duration(m.cfg.Poller.IntervalMS) * time.Millisecond
	if dc.PollIntervalMS > 0 {
		interval = time.Duration(dc.PollIntervalMS) * time.Millisecond
	}

	pc := poller.Config{
		DeviceID:          dc.DeviceID,
		Label:             dc.Label,
		Interval:          interval,
		TransportTimeout:  m.cfg.Poller.TransportTimeout,
		DegradedAfter:     m.cfg.Poller.DegradedAfter,
		RecoveringAfter:   m.cfg.Poller.RecoveringAfter,
		LostCyclesForScan: 30,
	}

	p := poller.New(pc, primary, primaryKind, fallback, m.history, m.publisher, m.engine, m.log)
	if rules != nil {
		p.SetRules(rules)
	}
	for outlet, name := range names {
		p.SetOutletName(outlet, name)
	}

	if err := m.mqttClient.SubscribeCommands(dc.DeviceID, m.mqttCommandHandler(dc.DeviceID, p)); err != nil {
		m.log.Warn().Err(err).Str("device_id", dc.DeviceID).Msg("subscribe command topics failed")
	}

	if m.discovery != nil {
		hasATS := dc.PrimaryTransport != domain.TransportMock
		outletCount := dc.BankCountHint
		if outletCount == 0 {
			outletCount = 8
		}
		bankCount := dc.BankCountHint
		if bankCount == 0 {
			bankCount = 1
		}
		if err := m.discovery.PublishDevice(dc.DeviceID, dc.Label, nil, outletCount, bankCount, hasATS); err != nil {
			m.log.Warn().Err(err).Str("device_id", dc.DeviceID).Msg("publish discovery failed")
		}
	}

	ctx, cancel := context.WithCancel(parent)
	rt := &deviceRuntime{cfg: dc, poller: p, cancel: cancel}

	m.mu.Lock()
	m.runtimes[dc.DeviceID] = rt
	m.mu.Unlock()

	go p.Start(ctx)
	return nil
}

// mqttCommandHandler adapts the MQTT client's per-device CommandHandler
// signature into a SubmitMQTTCommand call, validating the action
// string against the closed OutletAction set before enqueueing.
func (m *BridgeManager) mqttCommandHandler(deviceID string, p *poller.Poller) mqtt.CommandHandler {
	return func(_ string, outlet int, payload []byte) {
		action := domain.OutletAction(payload)
		switch action {
		case domain.ActionOn, domain.ActionOff, domain.ActionReboot, domain.ActionDelayOn, domain.ActionDelayOff, domain.ActionCancel:
		default:
			m.log.Warn().Str("device_id", deviceID).Str("payload", string(payload)).Msg("rejecting unrecognized outlet command")
			return
		}
		p.EnqueueMQTTCommand(outlet, action)
	}
}

func (m *BridgeManager) buildTransports(dc domain.DeviceConfig) (primary transport.Transport, primaryKind domain.Transport, fallback transport.Transport, err error) {
	timeout := m.cfg.Poller.TransportTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	if dc.PrimaryTransport == domain.TransportMock {
		outletCount := dc.BankCountHint
		if outletCount == 0 {
			outletCount = 8
		}
		return transport.NewMock(dc.DeviceID, outletCount), domain.TransportMock, nil, nil
	}

	var snmpT *transport.SNMPTransport
	if dc.Host != "" {
		snmpT = transport.NewSNMPTransport(transport.SNMPConfig{
			Host:           dc.Host,
			Port:           orDefault(dc.SNMPPort, 161),
			ReadCommunity:  orDefaultStr(dc.ReadCommunity, "public"),
			WriteCommunity: orDefaultStr(dc.WriteCommunity, "private"),
			Timeout:        timeout,
			Retries:        m.cfg.Poller.TransportRetries,
			OutletCount:    orDefault(dc.BankCountHint*4, 8),
			BankCount:      orDefault(dc.BankCountHint, 1),
			HasATS:         true,
			HasEnvironment: true,
		}, m.log)
	}

	var serialT *transport.SerialTransport
	if dc.SerialPort != "" {
		serialT = transport.NewSerialTransport(transport.SerialConfig{
			Port:     dc.SerialPort,
			BaudRate: orDefault(dc.BaudRate, 9600),
			User:     dc.ConsoleUser,
			Password: dc.ConsolePass,
			Timeout:  timeout,
		}, m.log)
	}

	switch dc.PrimaryTransport {
	case domain.TransportSerial:
		if serialT == nil {
			return nil, "", nil, bridgeerr.New(bridgeerr.KindConfigInvalid, "device has no serial_port configured").WithDevice(dc.DeviceID)
		}
		if snmpT != nil {
			return serialT, domain.TransportSerial, snmpT, nil
		}
		return serialT, domain.TransportSerial, nil, nil
	default:
		if snmpT == nil {
			return nil, "", nil, bridgeerr.New(bridgeerr.KindConfigInvalid, "device has no host configured").WithDevice(dc.DeviceID)
		}
		if serialT != nil {
			return snmpT, domain.TransportSNMP, serialT, nil
		}
		return snmpT, domain.TransportSNMP, nil, nil
	}
}

func orDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func orDefaultStr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// AddDevice validates and persists a new device, then starts its
// poller immediately (hot add is fully live; no restart required).
func (m *BridgeManager) AddDevice(parent context.Context, dc domain.DeviceConfig) error {
	if err := domain.ValidateDeviceID(dc.DeviceID); err != nil {
		return bridgeerr.Wrap(bridgeerr.KindConfigInvalid, "invalid device_id", err)
	}

	m.mu.RLock()
	_, exists := m.runtimes[dc.DeviceID]
	m.mu.RUnlock()
	if exists {
		return bridgeerr.New(bridgeerr.KindConflict, "device already exists").WithDevice(dc.DeviceID)
	}

	all, err := m.devices.Load()
	if err != nil {
		return err
	}
	all = append(all, dc)
	if err := m.devices.Save(all); err != nil {
		return err
	}

	if !dc.Enabled {
		return nil
	}
	return m.startDevice(parent, dc, nil, nil)
}

// RemoveDevice stops the device's poller, unsubscribes its MQTT
// command topics, retracts its HA discovery entries, and deletes its
// device, rule and name entries. Publishes for this device that are
// still in the MQTT client's offline queue are not removed; they are
// sent when the broker connection is next restored.
func (m *BridgeManager) RemoveDevice(deviceID string) error {
	m.mu.Lock()
	rt, ok := m.runtimes[deviceID]
	if ok {
		delete(m.runtimes, deviceID)
	}
	m.mu.Unlock()
	if !ok {
		return bridgeerr.New(bridgeerr.KindNotFound, "device not found").WithDevice(deviceID)
	}

	rt.cancel()
	rt.poller.Stop()
	m.mqttClient.UnsubscribeCommands(deviceID)

	if m.discovery != nil {
		outletCount := rt.cfg.BankCountHint
		if outletCount == 0 {
			outletCount = 8
		}
		bankCount := rt.cfg.BankCountHint
		if bankCount == 0 {
			bankCount = 1
		}
		_ = m.discovery.RemoveDevice(deviceID, outletCount, bankCount, rt.cfg.PrimaryTransport != domain.TransportMock)
	}

	all, err := m.devices.Load()
	if err != nil {
		return err
	}
	kept := all[:0]
	for _, dc := range all {
		if dc.DeviceID != deviceID {
			kept = append(kept, dc)
		}
	}
	if err := m.devices.Save(kept); err != nil {
		return err
	}

	if allRules, err := m.rules.Load(); err == nil {
		delete(allRules, deviceID)
		_ = m.rules.Save(allRules)
	}
	if allNames, err := m.names.Load(); err == nil {
		delete(allNames, deviceID)
		_ = m.names.Save(allNames)
	}
	return nil
}

// Device returns the live poller for deviceID, or ok=false if unknown.
func (m *BridgeManager) Device(deviceID string) (*poller.Poller, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rt, ok := m.runtimes[deviceID]
	if !ok {
		return nil, false
	}
	return rt.poller, true
}

// DeviceIDs returns every currently running device, in no particular
// order.
func (m *BridgeManager) DeviceIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.runtimes))
	for id := range m.runtimes {
		ids = append(ids, id)
	}
	return ids
}

// DeviceConfigs returns the persisted configuration for every running
// device.
func (m *BridgeManager) DeviceConfigs() []domain.DeviceConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.DeviceConfig, 0, len(m.runtimes))
	for _, rt := range m.runtimes {
		out = append(out, rt.cfg)
	}
	return out
}

// SetRules replaces one device's rule set and persists it.
func (m *BridgeManager) SetRules(deviceID string, rules domain.Ruleset) error {
	p, ok := m.Device(deviceID)
	if !ok {
		return bridgeerr.New(bridgeerr.KindNotFound, "device not found").WithDevice(deviceID)
	}
	p.SetRules(rules)

	all, err := m.rules.Load()
	if err != nil {
		return err
	}
	all[deviceID] = rules
	return m.rules.Save(all)
}

// SetOutletName applies and persists one outlet's name override.
func (m *BridgeManager) SetOutletName(deviceID string, outlet int, name string) error {
	p, ok := m.Device(deviceID)
	if !ok {
		return bridgeerr.New(bridgeerr.KindNotFound, "device not found").WithDevice(deviceID)
	}
	p.SetOutletName(outlet, name)

	all, err := m.names.Load()
	if err != nil {
		return err
	}
	if all[deviceID] == nil {
		all[deviceID] = make(map[int]string)
	}
	all[deviceID][outlet] = name
	return m.names.Save(all)
}

// PollIntervalMS returns the bridge-wide default poll interval new
// pollers inherit when a device does not override it.
func (m *BridgeManager) PollIntervalMS() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Poller.IntervalMS
}

// SetPollIntervalMS persists a new bridge-wide default poll interval.
// It takes effect for devices added or restarted after the call;
// already-running pollers keep their current cycle length until
// restarted, since Poller.Config is immutable once Start is called.
func (m *BridgeManager) SetPollIntervalMS(ms int) error {
	if ms < 1000 {
		return bridgeerr.New(bridgeerr.KindConfigInvalid, "poll_interval must be >= 1s")
	}
	m.mu.Lock()
	m.cfg.Poller.IntervalMS = ms
	m.mu.Unlock()
	return m.settings.Save(BridgeSettings{PollIntervalMS: ms})
}

// HealthStatus is the bridge-wide health aggregation backing
// GET /api/health: healthy only when every device and subsystem is
// clean, degraded when something recoverable is off, unhealthy never
// happens on its own (the bridge stays up on every recoverable
// failure) but is reported if no devices are configured at all.
type HealthStatus struct {
	Status string              `json:"status"`
	Issues []string            `json:"issues"`
	Devices map[string]domain.TransportHealth `json:"devices"`
}

// Health aggregates per-device transport health and MQTT connectivity
// into the bridge-wide health contract.
func (m *BridgeManager) Health() HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hs := HealthStatus{Status: "healthy", Devices: make(map[string]domain.TransportHealth, len(m.runtimes))}

	if len(m.runtimes) == 0 {
		hs.Status = "unhealthy"
		hs.Issues = append(hs.Issues, "no devices configured")
	}

	if !m.mqttClient.IsConnected() {
		if hs.Status == "healthy" {
			hs.Status = "degraded"
		}
		hs.Issues = append(hs.Issues, "MQTT disconnected")
	}
	if dropped := m.mqttClient.DroppedCount(); dropped > 0 {
		hs.Issues = append(hs.Issues, fmt.Sprintf("MQTT offline queue dropped %d messages", dropped))
	}

	for id, rt := range m.runtimes {
		health := rt.poller.Health()
		hs.Devices[id] = health

		age := time.Since(rt.poller.Snapshot().Timestamp)
		switch health.State {
		case domain.HealthDegraded:
			hs.Issues = append(hs.Issues, fmt.Sprintf("[%s] transport degraded (%d consecutive failures)", id, health.ConsecutiveFailures))
			if hs.Status == "healthy" {
				hs.Status = "degraded"
			}
		case domain.HealthRecovering:
			hs.Issues = append(hs.Issues, fmt.Sprintf("[%s] recovering on fallback transport", id))
			if hs.Status == "healthy" {
				hs.Status = "degraded"
			}
		case domain.HealthLost:
			hs.Issues = append(hs.Issues, fmt.Sprintf("[%s] transport lost", id))
			hs.Status = "degraded"
		}
		if age > 30*time.Second {
			hs.Issues = append(hs.Issues, fmt.Sprintf("[%s] data is %.0fs stale", id, age.Seconds()))
			if hs.Status == "healthy" {
				hs.Status = "degraded"
			}
		}
	}

	return hs
}

// Shutdown cancels every poller in parallel, then disconnects MQTT
// (publishing offline markers), then stops the scheduler and flushes
// the history store.
func (m *BridgeManager) Shutdown() {
	m.mu.Lock()
	runtimes := make([]*deviceRuntime, 0, len(m.runtimes))
	for _, rt := range m.runtimes {
		runtimes = append(runtimes, rt)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, rt := range runtimes {
		wg.Add(1)
		go func(rt *deviceRuntime) {
			defer wg.Done()
			rt.cancel()
			rt.poller.Stop()
		}(rt)
	}
	wg.Wait()

	m.mqttClient.Disconnect()
	m.scheduler.Stop()
	if err := m.history.Close(); err != nil {
		m.log.Error().Err(err).Msg("history store close failed")
	}
}
