// Package poller runs the per-device cycle loop: poll the active
// transport, decode, publish, persist, evaluate automation, and drain
// a single command FIFO shared with user- and rule-originated outlet
// writes. One Poller runs forever once started, independent of every
// other device's poller.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"pdu-bridge/internal/automation"
	"pdu-bridge/internal/domain"
	"pdu-bridge/internal/history"
	"pdu-bridge/internal/logging"
	"pdu-bridge/internal/mqtt"
	"pdu-bridge/internal/transport"
)

// SubnetScanner is the optional external collaborator invoked once a
// device has been LOST for Config.LostCyclesForScan cycles. The poller
// does not check whether the device's config names a host or a pinned
// static IP, and a found host is only logged. Implementations may be
// absent; LOST is a stable state on its own.
type SubnetScanner interface {
	Scan(ctx context.Context, lastKnownHost, serialNumber string) (host string, ok bool, err error)
}

// StateEvent is broadcast to subscribers (the HTTP facade's
// server-sent events / websocket feed) after every successful cycle.
type StateEvent struct {
	DeviceID string
	Snapshot domain.Snapshot
	Health   domain.TransportHealth
}

// Config is everything a Poller needs that does not change once
// Started; device-specific overrides are applied by the caller before
// construction.
type Config struct {
	DeviceID         string
	Label            string
	Interval         time.Duration
	TransportTimeout time.Duration
	DegradedAfter    int
	RecoveringAfter  int
	LostCyclesForScan int // cycles spent LOST before invoking Scanner
}

// Poller owns one device's transport(s), rule set, and command FIFO.
type Poller struct {
	cfg Config
	log logging.Logger

	primary  transport.Transport
	fallback transport.Transport
	scanner  SubnetScanner

	transportMu sync.Mutex // serializes every call into the active transport
	active      transport.Transport
	activeKind  domain.Transport

	history   *history.Store
	publisher *mqtt.Publisher
	engine    *automation.Engine

	rulesMu sync.Mutex
	rules   domain.Ruleset

	namesMu sync.RWMutex
	names   map[int]string

	stateMu      sync.RWMutex
	health       domain.TransportHealth
	identity     domain.Identity
	lastSnapshot domain.Snapshot
	haveUptime   bool
	lastUptime   uint32
	lostCycles   int
	scanning     bool

	events *domain.EventRing

	cmdCh  chan command
	stopCh chan struct{}
	doneCh chan struct{}

	subMu sync.Mutex
	subs  []chan StateEvent

	lastDevicePublish time.Time
}

// New builds a Poller. primaryKind names which Transport backs
// primary, for health reporting and swap bookkeeping; after a swap the
// active kind becomes the other of SNMP and serial (otherTransport).
// fallback may be nil if the device has no secondary transport
// configured.
func New(cfg Config, primary transport.Transport, primaryKind domain.Transport, fallback transport.Transport, hist *history.Store, pub *mqtt.Publisher, engine *automation.Engine, log logging.Logger) *Poller {
	if cfg.DegradedAfter <= 0 {
		cfg.DegradedAfter = 10
	}
	if cfg.RecoveringAfter <= 0 {
		cfg.RecoveringAfter = 30
	}
	if cfg.LostCyclesForScan <= 0 {
		cfg.LostCyclesForScan = 30
	}
	return &Poller{
		cfg:       cfg,
		log:       log.With("device_id", cfg.DeviceID),
		primary:   primary,
		fallback:  fallback,
		active:    primary,
		activeKind: primaryKind,
		history:   hist,
		publisher: pub,
		engine:    engine,
		rules:     domain.Ruleset{},
		names:     make(map[int]string),
		events:    domain.NewEventRing(),
		health: domain.TransportHealth{
			State:           domain.HealthHealthy,
			ActiveTransport: primaryKind,
		},
		cmdCh:  make(chan command, 64),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// SetScanner wires an optional DHCP-recovery collaborator.
func (p *Poller) SetScanner(s SubnetScanner) { p.scanner = s }

// SetRules replaces the device's rule set wholesale (used on load and
// on bulk rule-file reload).
func (p *Poller) SetRules(rules domain.Ruleset) {
	p.rulesMu.Lock()
	p.rules = rules
	p.rulesMu.Unlock()
}

// Rules returns the live rule set. Callers that mutate individual
// rules do so in place; the map itself is never copied so automation
// state (condition_since, triggered) survives across calls.
func (p *Poller) Rules() domain.Ruleset {
	p.rulesMu.Lock()
	defer p.rulesMu.Unlock()
	return p.rules
}

// SetOutletName applies an override the next publish cycle picks up
// and also republishes it immediately so the UI does not wait.
func (p *Poller) SetOutletName(outlet int, name string) {
	p.namesMu.Lock()
	p.names[outlet] = name
	p.namesMu.Unlock()
	if p.publisher != nil {
		p.publisher.PublishOutletName(p.cfg.DeviceID, outlet, name)
	}
}

// OutletNames returns a copy of the current override map.
func (p *Poller) OutletNames() map[int]string {
	p.namesMu.RLock()
	defer p.namesMu.RUnlock()
	out := make(map[int]string, len(p.names))
	for k, v := range p.names {
		out[k] = v
	}
	return out
}

// Snapshot returns the most recently decoded snapshot.
func (p *Poller) Snapshot() domain.Snapshot {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.lastSnapshot
}

// Health returns the current transport health record.
func (p *Poller) Health() domain.TransportHealth {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.health
}

// Events returns the device's recent event ring, oldest first.
func (p *Poller) Events() []domain.EventRecord {
	return p.events.All()
}

// PushEvent records an event originating outside the cycle loop (rule
// CRUD, a security check) onto this device's ring, stamping an ID and
// timestamp if the caller left them unset.
func (p *Poller) PushEvent(ev domain.EventRecord) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ev.DeviceID = p.cfg.DeviceID
	p.events.Push(ev)
}

// Identity returns the most recently discovered hardware identity.
func (p *Poller) Identity() domain.Identity {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.identity
}

// Management returns the active transport's management extension, if
// it implements one. The serial console transport and the mock do;
// HTTP handlers type-assert through this and return requires_serial
// otherwise.
func (p *Poller) Management() (transport.Management, bool) {
	p.transportMu.Lock()
	defer p.transportMu.Unlock()
	m, ok := p.active.(transport.Management)
	return m, ok
}

// Subscribe registers a channel that receives a StateEvent after every
// successful cycle; failed cycles send nothing. The channel is buffered; slow subscribers
// drop events rather than block the poller.
func (p *Poller) Subscribe() chan StateEvent {
	ch := make(chan StateEvent, 8)
	p.subMu.Lock()
	p.subs = append(p.subs, ch)
	p.subMu.Unlock()
	return ch
}

// Unsubscribe releases a channel returned by Subscribe. Callers that
// stop reading from a subscription (a closed websocket connection)
// must call this or the channel is retained and broadcast to forever.
func (p *Poller) Unsubscribe(ch chan StateEvent) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for i, c := range p.subs {
		if c == ch {
			p.subs = append(p.subs[:i], p.subs[i+1:]...)
			return
		}
	}
}

func (p *Poller) broadcast(ev StateEvent) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Start runs the cycle loop and the command worker until ctx is done
// or Stop is called. Start blocks; callers run it in its own
// goroutine.
func (p *Poller) Start(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.commandWorker(ctx)
	}()
	go func() {
		defer wg.Done()
		p.cycleLoop(ctx)
	}()
	wg.Wait()
	close(p.doneCh)
}

// Stop requests shutdown and blocks until both the cycle loop and the
// command worker have exited and the transport has been released.
func (p *Poller) Stop() {
	close(p.stopCh)
	<-p.doneCh
	p.transportMu.Lock()
	_ = p.active.Close()
	p.transportMu.Unlock()
}

func (p *Poller) cycleLoop(ctx context.Context) {
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		deadline := time.Now().Add(p.cfg.Interval)
		p.runCycle(ctx)

		wait := time.Until(deadline)
		if wait <= 0 {
			continue // cycle overran; next deadline is computed fresh, so no backlog accumulates
		}
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (p *Poller) runCycle(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, p.cfg.Interval)
	defer cancel()

	p.transportMu.Lock()
	snap, err := p.active.Poll(ctx)
	p.transportMu.Unlock()

	if err != nil {
		p.onFailure(parent, err)
		return
	}
	p.onSuccess(ctx, snap)
}

func (p *Poller) onSuccess(ctx context.Context, snap domain.Snapshot) {
	p.stateMu.Lock()
	wasUnhealthy := p.health.State != domain.HealthHealthy
	p.health.ConsecutiveFailures = 0
	p.health.LastSuccess = time.Now()
	p.health.LastErrorKind = ""
	p.health.State = domain.HealthHealthy
	p.lostCycles = 0

	rebooted := p.haveUptime && snap.UptimeTicks < p.lastUptime
	p.lastUptime = snap.UptimeTicks
	p.haveUptime = true
	identity := p.identity
	p.stateMu.Unlock()

	if rebooted {
		p.handleReboot(ctx)
	} else if identity == (domain.Identity{}) {
		p.transportMu.Lock()
		id, err := p.active.Identify(ctx)
		p.transportMu.Unlock()
		if err == nil {
			p.stateMu.Lock()
			p.identity = id
			p.stateMu.Unlock()
		}
	}
	identity = p.Identity()
	if wasUnhealthy {
		p.log.Info().Msg("transport recovered")
	}

	snap.Timestamp = time.Now()
	snap.Identity = &identity
	p.applyOutletNames(&snap)

	p.stateMu.Lock()
	p.lastSnapshot = snap
	p.stateMu.Unlock()

	if p.publisher != nil {
		p.publisher.PublishSnapshot(p.cfg.DeviceID, snap, time.Since(snap.Timestamp))
		if time.Since(p.lastDevicePublish) >= 30*time.Second {
			p.publisher.PublishDevice(p.cfg.DeviceID, &identity, int(p.cfg.Interval/time.Millisecond), string(p.activeKindSnapshot()))
			p.lastDevicePublish = time.Now()
		}
	}

	p.appendHistory(snap)
	p.runAutomation(snap)

	p.broadcast(StateEvent{DeviceID: p.cfg.DeviceID, Snapshot: snap, Health: p.Health()})
}

func (p *Poller) activeKindSnapshot() domain.Transport {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.activeKind
}

func (p *Poller) applyOutletNames(snap *domain.Snapshot) {
	p.namesMu.RLock()
	defer p.namesMu.RUnlock()
	if len(p.names) == 0 {
		return
	}
	for i := range snap.Outlets {
		if name, ok := p.names[snap.Outlets[i].Number]; ok {
			snap.Outlets[i].Name = name
		}
	}
}

func (p *Poller) appendHistory(snap domain.Snapshot) {
	if p.history == nil {
		return
	}
	for _, b := range snap.Banks {
		p.history.AppendBankSample(domain.BankSample{
			Timestamp: snap.Timestamp, DeviceID: p.cfg.DeviceID, Bank: b.Number,
			Voltage: b.Voltage, Current: b.Current, Power: b.ActivePower,
			Apparent: b.ApparentPower, PF: b.PowerFactor,
		})
	}
	for _, o := range snap.Outlets {
		p.history.AppendOutletSample(domain.OutletSample{
			Timestamp: snap.Timestamp, DeviceID: p.cfg.DeviceID, Outlet: o.Number,
			State: o.State, Current: o.Current, Power: o.Power, Energy: o.Energy,
		})
	}
}

func (p *Poller) runAutomation(snap domain.Snapshot) {
	if p.engine == nil {
		return
	}
	rules := p.Rules()
	if len(rules) == 0 {
		return
	}
	result := p.engine.Evaluate(p.cfg.DeviceID, rules, snap, time.Now())
	for _, ev := range result.Events {
		p.events.Push(ev)
	}
	if len(result.Events) > 0 && p.publisher != nil {
		p.publisher.PublishAutomationEvents(p.cfg.DeviceID, result.Events)
		p.publisher.PublishAutomationStatus(p.cfg.DeviceID, rules)
	}

	seen := make(map[int]bool, len(result.Intents))
	for _, intent := range result.Intents {
		if seen[intent.Outlet] {
			continue
		}
		seen[intent.Outlet] = true
		action := domain.ActionOn
		if intent.Action == domain.RuleActionOff {
			action = domain.ActionOff
		}
		p.enqueueCommand(command{
			outlet: intent.Outlet, action: action,
			origin: originAutomation, rule: intent.RuleName,
		})
	}
}

func (p *Poller) handleReboot(ctx context.Context) {
	p.events.Push(domain.EventRecord{
		ID: uuid.NewString(), DeviceID: p.cfg.DeviceID, Type: domain.EventDeviceRebooted,
		Details: "uptime counter decreased", Timestamp: time.Now(),
	})
	p.log.Warn().Msg("device reboot detected; re-identifying")

	p.transportMu.Lock()
	identity, err := p.active.Identify(ctx)
	p.transportMu.Unlock()
	if err != nil {
		p.log.Warn().Err(err).Msg("re-identify after reboot failed")
		return
	}
	p.stateMu.Lock()
	p.identity = identity
	p.stateMu.Unlock()
}

func (p *Poller) onFailure(parent context.Context, err error) {
	p.stateMu.Lock()
	p.health.ConsecutiveFailures++
	failures := p.health.ConsecutiveFailures
	p.health.LastErrorKind = transportKind(err)
	p.stateMu.Unlock()

	switch {
	case failures >= p.cfg.RecoveringAfter && p.fallback != nil:
		p.attemptSwap(parent)

	case failures >= p.cfg.RecoveringAfter:
		p.setHealthState(domain.HealthLost)
		p.stateMu.Lock()
		p.lostCycles++
		lost := p.lostCycles
		p.stateMu.Unlock()
		if lost >= p.cfg.LostCyclesForScan {
			p.maybeScan(parent)
		}

	case failures == p.cfg.DegradedAfter || (failures > p.cfg.DegradedAfter && failures%10 == 0):
		p.log.Warn().Int("consecutive_failures", failures).Str("kind", transportKind(err)).Msg("transport degraded")
		p.setHealthState(domain.HealthDegraded)

	default:
		if failures >= p.cfg.DegradedAfter {
			p.setHealthState(domain.HealthDegraded)
		}
	}
}

func (p *Poller) setHealthState(s domain.TransportHealthState) {
	p.stateMu.Lock()
	p.health.State = s
	p.stateMu.Unlock()
}

func (p *Poller) attemptSwap(parent context.Context) {
	p.transportMu.Lock()
	defer p.transportMu.Unlock()

	ctx, cancel := context.WithTimeout(parent, p.cfg.TransportTimeout)
	defer cancel()

	identity, err := p.fallback.Identify(ctx)
	if err != nil {
		p.log.Warn().Err(err).Msg("fallback transport identify failed; staying on primary")
		return
	}

	from := p.activeKind
	p.active, p.fallback = p.fallback, p.active
	p.activeKind = otherTransport(from)

	p.stateMu.Lock()
	p.identity = identity
	p.health.ConsecutiveFailures = 0
	p.health.State = domain.HealthRecovering
	p.health.ActiveTransport = p.activeKind
	p.health.SwapHistory = append(p.health.SwapHistory, domain.TransportSwap{From: from, To: p.activeKind, At: time.Now()})
	p.stateMu.Unlock()

	p.events.Push(domain.EventRecord{
		ID: uuid.NewString(), DeviceID: p.cfg.DeviceID, Type: domain.EventTransportSwap,
		Details: fmt.Sprintf("%s -> %s", from, p.activeKind), Timestamp: time.Now(),
	})
	p.log.Info().Str("from", string(from)).Str("to", string(p.activeKind)).Msg("transport swap")
}

func otherTransport(t domain.Transport) domain.Transport {
	if t == domain.TransportSNMP {
		return domain.TransportSerial
	}
	return domain.TransportSNMP
}

func (p *Poller) maybeScan(parent context.Context) {
	if p.scanner == nil {
		return
	}
	p.stateMu.Lock()
	if p.scanning {
		p.stateMu.Unlock()
		return
	}
	p.scanning = true
	identity := p.identity
	p.stateMu.Unlock()

	go func() {
		defer func() {
			p.stateMu.Lock()
			p.scanning = false
			p.stateMu.Unlock()
		}()
		ctx, cancel := context.WithTimeout(parent, 30*time.Second)
		defer cancel()
		host, ok, err := p.scanner.Scan(ctx, "", identity.SerialNumber)
		if err != nil || !ok {
			return
		}
		p.log.Info().Str("host", host).Msg("subnet scan recovered device")
	}()
}

func transportKind(err error) string {
	var te *transport.Error
	if errors.As(err, &te) {
		return string(te.Kind)
	}
	return "unknown"
}
