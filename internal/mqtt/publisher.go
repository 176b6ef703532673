package mqtt

import (
	"fmt"
	"time"

	"pdu-bridge/internal/domain"
)

// Publisher turns a decoded snapshot (or a narrower event) into the
// retained per-metric topics listed under the device's prefix. It
// holds no device state itself; callers pass whatever changed.
type Publisher struct {
	client *Client
	prefix string
}

// NewPublisher wraps client for topic construction under prefix
// "pdu/{device_id}".
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client, prefix: client.topicPrefix}
}

func (p *Publisher) topic(deviceID, suffix string) string {
	return fmt.Sprintf("%s/%s%s", p.prefix, deviceID, suffix)
}

func (p *Publisher) pub(deviceID, suffix string, payload any) {
	_ = p.client.Publish(p.topic(deviceID, suffix), payload, true, 0)
}

// statusSummary is the compact totals block inside the /status payload.
type statusSummary struct {
	TotalLoadAmps float64 `json:"total_load_amps"`
	TotalPowerW   float64 `json:"total_power_w"`
	TotalEnergyKWh *float64 `json:"total_energy_kwh,omitempty"`
}

// statusPayload is the full JSON body of the /status topic.
type statusPayload struct {
	Device          string           `json:"device"`
	ATS             *domain.ATS      `json:"ats,omitempty"`
	InputVoltage    float64          `json:"input_voltage"`
	InputFrequency  float64          `json:"input_frequency"`
	Outlets         map[string]domain.Outlet `json:"outlets"`
	Banks           map[string]domain.Bank   `json:"banks"`
	Summary         statusSummary    `json:"summary"`
	Identity        *domain.Identity `json:"identity,omitempty"`
	MQTTConnected   bool             `json:"mqtt_connected"`
	DataAgeSeconds  float64          `json:"data_age_seconds"`
	Timestamp       time.Time        `json:"ts"`
}

// PublishSnapshot emits every conditional per-metric topic plus the
// /status summary for one poll cycle's decoded snapshot.
func (p *Publisher) PublishSnapshot(deviceID string, snap domain.Snapshot, dataAge time.Duration) {
	p.pub(deviceID, "/input/voltage", snap.InputVoltage)
	p.pub(deviceID, "/input/frequency", snap.InputFrequency)

	var totalAmps, totalWatts float64
	var totalEnergy *float64

	for _, o := range snap.Outlets {
		n := o.Number
		p.pub(deviceID, fmt.Sprintf("/outlet/%d/state", n), string(o.State))
		if o.Name != "" {
			p.pub(deviceID, fmt.Sprintf("/outlet/%d/name", n), o.Name)
		}
		if o.Current != nil {
			p.pub(deviceID, fmt.Sprintf("/outlet/%d/current", n), *o.Current)
		}
		if o.Power != nil {
			p.pub(deviceID, fmt.Sprintf("/outlet/%d/power", n), *o.Power)
		}
		if o.Energy != nil {
			p.pub(deviceID, fmt.Sprintf("/outlet/%d/energy", n), *o.Energy)
			if totalEnergy == nil {
				e := 0.0
				totalEnergy = &e
			}
			*totalEnergy += *o.Energy
		}
	}

	outlets := make(map[string]domain.Outlet, len(snap.Outlets))
	for _, o := range snap.Outlets {
		outlets[fmt.Sprintf("%d", o.Number)] = o
	}

	banks := make(map[string]domain.Bank, len(snap.Banks))
	for _, b := range snap.Banks {
		n := b.Number
		p.pub(deviceID, fmt.Sprintf("/bank/%d/current", n), b.Current)
		p.pub(deviceID, fmt.Sprintf("/bank/%d/voltage", n), b.Voltage)
		p.pub(deviceID, fmt.Sprintf("/bank/%d/power", n), b.ActivePower)
		p.pub(deviceID, fmt.Sprintf("/bank/%d/apparent_power", n), b.ApparentPower)
		p.pub(deviceID, fmt.Sprintf("/bank/%d/power_factor", n), b.PowerFactor)
		p.pub(deviceID, fmt.Sprintf("/bank/%d/load_state", n), string(b.LoadState))
		if b.Energy != nil {
			p.pub(deviceID, fmt.Sprintf("/bank/%d/energy", n), *b.Energy)
		}
		totalAmps += b.Current
		totalWatts += b.ActivePower
		banks[fmt.Sprintf("%d", n)] = b
	}

	if snap.ATS != nil {
		p.publishATS(deviceID, snap.ATS)
	}

	if snap.Environment != nil {
		p.publishEnvironment(deviceID, snap.Environment)
	}

	p.pub(deviceID, "/total/load", totalAmps)
	p.pub(deviceID, "/total/power", totalWatts)
	if totalEnergy != nil {
		p.pub(deviceID, "/total/energy", *totalEnergy)
	}

	p.pub(deviceID, "/coldstart/delay", snap.ColdStartDelay)
	if snap.ColdStartState != "" {
		p.pub(deviceID, "/coldstart/state", snap.ColdStartState)
	}

	payload := statusPayload{
		Device:         deviceID,
		ATS:            snap.ATS,
		InputVoltage:   snap.InputVoltage,
		InputFrequency: snap.InputFrequency,
		Outlets:        outlets,
		Banks:          banks,
		Summary: statusSummary{
			TotalLoadAmps:  totalAmps,
			TotalPowerW:    totalWatts,
			TotalEnergyKWh: totalEnergy,
		},
		Identity:       snap.Identity,
		MQTTConnected:  p.client.IsConnected(),
		DataAgeSeconds: dataAge.Seconds(),
		Timestamp:      snap.Timestamp,
	}
	p.pub(deviceID, "/status", payload)
}

func (p *Publisher) publishATS(deviceID string, ats *domain.ATS) {
	p.pub(deviceID, "/ats/preferred_source", string(ats.PreferredSource))
	p.pub(deviceID, "/ats/current_source", string(ats.CurrentSource))
	p.pub(deviceID, "/ats/auto_transfer", onOff(ats.AutoTransfer))
	p.pub(deviceID, "/ats/redundancy", string(ats.Redundancy))
	if ats.VoltageSensitivity != "" {
		p.pub(deviceID, "/ats/voltage_sensitivity", ats.VoltageSensitivity)
	}
	if ats.TransferVoltage != 0 {
		p.pub(deviceID, "/ats/transfer_voltage", ats.TransferVoltage)
	}
	if ats.VoltageUpperLimit != 0 {
		p.pub(deviceID, "/ats/voltage_upper_limit", ats.VoltageUpperLimit)
	}
	if ats.VoltageLowerLimit != 0 {
		p.pub(deviceID, "/ats/voltage_lower_limit", ats.VoltageLowerLimit)
	}
	for src, reading := range ats.Sources {
		letter := "a"
		if src == domain.SourceB {
			letter = "b"
		}
		p.pub(deviceID, fmt.Sprintf("/source/%s/voltage", letter), reading.Voltage)
		p.pub(deviceID, fmt.Sprintf("/source/%s/frequency", letter), reading.Frequency)
		p.pub(deviceID, fmt.Sprintf("/source/%s/voltage_status", letter), string(reading.VoltageStatus))
	}
}

func (p *Publisher) publishEnvironment(deviceID string, env *domain.Environment) {
	if env.TemperatureC != nil {
		p.pub(deviceID, "/environment/temperature", *env.TemperatureC)
	}
	if env.HumidityPct != nil {
		p.pub(deviceID, "/environment/humidity", *env.HumidityPct)
	}
	for n, state := range env.Contacts {
		p.pub(deviceID, fmt.Sprintf("/environment/contact/%d", n), state)
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// devicePayload is the /device topic body, refreshed roughly every 30s.
type devicePayload struct {
	Identity       *domain.Identity `json:"identity"`
	PollIntervalMS int              `json:"poll_interval_ms"`
	Transport      string           `json:"transport"`
}

// PublishDevice emits the identity+settings summary.
func (p *Publisher) PublishDevice(deviceID string, identity *domain.Identity, pollIntervalMS int, transport string) {
	p.pub(deviceID, "/device", devicePayload{
		Identity:       identity,
		PollIntervalMS: pollIntervalMS,
		Transport:      transport,
	})
}

// PublishOutletName emits a single outlet's override, used when an
// HTTP rename request is applied without waiting for the next cycle.
func (p *Publisher) PublishOutletName(deviceID string, outlet int, name string) {
	p.pub(deviceID, fmt.Sprintf("/outlet/%d/name", outlet), name)
}

// PublishOutletState emits one outlet's state immediately after an
// applied command, ahead of the next full snapshot publish.
func (p *Publisher) PublishOutletState(deviceID string, outlet int, state domain.OutletState) {
	p.pub(deviceID, fmt.Sprintf("/outlet/%d/state", outlet), string(state))
}

// CommandResponse is the payload published to
// /outlet/{n}/command/response for every drained FIFO entry.
type CommandResponse struct {
	Success bool      `json:"success"`
	Command string    `json:"command"`
	Outlet  int       `json:"outlet"`
	Error   string    `json:"error,omitempty"`
	Ts      time.Time `json:"ts"`
}

// PublishCommandResponse emits the outcome of one drained command,
// regardless of whether it originated from MQTT, HTTP, or automation.
func (p *Publisher) PublishCommandResponse(deviceID string, resp CommandResponse) {
	topic := fmt.Sprintf("%s/%s/outlet/%d/command/response", p.prefix, deviceID, resp.Outlet)
	_ = p.client.Publish(topic, resp, false, 0)
}

// ruleStatus is one entry in the /automation/status array.
type ruleStatus struct {
	Name      string `json:"name"`
	Enabled   bool   `json:"enabled"`
	Triggered bool   `json:"triggered"`
	FireCount int    `json:"fire_count"`
}

// PublishAutomationStatus emits the full rule-state array. The poller
// calls it after an evaluation that produced automation events (fire,
// restore); creating, toggling or deleting a rule does not publish it.
func (p *Publisher) PublishAutomationStatus(deviceID string, rules domain.Ruleset) {
	statuses := make([]ruleStatus, 0, len(rules))
	for name, r := range rules {
		statuses = append(statuses, ruleStatus{
			Name: name, Enabled: r.Enabled, Triggered: r.Triggered, FireCount: r.FireCount,
		})
	}
	p.pub(deviceID, "/automation/status", statuses)
}

// PublishAutomationEvents emits every event from one engine Evaluate
// call to the unretained, QoS 1 automation event topic: a client that
// reconnects mid-delay must not silently miss a fire/restore.
func (p *Publisher) PublishAutomationEvents(deviceID string, events []domain.EventRecord) {
	topic := fmt.Sprintf("%s/%s/automation/event", p.prefix, deviceID)
	for _, ev := range events {
		_ = p.client.Publish(topic, ev, false, 1)
	}
}
