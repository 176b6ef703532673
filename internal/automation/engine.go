// Package automation evaluates a device's rule set against each fresh
// snapshot and emits outlet-command intents plus event records. State
// lives with the rule, not with the engine, so a poller can persist
// and reload rules without losing delay/restore progress.
package automation

import (
	"time"

	"github.com/google/uuid"

	"pdu-bridge/internal/domain"
	"pdu-bridge/internal/logging"
)

// Intent is one outlet action the engine wants applied, plus the rule
// that produced it (for command-path logging and response routing).
type Intent struct {
	RuleName string
	Outlet   int
	Action   domain.RuleAction
}

// Result is everything one Evaluate call produced.
type Result struct {
	Intents []Intent
	Events  []domain.EventRecord
}

// Engine holds no per-device state itself; it is handed the device's
// rule set and snapshot on every cycle by the poller that owns them.
type Engine struct {
	log logging.Logger
}

// New builds an Engine. One instance is reused across devices since it
// is stateless; callers pass the device-scoped ruleset each call.
func New(log logging.Logger) *Engine {
	return &Engine{log: log.With("component", "automation")}
}

// Evaluate runs every enabled, day-admitted rule in rules against snap
// at time now, mutating each rule's runtime state in place per the
// delay/restore/oneshot semantics, and returns the intents and events
// produced this cycle.
func (e *Engine) Evaluate(deviceID string, rules domain.Ruleset, snap domain.Snapshot, now time.Time) Result {
	var res Result

	for name, rule := range rules {
		if !rule.Enabled {
			continue
		}
		weekday := (int(now.Weekday()) + 6) % 7 // Monday=0
		if !rule.AdmitsDay(weekday) {
			continue
		}

		ok, err := evaluate(rule, snap, now)
		if err != nil {
			rule.Enabled = false
			e.log.Warn().Str("device_id", deviceID).Str("rule", name).Err(err).Msg("disabling rule: evaluation error")
			res.Events = append(res.Events, domain.EventRecord{
				ID: uuid.NewString(), DeviceID: deviceID, RuleName: name, Type: domain.EventRuleUpdated,
				Details: "disabled: " + err.Error(), Timestamp: now,
			})
			continue
		}

		if ok {
			if rule.ConditionSince == nil {
				t := now
				rule.ConditionSince = &t
			}
			elapsed := now.Sub(*rule.ConditionSince)
			if !rule.Triggered && elapsed >= time.Duration(rule.DelaySeconds)*time.Second {
				e.fire(deviceID, rule, &res, now)
			}
		} else {
			rule.ConditionSince = nil
			if rule.Triggered && rule.Restore {
				e.restore(deviceID, rule, &res, now)
			}
		}
	}

	return res
}

func (e *Engine) fire(deviceID string, rule *domain.Rule, res *Result, now time.Time) {
	outlets, err := ParseOutletSpec(rule.Outlet)
	if err != nil {
		rule.Enabled = false
		e.log.Warn().Str("device_id", deviceID).Str("rule", rule.Name).Err(err).Msg("disabling rule: bad outlet spec")
		return
	}

	for _, o := range outlets {
		res.Intents = append(res.Intents, Intent{RuleName: rule.Name, Outlet: o, Action: rule.Action})
	}

	rule.Triggered = true
	t := now
	rule.FiredAt = &t
	rule.FireCount++
	if rule.ScheduleType == domain.ScheduleOneshot {
		rule.Enabled = false
	}

	res.Events = append(res.Events, domain.EventRecord{
		ID: uuid.NewString(), DeviceID: deviceID, RuleName: rule.Name, Type: domain.EventTriggered,
		Details: rule.Outlet + " -> " + string(rule.Action), Timestamp: now,
	})
}

func (e *Engine) restore(deviceID string, rule *domain.Rule, res *Result, now time.Time) {
	outlets, err := ParseOutletSpec(rule.Outlet)
	if err != nil {
		return
	}
	inverse := domain.RuleActionOn
	if rule.Action == domain.RuleActionOn {
		inverse = domain.RuleActionOff
	}
	for _, o := range outlets {
		res.Intents = append(res.Intents, Intent{RuleName: rule.Name, Outlet: o, Action: inverse})
	}
	rule.Triggered = false

	res.Events = append(res.Events, domain.EventRecord{
		ID: uuid.NewString(), DeviceID: deviceID, RuleName: rule.Name, Type: domain.EventRestored,
		Details: rule.Outlet + " -> " + string(inverse), Timestamp: now,
	})
}
