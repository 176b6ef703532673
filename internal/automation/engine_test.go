package automation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdu-bridge/internal/domain"
	"pdu-bridge/internal/logging"
)

func voltageSnapshot(v float64) domain.Snapshot {
	return domain.Snapshot{Banks: []domain.Bank{{Number: 1, Voltage: v}}}
}

func TestEngine_DelayedTriggerThenRestore(t *testing.T) {
	e := New(logging.Default())
	rule := &domain.Rule{
		Name: "low", Condition: domain.ConditionVoltageBelow, Threshold: "100",
		Outlet: "5", Action: domain.RuleActionOff, Restore: true, DelaySeconds: 5,
		Enabled: true, ScheduleType: domain.ScheduleContinuous,
	}
	rules := domain.Ruleset{"low": rule}

	t0 := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)

	res := e.Evaluate("pdu1", rules, voltageSnapshot(95), t0)
	assert.Empty(t, res.Intents, "must not fire before delay elapses")
	require.NotNil(t, rule.ConditionSince)

	res = e.Evaluate("pdu1", rules, voltageSnapshot(95), t0.Add(5*time.Second))
	require.Len(t, res.Intents, 1)
	assert.Equal(t, Intent{RuleName: "low", Outlet: 5, Action: domain.RuleActionOff}, res.Intents[0])
	assert.True(t, rule.Triggered)

	res = e.Evaluate("pdu1", rules, voltageSnapshot(120), t0.Add(6*time.Second))
	require.Len(t, res.Intents, 1)
	assert.Equal(t, domain.RuleActionOn, res.Intents[0].Action)
	assert.False(t, rule.Triggered)
}

func TestEngine_DelayResetsOnFalseSample(t *testing.T) {
	e := New(logging.Default())
	rule := &domain.Rule{
		Name: "low", Condition: domain.ConditionVoltageBelow, Threshold: "100",
		Outlet: "1", Action: domain.RuleActionOff, DelaySeconds: 5, Enabled: true,
	}
	rules := domain.Ruleset{"low": rule}
	t0 := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)

	e.Evaluate("pdu1", rules, voltageSnapshot(95), t0)
	e.Evaluate("pdu1", rules, voltageSnapshot(120), t0.Add(2*time.Second)) // condition false, resets timer
	res := e.Evaluate("pdu1", rules, voltageSnapshot(95), t0.Add(6*time.Second))
	assert.Empty(t, res.Intents, "timer must have reset on the false sample")
}

func TestEngine_OneshotDisablesAfterFire(t *testing.T) {
	e := New(logging.Default())
	rule := &domain.Rule{
		Name: "once", Condition: domain.ConditionVoltageBelow, Threshold: "100",
		Outlet: "1", Action: domain.RuleActionOff, DelaySeconds: 0, Enabled: true,
		ScheduleType: domain.ScheduleOneshot,
	}
	rules := domain.Ruleset{"once": rule}
	t0 := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)

	res := e.Evaluate("pdu1", rules, voltageSnapshot(95), t0)
	require.Len(t, res.Intents, 1)
	assert.False(t, rule.Enabled)
}
