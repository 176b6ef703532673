package automation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdu-bridge/internal/domain"
)

func TestTimeBetween_MidnightWrap(t *testing.T) {
	start, err := parseClock("22:00")
	require.NoError(t, err)
	end, err := parseClock("06:00")
	require.NoError(t, err)

	assert.True(t, timeBetween(minutesOfDay(at(23, 59)), start, end))
	assert.True(t, timeBetween(minutesOfDay(at(5, 59)), start, end))
	assert.False(t, timeBetween(minutesOfDay(at(12, 0)), start, end))
}

func at(h, m int) time.Time {
	return time.Date(2026, 7, 29, h, m, 0, 0, time.UTC)
}

func TestEvaluate_VoltageBelow_FallsBackToBank1(t *testing.T) {
	rule := &domain.Rule{Condition: domain.ConditionVoltageBelow, Threshold: "100", Input: domain.InputA}
	snap := domain.Snapshot{Banks: []domain.Bank{{Number: 1, Voltage: 95}}}
	ok, err := evaluate(rule, snap, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_ATSPreferredLost(t *testing.T) {
	rule := &domain.Rule{Condition: domain.ConditionATSPreferredLost}
	snap := domain.Snapshot{ATS: &domain.ATS{PreferredSource: domain.SourceA, CurrentSource: domain.SourceB}}
	ok, err := evaluate(rule, snap, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
}
