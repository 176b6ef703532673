package automation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"pdu-bridge/internal/bridgeerr"
	"pdu-bridge/internal/domain"
)

// evaluate dispatches on the rule's condition kind. The set is closed:
// adding a condition is a code change here, never a runtime string
// lookup.
func evaluate(rule *domain.Rule, snap domain.Snapshot, now time.Time) (bool, error) {
	switch rule.Condition {
	case domain.ConditionVoltageBelow:
		v, err := sourceVoltage(rule, snap)
		if err != nil {
			return false, err
		}
		threshold, err := parseFloatThreshold(rule.Threshold)
		if err != nil {
			return false, err
		}
		return v < threshold, nil

	case domain.ConditionVoltageAbove:
		v, err := sourceVoltage(rule, snap)
		if err != nil {
			return false, err
		}
		threshold, err := parseFloatThreshold(rule.Threshold)
		if err != nil {
			return false, err
		}
		return v > threshold, nil

	case domain.ConditionATSSourceIs:
		if snap.ATS == nil {
			return false, nil
		}
		return string(snap.ATS.CurrentSource) == strings.ToUpper(rule.Threshold), nil

	case domain.ConditionATSPreferredLost:
		if snap.ATS == nil {
			return false, nil
		}
		return snap.ATS.CurrentSource != snap.ATS.PreferredSource, nil

	case domain.ConditionTimeAfter:
		hhmm, err := parseClock(rule.Threshold)
		if err != nil {
			return false, err
		}
		return minutesOfDay(now) >= hhmm, nil

	case domain.ConditionTimeBefore:
		hhmm, err := parseClock(rule.Threshold)
		if err != nil {
			return false, err
		}
		return minutesOfDay(now) < hhmm, nil

	case domain.ConditionTimeBetween:
		startStr, endStr, ok := strings.Cut(rule.Threshold, "-")
		if !ok {
			return false, bridgeerr.New(bridgeerr.KindRuleInvalid, fmt.Sprintf("invalid time_between threshold %q", rule.Threshold))
		}
		start, err := parseClock(startStr)
		if err != nil {
			return false, err
		}
		end, err := parseClock(endStr)
		if err != nil {
			return false, err
		}
		return timeBetween(minutesOfDay(now), start, end), nil

	default:
		return false, bridgeerr.New(bridgeerr.KindRuleInvalid, fmt.Sprintf("unknown condition %q", rule.Condition))
	}
}

// sourceVoltage reads the ATS source voltage for the rule's input
// (1=A, 2=B); non-ATS PDUs fall back to bank 1 voltage.
func sourceVoltage(rule *domain.Rule, snap domain.Snapshot) (float64, error) {
	if snap.ATS != nil {
		var src domain.ATSSource
		switch rule.Input {
		case domain.InputA:
			src = domain.SourceA
		case domain.InputB:
			src = domain.SourceB
		default:
			src = domain.SourceA
		}
		reading, ok := snap.ATS.Sources[src]
		if ok {
			return reading.Voltage, nil
		}
	}
	if b, ok := snap.Bank(1); ok {
		return b.Voltage, nil
	}
	return 0, bridgeerr.New(bridgeerr.KindRuleInvalid, "no voltage source available for rule")
}

func parseFloatThreshold(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, bridgeerr.Wrap(bridgeerr.KindRuleInvalid, fmt.Sprintf("invalid numeric threshold %q", s), err)
	}
	return f, nil
}

// parseClock parses "hh:mm" into minutes since midnight.
func parseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, bridgeerr.New(bridgeerr.KindRuleInvalid, fmt.Sprintf("invalid time %q", s))
	}
	h, err1 := strconv.Atoi(hh)
	m, err2 := strconv.Atoi(mm)
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, bridgeerr.New(bridgeerr.KindRuleInvalid, fmt.Sprintf("invalid time %q", s))
	}
	return h*60 + m, nil
}

func minutesOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// timeBetween handles midnight wrap: inclusive of start, exclusive of end.
func timeBetween(now, start, end int) bool {
	if start <= end {
		return now >= start && now < end
	}
	return now >= start || now < end
}
