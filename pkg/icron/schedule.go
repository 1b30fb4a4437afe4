package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// maxLookback bounds the search for the previous trigger.
const maxLookback = 5 * 366 * 24 * time.Hour

type TriggerInfo struct {
	Next       time.Time
	Last       time.Time
	Expression string

	TimeSinceLast time.Duration
	TimeUntilNext time.Duration
}

// Parse accepts the standard five-field format and descriptors such as
// "@hourly", the same syntax cron.New() schedules.
func Parse(cronExpr string) (cron.Schedule, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// GetTriggerInfo reports the triggers around refTime. Last is zero when the
// expression has not fired within the lookback window.
func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := Parse(cronExpr)
	if err != nil {
		return nil, err
	}

	nextTime := schedule.Next(refTime)
	prevTime := lastBefore(schedule, refTime)

	info := &TriggerInfo{
		Expression:    cronExpr,
		Next:          nextTime,
		Last:          prevTime,
		TimeUntilNext: nextTime.Sub(refTime),
	}
	if !prevTime.IsZero() {
		info.TimeSinceLast = refTime.Sub(prevTime)
	}
	return info, nil
}

// lastBefore widens the window backwards until a trigger falls inside it,
// then walks forward to the latest trigger not after refTime.
func lastBefore(schedule cron.Schedule, refTime time.Time) time.Time {
	for window := time.Hour; window <= maxLookback; window *= 2 {
		candidate := schedule.Next(refTime.Add(-window))
		if candidate.IsZero() || candidate.After(refTime) {
			continue
		}
		for {
			next := schedule.Next(candidate)
			if next.IsZero() || next.After(refTime) {
				return candidate
			}
			candidate = next
		}
	}
	return time.Time{}
}
