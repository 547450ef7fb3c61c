package sla

import (
	"fmt"
	"time"

	"github.com/slaguard/slaguard/internal/database"
)

// Deadlines are the computed acknowledgment and resolution deadlines for a
// tracked item under a resolved policy.
type Deadlines struct {
	AckDeadline        time.Time
	ResolutionDeadline time.Time
}

// PolicyCalendar builds the business calendar for a policy, inheriting the
// weekday set from the supplied defaults.
func PolicyCalendar(p *database.SLAPolicy, defaults Calendar) (Calendar, error) {
	cal, err := NewCalendar(p.Timezone, p.WorkdayStart, p.WorkdayEnd, nil)
	if err != nil {
		return Calendar{}, fmt.Errorf("policy %q: %w", p.Name, err)
	}
	cal.Weekdays = defaults.Weekdays
	return cal, nil
}

// ComputeDeadlines computes both target deadlines for an item started at
// start under the given policy. In non-business-hours mode the deadline is
// simply start plus the target; in business-hours mode target minutes are
// consumed only inside the policy's window.
func ComputeDeadlines(start time.Time, p *database.SLAPolicy, defaults Calendar) (Deadlines, error) {
	if !p.BusinessHoursOnly {
		return Deadlines{
			AckDeadline:        start.Add(time.Duration(p.AckTargetMinutes) * time.Minute),
			ResolutionDeadline: start.Add(time.Duration(p.ResolutionTargetMinutes) * time.Minute),
		}, nil
	}

	cal, err := PolicyCalendar(p, defaults)
	if err != nil {
		return Deadlines{}, err
	}

	return Deadlines{
		AckDeadline:        cal.AddBusinessMinutes(start, p.AckTargetMinutes),
		ResolutionDeadline: cal.AddBusinessMinutes(start, p.ResolutionTargetMinutes),
	}, nil
}

// ElapsedPct returns the percentage of the target consumed between start
// and now. Business-hours policies measure elapsed business minutes so the
// percentage stays consistent with the computed deadline.
func ElapsedPct(now, start time.Time, targetMinutes int, p *database.SLAPolicy, defaults Calendar) (float64, error) {
	if targetMinutes <= 0 {
		return 100, nil
	}

	var elapsed float64
	if p.BusinessHoursOnly {
		cal, err := PolicyCalendar(p, defaults)
		if err != nil {
			return 0, err
		}
		elapsed = cal.BusinessMinutesBetween(start, now)
	} else {
		elapsed = now.Sub(start).Minutes()
	}

	return elapsed / float64(targetMinutes) * 100, nil
}

// Classify maps an elapsed percentage against a policy's warning threshold:
// below the threshold the item is on_track, between threshold and 100 it is
// at_risk, at or past 100 it is breached.
func Classify(elapsedPct float64, warningThresholdPct int) database.SLAState {
	switch {
	case elapsedPct >= 100:
		return database.SLAStateBreached
	case elapsedPct >= float64(warningThresholdPct):
		return database.SLAStateAtRisk
	default:
		return database.SLAStateOnTrack
	}
}
