// Package schedule computes recurrence fire times and runs due schedules.
package schedule

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/laneiq/freightlens/internal/domain"
	"github.com/laneiq/freightlens/internal/timeperiod"
)

// ComputeNext returns the fire time after from for the given recurrence.
// Fixed kinds step from the previous fire time, so a late run does not
// drift the cadence anchor; CRON evaluates the standard 5-field spec.
func ComputeNext(kind domain.ScheduleKind, spec string, from time.Time) (time.Time, error) {
	from = from.UTC()
	switch kind {
	case domain.ScheduleDaily:
		return from.Add(24 * time.Hour), nil
	case domain.ScheduleWeekly:
		return from.Add(7 * 24 * time.Hour), nil
	case domain.ScheduleMonthly:
		return timeperiod.AddMonthsClamped(from, 1), nil
	case domain.ScheduleCron:
		sched, err := cron.ParseStandard(spec)
		if err != nil {
			return time.Time{}, domain.Wrap(domain.KindInvalidScheduleSpec,
				"parse cron spec", err)
		}
		return sched.Next(from), nil
	default:
		return time.Time{}, domain.Ef(domain.KindInvalidScheduleSpec,
			"unknown schedule kind %q", kind)
	}
}

// ValidateSpec checks a recurrence without arming it. Only CRON carries a
// spec; fixed kinds must leave it empty.
func ValidateSpec(kind domain.ScheduleKind, spec string) error {
	switch kind {
	case domain.ScheduleDaily, domain.ScheduleWeekly, domain.ScheduleMonthly:
		if spec != "" {
			return domain.Ef(domain.KindInvalidScheduleSpec,
				"%s schedules do not take a spec", kind)
		}
		return nil
	case domain.ScheduleCron:
		if _, err := cron.ParseStandard(spec); err != nil {
			return domain.Wrap(domain.KindInvalidScheduleSpec, "parse cron spec", err)
		}
		return nil
	default:
		return domain.Ef(domain.KindInvalidScheduleSpec, "unknown schedule kind %q", kind)
	}
}
