package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/edgecore/engined/internal/store"
)

// cronParser accepts both standard 5-field and seconds-prefixed 6-field
// expressions, plus descriptors such as @daily.
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// nextRun computes the job's next fire time after `after`, per its
// schedule kind. For a `once` job it returns the stored run_at with ok
// false, signaling the caller to disable the job rather than
// reschedule it.
//
// time.Date resolves DST gaps/overlaps on its own: a wall-clock
// instant that does not exist (spring-forward) or occurs twice
// (fall-back) is normalized to a real, consistent instant in the
// given location rather than rejected, which satisfies the
// roll-forward requirement without extra bookkeeping here.
func nextRun(j *store.ScheduledJob, after time.Time) (t time.Time, ok bool, err error) {
	loc, err := time.LoadLocation(j.Timezone)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("scheduler: load location %q: %w", j.Timezone, err)
	}

	switch j.Kind {
	case store.ScheduleOnce:
		if j.RunAt == nil {
			return time.Time{}, false, fmt.Errorf("scheduler: once job %s missing run_at", j.ID)
		}
		return *j.RunAt, false, nil

	case store.ScheduleDaily:
		hh, mm, err := parseTimeOfDay(j.TimeOfDay)
		if err != nil {
			return time.Time{}, false, err
		}
		local := after.In(loc)
		candidate := time.Date(local.Year(), local.Month(), local.Day(), hh, mm, 0, 0, loc)
		if !candidate.After(after) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		return candidate, true, nil

	case store.ScheduleWeekly:
		if j.Weekday == nil {
			return time.Time{}, false, fmt.Errorf("scheduler: weekly job %s missing weekday", j.ID)
		}
		hh, mm, err := parseTimeOfDay(j.TimeOfDay)
		if err != nil {
			return time.Time{}, false, err
		}
		local := after.In(loc)
		candidate := time.Date(local.Year(), local.Month(), local.Day(), hh, mm, 0, 0, loc)
		for candidate.Weekday() != *j.Weekday || !candidate.After(after) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		return candidate, true, nil

	case store.ScheduleInterval:
		if j.EveryMinutes <= 0 {
			return time.Time{}, false, fmt.Errorf("scheduler: interval job %s has non-positive every_minutes", j.ID)
		}
		step := time.Duration(j.EveryMinutes) * time.Minute
		base := after
		if j.LastRunAt != nil && j.LastRunAt.After(base.Add(-step)) {
			base = *j.LastRunAt
		}
		candidate := base.Add(step)
		for !candidate.After(after) {
			candidate = candidate.Add(step)
		}
		return candidate, true, nil

	case store.ScheduleCron:
		sched, err := cronParser.Parse(j.CronExpr)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("scheduler: parse cron %q: %w", j.CronExpr, err)
		}
		return sched.Next(after.In(loc)), true, nil

	default:
		return time.Time{}, false, fmt.Errorf("scheduler: unknown schedule kind %q", j.Kind)
	}
}

func parseTimeOfDay(s string) (hour, minute int, err error) {
	if s == "" {
		return 0, 0, fmt.Errorf("scheduler: missing time_of_day")
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("scheduler: parse time_of_day %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}
