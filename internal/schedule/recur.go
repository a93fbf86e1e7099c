package schedule

import (
	"time"

	"github.com/robfig/cron/v3"

	"gorq/internal/domain"
)

// Validate rejects a malformed recurrence at write time, so a bad cron
// expression can never reach the firing loop.
func Validate(r domain.Recurrence) error {
	switch r.Kind {
	case domain.KindOnce, domain.KindHourly, domain.KindDaily, domain.KindWeekly,
		domain.KindMonthly, domain.KindQuarterly, domain.KindYearly:
		return nil
	case domain.KindMinutes:
		if r.Minutes <= 0 {
			return &domain.ValidationError{Field: "minutes", Reason: "must be positive for the minutes kind"}
		}
		return nil
	case domain.KindCron:
		return ValidateCron(r.Cron)
	default:
		return &domain.ValidationError{Field: "kind", Reason: "unknown schedule kind " + string(r.Kind)}
	}
}

// ValidateCron checks a standard 5-field cron expression.
func ValidateCron(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return &domain.ValidationError{Field: "cron", Reason: err.Error()}
	}
	return nil
}

// Next computes the run after a firing at prev. ok=false means the
// schedule has no next run (the once kind). Calendar kinds use calendar
// arithmetic: monthly from Jan 31 lands on the last day of February,
// never on March 2. Cron yields the first time strictly after now.
func Next(r domain.Recurrence, prev, now time.Time) (time.Time, bool, error) {
	switch r.Kind {
	case domain.KindOnce:
		return time.Time{}, false, nil
	case domain.KindMinutes:
		return prev.Add(time.Duration(r.Minutes) * time.Minute), true, nil
	case domain.KindHourly:
		return prev.Add(time.Hour), true, nil
	case domain.KindDaily:
		return prev.AddDate(0, 0, 1), true, nil
	case domain.KindWeekly:
		return prev.AddDate(0, 0, 7), true, nil
	case domain.KindMonthly:
		return addMonths(prev, 1), true, nil
	case domain.KindQuarterly:
		return addMonths(prev, 3), true, nil
	case domain.KindYearly:
		return addMonths(prev, 12), true, nil
	case domain.KindCron:
		sched, err := cron.ParseStandard(r.Cron)
		if err != nil {
			return time.Time{}, false, &domain.ValidationError{Field: "cron", Reason: err.Error()}
		}
		return sched.Next(now), true, nil
	default:
		return time.Time{}, false, &domain.ValidationError{Field: "kind", Reason: "unknown schedule kind " + string(r.Kind)}
	}
}

// addMonths advances by whole months, clamping the day of month instead
// of letting the stdlib normalize an overflow into the next month.
func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	first = first.AddDate(0, n, 0)
	if last := daysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
