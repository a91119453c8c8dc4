package partition

import (
	"time"

	"raptorc/internal/domain"
)

// Profile is the effective operating pattern of one service id.
type Profile struct {
	Mask         domain.WeekMask
	Density      float64
	HasAdditions bool
	NeverRuns    bool
}

// ProfileOf computes the effective weekly mask of a calendar. Without
// exceptions the calendar days are used as is. With exceptions every date of
// the window is resolved, exceptions overriding the calendar, and a weekday
// counts as active when at least half of its dates in the window run. The
// window is the calendar range when there is one, otherwise the span of the
// exception dates. Additions outside the range only count through the
// fallback to the added weekdays.
func ProfileOf(cal *domain.ServiceCalendar) Profile {
	if cal == nil {
		return Profile{NeverRuns: true}
	}

	if len(cal.Exceptions) == 0 {
		return Profile{Mask: cal.Days & domain.AllDays, NeverRuns: cal.Days&domain.AllDays == 0}
	}

	overrides := make(map[time.Time]domain.ExceptionType, len(cal.Exceptions))
	var added domain.WeekMask
	start, end := time.Time{}, time.Time{}
	for _, ex := range cal.Exceptions {
		d := dateOnly(ex.Date)
		overrides[d] = ex.Type
		if ex.Type == domain.ExceptionAdded {
			added |= domain.DayBit(d.Weekday())
		}
		start, end = widen(start, end, d)
	}

	if cal.HasRange() {
		start, end = dateOnly(cal.StartDate), dateOnly(cal.EndDate)
	}

	var total, active [7]int
	days := 0
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days++
		wd := (int(d.Weekday()) + 6) % 7

		total[wd]++
		switch overrides[d] {
		case domain.ExceptionAdded:
			active[wd]++
		case domain.ExceptionRemoved:
		default:
			if cal.Days.Has(d.Weekday()) {
				active[wd]++
			}
		}
	}

	var mask domain.WeekMask
	for i := 0; i < 7; i++ {
		if active[i] > 0 && 2*active[i] >= total[i] {
			mask |= 1 << i
		}
	}

	p := Profile{
		Mask:         mask,
		Density:      float64(len(cal.Exceptions)) / float64(max(days, 1)),
		HasAdditions: added != 0,
	}
	if p.Mask == 0 {
		if p.HasAdditions {
			p.Mask = added
		} else {
			p.NeverRuns = true
		}
	}
	return p
}

func dateOnly(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func widen(start, end, d time.Time) (time.Time, time.Time) {
	if start.IsZero() || d.Before(start) {
		start = d
	}
	if end.IsZero() || d.After(end) {
		end = d
	}
	return start, end
}
