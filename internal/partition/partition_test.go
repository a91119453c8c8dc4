package partition

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raptorc/internal/domain"
	"raptorc/internal/issues"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func calendar(id string, days domain.WeekMask) domain.ServiceCalendar {
	return domain.ServiceCalendar{
		ServiceID: id,
		Days:      days,
		StartDate: date(2025, time.January, 6),
		EndDate:   date(2025, time.June, 29),
	}
}

func TestCanonicalPatterns(t *testing.T) {
	tests := []struct {
		name string
		days domain.WeekMask
		want string
	}{
		{"monday to friday", domain.Weekdays, Weekday},
		{"saturday only", domain.Saturday, Saturday},
		{"sunday only", domain.Sunday, Sunday},
		{"weekend", domain.Weekend, Weekend},
		{"all seven days", domain.AllDays, Daily},
		{"weekdays plus saturday", domain.Weekdays | domain.Saturday, "custom_1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := &domain.Model{Calendars: []domain.ServiceCalendar{calendar("S", tt.days)}}
			res, err := Partition(model, Options{}, issues.NewReport())
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Assignments["S"])
		})
	}
}

func TestCustomBucketsByIdenticalMask(t *testing.T) {
	model := &domain.Model{Calendars: []domain.ServiceCalendar{
		calendar("A", domain.Monday|domain.Wednesday),
		calendar("B", domain.Weekdays),
		calendar("C", domain.Monday|domain.Wednesday),
		calendar("D", domain.Tuesday|domain.Thursday),
	}}

	res, err := Partition(model, Options{Mode: ModeDefault}, nil)
	require.NoError(t, err)

	assert.Equal(t, "custom_1", res.Assignments["A"])
	assert.Equal(t, "custom_1", res.Assignments["C"])
	assert.Equal(t, "custom_2", res.Assignments["D"])
	assert.Equal(t, Weekday, res.Assignments["B"])

	names := make([]string, 0, len(res.Cohorts))
	for _, c := range res.Cohorts {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{Weekday, "custom_1", "custom_2"}, names)
	assert.Equal(t, []string{"A", "C"}, res.Cohorts[1].ServiceIDs)
}

func TestNeverRunningServiceIsWarnedAndKept(t *testing.T) {
	model := &domain.Model{
		Calendars: []domain.ServiceCalendar{calendar("Z", 0)},
		Trips:     []domain.Trip{{ID: 1, ServiceID: "Z"}, {ID: 2, ServiceID: "ORPHAN"}},
	}
	report := issues.NewReport()

	res, err := Partition(model, Options{}, report)
	require.NoError(t, err)

	assert.Equal(t, NeverRuns, res.Assignments["Z"])
	assert.Equal(t, NeverRuns, res.Assignments["ORPHAN"])
	assert.Equal(t, map[string]int{"service_never_runs": 2}, report.WarningCounts())
}

func TestExceptionsGovernWindow(t *testing.T) {
	t.Run("single removed holiday keeps weekday", func(t *testing.T) {
		cal := calendar("W", domain.Weekdays)
		cal.Exceptions = []domain.CalendarException{{Date: date(2025, time.April, 21), Type: domain.ExceptionRemoved}}
		p := ProfileOf(&cal)
		assert.Equal(t, domain.Weekdays, p.Mask)
		assert.False(t, p.NeverRuns)
	})

	t.Run("exception only service on saturdays", func(t *testing.T) {
		cal := domain.ServiceCalendar{ServiceID: "X"}
		for d := date(2025, time.March, 1); d.Month() == time.March; d = d.AddDate(0, 0, 7) {
			cal.Exceptions = append(cal.Exceptions, domain.CalendarException{Date: d, Type: domain.ExceptionAdded})
		}
		p := ProfileOf(&cal)
		assert.Equal(t, domain.Saturday, p.Mask)
		assert.True(t, p.HasAdditions)
	})

	t.Run("sparse additions fall back to their weekdays", func(t *testing.T) {
		cal := calendar("Y", 0)
		cal.Exceptions = []domain.CalendarException{{Date: date(2025, time.May, 1), Type: domain.ExceptionAdded}}
		p := ProfileOf(&cal)
		assert.Equal(t, domain.Thursday, p.Mask)
		assert.False(t, p.NeverRuns)
	})

	t.Run("addition outside the range keeps weekly shape", func(t *testing.T) {
		cal := domain.ServiceCalendar{ServiceID: "S", Days: domain.Weekdays,
			StartDate: date(2025, time.January, 6), EndDate: date(2025, time.January, 31)}
		cal.Exceptions = []domain.CalendarException{{Date: date(2025, time.April, 12), Type: domain.ExceptionAdded}}
		p := ProfileOf(&cal)
		assert.Equal(t, domain.Weekdays, p.Mask)
		assert.True(t, p.HasAdditions)

		model := &domain.Model{Calendars: []domain.ServiceCalendar{cal}}
		res, err := Partition(model, Options{}, issues.NewReport())
		require.NoError(t, err)
		assert.Equal(t, Weekday, res.Assignments["S"])
	})

	t.Run("all dates removed", func(t *testing.T) {
		cal := domain.ServiceCalendar{ServiceID: "R", Days: domain.Saturday,
			StartDate: date(2025, time.March, 1), EndDate: date(2025, time.March, 1)}
		cal.Exceptions = []domain.CalendarException{{Date: date(2025, time.March, 1), Type: domain.ExceptionRemoved}}
		p := ProfileOf(&cal)
		assert.True(t, p.NeverRuns)
	})
}

func TestFixed4(t *testing.T) {
	irregular := domain.ServiceCalendar{ServiceID: "HOLIDAY"}
	for d := date(2025, time.July, 7); d.Before(date(2025, time.July, 19)); d = d.AddDate(0, 0, 1) {
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			irregular.Exceptions = append(irregular.Exceptions, domain.CalendarException{Date: d, Type: domain.ExceptionAdded})
		}
	}

	model := &domain.Model{Calendars: []domain.ServiceCalendar{
		calendar("SCHOOL", domain.Weekdays),
		irregular,
		calendar("SAT", domain.Saturday),
		calendar("SUN", domain.Sunday),
		calendar("MON_TUE", domain.Monday|domain.Tuesday|domain.Wednesday|domain.Thursday),
		calendar("WEEKEND", domain.Weekend),
		calendar("NEVER", 0),
	}}

	res, err := Partition(model, Options{Mode: ModeFixed4, DensityThreshold: DefaultDensityThreshold}, issues.NewReport())
	require.NoError(t, err)

	assert.Equal(t, WeekdayRegular, res.Assignments["SCHOOL"])
	assert.Equal(t, WeekdayIrregular, res.Assignments["HOLIDAY"])
	assert.Equal(t, Saturday, res.Assignments["SAT"])
	assert.Equal(t, Sunday, res.Assignments["SUN"])
	assert.Equal(t, WeekdayRegular, res.Assignments["MON_TUE"])
	assert.Equal(t, Saturday, res.Assignments["WEEKEND"])
	assert.Equal(t, Saturday, res.Assignments["NEVER"])
	assert.Greater(t, res.Profiles["HOLIDAY"].Density, DefaultDensityThreshold)
	assert.Zero(t, res.Profiles["SCHOOL"].Density)

	assert.LessOrEqual(t, len(res.Cohorts), 4)
	for _, c := range res.Cohorts {
		assert.NotContains(t, c.Name, CustomPrefix)
	}
}

func TestUnknownMode(t *testing.T) {
	_, err := Partition(&domain.Model{}, Options{Mode: "lyon"}, nil)
	assert.Error(t, err)
}

func TestSingle(t *testing.T) {
	model := &domain.Model{Calendars: []domain.ServiceCalendar{calendar("A", domain.Weekdays), calendar("B", domain.Sunday)}}
	res := Single(model)
	require.Len(t, res.Cohorts, 1)
	assert.Equal(t, domain.DefaultCohort, res.Cohorts[0].Name)
	assert.Equal(t, []string{"A", "B"}, res.Cohorts[0].ServiceIDs)
}

func TestPartitionIsTotalAndDisjoint(t *testing.T) {
	rng := rand.New(rand.NewSource(3))

	for _, mode := range []Mode{ModeDefault, ModeFixed4} {
		model := &domain.Model{}
		for i := 0; i < 60; i++ {
			cal := calendar(fmt.Sprintf("S%02d", i), domain.WeekMask(rng.Intn(128)))
			if rng.Intn(3) == 0 {
				cal.Exceptions = append(cal.Exceptions, domain.CalendarException{
					Date: date(2025, time.February, 1+rng.Intn(27)),
					Type: domain.ExceptionType(1 + rng.Intn(2)),
				})
			}
			model.Calendars = append(model.Calendars, cal)
			for j := 0; j < 3; j++ {
				model.Trips = append(model.Trips, domain.Trip{ID: uint32(i*3 + j), ServiceID: cal.ServiceID})
			}
		}

		res, err := Partition(model, Options{Mode: mode, DensityThreshold: 0.1}, issues.NewReport())
		require.NoError(t, err)

		seen := make(map[string]int)
		for _, c := range res.Cohorts {
			for _, sid := range c.ServiceIDs {
				seen[sid]++
			}
		}
		for _, sid := range model.ServiceIDs() {
			assert.Equal(t, 1, seen[sid], "mode %s service %s", mode, sid)
		}
		assert.Len(t, seen, len(model.ServiceIDs()))

		trips := 0
		for _, c := range res.Cohorts {
			for _, trip := range model.Trips {
				if c.Contains(trip.ServiceID) {
					trips++
				}
			}
		}
		assert.Equal(t, len(model.Trips), trips)
	}
}
