// Package partition splits service ids into disjoint, named cohorts by their
// weekly operating pattern.
package partition

import (
	"cmp"
	"fmt"
	"math/bits"
	"slices"
	"strconv"
	"strings"

	"raptorc/internal/domain"
	"raptorc/internal/issues"
)

type Mode string

const (
	ModeDefault Mode = "default"
	ModeFixed4  Mode = "fixed-4"
)

const (
	Weekday          = "weekday"
	WeekdayRegular   = "weekday_regular"
	WeekdayIrregular = "weekday_irregular"
	Saturday         = "saturday"
	Sunday           = "sunday"
	Weekend          = "weekend"
	Daily            = "daily"
	CustomPrefix     = "custom_"
	NeverRuns        = CustomPrefix + "0"
)

// DefaultDensityThreshold separates regular from irregular weekday services
// in fixed-4 mode (exceptions per day of the service window).
const DefaultDensityThreshold = 0.25

type pattern struct {
	name string
	mask domain.WeekMask
}

// Checked in order; the first exact match wins.
var canonical = []pattern{
	{Weekday, domain.Weekdays},
	{Saturday, domain.Saturday},
	{Sunday, domain.Sunday},
	{Weekend, domain.Weekend},
	{Daily, domain.AllDays},
}

// Hamming targets of fixed-4 mode, ties resolved in this order.
var fixed4 = []pattern{
	{Weekday, domain.Weekdays},
	{Saturday, domain.Saturday},
	{Sunday, domain.Sunday},
}

var cohortOrder = map[string]int{
	Weekday:          0,
	WeekdayRegular:   1,
	WeekdayIrregular: 2,
	Saturday:         3,
	Sunday:           4,
	Weekend:          5,
	Daily:            6,
}

type Options struct {
	Mode             Mode
	DensityThreshold float64
}

// Result maps every service id to exactly one cohort.
type Result struct {
	Cohorts     []domain.Cohort
	Assignments map[string]string
	Profiles    map[string]Profile
}

// Partition assigns every service id of the model to a cohort. Services that
// never run are reported on report as warnings.
func Partition(model *domain.Model, opts Options, report *issues.Report) (*Result, error) {
	if opts.Mode == "" {
		opts.Mode = ModeDefault
	}
	if opts.Mode != ModeDefault && opts.Mode != ModeFixed4 {
		return nil, fmt.Errorf("unknown partition mode %q", opts.Mode)
	}

	calendars := model.CalendarIndex()
	res := &Result{
		Assignments: make(map[string]string),
		Profiles:    make(map[string]Profile),
	}
	members := make(map[string][]string)
	var names []string
	customs := make(map[domain.WeekMask]string)

	assign := func(serviceID, cohort string) {
		if _, ok := members[cohort]; !ok {
			names = append(names, cohort)
		}
		members[cohort] = append(members[cohort], serviceID)
		res.Assignments[serviceID] = cohort
	}

	for _, sid := range model.ServiceIDs() {
		var cal *domain.ServiceCalendar
		if i, ok := calendars[sid]; ok {
			cal = &model.Calendars[i]
		}
		p := ProfileOf(cal)
		res.Profiles[sid] = p

		if p.NeverRuns {
			if report != nil {
				report.Warn(issues.ServiceNeverRuns, issues.Service(sid), "effective pattern is empty")
			}
			if opts.Mode == ModeDefault {
				assign(sid, NeverRuns)
				continue
			}
		}

		if opts.Mode == ModeFixed4 {
			assign(sid, nearestFixed4(p, opts.DensityThreshold))
			continue
		}

		if name, ok := matchCanonical(p.Mask); ok {
			assign(sid, name)
			continue
		}

		name, ok := customs[p.Mask]
		if !ok {
			name = CustomPrefix + strconv.Itoa(len(customs)+1)
			customs[p.Mask] = name
		}
		assign(sid, name)
	}

	sortCohortNames(names)
	for _, name := range names {
		res.Cohorts = append(res.Cohorts, domain.Cohort{Name: name, ServiceIDs: members[name]})
	}
	return res, nil
}

// Single puts every service id into the one implicit default cohort.
func Single(model *domain.Model) *Result {
	ids := model.ServiceIDs()
	res := &Result{
		Cohorts:     []domain.Cohort{{Name: domain.DefaultCohort, ServiceIDs: ids}},
		Assignments: make(map[string]string, len(ids)),
	}
	for _, id := range ids {
		res.Assignments[id] = domain.DefaultCohort
	}
	return res
}

func matchCanonical(mask domain.WeekMask) (string, bool) {
	for _, p := range canonical {
		if mask == p.mask {
			return p.name, true
		}
	}
	return "", false
}

func nearestFixed4(p Profile, threshold float64) string {
	best, bestDist := fixed4[0].name, 8
	for _, target := range fixed4 {
		d := bits.OnesCount8(uint8(p.Mask ^ target.mask))
		if d < bestDist {
			best, bestDist = target.name, d
		}
	}

	if best != Weekday {
		return best
	}
	if p.Density > threshold {
		return WeekdayIrregular
	}
	return WeekdayRegular
}

// sortCohortNames orders named cohorts first, then custom_N by N.
func sortCohortNames(names []string) {
	rank := func(name string) (int, int) {
		if r, ok := cohortOrder[name]; ok {
			return 0, r
		}
		n, _ := strconv.Atoi(strings.TrimPrefix(name, CustomPrefix))
		return 1, n
	}

	slices.SortFunc(names, func(a, b string) int {
		ga, ra := rank(a)
		gb, rb := rank(b)
		if ga != gb {
			return cmp.Compare(ga, gb)
		}
		return cmp.Compare(ra, rb)
	})
}
