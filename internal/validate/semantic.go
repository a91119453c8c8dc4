// Package validate checks the normalized model before encoding and the
// written artifacts after encoding.
package validate

import (
	"strings"

	"raptorc/internal/domain"
	"raptorc/internal/issues"
	"raptorc/internal/transfer"
	"raptorc/pkg/geo"
)

// DefaultExtremeTransferSeconds flags walks longer than one hour.
const DefaultExtremeTransferSeconds = 3600

type Options struct {
	ExtremeTransferSeconds int32
}

func (o Options) extreme() int32 {
	if o.ExtremeTransferSeconds <= 0 {
		return DefaultExtremeTransferSeconds
	}
	return o.ExtremeTransferSeconds
}

// Model runs the pre-encode semantic checks and returns every finding.
// Extreme walk times are checked separately on the merged transfer set.
func Model(model *domain.Model) *issues.Report {
	r := issues.NewReport()

	stops := make(map[uint32]bool, len(model.Stops))
	for i := range model.Stops {
		s := &model.Stops[i]
		if stops[s.ID] {
			r.Fatal(issues.DuplicateID, issues.Stop(s.ID), "stop id appears more than once")
		}
		stops[s.ID] = true

		if !geo.ValidCoordinate(s.Lat, s.Lon) {
			r.Fatal(issues.InvalidCoordinate, issues.Stop(s.ID), "lat=%v lon=%v", s.Lat, s.Lon)
		}
		if strings.TrimSpace(s.Name) == "" {
			r.Warn(issues.EmptyName, issues.Stop(s.ID), "stop has no display name")
		}
	}

	for i := range model.Stops {
		s := &model.Stops[i]
		for _, t := range s.Transfers {
			if !stops[t.Target] {
				r.Fatal(issues.DanglingReference, issues.Stop(s.ID), "transfer target stop %d does not exist", t.Target)
			}
			if t.WalkTime < 0 {
				r.Fatal(issues.NegativeWalkTime, issues.Stop(s.ID), "transfer to %d has walk time %d", t.Target, t.WalkTime)
			}
		}
	}

	stopCounts := make(map[uint32]int, len(model.Routes))
	for i := range model.Routes {
		rt := &model.Routes[i]
		if _, dup := stopCounts[rt.ID]; dup {
			r.Fatal(issues.DuplicateID, issues.Route(rt.ID), "route id appears more than once")
		}
		stopCounts[rt.ID] = len(rt.StopIDs)

		if len(rt.StopIDs) < 2 {
			r.Fatal(issues.ShortPattern, issues.Route(rt.ID), "pattern has %d stops", len(rt.StopIDs))
		}
		for k := 1; k < len(rt.Sequence); k++ {
			if rt.Sequence[k] <= rt.Sequence[k-1] {
				r.Fatal(issues.UnorderedSequence, issues.Route(rt.ID), "stop_sequence %d follows %d", rt.Sequence[k], rt.Sequence[k-1])
				break
			}
		}
		for _, sid := range rt.StopIDs {
			if !stops[sid] {
				r.Fatal(issues.DanglingReference, issues.Route(rt.ID), "stop %d does not exist", sid)
			}
		}
	}

	trips := make(map[uint32]bool, len(model.Trips))
	for i := range model.Trips {
		t := &model.Trips[i]
		if trips[t.ID] {
			r.Fatal(issues.DuplicateID, issues.Trip(t.ID), "trip id appears more than once")
		}
		trips[t.ID] = true

		n, ok := stopCounts[t.RouteID]
		if !ok {
			r.Fatal(issues.DanglingReference, issues.Trip(t.ID), "route %d does not exist", t.RouteID)
		} else if len(t.Times) != n {
			r.Fatal(issues.LengthMismatch, issues.Trip(t.ID), "%d times for %d stops", len(t.Times), n)
		}

		missing := false
		for k, v := range t.Times {
			if v == domain.MissingTime {
				r.Fatal(issues.MissingTime, issues.Trip(t.ID), "no time at stop index %d", k)
				missing = true
				break
			}
		}
		if missing {
			continue
		}
		for k := 1; k < len(t.Times); k++ {
			if t.Times[k] < t.Times[k-1] {
				r.Warn(issues.DecreasingTimes, issues.Trip(t.ID), "time %d at index %d after %d", t.Times[k], k, t.Times[k-1])
				break
			}
		}
	}

	return r
}

// Transfers warns about walk times above the extreme threshold.
func Transfers(set transfer.Set, opts Options, r *issues.Report) {
	limit := opts.extreme()
	for src, ts := range set {
		for _, t := range ts {
			if t.WalkTime > limit {
				r.Warn(issues.ExtremeTransfer, issues.Stop(src), "walk to %d takes %ds", t.Target, t.WalkTime)
			}
		}
	}
}
