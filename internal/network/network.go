// Package network turns the shared normalized model into one cohort's
// immutable, id-sorted route and stop records.
package network

import (
	"slices"

	"raptorc/internal/domain"
	"raptorc/internal/issues"
	"raptorc/internal/transfer"
	"raptorc/pkg/raptorbin"
)

// Scope is the set of entities a cohort is made of.
type Scope struct {
	Services map[string]bool
	Trips    map[uint32]bool
	Routes   map[uint32]bool
	Stops    map[uint32]bool
}

// ScopeOf collects the trips running under the cohort's services, the
// patterns they use and the stops those patterns serve. Dangling ids are
// kept so validation issues about them stay attributable to the cohort.
func ScopeOf(model *domain.Model, cohort domain.Cohort) *Scope {
	s := &Scope{
		Services: make(map[string]bool, len(cohort.ServiceIDs)),
		Trips:    make(map[uint32]bool),
		Routes:   make(map[uint32]bool),
		Stops:    make(map[uint32]bool),
	}
	for _, id := range cohort.ServiceIDs {
		s.Services[id] = true
	}

	for i := range model.Trips {
		t := &model.Trips[i]
		if s.Services[t.ServiceID] {
			s.Trips[t.ID] = true
			s.Routes[t.RouteID] = true
		}
	}
	for i := range model.Routes {
		r := &model.Routes[i]
		if !s.Routes[r.ID] {
			continue
		}
		for _, sid := range r.StopIDs {
			s.Stops[sid] = true
		}
	}
	return s
}

func (s *Scope) Covers(e issues.Entity) bool {
	switch e.Kind {
	case issues.StopEntity:
		return s.Stops[e.ID]
	case issues.RouteEntity:
		return s.Routes[e.ID]
	case issues.TripEntity:
		return s.Trips[e.ID]
	case issues.ServiceEntity:
		return s.Services[e.Key]
	}
	return true
}

func (s *Scope) Empty() bool {
	return len(s.Trips) == 0
}

// Network is the compiled content of one cohort.
type Network struct {
	Cohort string
	Routes []raptorbin.Route
	Stops  []raptorbin.Stop

	// feed ids for debug exports
	RouteSources map[uint32]string
	StopSources  map[uint32]string
	TripSources  map[uint32]string
}

// Stats are the counts reported in a manifest.
type Stats struct {
	Stops     int `json:"stops"`
	Routes    int `json:"routes"`
	Trips     int `json:"trips"`
	StopTimes int `json:"stop_times"`
	Transfers int `json:"transfers"`
}

func (n *Network) Stats() Stats {
	st := Stats{Stops: len(n.Stops), Routes: len(n.Routes)}
	for i := range n.Routes {
		st.Trips += len(n.Routes[i].Trips)
		st.StopTimes += n.Routes[i].StopTimeCount()
	}
	for i := range n.Stops {
		st.Transfers += len(n.Stops[i].Transfers)
	}
	return st
}

// Build aggregates the cohort: patterns restricted to the cohort's trips,
// stops with sorted route references and transfers limited to stops inside
// the cohort. The model is not modified.
func Build(model *domain.Model, name string, scope *Scope, transfers transfer.Set) *Network {
	n := &Network{
		Cohort:       name,
		RouteSources: make(map[uint32]string),
		StopSources:  make(map[uint32]string),
		TripSources:  make(map[uint32]string),
	}

	tripsByRoute := make(map[uint32][]raptorbin.Trip)
	for i := range model.Trips {
		t := &model.Trips[i]
		if !scope.Trips[t.ID] {
			continue
		}
		tripsByRoute[t.RouteID] = append(tripsByRoute[t.RouteID], raptorbin.Trip{ID: t.ID, Times: slices.Clone(t.Times)})
		n.TripSources[t.ID] = t.SourceID
	}

	stopIdx := model.StopIndex()
	present := make(map[uint32]bool, len(scope.Stops))
	refs := make(map[uint32][]uint32)

	routes := make([]domain.RoutePattern, 0, len(tripsByRoute))
	for _, r := range model.Routes {
		if len(tripsByRoute[r.ID]) > 0 {
			routes = append(routes, r)
		}
	}
	slices.SortFunc(routes, func(a, b domain.RoutePattern) int { return compareID(a.ID, b.ID) })

	for _, r := range routes {
		n.Routes = append(n.Routes, raptorbin.Route{
			ID:      r.ID,
			Name:    r.Name,
			StopIDs: slices.Clone(r.StopIDs),
			Trips:   tripsByRoute[r.ID],
		})
		n.RouteSources[r.ID] = r.SourceID
		for _, sid := range r.StopIDs {
			if _, ok := stopIdx[sid]; ok {
				present[sid] = true
				refs[sid] = append(refs[sid], r.ID)
			}
		}
	}

	cohortTransfers := transfers.Restrict(present)

	ids := make([]uint32, 0, len(present))
	for id := range present {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		s := &model.Stops[stopIdx[id]]
		routeIDs := slices.Clone(refs[id])
		slices.Sort(routeIDs)

		var out []raptorbin.Transfer
		for _, t := range cohortTransfers[id] {
			out = append(out, raptorbin.Transfer{Target: t.Target, WalkTime: t.WalkTime})
		}

		n.Stops = append(n.Stops, raptorbin.Stop{
			ID:        s.ID,
			Name:      s.Name,
			Lat:       s.Lat,
			Lon:       s.Lon,
			RouteIDs:  slices.Compact(routeIDs),
			Transfers: out,
		})
		n.StopSources[s.ID] = s.SourceID
	}
	return n
}

func compareID(a, b uint32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
