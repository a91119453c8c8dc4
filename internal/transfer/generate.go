// Package transfer derives walking connections between nearby stops.
package transfer

import (
	"errors"
	"math"
	"slices"

	"raptorc/internal/domain"
	"raptorc/pkg/geo"
)

// Below this many stops a pairwise scan is cheaper than building a grid.
const gridThreshold = 256

var (
	ErrInvalidSpeed    = errors.New("walk speed must be greater than zero")
	ErrInvalidDistance = errors.New("max transfer distance must not be negative")
)

type Options struct {
	Enabled     bool
	WalkSpeed   float64
	MaxDistance float64
}

// Set maps a source stop id to its outgoing transfers sorted by target.
type Set map[uint32][]domain.Transfer

// Count returns the number of directed transfers.
func (s Set) Count() int {
	n := 0
	for _, ts := range s {
		n += len(ts)
	}
	return n
}

// Generate returns two directed transfers for every pair of distinct stops
// within opts.MaxDistance. Stops with invalid coordinates are ignored.
func Generate(stops []domain.Stop, opts Options) (Set, error) {
	out := make(Set)
	if !opts.Enabled {
		return out, nil
	}
	if opts.WalkSpeed <= 0 || math.IsNaN(opts.WalkSpeed) {
		return nil, ErrInvalidSpeed
	}
	if opts.MaxDistance < 0 || math.IsNaN(opts.MaxDistance) {
		return nil, ErrInvalidDistance
	}

	valid := make([]domain.Stop, 0, len(stops))
	for _, s := range stops {
		if geo.ValidCoordinate(s.Lat, s.Lon) {
			valid = append(valid, s)
		}
	}

	link := func(i, j int) {
		a, b := valid[i], valid[j]
		if a.ID == b.ID {
			return
		}
		dist := geo.HaversineMeters(a.Lat, a.Lon, b.Lat, b.Lon)
		if dist > opts.MaxDistance {
			return
		}
		walk := WalkTime(dist, opts.WalkSpeed)
		out[a.ID] = append(out[a.ID], domain.Transfer{Target: b.ID, WalkTime: walk})
		out[b.ID] = append(out[b.ID], domain.Transfer{Target: a.ID, WalkTime: walk})
	}

	if len(valid) < gridThreshold {
		for i := range valid {
			for j := i + 1; j < len(valid); j++ {
				link(i, j)
			}
		}
	} else {
		points := make([]geo.Point, len(valid))
		for i, s := range valid {
			points[i] = geo.Point{Lat: s.Lat, Lon: s.Lon}
		}
		grid := geo.NewGrid(points, opts.MaxDistance)
		for i := range valid {
			for _, j := range grid.Candidates(i) {
				if j > i {
					link(i, j)
				}
			}
		}
	}

	for id := range out {
		sortByTarget(out[id])
	}
	return out, nil
}

// WalkTime is ceil(distance / speed) in whole seconds, capped to int32.
func WalkTime(distance, speed float64) int32 {
	secs := math.Ceil(distance / speed)
	if secs > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(secs)
}

// Explicit collects the transfers carried by the stops themselves. Duplicate
// (source, target) pairs keep the shortest walk time.
func Explicit(stops []domain.Stop) Set {
	out := make(Set)
	for _, s := range stops {
		if len(s.Transfers) == 0 {
			continue
		}
		best := make(map[uint32]int32, len(s.Transfers))
		for _, t := range s.Transfers {
			if cur, ok := best[t.Target]; !ok || t.WalkTime < cur {
				best[t.Target] = t.WalkTime
			}
		}
		for target, walk := range best {
			out[s.ID] = append(out[s.ID], domain.Transfer{Target: target, WalkTime: walk})
		}
		sortByTarget(out[s.ID])
	}
	return out
}

// Merge combines explicit and generated transfers by (source, target).
// Explicit values win; generated ones only fill gaps.
func Merge(explicit, generated Set) Set {
	out := make(Set, len(explicit)+len(generated))
	for src, ts := range explicit {
		out[src] = slices.Clone(ts)
	}
	for src, ts := range generated {
		have := make(map[uint32]bool, len(out[src]))
		for _, t := range out[src] {
			have[t.Target] = true
		}
		added := false
		for _, t := range ts {
			if !have[t.Target] {
				out[src] = append(out[src], t)
				added = true
			}
		}
		if added {
			sortByTarget(out[src])
		}
	}
	return out
}

// Restrict keeps only transfers whose source and target are in stops.
func (s Set) Restrict(stops map[uint32]bool) Set {
	out := make(Set)
	for src, ts := range s {
		if !stops[src] {
			continue
		}
		for _, t := range ts {
			if stops[t.Target] {
				out[src] = append(out[src], t)
			}
		}
	}
	return out
}

func sortByTarget(ts []domain.Transfer) {
	slices.SortStableFunc(ts, func(a, b domain.Transfer) int {
		switch {
		case a.Target < b.Target:
			return -1
		case a.Target > b.Target:
			return 1
		}
		return 0
	})
}
