package validate

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"raptorc/internal/fault"
	"raptorc/internal/manifest"
	"raptorc/pkg/raptorbin"
)

// Artifacts are the decoded binary files of one output directory.
type Artifacts struct {
	Routes *raptorbin.RoutesFile
	Stops  *raptorbin.StopsFile
	Index  *raptorbin.Index
}

// Files decodes and cross-checks the three binary files. Every failure is a
// FatalStructural error; all findings are joined.
func Files(routesData, stopsData, indexData []byte) (*Artifacts, error) {
	routes, err := raptorbin.DecodeRoutes(routesData)
	if err != nil {
		return nil, fault.NewStructural(raptorbin.RoutesFileName, err)
	}
	stops, err := raptorbin.DecodeStops(stopsData)
	if err != nil {
		return nil, fault.NewStructural(raptorbin.StopsFileName, err)
	}
	idx, err := raptorbin.DecodeIndex(indexData)
	if err != nil {
		return nil, fault.NewStructural(raptorbin.IndexFileName, err)
	}

	var errs []error
	fail := func(file string, format string, args ...any) {
		errs = append(errs, fault.NewStructural(file, fmt.Errorf(format, args...)))
	}

	routeIDs := make(map[uint32]bool, len(routes.Routes))
	for i, r := range routes.Routes {
		if i > 0 && r.ID <= routes.Routes[i-1].ID {
			fail(raptorbin.RoutesFileName, "%w: route %d after %d", raptorbin.ErrUnsorted, r.ID, routes.Routes[i-1].ID)
		}
		routeIDs[r.ID] = true
	}
	stopIDs := make(map[uint32]bool, len(stops.Stops))
	for i, s := range stops.Stops {
		if i > 0 && s.ID <= stops.Stops[i-1].ID {
			fail(raptorbin.StopsFileName, "%w: stop %d after %d", raptorbin.ErrUnsorted, s.ID, stops.Stops[i-1].ID)
		}
		stopIDs[s.ID] = true
	}

	membership := make(map[uint32][]uint32)
	for _, r := range routes.Routes {
		for _, sid := range r.StopIDs {
			if !stopIDs[sid] {
				fail(raptorbin.RoutesFileName, "route %d references missing stop %d", r.ID, sid)
			}
			membership[sid] = append(membership[sid], r.ID)
		}
	}
	for _, s := range stops.Stops {
		for _, rid := range s.RouteIDs {
			if !routeIDs[rid] {
				fail(raptorbin.StopsFileName, "stop %d references missing route %d", s.ID, rid)
			}
		}
		for _, t := range s.Transfers {
			if !stopIDs[t.Target] {
				fail(raptorbin.StopsFileName, "stop %d transfer to missing stop %d", s.ID, t.Target)
			}
		}
	}

	checkOffsets(raptorbin.RoutesFileName, idx.RouteOffsets, routes.Offsets, routesData, fail)
	checkOffsets(raptorbin.StopsFileName, idx.StopOffsets, stops.Offsets, stopsData, fail)

	if len(idx.StopToRoutes) != len(stops.Stops) {
		fail(raptorbin.IndexFileName, "stop_to_routes has %d stops, stops.bin has %d", len(idx.StopToRoutes), len(stops.Stops))
	}
	stopRefs := make(map[uint32][]uint32, len(stops.Stops))
	for _, s := range stops.Stops {
		stopRefs[s.ID] = s.RouteIDs
	}
	for _, sr := range idx.StopToRoutes {
		refs, ok := stopRefs[sr.StopID]
		if !ok {
			fail(raptorbin.IndexFileName, "stop_to_routes lists unknown stop %d", sr.StopID)
			continue
		}
		want := slices.Clone(membership[sr.StopID])
		slices.Sort(want)
		want = slices.Compact(want)
		if !slices.Equal(sr.RouteIDs, want) {
			fail(raptorbin.IndexFileName, "stop %d: index routes %v, routes.bin membership %v", sr.StopID, sr.RouteIDs, want)
		}
		if !slices.Equal(sr.RouteIDs, refs) {
			fail(raptorbin.IndexFileName, "stop %d: index routes %v, stops.bin routes %v", sr.StopID, sr.RouteIDs, refs)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &Artifacts{Routes: routes, Stops: stops, Index: idx}, nil
}

func checkOffsets(file string, indexed, actual []raptorbin.Offset, data []byte, fail func(string, string, ...any)) {
	if len(indexed) != len(actual) {
		fail(raptorbin.IndexFileName, "%d offsets for %s, file has %d records", len(indexed), file, len(actual))
	}
	r := bytes.NewReader(data)
	for i, o := range indexed {
		id, err := raptorbin.RecordIDAt(r, o.Offset)
		if err != nil {
			fail(raptorbin.IndexFileName, "%s offset %d for id %d: %w", file, o.Offset, o.ID, err)
			continue
		}
		if id != o.ID {
			fail(raptorbin.IndexFileName, "%w: %s offset %d holds id %d, index says %d", raptorbin.ErrOffsetMismatch, file, o.Offset, id, o.ID)
			continue
		}
		if i < len(actual) && actual[i] != o {
			fail(raptorbin.IndexFileName, "%w: %s id %d at %d, record starts at %d", raptorbin.ErrOffsetMismatch, file, o.ID, o.Offset, actual[i].Offset)
		}
	}
}

// Output verifies a cohort directory: decodes and cross-checks the binary
// files, compares checksums and counts with the manifest.
func Output(dir string) (*manifest.Manifest, *Artifacts, error) {
	m, err := manifest.Read(dir)
	if err != nil {
		return nil, nil, fault.NewStructural(manifest.FileName, err)
	}

	var errs []error
	for _, name := range []string{raptorbin.RoutesFileName, raptorbin.StopsFileName, raptorbin.IndexFileName} {
		if _, ok := m.Outputs[name]; !ok {
			errs = append(errs, fault.NewStructural(manifest.FileName, fmt.Errorf("no checksum for %s", name)))
		}
	}

	names := make([]string, 0, len(m.Outputs))
	for name := range m.Outputs {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		sum, err := manifest.FileChecksum(filepath.Join(dir, name))
		if err != nil {
			errs = append(errs, fault.NewStructural(name, err))
			continue
		}
		if sum != m.Outputs[name] {
			errs = append(errs, fault.NewStructural(name, fmt.Errorf("checksum mismatch: manifest %s, file %s", m.Outputs[name], sum)))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return m, nil, err
	}

	read := func(name string) []byte {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			errs = append(errs, fault.NewStructural(name, err))
		}
		return data
	}
	routesData := read(raptorbin.RoutesFileName)
	stopsData := read(raptorbin.StopsFileName)
	indexData := read(raptorbin.IndexFileName)
	if err := errors.Join(errs...); err != nil {
		return m, nil, err
	}

	art, err := Files(routesData, stopsData, indexData)
	if err != nil {
		return m, nil, err
	}

	got := manifest.Stats{Routes: len(art.Routes.Routes), Stops: len(art.Stops.Stops)}
	for _, r := range art.Routes.Routes {
		got.Trips += len(r.Trips)
		got.StopTimes += r.StopTimeCount()
	}
	for _, s := range art.Stops.Stops {
		got.Transfers += len(s.Transfers)
	}
	if got != m.Stats {
		return m, art, fault.NewStructural(manifest.FileName, fmt.Errorf("stats %+v do not match artifacts %+v", m.Stats, got))
	}
	return m, art, nil
}
