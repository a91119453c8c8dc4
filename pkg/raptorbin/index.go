package raptorbin

import (
	"encoding/binary"
	"fmt"
	"io"
	"slices"
)

// BuildIndex assembles index.bin content from the offsets reported by the
// encoders. stop_to_routes is derived from route membership, not from the
// stop records, and lists every stop in stops.
func BuildIndex(routes []Route, stops []Stop, routeOffsets, stopOffsets []Offset) *Index {
	membership := make(map[uint32][]uint32, len(stops))
	for _, r := range routes {
		for _, sid := range r.StopIDs {
			membership[sid] = append(membership[sid], r.ID)
		}
	}

	stopIDs := make([]uint32, 0, len(stops))
	for _, s := range stops {
		stopIDs = append(stopIDs, s.ID)
	}
	slices.Sort(stopIDs)

	idx := &Index{
		Version:      IndexVersion,
		StopToRoutes: make([]StopRoutes, 0, len(stopIDs)),
		RouteOffsets: sortedOffsets(routeOffsets),
		StopOffsets:  sortedOffsets(stopOffsets),
	}
	for _, sid := range stopIDs {
		ids := slices.Clone(membership[sid])
		slices.Sort(ids)
		idx.StopToRoutes = append(idx.StopToRoutes, StopRoutes{StopID: sid, RouteIDs: slices.Compact(ids)})
	}
	return idx
}

func sortedOffsets(in []Offset) []Offset {
	out := slices.Clone(in)
	slices.SortFunc(out, func(a, b Offset) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// WriteIndex serializes idx in the index.bin layout.
func WriteIndex(w io.Writer, idx *Index) error {
	rw := &recordWriter{w: w}
	version := idx.Version
	if version == 0 {
		version = IndexVersion
	}

	rw.buf = append(rw.buf, IndexMagic[:]...)
	rw.buf = binary.LittleEndian.AppendUint16(rw.buf, version)

	rw.buf = binary.LittleEndian.AppendUint32(rw.buf, uint32(len(idx.StopToRoutes)))
	for _, sr := range idx.StopToRoutes {
		rw.buf = binary.LittleEndian.AppendUint32(rw.buf, sr.StopID)
		rw.u32s(sr.RouteIDs)
	}
	if err := rw.flush(); err != nil {
		return fmt.Errorf("write stop_to_routes: %w", err)
	}

	for _, section := range [][]Offset{idx.RouteOffsets, idx.StopOffsets} {
		rw.buf = binary.LittleEndian.AppendUint32(rw.buf, uint32(len(section)))
		for _, o := range section {
			rw.buf = binary.LittleEndian.AppendUint32(rw.buf, o.ID)
			rw.buf = binary.LittleEndian.AppendUint64(rw.buf, o.Offset)
		}
		if err := rw.flush(); err != nil {
			return fmt.Errorf("write offsets: %w", err)
		}
	}
	return nil
}
