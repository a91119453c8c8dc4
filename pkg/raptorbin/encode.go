package raptorbin

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"slices"

	"raptorc/pkg/delta"
)

// recordWriter tracks the byte position of everything written through it.
type recordWriter struct {
	w   io.Writer
	off uint64
	buf []byte
}

func (rw *recordWriter) flush() error {
	n, err := rw.w.Write(rw.buf)
	rw.off += uint64(n)
	rw.buf = rw.buf[:0]
	return err
}

func (rw *recordWriter) header(magic [4]byte, version uint16, count int) error {
	if uint64(count) > math.MaxUint32 {
		return fmt.Errorf("record count %d exceeds u32", count)
	}
	rw.buf = append(rw.buf, magic[:]...)
	rw.buf = binary.LittleEndian.AppendUint16(rw.buf, version)
	rw.buf = binary.LittleEndian.AppendUint32(rw.buf, uint32(count))
	return rw.flush()
}

func (rw *recordWriter) u32s(vs []uint32) {
	rw.buf = binary.LittleEndian.AppendUint32(rw.buf, uint32(len(vs)))
	for _, v := range vs {
		rw.buf = binary.LittleEndian.AppendUint32(rw.buf, v)
	}
}

func (rw *recordWriter) name(s string) error {
	if len(s) > MaxNameLength {
		return fmt.Errorf("%w: %d bytes", ErrNameTooLong, len(s))
	}
	rw.buf = binary.LittleEndian.AppendUint16(rw.buf, uint16(len(s)))
	rw.buf = append(rw.buf, s...)
	return nil
}

// streamEncoder holds the state shared by routes and stops encoders.
type streamEncoder struct {
	rw       recordWriter
	declared int
	written  int
	lastID   uint32
}

func (e *streamEncoder) begin(id uint32) error {
	if e.written >= e.declared {
		return fmt.Errorf("%w: header declares %d", ErrCountMismatch, e.declared)
	}
	if e.written > 0 && id <= e.lastID {
		return fmt.Errorf("%w: %d after %d", ErrUnsorted, id, e.lastID)
	}
	return nil
}

func (e *streamEncoder) commit(id uint32) (uint64, error) {
	off := e.rw.off
	if err := e.rw.flush(); err != nil {
		return 0, err
	}
	e.written++
	e.lastID = id
	return off, nil
}

// Close checks that exactly the declared number of records was written.
func (e *streamEncoder) Close() error {
	if e.written != e.declared {
		return fmt.Errorf("%w: wrote %d of %d", ErrCountMismatch, e.written, e.declared)
	}
	return nil
}

// RoutesEncoder streams route records and reports where each one starts.
type RoutesEncoder struct {
	streamEncoder
}

func NewRoutesEncoder(w io.Writer, count int) (*RoutesEncoder, error) {
	e := &RoutesEncoder{streamEncoder{rw: recordWriter{w: w}, declared: count}}
	if err := e.rw.header(RoutesMagic, SchemaVersion, count); err != nil {
		return nil, err
	}
	return e, nil
}

// Encode writes one route and returns its byte offset in the file. Trips are
// written sorted by first timestamp, ties keeping their input order.
func (e *RoutesEncoder) Encode(r Route) (uint64, error) {
	if err := e.begin(r.ID); err != nil {
		return 0, err
	}

	trips := SortTrips(r.Trips)
	rows := make([][]int32, len(trips))
	for i, t := range trips {
		if len(t.Times) != len(r.StopIDs) {
			return 0, fmt.Errorf("route %d trip %d: %w (%d != %d)", r.ID, t.ID, ErrRowLength, len(t.Times), len(r.StopIDs))
		}
		row, err := delta.EncodeRow(t.Times)
		if err != nil {
			return 0, fmt.Errorf("route %d trip %d: %w", r.ID, t.ID, err)
		}
		rows[i] = row
	}

	rw := &e.rw
	rw.buf = binary.LittleEndian.AppendUint32(rw.buf, r.ID)
	if err := rw.name(r.Name); err != nil {
		rw.buf = rw.buf[:0]
		return 0, fmt.Errorf("route %d: %w", r.ID, err)
	}
	rw.buf = binary.LittleEndian.AppendUint32(rw.buf, uint32(len(r.StopIDs)))
	rw.buf = binary.LittleEndian.AppendUint32(rw.buf, uint32(len(trips)))
	for _, id := range r.StopIDs {
		rw.buf = binary.LittleEndian.AppendUint32(rw.buf, id)
	}
	for _, t := range trips {
		rw.buf = binary.LittleEndian.AppendUint32(rw.buf, t.ID)
	}
	for _, row := range rows {
		for _, v := range row {
			rw.buf = binary.LittleEndian.AppendUint32(rw.buf, uint32(v))
		}
	}

	return e.commit(r.ID)
}

// StopsEncoder streams stop records and reports where each one starts.
type StopsEncoder struct {
	streamEncoder
}

func NewStopsEncoder(w io.Writer, count int) (*StopsEncoder, error) {
	e := &StopsEncoder{streamEncoder{rw: recordWriter{w: w}, declared: count}}
	if err := e.rw.header(StopsMagic, SchemaVersion, count); err != nil {
		return nil, err
	}
	return e, nil
}

// Encode writes one stop. Route ids and transfers must already be sorted.
func (e *StopsEncoder) Encode(s Stop) (uint64, error) {
	if err := e.begin(s.ID); err != nil {
		return 0, err
	}

	rw := &e.rw
	rw.buf = binary.LittleEndian.AppendUint32(rw.buf, s.ID)
	if err := rw.name(s.Name); err != nil {
		rw.buf = rw.buf[:0]
		return 0, fmt.Errorf("stop %d: %w", s.ID, err)
	}
	rw.buf = binary.LittleEndian.AppendUint64(rw.buf, math.Float64bits(s.Lat))
	rw.buf = binary.LittleEndian.AppendUint64(rw.buf, math.Float64bits(s.Lon))
	rw.u32s(s.RouteIDs)
	rw.buf = binary.LittleEndian.AppendUint32(rw.buf, uint32(len(s.Transfers)))
	for _, t := range s.Transfers {
		rw.buf = binary.LittleEndian.AppendUint32(rw.buf, t.Target)
		rw.buf = binary.LittleEndian.AppendUint32(rw.buf, uint32(t.WalkTime))
	}

	return e.commit(s.ID)
}

// WriteRoutes encodes all routes and returns their offsets in write order.
func WriteRoutes(w io.Writer, routes []Route) ([]Offset, error) {
	enc, err := NewRoutesEncoder(w, len(routes))
	if err != nil {
		return nil, err
	}
	offsets := make([]Offset, 0, len(routes))
	for _, r := range routes {
		off, err := enc.Encode(r)
		if err != nil {
			return nil, err
		}
		offsets = append(offsets, Offset{ID: r.ID, Offset: off})
	}
	return offsets, enc.Close()
}

// WriteStops encodes all stops and returns their offsets in write order.
func WriteStops(w io.Writer, stops []Stop) ([]Offset, error) {
	enc, err := NewStopsEncoder(w, len(stops))
	if err != nil {
		return nil, err
	}
	offsets := make([]Offset, 0, len(stops))
	for _, s := range stops {
		off, err := enc.Encode(s)
		if err != nil {
			return nil, err
		}
		offsets = append(offsets, Offset{ID: s.ID, Offset: off})
	}
	return offsets, enc.Close()
}

// SortTrips returns a copy of trips stable-sorted by first timestamp.
func SortTrips(trips []Trip) []Trip {
	out := slices.Clone(trips)
	slices.SortStableFunc(out, func(a, b Trip) int {
		return cmp.Compare(firstTime(a), firstTime(b))
	})
	return out
}

func firstTime(t Trip) int64 {
	if len(t.Times) == 0 {
		return math.MinInt64
	}
	return t.Times[0]
}
