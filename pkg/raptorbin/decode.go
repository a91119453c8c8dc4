package raptorbin

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"raptorc/pkg/delta"
)

// decoder reads little-endian fields from an in-memory file and remembers
// the first error.
type decoder struct {
	buf []byte
	pos int
	err error
}

func (d *decoder) need(n int) bool {
	if d.err != nil {
		return false
	}
	if n < 0 || len(d.buf)-d.pos < n {
		d.err = fmt.Errorf("%w at byte %d", ErrTruncated, d.pos)
		return false
	}
	return true
}

func (d *decoder) u16() uint16 {
	if !d.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(d.buf[d.pos:])
	d.pos += 2
	return v
}

func (d *decoder) u32() uint32 {
	if !d.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return v
}

func (d *decoder) u64() uint64 {
	if !d.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(d.buf[d.pos:])
	d.pos += 8
	return v
}

func (d *decoder) f64() float64 {
	return math.Float64frombits(d.u64())
}

func (d *decoder) str() string {
	n := int(d.u16())
	if !d.need(n) {
		return ""
	}
	s := string(d.buf[d.pos : d.pos+n])
	d.pos += n
	return s
}

// count reads a u32 element count and checks that count elements of size
// bytes can still fit in the buffer.
func (d *decoder) count(size int) int {
	n := int(d.u32())
	if d.err == nil && n > (len(d.buf)-d.pos)/size {
		d.err = fmt.Errorf("%w: count %d at byte %d exceeds remaining data", ErrTruncated, n, d.pos)
		return 0
	}
	return n
}

func (d *decoder) u32s(n int) []uint32 {
	if !d.need(4 * n) {
		return nil
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = d.u32()
	}
	return out
}

func (d *decoder) header(magic [4]byte, version uint16) (uint16, int) {
	if !d.need(4) {
		return 0, 0
	}
	if [4]byte(d.buf[0:4]) != magic {
		d.err = fmt.Errorf("%w: got %q want %q", ErrBadMagic, d.buf[0:4], magic[:])
		return 0, 0
	}
	d.pos = 4
	v := d.u16()
	if d.err == nil && v != version {
		d.err = fmt.Errorf("%w: got %d want %d", ErrVersionMismatch, v, version)
		return v, 0
	}
	return v, int(d.u32())
}

func (d *decoder) done() error {
	if d.err != nil {
		return d.err
	}
	if d.pos != len(d.buf) {
		return fmt.Errorf("%w: %d bytes", ErrTrailingBytes, len(d.buf)-d.pos)
	}
	return nil
}

func (d *decoder) route() Route {
	var r Route
	r.ID = d.u32()
	r.Name = d.str()
	stopCount := d.count(4)
	tripCount := d.count(4)
	r.StopIDs = d.u32s(stopCount)
	tripIDs := d.u32s(tripCount)
	if d.err != nil {
		return r
	}
	if stopCount > 0 && tripCount > (len(d.buf)-d.pos)/(4*stopCount) {
		d.err = fmt.Errorf("%w: stop times matrix of route %d", ErrTruncated, r.ID)
		return r
	}

	r.Trips = make([]Trip, tripCount)
	row := make([]int32, stopCount)
	for i := range r.Trips {
		for j := range row {
			row[j] = int32(d.u32())
		}
		r.Trips[i] = Trip{ID: tripIDs[i], Times: delta.DecodeRow(row)}
		if stopCount == 0 {
			r.Trips[i].Times = []int64{}
		}
	}
	return r
}

func (d *decoder) stop() Stop {
	var s Stop
	s.ID = d.u32()
	s.Name = d.str()
	s.Lat = d.f64()
	s.Lon = d.f64()
	s.RouteIDs = d.u32s(d.count(4))
	n := d.count(8)
	if d.err != nil {
		return s
	}
	s.Transfers = make([]Transfer, n)
	for i := range s.Transfers {
		s.Transfers[i] = Transfer{Target: d.u32(), WalkTime: int32(d.u32())}
	}
	return s
}

// RoutesFile is a fully decoded routes.bin with the offset of each record.
type RoutesFile struct {
	Version uint16
	Routes  []Route
	Offsets []Offset
}

// DecodeRoutes decodes a complete routes.bin.
func DecodeRoutes(data []byte) (*RoutesFile, error) {
	d := &decoder{buf: data}
	version, n := d.header(RoutesMagic, SchemaVersion)
	// every route record takes at least 14 bytes
	if d.err == nil && n > (len(data)-d.pos)/14 {
		return nil, fmt.Errorf("%w: route count %d", ErrTruncated, n)
	}

	f := &RoutesFile{Version: version}
	for i := 0; i < n && d.err == nil; i++ {
		off := uint64(d.pos)
		r := d.route()
		if d.err != nil {
			break
		}
		f.Routes = append(f.Routes, r)
		f.Offsets = append(f.Offsets, Offset{ID: r.ID, Offset: off})
	}
	if err := d.done(); err != nil {
		return nil, fmt.Errorf("decode routes: %w", err)
	}
	return f, nil
}

// StopsFile is a fully decoded stops.bin with the offset of each record.
type StopsFile struct {
	Version uint16
	Stops   []Stop
	Offsets []Offset
}

// DecodeStops decodes a complete stops.bin.
func DecodeStops(data []byte) (*StopsFile, error) {
	d := &decoder{buf: data}
	version, n := d.header(StopsMagic, SchemaVersion)
	// every stop record takes at least 30 bytes
	if d.err == nil && n > (len(data)-d.pos)/30 {
		return nil, fmt.Errorf("%w: stop count %d", ErrTruncated, n)
	}

	f := &StopsFile{Version: version}
	for i := 0; i < n && d.err == nil; i++ {
		off := uint64(d.pos)
		s := d.stop()
		if d.err != nil {
			break
		}
		f.Stops = append(f.Stops, s)
		f.Offsets = append(f.Offsets, Offset{ID: s.ID, Offset: off})
	}
	if err := d.done(); err != nil {
		return nil, fmt.Errorf("decode stops: %w", err)
	}
	return f, nil
}

// DecodeIndex decodes a complete index.bin.
func DecodeIndex(data []byte) (*Index, error) {
	d := &decoder{buf: data}
	if !d.need(4) || [4]byte(data[0:4]) != IndexMagic {
		if d.err == nil {
			d.err = fmt.Errorf("%w: got %q want %q", ErrBadMagic, data[0:4], IndexMagic[:])
		}
		return nil, fmt.Errorf("decode index: %w", d.err)
	}
	d.pos = 4

	idx := &Index{Version: d.u16()}
	if d.err == nil && idx.Version != IndexVersion {
		return nil, fmt.Errorf("decode index: %w: got %d want %d", ErrVersionMismatch, idx.Version, IndexVersion)
	}

	pairs := d.count(8)
	for i := 0; i < pairs && d.err == nil; i++ {
		sr := StopRoutes{StopID: d.u32()}
		sr.RouteIDs = d.u32s(d.count(4))
		idx.StopToRoutes = append(idx.StopToRoutes, sr)
	}
	idx.RouteOffsets = d.offsets()
	idx.StopOffsets = d.offsets()

	if err := d.done(); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	return idx, nil
}

func (d *decoder) offsets() []Offset {
	n := d.count(12)
	if d.err != nil {
		return nil
	}
	out := make([]Offset, n)
	for i := range out {
		out[i] = Offset{ID: d.u32(), Offset: d.u64()}
	}
	return out
}

// RecordIDAt reads the id field of the record starting at off. Both route
// and stop records begin with their u32 id.
func RecordIDAt(r io.ReaderAt, off uint64) (uint32, error) {
	if off > math.MaxInt64-4 {
		return 0, fmt.Errorf("%w: offset %d", ErrTruncated, off)
	}
	var b [4]byte
	if _, err := r.ReadAt(b[:], int64(off)); err != nil {
		return 0, fmt.Errorf("read record id at %d: %w", off, err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// RouteAt decodes the single route record starting at off in a routes.bin.
func RouteAt(data []byte, off uint64) (Route, error) {
	if off >= uint64(len(data)) {
		return Route{}, fmt.Errorf("%w: offset %d beyond %d bytes", ErrTruncated, off, len(data))
	}
	d := &decoder{buf: data, pos: int(off)}
	r := d.route()
	return r, d.err
}

// StopAt decodes the single stop record starting at off in a stops.bin.
func StopAt(data []byte, off uint64) (Stop, error) {
	if off >= uint64(len(data)) {
		return Stop{}, fmt.Errorf("%w: offset %d beyond %d bytes", ErrTruncated, off, len(data))
	}
	d := &decoder{buf: data, pos: int(off)}
	s := d.stop()
	return s, d.err
}
