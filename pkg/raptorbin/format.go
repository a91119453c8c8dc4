// Package raptorbin implements the routes.bin, stops.bin and index.bin
// formats consumed by RAPTOR routers. All integers are little-endian.
package raptorbin

import (
	"errors"
	"math"
)

const (
	SchemaVersion uint16 = 2
	IndexVersion  uint16 = 2

	// MaxNameLength is the capacity of the u16 name length prefix.
	MaxNameLength = math.MaxUint16

	RoutesFileName = "routes.bin"
	StopsFileName  = "stops.bin"
	IndexFileName  = "index.bin"
)

var (
	RoutesMagic = [4]byte{'R', 'R', 'T', '2'}
	StopsMagic  = [4]byte{'R', 'S', 'T', '2'}
	IndexMagic  = [4]byte{'R', 'I', 'D', 'X'}
)

var (
	ErrBadMagic        = errors.New("bad magic bytes")
	ErrVersionMismatch = errors.New("schema version mismatch")
	ErrTruncated       = errors.New("truncated record")
	ErrTrailingBytes   = errors.New("trailing bytes after last record")
	ErrNameTooLong     = errors.New("name exceeds u16 length field")
	ErrRowLength       = errors.New("trip time count differs from stop count")
	ErrUnsorted        = errors.New("records not in ascending id order")
	ErrCountMismatch   = errors.New("record count differs from header")
	ErrOffsetMismatch  = errors.New("index offset does not point at matching record")
)

// Trip is one row of a route's stop-times matrix, absolute seconds.
type Trip struct {
	ID    uint32  `json:"trip_id"`
	Times []int64 `json:"times"`
}

// Route is a route pattern record.
type Route struct {
	ID      uint32   `json:"route_id"`
	Name    string   `json:"name"`
	StopIDs []uint32 `json:"stop_ids"`
	Trips   []Trip   `json:"trips"`
}

func (r *Route) StopTimeCount() int {
	return len(r.StopIDs) * len(r.Trips)
}

type Transfer struct {
	Target   uint32 `json:"target_stop_id"`
	WalkTime int32  `json:"walk_time"`
}

// Stop is a stop record with its route references and outgoing transfers.
type Stop struct {
	ID        uint32     `json:"stop_id"`
	Name      string     `json:"name"`
	Lat       float64    `json:"lat"`
	Lon       float64    `json:"lon"`
	RouteIDs  []uint32   `json:"route_ids"`
	Transfers []Transfer `json:"transfers"`
}

// Offset locates a record by id.
type Offset struct {
	ID     uint32 `json:"id"`
	Offset uint64 `json:"offset"`
}

type StopRoutes struct {
	StopID   uint32   `json:"stop_id"`
	RouteIDs []uint32 `json:"route_ids"`
}

// Index is the content of index.bin.
type Index struct {
	Version      uint16       `json:"version"`
	StopToRoutes []StopRoutes `json:"stop_to_routes"`
	RouteOffsets []Offset     `json:"route_offsets"`
	StopOffsets  []Offset     `json:"stop_offsets"`
}
