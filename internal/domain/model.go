package domain

import (
	"math"
	"strings"
	"time"
)

// MissingTime marks a stop in a trip that has neither arrival nor departure.
const MissingTime int64 = math.MinInt64

// WeekMask is a 7-bit weekly operating pattern, bit 0 is Monday.
type WeekMask uint8

const (
	Monday WeekMask = 1 << iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday

	Weekdays = Monday | Tuesday | Wednesday | Thursday | Friday
	Weekend  = Saturday | Sunday
	AllDays  = Weekdays | Weekend
)

// DayBit maps a time.Weekday to its bit in a WeekMask.
func DayBit(d time.Weekday) WeekMask {
	if d == time.Sunday {
		return Sunday
	}
	return Monday << (d - time.Monday)
}

func (m WeekMask) Has(d time.Weekday) bool {
	return m&DayBit(d) != 0
}

// String renders the mask Monday first, e.g. "1111100".
func (m WeekMask) String() string {
	var b strings.Builder
	for i := 0; i < 7; i++ {
		if m&(1<<i) != 0 {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

// Transfer is a directed walking edge; the source stop is the owner.
type Transfer struct {
	Target   uint32 `json:"target_stop_id"`
	WalkTime int32  `json:"walk_time"`
}

// Stop represents a physical stop of the normalized model
type Stop struct {
	ID        uint32
	SourceID  string
	Name      string
	Lat       float64
	Lon       float64
	Transfers []Transfer
}

// RoutePattern is a structural route: all its trips share StopIDs exactly.
// Sequence holds the feed stop_sequence numbers as received.
type RoutePattern struct {
	ID       uint32
	SourceID string
	Name     string
	StopIDs  []uint32
	Sequence []int
}

// Trip holds one timestamp per pattern stop, in seconds since service-day start.
type Trip struct {
	ID        uint32
	SourceID  string
	RouteID   uint32
	ServiceID string
	Times     []int64
}

type ExceptionType int

const (
	ExceptionAdded   ExceptionType = 1
	ExceptionRemoved ExceptionType = 2
)

type CalendarException struct {
	Date time.Time
	Type ExceptionType
}

// ServiceCalendar is the weekly pattern of one service_id. StartDate and
// EndDate are zero when the service is defined by exceptions only.
type ServiceCalendar struct {
	ServiceID  string
	Days       WeekMask
	StartDate  time.Time
	EndDate    time.Time
	Exceptions []CalendarException
}

func (c *ServiceCalendar) HasRange() bool {
	return !c.StartDate.IsZero() && !c.EndDate.IsZero()
}

// Model is the normalized schedule handed over by a feed reader.
type Model struct {
	Stops     []Stop
	Routes    []RoutePattern
	Trips     []Trip
	Calendars []ServiceCalendar
}

// ServiceIDs lists every service id in order of first appearance:
// calendars first, then trips referencing services without a calendar.
func (m *Model) ServiceIDs() []string {
	seen := make(map[string]bool, len(m.Calendars))
	ids := make([]string, 0, len(m.Calendars))
	for _, c := range m.Calendars {
		if !seen[c.ServiceID] {
			seen[c.ServiceID] = true
			ids = append(ids, c.ServiceID)
		}
	}
	for _, t := range m.Trips {
		if !seen[t.ServiceID] {
			seen[t.ServiceID] = true
			ids = append(ids, t.ServiceID)
		}
	}
	return ids
}

func (m *Model) StopIndex() map[uint32]int {
	idx := make(map[uint32]int, len(m.Stops))
	for i := range m.Stops {
		idx[m.Stops[i].ID] = i
	}
	return idx
}

func (m *Model) RouteIndex() map[uint32]int {
	idx := make(map[uint32]int, len(m.Routes))
	for i := range m.Routes {
		idx[m.Routes[i].ID] = i
	}
	return idx
}

func (m *Model) CalendarIndex() map[string]int {
	idx := make(map[string]int, len(m.Calendars))
	for i := range m.Calendars {
		idx[m.Calendars[i].ServiceID] = i
	}
	return idx
}

// StopTimeCount is the number of trip/stop timestamps in the model.
func (m *Model) StopTimeCount() int {
	n := 0
	for i := range m.Trips {
		n += len(m.Trips[i].Times)
	}
	return n
}
