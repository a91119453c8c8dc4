package gtfs

import (
	"archive/zip"
	"cmp"
	"encoding/binary"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"raptorc/internal/domain"
)

var requiredFiles = []string{"stops.txt", "routes.txt", "trips.txt", "stop_times.txt"}

var optionalFiles = []string{"calendar.txt", "calendar_dates.txt", "transfers.txt"}

var ErrMissingFile = errors.New("required feed file missing")

// Feed is an opened GTFS directory or zip archive.
type Feed struct {
	Path   string
	FS     fs.FS
	closer io.Closer
}

// Open opens a feed directory or .zip archive. Archives with all files
// nested in a single top-level directory are accepted.
func Open(p string) (*Feed, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("open feed: %w", err)
	}

	feed := &Feed{Path: p}
	if info.IsDir() {
		feed.FS = os.DirFS(p)
	} else {
		zr, err := zip.OpenReader(p)
		if err != nil {
			return nil, fmt.Errorf("open feed archive: %w", err)
		}
		feed.FS = zr
		feed.closer = zr
	}

	if _, err := fs.Stat(feed.FS, "stops.txt"); err != nil {
		matches, _ := fs.Glob(feed.FS, "*/stops.txt")
		if len(matches) == 1 {
			sub, err := fs.Sub(feed.FS, path.Dir(matches[0]))
			if err == nil {
				feed.FS = sub
			}
		}
	}
	return feed, nil
}

func (f *Feed) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}

type Reader struct {
	logger *slog.Logger
}

func NewReader(logger *slog.Logger) *Reader {
	return &Reader{
		logger: logger.With("component", "gtfs_reader"),
	}
}

type rawStopTime struct {
	seq    int
	stopID string
	time   int64
}

type rawTrip struct {
	id        string
	routeID   string
	serviceID string
	times     []rawStopTime
}

type rawPattern struct {
	routeID string
	stops   []uint32
	seq     []int
	trips   []*rawTrip
}

// Read parses a feed into the normalized model. Feed string ids are
// mapped to dense uint32 ids in lexicographic order.
func (r *Reader) Read(fsys fs.FS) (*domain.Model, error) {
	totalStart := time.Now()
	r.logger.Info("starting GTFS parsing")

	for _, name := range requiredFiles {
		if _, err := fs.Stat(fsys, name); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingFile, name)
		}
	}

	model := &domain.Model{}

	start := time.Now()
	stopIDs, err := r.readStops(fsys, model)
	if err != nil {
		return nil, fmt.Errorf("parse stops: %w", err)
	}
	r.logger.Info("parsed stops.txt", "count", len(model.Stops), "duration_ms", time.Since(start).Milliseconds())

	start = time.Now()
	routeNames, err := r.readRoutes(fsys)
	if err != nil {
		return nil, fmt.Errorf("parse routes: %w", err)
	}
	r.logger.Info("parsed routes.txt", "count", len(routeNames), "duration_ms", time.Since(start).Milliseconds())

	start = time.Now()
	trips, err := r.readTrips(fsys)
	if err != nil {
		return nil, fmt.Errorf("parse trips: %w", err)
	}
	r.logger.Info("parsed trips.txt", "count", len(trips), "duration_ms", time.Since(start).Milliseconds())

	start = time.Now()
	stopTimes, err := r.readStopTimes(fsys, trips)
	if err != nil {
		return nil, fmt.Errorf("parse stop_times: %w", err)
	}
	r.logger.Info("parsed stop_times.txt", "count", stopTimes, "duration_ms", time.Since(start).Milliseconds())

	start = time.Now()
	if err := r.readCalendars(fsys, model); err != nil {
		return nil, fmt.Errorf("parse calendars: %w", err)
	}
	r.logger.Info("parsed calendars", "services", len(model.Calendars), "duration_ms", time.Since(start).Milliseconds())

	stopIDs.resolveUnknown(trips)

	start = time.Now()
	r.buildPatterns(model, trips, stopIDs, routeNames)
	r.logger.Info("built route patterns",
		"patterns", len(model.Routes),
		"trips", len(model.Trips),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if err := r.readTransfers(fsys, model, stopIDs); err != nil {
		return nil, fmt.Errorf("parse transfers: %w", err)
	}

	r.logger.Info("GTFS parsing completed",
		"total_duration_ms", time.Since(totalStart).Milliseconds(),
		"stops", len(model.Stops),
		"routes", len(model.Routes),
		"trips", len(model.Trips),
		"services", len(model.Calendars),
	)
	return model, nil
}

// idMap assigns feed stop ids to internal ids. Ids referenced by
// stop_times or transfers but absent from stops.txt get ids past the
// known range so validation can report them as dangling.
type idMap struct {
	ids  map[string]uint32
	next uint32
}

func (m *idMap) lookup(id string) uint32 {
	if v, ok := m.ids[id]; ok {
		return v
	}
	v := m.next
	m.ids[id] = v
	m.next++
	return v
}

func (m *idMap) resolveUnknown(trips []*rawTrip) {
	var unknown []string
	seen := make(map[string]bool)
	for _, t := range trips {
		for _, st := range t.times {
			if _, ok := m.ids[st.stopID]; !ok && !seen[st.stopID] {
				seen[st.stopID] = true
				unknown = append(unknown, st.stopID)
			}
		}
	}
	slices.Sort(unknown)
	for _, id := range unknown {
		m.lookup(id)
	}
}

func (r *Reader) readStops(fsys fs.FS, model *domain.Model) (*idMap, error) {
	var stops []domain.Stop
	err := eachRow(fsys, "stops.txt", func(row row) error {
		stops = append(stops, domain.Stop{
			SourceID: row.get("stop_id"),
			Name:     row.get("stop_name"),
			Lat:      parseCoord(row.get("stop_lat")),
			Lon:      parseCoord(row.get("stop_lon")),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(stops, func(a, b domain.Stop) int {
		return strings.Compare(a.SourceID, b.SourceID)
	})

	m := &idMap{ids: make(map[string]uint32, len(stops))}
	for i := range stops {
		stops[i].ID = m.lookup(stops[i].SourceID)
	}
	model.Stops = stops
	return m, nil
}

func (r *Reader) readRoutes(fsys fs.FS) (map[string]string, error) {
	names := make(map[string]string)
	err := eachRow(fsys, "routes.txt", func(row row) error {
		id := row.get("route_id")
		name := row.get("route_short_name")
		if name == "" {
			name = row.get("route_long_name")
		}
		if name == "" {
			name = id
		}
		names[id] = name
		return nil
	})
	return names, err
}

func (r *Reader) readTrips(fsys fs.FS) ([]*rawTrip, error) {
	var trips []*rawTrip
	err := eachRow(fsys, "trips.txt", func(row row) error {
		trips = append(trips, &rawTrip{
			id:        row.get("trip_id"),
			routeID:   row.get("route_id"),
			serviceID: row.get("service_id"),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(trips, func(a, b *rawTrip) int {
		return strings.Compare(a.id, b.id)
	})
	return trips, nil
}

func (r *Reader) readStopTimes(fsys fs.FS, trips []*rawTrip) (int, error) {
	byID := make(map[string]*rawTrip, len(trips))
	for _, t := range trips {
		byID[t.id] = t
	}

	count, orphaned, badTimes := 0, 0, 0
	err := eachRow(fsys, "stop_times.txt", func(row row) error {
		trip, ok := byID[row.get("trip_id")]
		if !ok {
			orphaned++
			return nil
		}

		seq, err := strconv.Atoi(row.get("stop_sequence"))
		if err != nil {
			return fmt.Errorf("line %d: stop_sequence %q: %w", row.line, row.get("stop_sequence"), err)
		}

		value := row.get("arrival_time")
		if value == "" {
			value = row.get("departure_time")
		}
		t, ok := ParseTime(value)
		if !ok && value != "" {
			badTimes++
		}

		trip.times = append(trip.times, rawStopTime{seq: seq, stopID: row.get("stop_id"), time: t})
		count++
		return nil
	})
	if err != nil {
		return 0, err
	}

	if orphaned > 0 {
		r.logger.Warn("stop_times reference unknown trips", "count", orphaned)
	}
	if badTimes > 0 {
		r.logger.Warn("unparsable stop times treated as missing", "count", badTimes)
	}

	for _, t := range trips {
		slices.SortStableFunc(t.times, func(a, b rawStopTime) int {
			return cmp.Compare(a.seq, b.seq)
		})
	}
	return count, nil
}

func (r *Reader) readCalendars(fsys fs.FS, model *domain.Model) error {
	calendars := make(map[string]*domain.ServiceCalendar)
	get := func(id string) *domain.ServiceCalendar {
		c, ok := calendars[id]
		if !ok {
			c = &domain.ServiceCalendar{ServiceID: id}
			calendars[id] = c
		}
		return c
	}

	days := []struct {
		column string
		bit    domain.WeekMask
	}{
		{"monday", domain.Monday},
		{"tuesday", domain.Tuesday},
		{"wednesday", domain.Wednesday},
		{"thursday", domain.Thursday},
		{"friday", domain.Friday},
		{"saturday", domain.Saturday},
		{"sunday", domain.Sunday},
	}

	err := eachOptionalRow(fsys, "calendar.txt", func(row row) error {
		c := get(row.get("service_id"))
		for _, d := range days {
			if row.get(d.column) == "1" {
				c.Days |= d.bit
			}
		}
		var err error
		if c.StartDate, err = ParseDate(row.get("start_date")); err != nil {
			return fmt.Errorf("line %d: %w", row.line, err)
		}
		if c.EndDate, err = ParseDate(row.get("end_date")); err != nil {
			return fmt.Errorf("line %d: %w", row.line, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = eachOptionalRow(fsys, "calendar_dates.txt", func(row row) error {
		date, err := ParseDate(row.get("date"))
		if err != nil {
			return fmt.Errorf("line %d: %w", row.line, err)
		}
		typ, err := strconv.Atoi(row.get("exception_type"))
		if err != nil || (typ != int(domain.ExceptionAdded) && typ != int(domain.ExceptionRemoved)) {
			return fmt.Errorf("line %d: invalid exception_type %q", row.line, row.get("exception_type"))
		}
		c := get(row.get("service_id"))
		c.Exceptions = append(c.Exceptions, domain.CalendarException{Date: date, Type: domain.ExceptionType(typ)})
		return nil
	})
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(calendars))
	for id := range calendars {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	model.Calendars = make([]domain.ServiceCalendar, 0, len(ids))
	for _, id := range ids {
		model.Calendars = append(model.Calendars, *calendars[id])
	}
	return nil
}

// buildPatterns groups trips by feed route and exact stop sequence.
func (r *Reader) buildPatterns(model *domain.Model, trips []*rawTrip, stopIDs *idMap, routeNames map[string]string) {
	buckets := make(map[uint64][]*rawPattern)
	var patterns []*rawPattern
	tripIDs := make(map[*rawTrip]uint32, len(trips))
	dropped := 0

	for i, t := range trips {
		tripIDs[t] = uint32(i)
		if len(t.times) == 0 {
			dropped++
			r.logger.Debug("dropping trip without stop times", "trip_id", t.id)
			continue
		}

		stops := make([]uint32, len(t.times))
		for j, st := range t.times {
			stops[j] = stopIDs.lookup(st.stopID)
		}

		key := patternKey(t.routeID, stops)
		var match *rawPattern
		for _, p := range buckets[key] {
			if p.routeID == t.routeID && slices.Equal(p.stops, stops) {
				match = p
				break
			}
		}
		if match == nil {
			seq := make([]int, len(t.times))
			for j, st := range t.times {
				seq[j] = st.seq
			}
			match = &rawPattern{routeID: t.routeID, stops: stops, seq: seq}
			buckets[key] = append(buckets[key], match)
			patterns = append(patterns, match)
		}
		match.trips = append(match.trips, t)
	}

	if dropped > 0 {
		r.logger.Warn("dropped trips without stop times", "count", dropped)
	}

	slices.SortStableFunc(patterns, func(a, b *rawPattern) int {
		if c := strings.Compare(a.routeID, b.routeID); c != 0 {
			return c
		}
		return strings.Compare(a.trips[0].id, b.trips[0].id)
	})

	model.Routes = make([]domain.RoutePattern, 0, len(patterns))
	for i, p := range patterns {
		name, ok := routeNames[p.routeID]
		if !ok {
			name = p.routeID
		}
		model.Routes = append(model.Routes, domain.RoutePattern{
			ID:       uint32(i),
			SourceID: p.routeID,
			Name:     name,
			StopIDs:  p.stops,
			Sequence: p.seq,
		})
		for _, t := range p.trips {
			times := make([]int64, len(t.times))
			for j, st := range t.times {
				times[j] = st.time
			}
			model.Trips = append(model.Trips, domain.Trip{
				ID:        tripIDs[t],
				SourceID:  t.id,
				RouteID:   uint32(i),
				ServiceID: t.serviceID,
				Times:     times,
			})
		}
	}

	slices.SortFunc(model.Trips, func(a, b domain.Trip) int {
		return cmp.Compare(a.ID, b.ID)
	})
}

func (r *Reader) readTransfers(fsys fs.FS, model *domain.Model, stopIDs *idMap) error {
	index := model.StopIndex()
	count, skipped := 0, 0

	err := eachOptionalRow(fsys, "transfers.txt", func(row row) error {
		// 3: transfer not possible, 4/5: in-seat transfers
		if typ := row.get("transfer_type"); typ == "3" || typ == "4" || typ == "5" {
			return nil
		}
		from, ok := stopIDs.ids[row.get("from_stop_id")]
		if !ok {
			skipped++
			return nil
		}
		walk := 0
		if v := row.get("min_transfer_time"); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("line %d: min_transfer_time %q: %w", row.line, v, err)
			}
			walk = parsed
		}
		i := index[from]
		model.Stops[i].Transfers = append(model.Stops[i].Transfers, domain.Transfer{
			Target:   stopIDs.lookup(row.get("to_stop_id")),
			WalkTime: int32(walk),
		})
		count++
		return nil
	})
	if err != nil {
		return err
	}

	if skipped > 0 {
		r.logger.Warn("transfers from unknown stops skipped", "count", skipped)
	}
	if count > 0 {
		r.logger.Info("parsed transfers.txt", "count", count)
	}
	return nil
}

func patternKey(routeID string, stops []uint32) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(routeID)
	_, _ = d.Write([]byte{0})
	var buf [4]byte
	for _, s := range stops {
		binary.LittleEndian.PutUint32(buf[:], s)
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

// ParseTime converts HH:MM:SS (hours may exceed 23) to seconds. Empty or
// malformed values yield domain.MissingTime.
func ParseTime(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return domain.MissingTime, false
	}
	var v [3]int64
	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n < 0 {
			return domain.MissingTime, false
		}
		v[i] = n
	}
	if v[1] > 59 || v[2] > 59 {
		return domain.MissingTime, false
	}
	return v[0]*3600 + v[1]*60 + v[2], true
}

// ParseDate parses a YYYYMMDD service date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse("20060102", strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t, nil
}

func parseCoord(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

type row struct {
	line   int
	record []string
	idx    map[string]int
}

func (r row) get(field string) string {
	if i, ok := r.idx[field]; ok && i < len(r.record) {
		return strings.TrimSpace(r.record[i])
	}
	return ""
}

func eachOptionalRow(fsys fs.FS, name string, fn func(row) error) error {
	if _, err := fs.Stat(fsys, name); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return eachRow(fsys, name, fn)
}

func eachRow(fsys fs.FS, name string, fn func(row) error) error {
	f, err := fsys.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	header, err := r.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return err
	}

	idx := makeIndex(header)
	for line := 2; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(row{line: line, record: record, idx: idx}); err != nil {
			return err
		}
	}
}

func makeIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		idx[strings.TrimSpace(name)] = i
	}
	return idx
}
