package validate

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raptorc/internal/domain"
	"raptorc/internal/fault"
	"raptorc/internal/issues"
	"raptorc/internal/manifest"
	"raptorc/internal/transfer"
	"raptorc/pkg/raptorbin"
)

func validModel() *domain.Model {
	return &domain.Model{
		Stops: []domain.Stop{
			{ID: 0, Name: "A", Lat: 0, Lon: 0},
			{ID: 1, Name: "B", Lat: 0, Lon: 0.01, Transfers: []domain.Transfer{{Target: 0, WalkTime: 60}}},
		},
		Routes: []domain.RoutePattern{{ID: 0, Name: "1", StopIDs: []uint32{0, 1}, Sequence: []int{1, 2}}},
		Trips:  []domain.Trip{{ID: 0, RouteID: 0, ServiceID: "WK", Times: []int64{0, 300}}},
	}
}

func codes(r *issues.Report, sev issues.Severity) []issues.Code {
	var out []issues.Code
	for _, i := range r.Issues() {
		if i.Severity == sev {
			out = append(out, i.Code)
		}
	}
	return out
}

func TestModelValid(t *testing.T) {
	r := Model(validModel())
	assert.Empty(t, r.Issues())
}

func TestModelFatalVersusWarning(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(m *domain.Model)
		fatal    []issues.Code
		warnings []issues.Code
	}{
		{
			name:   "latitude 91",
			mutate: func(m *domain.Model) { m.Stops[0].Lat = 91 },
			fatal:  []issues.Code{issues.InvalidCoordinate},
		},
		{
			name:     "decreasing times",
			mutate:   func(m *domain.Model) { m.Routes[0].StopIDs = []uint32{0, 1, 0}; m.Routes[0].Sequence = nil; m.Trips[0].Times = []int64{100, 90, 200} },
			warnings: []issues.Code{issues.DecreasingTimes},
		},
		{
			name:   "missing time",
			mutate: func(m *domain.Model) { m.Trips[0].Times[1] = domain.MissingTime },
			fatal:  []issues.Code{issues.MissingTime},
		},
		{
			name:   "unordered sequence",
			mutate: func(m *domain.Model) { m.Routes[0].Sequence = []int{3, 3} },
			fatal:  []issues.Code{issues.UnorderedSequence},
		},
		{
			name:   "trip to unknown route",
			mutate: func(m *domain.Model) { m.Trips[0].RouteID = 9 },
			fatal:  []issues.Code{issues.DanglingReference},
		},
		{
			name:   "route to unknown stop",
			mutate: func(m *domain.Model) { m.Routes[0].StopIDs[1] = 42 },
			fatal:  []issues.Code{issues.DanglingReference},
		},
		{
			name:   "transfer to unknown stop",
			mutate: func(m *domain.Model) { m.Stops[1].Transfers[0].Target = 42 },
			fatal:  []issues.Code{issues.DanglingReference},
		},
		{
			name:   "negative walk time",
			mutate: func(m *domain.Model) { m.Stops[1].Transfers[0].WalkTime = -5 },
			fatal:  []issues.Code{issues.NegativeWalkTime},
		},
		{
			name:   "single stop pattern",
			mutate: func(m *domain.Model) { m.Routes[0].StopIDs = []uint32{0}; m.Routes[0].Sequence = nil; m.Trips[0].Times = []int64{0} },
			fatal:  []issues.Code{issues.ShortPattern},
		},
		{
			name:   "time count mismatch",
			mutate: func(m *domain.Model) { m.Trips[0].Times = []int64{0, 1, 2} },
			fatal:  []issues.Code{issues.LengthMismatch},
		},
		{
			name:   "duplicate stop",
			mutate: func(m *domain.Model) { m.Stops = append(m.Stops, m.Stops[0]) },
			fatal:  []issues.Code{issues.DuplicateID},
		},
		{
			name:     "empty name",
			mutate:   func(m *domain.Model) { m.Stops[0].Name = "  " },
			warnings: []issues.Code{issues.EmptyName},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validModel()
			tt.mutate(m)
			r := Model(m)
			assert.Equal(t, tt.fatal, codes(r, issues.Fatal))
			assert.Equal(t, tt.warnings, codes(r, issues.Warning))
			if len(tt.fatal) > 0 {
				kind, ok := fault.KindOf(r.Err())
				assert.True(t, ok)
				assert.Equal(t, fault.Input, kind)
			} else {
				assert.NoError(t, r.Err())
			}
		})
	}
}

func TestTransfersExtreme(t *testing.T) {
	r := issues.NewReport()
	Transfers(transfer.Set{3: {{Target: 4, WalkTime: 3601}, {Target: 5, WalkTime: 3600}}}, Options{}, r)
	require.Len(t, r.Warnings(), 1)
	assert.Equal(t, issues.Stop(3), r.Warnings()[0].Entity)

	r = issues.NewReport()
	Transfers(transfer.Set{3: {{Target: 4, WalkTime: 200}}}, Options{ExtremeTransferSeconds: 120}, r)
	assert.Len(t, r.Warnings(), 1)
}

type encoded struct {
	routes, stops, index []byte
}

func encodeSample(t *testing.T) encoded {
	t.Helper()
	routes := []raptorbin.Route{
		{ID: 1, Name: "A", StopIDs: []uint32{1, 2}, Trips: []raptorbin.Trip{{ID: 1, Times: []int64{0, 60}}}},
		{ID: 2, Name: "B", StopIDs: []uint32{2, 3}, Trips: []raptorbin.Trip{{ID: 2, Times: []int64{0, 60}}}},
	}
	stops := []raptorbin.Stop{
		{ID: 1, Name: "s1", RouteIDs: []uint32{1}},
		{ID: 2, Name: "s2", RouteIDs: []uint32{1, 2}, Transfers: []raptorbin.Transfer{{Target: 3, WalkTime: 30}}},
		{ID: 3, Name: "s3", RouteIDs: []uint32{2}},
	}
	var rb, sb, ib bytes.Buffer
	ro, err := raptorbin.WriteRoutes(&rb, routes)
	require.NoError(t, err)
	so, err := raptorbin.WriteStops(&sb, stops)
	require.NoError(t, err)
	require.NoError(t, raptorbin.WriteIndex(&ib, raptorbin.BuildIndex(routes, stops, ro, so)))
	return encoded{rb.Bytes(), sb.Bytes(), ib.Bytes()}
}

func TestFilesValid(t *testing.T) {
	e := encodeSample(t)
	art, err := Files(e.routes, e.stops, e.index)
	require.NoError(t, err)
	assert.Len(t, art.Routes.Routes, 2)
	assert.Len(t, art.Stops.Stops, 3)
}

func TestFilesStructuralFailures(t *testing.T) {
	t.Run("bad magic", func(t *testing.T) {
		e := encodeSample(t)
		e.stops[0] = 'X'
		_, err := Files(e.routes, e.stops, e.index)
		assert.ErrorIs(t, err, raptorbin.ErrBadMagic)
		kind, _ := fault.KindOf(err)
		assert.Equal(t, fault.Structural, kind)
	})

	t.Run("offset pointing at wrong record", func(t *testing.T) {
		e := encodeSample(t)
		idx, err := raptorbin.DecodeIndex(e.index)
		require.NoError(t, err)
		idx.RouteOffsets[1].Offset = idx.RouteOffsets[0].Offset

		var ib bytes.Buffer
		require.NoError(t, raptorbin.WriteIndex(&ib, idx))
		_, err = Files(e.routes, e.stops, ib.Bytes())
		assert.ErrorIs(t, err, raptorbin.ErrOffsetMismatch)
	})

	t.Run("index disagrees with stops", func(t *testing.T) {
		e := encodeSample(t)
		idx, err := raptorbin.DecodeIndex(e.index)
		require.NoError(t, err)
		idx.StopToRoutes[0].RouteIDs = []uint32{1, 2}

		var ib bytes.Buffer
		require.NoError(t, raptorbin.WriteIndex(&ib, idx))
		_, err = Files(e.routes, e.stops, ib.Bytes())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "stop 1")
	})

	t.Run("declared count too high", func(t *testing.T) {
		e := encodeSample(t)
		binary.LittleEndian.PutUint32(e.routes[6:], 3)
		_, err := Files(e.routes, e.stops, e.index)
		assert.ErrorIs(t, err, raptorbin.ErrTruncated)
	})
}

func writeOutput(t *testing.T, dir string, e encoded) {
	t.Helper()
	stage, err := manifest.NewStage(dir)
	require.NoError(t, err)
	defer stage.Discard()

	for name, data := range map[string][]byte{
		raptorbin.RoutesFileName: e.routes,
		raptorbin.StopsFileName:  e.stops,
		raptorbin.IndexFileName:  e.index,
	} {
		data := data
		require.NoError(t, stage.Write(name, func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		}))
	}

	m := manifest.New(manifest.Inputs{Cohort: "default"}, manifest.Stats{Stops: 3, Routes: 2, Trips: 2, StopTimes: 4, Transfers: 1})
	m.Outputs = stage.Checksums()
	require.NoError(t, stage.Write(manifest.FileName, m.Encode))
	require.NoError(t, stage.Commit())
}

func TestOutput(t *testing.T) {
	dir := t.TempDir()
	writeOutput(t, dir, encodeSample(t))

	m, art, err := Output(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Stats.Stops)
	assert.Len(t, art.Index.RouteOffsets, 2)
}

func TestOutputChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	writeOutput(t, dir, encodeSample(t))

	path := filepath.Join(dir, raptorbin.StopsFileName)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, _, err = Output(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")

	var fe *fault.Error
	assert.True(t, errors.As(err, &fe))
	assert.Equal(t, fault.Structural, fe.Kind)
}

func TestOutputMissingManifest(t *testing.T) {
	_, _, err := Output(t.TempDir())
	kind, ok := fault.KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, fault.Structural, kind)
}
