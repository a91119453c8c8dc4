package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageCommit(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "weekday")
	stage, err := NewStage(dir)
	require.NoError(t, err)
	defer stage.Discard()

	require.NoError(t, stage.Write("routes.bin", func(w io.Writer) error {
		_, err := w.Write([]byte("RRT2"))
		return err
	}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "routes.bin.tmp-"))

	require.NoError(t, stage.Commit())

	data, err := os.ReadFile(filepath.Join(dir, "routes.bin"))
	require.NoError(t, err)
	assert.Equal(t, "RRT2", string(data))
	assert.Equal(t, int64(4), stage.Size())

	sum, err := FileChecksum(filepath.Join(dir, "routes.bin"))
	require.NoError(t, err)
	assert.Equal(t, sum, stage.Checksums()["routes.bin"])
}

func TestStageDiscardOnFailure(t *testing.T) {
	dir := t.TempDir()
	stage, err := NewStage(dir)
	require.NoError(t, err)

	require.NoError(t, stage.Write("routes.bin", func(w io.Writer) error {
		_, err := w.Write([]byte("partial"))
		return err
	}))
	err = stage.Write("stops.bin", func(w io.Writer) error {
		return errors.New("name too long")
	})
	require.Error(t, err)

	stage.Discard()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestManifestJSONKeysSorted(t *testing.T) {
	m := New(Inputs{Cohort: "weekday", FeedPath: "feed.zip", Mode: "default"}, Stats{Stops: 2, Routes: 1, Trips: 1, StopTimes: 2, Transfers: 2})
	m.Outputs["stops.bin"] = "b"
	m.Outputs["routes.bin"] = "a"

	var buf bytes.Buffer
	require.NoError(t, m.Encode(&buf))

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(buf.Bytes(), &raw))
	for _, key := range []string{"schema_version", "tool_version", "created_at", "inputs", "outputs", "stats", "build"} {
		assert.Contains(t, raw, key)
	}

	text := buf.String()
	assert.Less(t, strings.Index(text, `"build"`), strings.Index(text, `"created_at"`))
	assert.Less(t, strings.Index(text, `"routes.bin"`), strings.Index(text, `"stops.bin"`))

	_, err := uuid.Parse(m.Build.BuildID)
	assert.NoError(t, err)
}

func TestReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := New(Inputs{Cohort: "default"}, Stats{Stops: 3})
	m.Warnings["empty_name"] = 1

	f, err := os.Create(filepath.Join(dir, FileName))
	require.NoError(t, err)
	require.NoError(t, m.Encode(f))
	require.NoError(t, f.Close())

	got, err := Read(dir)
	require.NoError(t, err)
	assert.Equal(t, m.Stats, got.Stats)
	assert.Equal(t, m.Build.BuildID, got.Build.BuildID)
	assert.True(t, m.CreatedAt.Equal(got.CreatedAt))
}
