// Package manifest describes a compiled cohort directory and writes its
// files atomically.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
)

const FileName = "manifest.json"

// InvalidFileName is where MarkInvalid moves the manifest of a directory
// that failed its checks.
const InvalidFileName = FileName + ".invalid"

// SchemaVersion follows the binary schema of the artifacts it describes.
const SchemaVersion = 2

// ToolVersion is overridden at link time with -ldflags "-X".
var ToolVersion = "0.4.0"

type TransferParams struct {
	Enabled     bool    `json:"enabled"`
	MaxDistance float64 `json:"max_distance_m"`
	WalkSpeed   float64 `json:"walk_speed_mps"`
}

type Inputs struct {
	Cohort         string         `json:"cohort"`
	FeedPath       string         `json:"feed_path"`
	Fingerprint    string         `json:"fingerprint,omitempty"`
	Mode           string         `json:"mode"`
	ServiceIDs     []string       `json:"service_ids"`
	SplitByPeriods bool           `json:"split_by_periods"`
	Transfers      TransferParams `json:"transfers"`
}

type Stats struct {
	Routes    int `json:"routes"`
	StopTimes int `json:"stop_times"`
	Stops     int `json:"stops"`
	Transfers int `json:"transfers"`
	Trips     int `json:"trips"`
}

type Build struct {
	Arch      string `json:"arch"`
	BuildID   string `json:"build_id"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
}

// Manifest fields are declared in key order so the JSON output is sorted.
type Manifest struct {
	Build         Build             `json:"build"`
	CreatedAt     time.Time         `json:"created_at"`
	Inputs        Inputs            `json:"inputs"`
	Outputs       map[string]string `json:"outputs"`
	SchemaVersion int               `json:"schema_version"`
	Stats         Stats             `json:"stats"`
	ToolVersion   string            `json:"tool_version"`
	Warnings      map[string]int    `json:"warnings"`
}

// New returns a manifest stamped with a fresh build id and the current
// environment.
func New(inputs Inputs, stats Stats) *Manifest {
	return &Manifest{
		Build: Build{
			Arch:      runtime.GOARCH,
			BuildID:   uuid.New().String(),
			GoVersion: runtime.Version(),
			OS:        runtime.GOOS,
		},
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
		Inputs:        inputs,
		Outputs:       make(map[string]string),
		SchemaVersion: SchemaVersion,
		Stats:         stats,
		ToolVersion:   ToolVersion,
		Warnings:      make(map[string]int),
	}
}

func (m *Manifest) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

// Read loads dir/manifest.json.
func Read(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", FileName, err)
	}
	return &m, nil
}

// MarkInvalid renames dir/manifest.json so the directory no longer loads as
// a compiled cohort. The files stay in place for inspection.
func MarkInvalid(dir string) error {
	return os.Rename(filepath.Join(dir, FileName), filepath.Join(dir, InvalidFileName))
}

// Checksum returns the hex sha256 of everything read from r.
func Checksum(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FileChecksum returns the hex sha256 of a file.
func FileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return Checksum(f)
}
