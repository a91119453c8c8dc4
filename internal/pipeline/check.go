package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"raptorc/internal/manifest"
	"raptorc/internal/validate"
)

var ErrNoManifest = errors.New("no manifest.json found")

// CheckResult is the validation outcome of one output directory.
type CheckResult struct {
	Dir      string
	Manifest *manifest.Manifest
	Err      error
}

// OutputDirs returns root itself when it holds a manifest, otherwise every
// immediate subdirectory that does, sorted by name.
func OutputDirs(root string) ([]string, error) {
	if _, err := os.Stat(filepath.Join(root, manifest.FileName)); err == nil {
		return []string{root}, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read output root: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if _, err := os.Stat(filepath.Join(dir, manifest.FileName)); err == nil {
			dirs = append(dirs, dir)
		}
	}
	if len(dirs) == 0 {
		return nil, fmt.Errorf("%w under %s", ErrNoManifest, root)
	}
	slices.Sort(dirs)
	return dirs, nil
}

// ValidateOutput runs the post-encode checks on every output directory
// under root.
func (p *Pipeline) ValidateOutput(root string) ([]CheckResult, error) {
	dirs, err := OutputDirs(root)
	if err != nil {
		return nil, err
	}

	results := make([]CheckResult, 0, len(dirs))
	for _, dir := range dirs {
		m, _, err := validate.Output(dir)
		results = append(results, CheckResult{Dir: dir, Manifest: m, Err: err})
		if err != nil {
			p.logger.Error("output invalid", "dir", dir, "error", err)
			continue
		}
		p.logger.Info("output valid",
			"dir", dir,
			"build_id", m.Build.BuildID,
			"routes", m.Stats.Routes,
			"stops", m.Stats.Stops,
		)
	}
	return results, nil
}
