package gtfs

import (
	"fmt"
	"time"

	"raptorc/internal/domain"
)

// Load opens the feed at path and returns its model together with the
// feed fingerprint. When cacheDir is set a cached model for the same
// fingerprint is reused and fresh parses are written back.
func (r *Reader) Load(path, cacheDir string) (*domain.Model, string, error) {
	feed, err := Open(path)
	if err != nil {
		return nil, "", err
	}
	defer feed.Close()

	start := time.Now()
	fingerprint, err := Fingerprint(feed.FS)
	if err != nil {
		return nil, "", fmt.Errorf("fingerprint feed: %w", err)
	}
	r.logger.Debug("computed feed fingerprint",
		"fingerprint", fingerprint,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if cacheDir != "" {
		model, cachePath, err := LoadModel(cacheDir, fingerprint)
		if err == nil {
			r.logger.Info("using cached parsed model", "path", cachePath)
			return model, fingerprint, nil
		}
		r.logger.Debug("parse cache miss", "path", cachePath, "error", err)
	}

	model, err := r.Read(feed.FS)
	if err != nil {
		return nil, "", err
	}

	if cacheDir != "" {
		if cachePath, err := SaveModel(cacheDir, fingerprint, model); err != nil {
			r.logger.Warn("failed to save parse cache", "error", err)
		} else {
			r.logger.Debug("saved parse cache", "path", cachePath)
		}
	}
	return model, fingerprint, nil
}
