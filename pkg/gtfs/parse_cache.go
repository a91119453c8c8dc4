package gtfs

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"raptorc/internal/domain"
)

// cacheFormat is bumped whenever domain.Model changes shape.
const cacheFormat = 1

// Fingerprint hashes the feed files the reader consumes, in a fixed order,
// so the same feed yields the same key whether zipped or unpacked.
func Fingerprint(fsys fs.FS) (string, error) {
	h := sha256.New()
	var lenBuf [8]byte

	files := append(append([]string{}, requiredFiles...), optionalFiles...)
	for _, name := range files {
		f, err := fsys.Open(name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", err
		}

		_, _ = io.WriteString(h, name)
		n, err := io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("fingerprint %s: %w", name, err)
		}
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(n))
		h.Write(lenBuf[:])
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func parsedCachePath(cacheDir, fingerprint string) string {
	return filepath.Join(cacheDir, fmt.Sprintf("gtfs_model_v%d_%s.gob.gz", cacheFormat, fingerprint))
}

// LoadModel returns the cached model for fingerprint. A miss returns an
// error wrapping fs.ErrNotExist.
func LoadModel(cacheDir, fingerprint string) (*domain.Model, string, error) {
	path := parsedCachePath(cacheDir, fingerprint)
	f, err := os.Open(path)
	if err != nil {
		return nil, path, err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, path, err
	}
	defer zr.Close()

	var model domain.Model
	if err := gob.NewDecoder(zr).Decode(&model); err != nil {
		return nil, path, err
	}

	if len(model.Stops) == 0 && len(model.Trips) == 0 {
		return nil, path, fmt.Errorf("parsed cache is incomplete")
	}

	return &model, path, nil
}

func SaveModel(cacheDir, fingerprint string, model *domain.Model) (string, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", err
	}

	path := parsedCachePath(cacheDir, fingerprint)
	tmpPath := path + ".tmp-" + uuid.NewString()[:8]

	f, err := os.Create(tmpPath)
	if err != nil {
		return "", err
	}

	zw, err := gzip.NewWriterLevel(f, gzip.BestSpeed)
	if err != nil {
		f.Close()
		_ = os.Remove(tmpPath)
		return "", err
	}

	encErr := gob.NewEncoder(zw).Encode(model)
	closeErr := zw.Close()
	fileCloseErr := f.Close()
	if err := errors.Join(encErr, closeErr, fileCloseErr); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}

	return path, nil
}
