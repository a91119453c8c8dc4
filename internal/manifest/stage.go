package manifest

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

type stagedFile struct {
	name string
	tmp  string
	size int64
	sum  string
}

// Stage writes files next to their final location under temporary names and
// renames them into place only on Commit. Discard removes whatever was
// staged; after a successful Commit it does nothing.
type Stage struct {
	dir       string
	suffix    string
	files     []stagedFile
	committed bool
}

func NewStage(dir string) (*Stage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Stage{
		dir:    dir,
		suffix: ".tmp-" + uuid.New().String()[:8],
	}, nil
}

// Write stages one file produced by fn and records its checksum and size.
func (s *Stage) Write(name string, fn func(w io.Writer) error) error {
	path := filepath.Join(s.dir, name)
	tmpPath := path + s.suffix

	f, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	h := sha256.New()
	counter := &countingWriter{}
	bw := bufio.NewWriterSize(io.MultiWriter(f, h, counter), 64<<10)

	writeErr := fn(bw)
	flushErr := bw.Flush()
	syncErr := f.Sync()
	closeErr := f.Close()
	if err := errors.Join(writeErr, flushErr, syncErr, closeErr); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", name, err)
	}

	s.files = append(s.files, stagedFile{
		name: name,
		tmp:  tmpPath,
		size: counter.n,
		sum:  hex.EncodeToString(h.Sum(nil)),
	})
	return nil
}

// Checksums maps each staged file name to its hex sha256.
func (s *Stage) Checksums() map[string]string {
	out := make(map[string]string, len(s.files))
	for _, f := range s.files {
		out[f.name] = f.sum
	}
	return out
}

// Size returns the total number of bytes staged.
func (s *Stage) Size() int64 {
	var n int64
	for _, f := range s.files {
		n += f.size
	}
	return n
}

// Commit renames every staged file into place in staging order.
func (s *Stage) Commit() error {
	for i, f := range s.files {
		if err := os.Rename(f.tmp, filepath.Join(s.dir, f.name)); err != nil {
			for _, rest := range s.files[i:] {
				_ = os.Remove(rest.tmp)
			}
			for _, done := range s.files[:i] {
				_ = os.Remove(filepath.Join(s.dir, done.name))
			}
			s.files = nil
			return fmt.Errorf("commit %s: %w", f.name, err)
		}
	}
	s.committed = true
	return nil
}

func (s *Stage) Discard() {
	if s.committed {
		return
	}
	for _, f := range s.files {
		_ = os.Remove(f.tmp)
	}
	s.files = nil
}

type countingWriter struct {
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}
