// Package artifact is the local cache every pipeline stage is gated on.
//
// An artifact is a file (or a directory of chunk files) under the cache
// directory, named deterministically from the logical table name. Writes go
// through a temp file in the same directory followed by a rename, so an
// interrupted write never leaves something that Exists would accept.
package artifact

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"ratingcast/internal/table"
)

// ErrNotFound is returned when reading an artifact that is not present.
var ErrNotFound = errors.New("artifact not found")

// DefaultCacheDir is the cache root used when the configuration names none.
const DefaultCacheDir = ".ratingcast/cache"

const (
	tmpMarker     = ".tmp-"
	partialSuffix = ".partial"
)

// Store reads and writes artifacts under Dir.
type Store struct {
	Dir string
}

// New returns a Store rooted at dir. The directory is created lazily by
// EnsureDir or the first write.
func New(dir string) *Store {
	return &Store{Dir: dir}
}

// EnsureDir creates dir and its parents; an existing directory is not an error.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("artifact: create dir %s: %w", dir, err)
	}
	return nil
}

// EnsureDir creates the store's cache directory.
func (s *Store) EnsureDir() error {
	return EnsureDir(s.Dir)
}

// Path returns the on-disk location of the artifact called name.
func (s *Store) Path(name string) string {
	return filepath.Join(s.Dir, name)
}

// Exists reports whether the artifact called name is present and usable.
// A file must be non-empty. A directory must hold at least one non-empty
// regular file that is not a leftover temp file; an empty directory left by
// an interrupted fetch does not count.
func (s *Store) Exists(name string) (bool, error) {
	info, err := os.Stat(s.Path(name))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("artifact: stat %s: %w", name, err)
	}
	if !info.IsDir() {
		return info.Mode().IsRegular() && info.Size() > 0, nil
	}
	return hasContent(s.Path(name))
}

func hasContent(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, fmt.Errorf("artifact: list %s: %w", dir, err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() || isTemp(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.Size() > 0 {
			return true, nil
		}
	}
	return false, nil
}

func isTemp(name string) bool {
	return strings.Contains(name, tmpMarker)
}

// ReadTable loads a table artifact. A missing artifact wraps ErrNotFound.
func (s *Store) ReadTable(name string) (*table.Table, error) {
	f, err := os.Open(s.Path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("artifact: read %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("artifact: open %s: %w", name, err)
	}
	defer f.Close()
	t, err := table.ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("artifact: decode %s: %w", name, err)
	}
	return t, nil
}

// WriteTable serializes t to the artifact called name. The store does not
// refuse to overwrite; callers check Exists first.
func (s *Store) WriteTable(name string, t *table.Table) error {
	return s.WriteStream(name, func(w io.Writer) error {
		return table.WriteCSV(w, t)
	})
}

// WriteBinary stores raw bytes (a rendered plot, a text report).
func (s *Store) WriteBinary(name string, data []byte) error {
	return s.WriteStream(name, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// ReadBinary returns the bytes of the artifact called name.
func (s *Store) ReadBinary(name string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("artifact: read %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("artifact: read %s: %w", name, err)
	}
	return data, nil
}

// WriteStream writes the artifact called name through a temp file that is
// renamed into place only after write returns nil.
func (s *Store) WriteStream(name string, write func(io.Writer) error) error {
	return writeAtomic(s.Dir, name, write)
}

func writeAtomic(dir, name string, write func(io.Writer) error) error {
	if err := EnsureDir(dir); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, name+tmpMarker+"*")
	if err != nil {
		return fmt.Errorf("artifact: create temp for %s: %w", name, err)
	}
	tmp := f.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmp)
		}
	}()

	if err := write(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("artifact: write %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("artifact: sync %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("artifact: close %s: %w", name, err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		return fmt.Errorf("artifact: chmod %s: %w", name, err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("artifact: rename %s: %w", name, err)
	}
	committed = true
	return nil
}
