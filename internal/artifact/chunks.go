package artifact

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"ratingcast/internal/table"
)

// ChunkWriter collects the pages of a streamed fetch as chunk_<n>.csv files.
// Pages land in "<name>.partial" and the directory is renamed to its final
// name by Commit, so a fetch cut short never satisfies Exists.
type ChunkWriter struct {
	store   *Store
	name    string
	partial string
	n       int
}

// NewChunkWriter starts a fresh chunk directory for name, discarding any
// partial directory left by an earlier interrupted run.
func (s *Store) NewChunkWriter(name string) (*ChunkWriter, error) {
	partial := s.Path(name + partialSuffix)
	if err := os.RemoveAll(partial); err != nil {
		return nil, fmt.Errorf("artifact: clear %s: %w", partial, err)
	}
	if err := EnsureDir(partial); err != nil {
		return nil, err
	}
	return &ChunkWriter{store: s, name: name, partial: partial}, nil
}

// Write stores one page as the next chunk file.
func (w *ChunkWriter) Write(page *table.Table) error {
	file := chunkName(w.n)
	if err := writeAtomic(w.partial, file, func(out io.Writer) error {
		return table.WriteCSV(out, page)
	}); err != nil {
		return err
	}
	w.n++
	return nil
}

// Count returns the number of chunks written so far.
func (w *ChunkWriter) Count() int { return w.n }

// Commit publishes the chunk directory under its final name.
func (w *ChunkWriter) Commit() error {
	if w.n == 0 {
		return fmt.Errorf("artifact: commit %s: no chunks written", w.name)
	}
	final := w.store.Path(w.name)
	// An empty directory from an interrupted run may occupy the final name.
	if err := os.Remove(final); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("artifact: clear %s: %w", final, err)
	}
	if err := os.Rename(w.partial, final); err != nil {
		return fmt.Errorf("artifact: commit %s: %w", w.name, err)
	}
	return nil
}

// Abort removes the partial directory.
func (w *ChunkWriter) Abort() error {
	return os.RemoveAll(w.partial)
}

// ReadChunks merges every chunk file of the directory artifact name, in
// chunk order, into one table.
func (s *Store) ReadChunks(name string) (*table.Table, error) {
	dir := s.Path(name)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("artifact: read %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("artifact: list %s: %w", name, err)
	}
	type chunk struct {
		file string
		n    int
	}
	var files []chunk
	for _, e := range entries {
		if !e.Type().IsRegular() || isTemp(e.Name()) {
			continue
		}
		if n, ok := chunkIndex(e.Name()); ok {
			files = append(files, chunk{e.Name(), n})
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("artifact: read %s: %w", name, ErrNotFound)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].n < files[j].n })

	parts := make([]*table.Table, 0, len(files))
	for _, c := range files {
		t, err := New(dir).ReadTable(c.file)
		if err != nil {
			return nil, err
		}
		parts = append(parts, t)
	}
	merged, err := table.Concat(parts...)
	if err != nil {
		return nil, fmt.Errorf("artifact: merge %s: %w", name, err)
	}
	return merged, nil
}

func chunkName(n int) string {
	return fmt.Sprintf("chunk_%06d.csv", n)
}

// chunkIndex parses the page number out of a chunk file name. The padding
// is a minimum width, so order comes from the number, not the name.
func chunkIndex(file string) (int, bool) {
	digits, ok := strings.CutPrefix(file, "chunk_")
	if !ok {
		return 0, false
	}
	digits, ok = strings.CutSuffix(digits, ".csv")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ChunkPath returns the location of the n-th chunk of directory artifact name.
func (s *Store) ChunkPath(name string, n int) string {
	return filepath.Join(s.Path(name), chunkName(n))
}
