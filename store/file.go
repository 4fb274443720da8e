package store

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/brunobiangulo/goecl/trace"
)

// FileStore keeps one JSON file per pipeline trace in a directory. Writes go
// to a temporary file that is renamed into place, so readers never observe a
// partial trace.
type FileStore struct {
	dir    string
	mu     sync.RWMutex
	closed bool
}

var _ trace.Store = (*FileStore)(nil)

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating trace directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory traces are written to.
func (s *FileStore) Dir() string { return s.dir }

// Path returns the file a trace with the given id is stored at.
func (s *FileStore) Path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Put writes t to <dir>/<pipeline_id>.json atomically.
func (s *FileStore) Put(ctx context.Context, t *trace.PipelineTrace) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkID(t.PipelineID); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding trace: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".trace-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing trace: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing trace: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing trace: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path(t.PipelineID)); err != nil {
		return fmt.Errorf("renaming trace: %w", err)
	}
	return nil
}

// Get reads the trace with the given id.
func (s *FileStore) Get(ctx context.Context, id string) (*trace.PipelineTrace, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	data, err := os.ReadFile(s.Path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return decode(data)
}

// List returns up to limit traces ordered by timestamp, most recent first.
// Files that cannot be decoded are skipped with a warning.
func (s *FileStore) List(ctx context.Context, limit int) ([]trace.PipelineTrace, error) {
	return s.list(ctx, limit, func(*trace.PipelineTrace) bool { return true })
}

// ListByDocument returns traces with the given document hash.
func (s *FileStore) ListByDocument(ctx context.Context, documentHash string, limit int) ([]trace.PipelineTrace, error) {
	return s.list(ctx, limit, func(t *trace.PipelineTrace) bool { return t.DocumentHash == documentHash })
}

func (s *FileStore) list(ctx context.Context, limit int, keep func(*trace.PipelineTrace) bool) ([]trace.PipelineTrace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	out := []trace.PipelineTrace{}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, err
		}
		t, err := decode(data)
		if err != nil {
			slog.Warn("store: skipping unreadable trace", "file", name, "error", err)
			continue
		}
		if keep(t) {
			out = append(out, *t)
		}
	}

	slices.SortFunc(out, func(a, b trace.PipelineTrace) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(b.PipelineID, a.PipelineID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close marks the store closed. Later calls fail with ErrClosed.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
