package mempool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// File is a pool backend snapshotted to a msgpack file. Every commit
// rewrites the snapshot through a temp-file rename, so readers never
// observe a partial write.
type File struct {
	path string

	mu      sync.RWMutex
	entries map[string]Entry
}

// NewFile opens a file-backed pool, loading an existing snapshot when
// present.
func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, errors.New("file pool requires a path")
	}
	f := &File{path: path, entries: make(map[string]Entry)}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, fmt.Errorf("read pool snapshot %s: %w", path, err)
	}
	if err := msgpack.Unmarshal(raw, &f.entries); err != nil {
		return nil, fmt.Errorf("decode pool snapshot %s: %w", path, err)
	}
	return f, nil
}

func (f *File) Lookup(_ context.Context, fingerprint string) (*Entry, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.entries[fingerprint]
	if !ok {
		return nil, false, nil
	}
	out := e
	return &out, true, nil
}

func (f *File) Commit(_ context.Context, fingerprint string, entry *Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.entries[fingerprint] = *entry
	return f.flushLocked()
}

// flushLocked writes the snapshot atomically. Caller holds f.mu.
func (f *File) flushLocked() error {
	raw, err := msgpack.Marshal(f.entries)
	if err != nil {
		return fmt.Errorf("encode pool snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create pool directory: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write pool snapshot: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace pool snapshot: %w", err)
	}
	return nil
}

func (f *File) Close() error { return nil }

var _ Pool = (*File)(nil)
