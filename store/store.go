// Package store persists terminal result records as append-only JSONL.
//
// The file is the source of truth for idempotence: a record present in
// the store means its instance was processed and must not be reprocessed.
// A flock-guarded append keeps concurrent engine processes on a shared
// filesystem from interleaving lines.
package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/evalfactory/evalfactory/types"
)

// ErrDuplicate is returned when appending a record whose instance is
// already stored.
var ErrDuplicate = errors.New("record already stored for instance")

// JSONL is a file-backed result store. One JSON record per line, never
// rewritten.
type JSONL struct {
	path string
	lock *flock.Flock

	mu      sync.RWMutex
	records map[string]*types.ResultRecord
	order   []string
}

// Open loads an existing store or creates an empty one. Records already
// on disk are indexed for Has/Get so interrupted batches resume where
// they stopped.
func Open(path string) (*JSONL, error) {
	if path == "" {
		return nil, errors.New("store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	s := &JSONL{
		path:    path,
		lock:    flock.New(path + ".lock"),
		records: make(map[string]*types.ResultRecord),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONL) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open store %s: %w", s.path, err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec types.ResultRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("store %s line %d: %w", s.path, lineNo, err)
		}
		if _, dup := s.records[rec.InstanceID]; !dup {
			s.order = append(s.order, rec.InstanceID)
		}
		s.records[rec.InstanceID] = &rec
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read store %s: %w", s.path, err)
	}
	return nil
}

// Append writes one record. Records are immutable once appended;
// appending the same instance twice is ErrDuplicate.
func (s *JSONL) Append(rec *types.ResultRecord) error {
	if rec == nil || rec.InstanceID == "" {
		return errors.New("record requires an instance id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.InstanceID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, rec.InstanceID)
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.InstanceID, err)
	}

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock store: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open store for append: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("append record %s: %w", rec.InstanceID, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync store: %w", err)
	}

	stored := *rec
	s.records[rec.InstanceID] = &stored
	s.order = append(s.order, rec.InstanceID)
	return nil
}

// Has reports whether a record exists for the instance.
func (s *JSONL) Has(instanceID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[instanceID]
	return ok
}

// Get returns the stored record for an instance.
func (s *JSONL) Get(instanceID string) (*types.ResultRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[instanceID]
	if !ok {
		return nil, false
	}
	out := *rec
	return &out, true
}

// All returns every record in append order.
func (s *JSONL) All() []*types.ResultRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.ResultRecord, 0, len(s.order))
	for _, id := range s.order {
		rec := *s.records[id]
		out = append(out, &rec)
	}
	return out
}

// Len returns the number of stored records.
func (s *JSONL) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
