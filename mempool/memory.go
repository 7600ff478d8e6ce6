package mempool

import (
	"context"
	"sync"
)

// Memory is the in-process pool backend. Entries do not survive the
// process; it serves single-run batches and tests.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemory creates an empty in-process pool.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

func (m *Memory) Lookup(_ context.Context, fingerprint string) (*Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[fingerprint]
	if !ok {
		return nil, false, nil
	}
	out := e
	return &out, true, nil
}

func (m *Memory) Commit(_ context.Context, fingerprint string, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[fingerprint] = *entry
	return nil
}

func (m *Memory) Close() error { return nil }

var _ Pool = (*Memory)(nil)
