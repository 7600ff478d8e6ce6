// Package mempool shares validated environment artifacts across task
// instances of the same repository version, so one instance's accepted
// environment seeds every sibling's first round.
package mempool

import (
	"context"
	"fmt"
	"time"

	"github.com/evalfactory/evalfactory/config"
)

// Entry is one pool record: the reusable artifacts validated for a
// repository version, keyed by its fingerprint.
type Entry struct {
	// Repo is the repository identifier.
	Repo string `msgpack:"repo" json:"repo"`
	// Version is the repository version string the entry was validated at.
	Version string `msgpack:"version" json:"version"`
	// EnvironmentSpec is the accepted environment specification.
	EnvironmentSpec string `msgpack:"environment_spec" json:"environment_spec"`
	// RunScript is the accepted run script.
	RunScript string `msgpack:"run_script" json:"run_script"`
	// InstanceID identifies the instance that produced the entry.
	InstanceID string `msgpack:"instance_id" json:"instance_id"`
	// CreatedAt is when the entry was committed (UTC).
	CreatedAt time.Time `msgpack:"created_at" json:"created_at"`
}

// Pool is the cross-instance memory backend.
type Pool interface {
	// Lookup fetches the entry for a fingerprint. The second return is
	// false on a miss.
	Lookup(ctx context.Context, fingerprint string) (*Entry, bool, error)

	// Commit stores an entry under a fingerprint, replacing any
	// previous one.
	Commit(ctx context.Context, fingerprint string, entry *Entry) error

	// Close flushes and releases the backend.
	Close() error
}

// New builds the pool backend selected by the configuration.
func New(cfg config.PoolConfig) (Pool, error) {
	switch cfg.Backend {
	case config.PoolBackendMemory:
		return NewMemory(), nil
	case config.PoolBackendFile:
		return NewFile(cfg.Path)
	case config.PoolBackendRedis:
		return NewRedis(RedisConfig{URL: cfg.URL, Prefix: cfg.Prefix})
	default:
		return nil, fmt.Errorf("unknown memory pool backend %q", cfg.Backend)
	}
}
