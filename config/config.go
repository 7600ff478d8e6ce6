// Package config handles YAML config file loading for evalfactory run.
package config

import (
	"fmt"
	"time"
)

// Default budgets. Flags and config may override.
const (
	DefaultRounds       = 10
	DefaultWorkers      = 4
	DefaultBuildTimeout = 30 * time.Minute
	DefaultRunTimeout   = 60 * time.Minute
	DefaultMinFixEdits  = 3
)

// Memory pool backend names.
const (
	PoolBackendMemory = "memory"
	PoolBackendFile   = "file"
	PoolBackendRedis  = "redis"
)

// Config represents an evalfactory.yaml configuration file.
// All values are optional and act as defaults for run flags.
// CLI flags always override config values.
type Config struct {
	Workers    int           `yaml:"workers"`
	Rounds     int           `yaml:"rounds"`
	OutputDir  string        `yaml:"output_dir"`
	WorkDir    string        `yaml:"work_dir"`
	StorePath  string        `yaml:"store_path"`
	Backend    BackendConfig `yaml:"backend"`
	Sandbox    SandboxConfig `yaml:"sandbox"`
	MemoryPool PoolConfig    `yaml:"memory_pool"`
	Archive    ArchiveConfig `yaml:"archive"`
	// MinFixEdits is the number of non-gold edits the minimal-fix check
	// seeds. An explicit 0 disables the check; unset defaults to
	// DefaultMinFixEdits.
	MinFixEdits  *int `yaml:"min_fix_edits,omitempty"`
	ForceRefresh bool `yaml:"force_refresh"`
}

// BackendConfig selects the generation backend invoked per stage.
type BackendConfig struct {
	// Command is the backend binary; it receives a JSON request on stdin
	// and writes the artifact to stdout.
	Command string `yaml:"command"`
	// Args are fixed arguments prepended before the per-stage flag.
	Args []string `yaml:"args,omitempty"`
	// Timeout bounds one backend invocation.
	Timeout Duration `yaml:"timeout,omitempty"`
}

// SandboxConfig holds sandbox execution defaults.
type SandboxConfig struct {
	// BuildTimeout bounds one image build.
	BuildTimeout Duration `yaml:"build_timeout"`
	// RunTimeout bounds one run-script execution.
	RunTimeout Duration `yaml:"run_timeout"`
	// Platform is the image build platform (default linux/amd64).
	Platform string `yaml:"platform"`
	// KeepImages disables image removal after validation, for debugging.
	KeepImages bool `yaml:"keep_images"`
}

// PoolConfig selects the memory pool backend.
type PoolConfig struct {
	// Backend is one of "memory", "file", or "redis".
	Backend string `yaml:"backend"`
	// Path is the snapshot file path for the file backend.
	Path string `yaml:"path,omitempty"`
	// URL is the Redis connection URL for the redis backend.
	URL string `yaml:"url,omitempty"`
	// Prefix namespaces pool keys in Redis.
	Prefix string `yaml:"prefix,omitempty"`
}

// ArchiveConfig holds optional S3 artifact archive settings.
type ArchiveConfig struct {
	// Bucket enables archiving when non-empty.
	Bucket string `yaml:"bucket,omitempty"`
	// Prefix is the key prefix within the bucket.
	Prefix string `yaml:"prefix,omitempty"`
	// Region is the AWS region (optional, uses default chain).
	Region string `yaml:"region,omitempty"`
	// Endpoint is a custom S3 endpoint for S3-compatible providers.
	Endpoint string `yaml:"endpoint,omitempty"`
	// UsePathStyle forces path-style addressing (R2, MinIO, etc.).
	UsePathStyle bool `yaml:"use_path_style,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// ApplyDefaults fills zero values with engine defaults.
func (c *Config) ApplyDefaults() {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.Rounds <= 0 {
		c.Rounds = DefaultRounds
	}
	if c.MinFixEdits == nil {
		edits := DefaultMinFixEdits
		c.MinFixEdits = &edits
	}
	if c.Sandbox.BuildTimeout.Duration <= 0 {
		c.Sandbox.BuildTimeout.Duration = DefaultBuildTimeout
	}
	if c.Sandbox.RunTimeout.Duration <= 0 {
		c.Sandbox.RunTimeout.Duration = DefaultRunTimeout
	}
	if c.Sandbox.Platform == "" {
		c.Sandbox.Platform = "linux/amd64"
	}
	if c.MemoryPool.Backend == "" {
		c.MemoryPool.Backend = PoolBackendMemory
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.MinFixEdits != nil && *c.MinFixEdits < 0 {
		return fmt.Errorf("min_fix_edits cannot be negative (0 disables the check)")
	}
	switch c.MemoryPool.Backend {
	case PoolBackendMemory:
	case PoolBackendFile:
		if c.MemoryPool.Path == "" {
			return fmt.Errorf("memory_pool.path is required for the file backend")
		}
	case PoolBackendRedis:
		if c.MemoryPool.URL == "" {
			return fmt.Errorf("memory_pool.url is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown memory_pool.backend: %s (must be memory, file, or redis)", c.MemoryPool.Backend)
	}
	return nil
}
