package mempool

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultPrefix namespaces pool keys in Redis.
const DefaultPrefix = "evalfactory:pool"

// DefaultTimeout bounds one Redis operation.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the number of retry attempts on connection errors.
const DefaultRetries = 3

// RedisConfig configures the Redis pool backend.
type RedisConfig struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Prefix namespaces keys (default: evalfactory:pool).
	Prefix string
	// Timeout is the per-operation timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure (default 3).
	Retries int
}

// Redis is the shared pool backend for fleets of workers across hosts.
// Entries are msgpack values under prefixed fingerprint keys.
type Redis struct {
	config RedisConfig
	client *goredis.Client
}

// NewRedis creates a Redis pool backend from the given config.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis pool requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis pool: invalid URL: %w", err)
	}

	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries == 0 {
		cfg.Retries = DefaultRetries
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}

	return &Redis{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

func (r *Redis) key(fingerprint string) string {
	return r.config.Prefix + ":" + fingerprint
}

func (r *Redis) Lookup(ctx context.Context, fingerprint string) (*Entry, bool, error) {
	var raw []byte
	err := r.withRetry(ctx, func(opCtx context.Context) error {
		var err error
		raw, err = r.client.Get(opCtx, r.key(fingerprint)).Bytes()
		return err
	})
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis pool: lookup %s: %w", fingerprint, err)
	}

	var entry Entry
	if err := msgpack.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("redis pool: decode entry %s: %w", fingerprint, err)
	}
	return &entry, true, nil
}

func (r *Redis) Commit(ctx context.Context, fingerprint string, entry *Entry) error {
	raw, err := msgpack.Marshal(entry)
	if err != nil {
		return fmt.Errorf("redis pool: encode entry: %w", err)
	}

	err = r.withRetry(ctx, func(opCtx context.Context) error {
		return r.client.Set(opCtx, r.key(fingerprint), raw, 0).Err()
	})
	if err != nil {
		return fmt.Errorf("redis pool: commit %s: %w", fingerprint, err)
	}
	return nil
}

// withRetry runs op with exponential backoff on failures. A redis.Nil
// miss is returned immediately; it is not a transport failure.
func (r *Redis) withRetry(ctx context.Context, op func(context.Context) error) error {
	var lastErr error
	attempts := 1 + r.config.Retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Backoff before retries, not before the first attempt.
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		opCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
		lastErr = op(opCtx)
		cancel()

		if lastErr == nil || errors.Is(lastErr, goredis.Nil) {
			return lastErr
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

// Close releases the client connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

var _ Pool = (*Redis)(nil)
