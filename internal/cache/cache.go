// Package cache provides a pluggable TTL cache used for permission
// decisions, aggregated statistics and signature nonces.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrUnknownKind is returned by New for an unrecognized backend kind.
var ErrUnknownKind = errors.New("cache: unknown kind")

// Stats is a point-in-time snapshot of cache effectiveness counters.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Size      int    `json:"size"`
	Evictions uint64 `json:"evictions"`
}

// Cache is a best-effort byte cache. Lookups report absence rather than
// backend failures: a Redis outage degrades to a miss so callers fall
// through to the authoritative store.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Has(ctx context.Context, key string) bool

	// ClearPrefix removes every key beginning with prefix. Used to
	// invalidate whole namespaces, e.g. all permission decisions after
	// a role mutation.
	ClearPrefix(ctx context.Context, prefix string)

	// Clear removes every entry.
	Clear(ctx context.Context)

	Stats() Stats
	Close() error
}

// Key joins namespace and parts into a colon-delimited cache key.
func Key(namespace string, parts ...string) string {
	k := namespace
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// Options selects and configures a backend.
type Options struct {
	Kind string // "memory", "redis" or "none"

	TTL     time.Duration // default entry lifetime when Set receives ttl <= 0
	MaxSize int           // memory backend entry cap, 0 means unbounded

	RedisAddr     string
	RedisDB       int
	RedisPassword string
}

// New builds the configured cache backend.
func New(opts Options) (Cache, error) {
	switch opts.Kind {
	case "memory":
		return NewMemory(opts.TTL, opts.MaxSize), nil
	case "redis":
		return NewRedis(opts)
	case "none", "":
		return Noop{}, nil
	default:
		return nil, ErrUnknownKind
	}
}
