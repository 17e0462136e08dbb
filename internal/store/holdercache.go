// Package store persists TC-owned state: the tc_session table (system of
// record, via Postgres) and a write-only Redis mirror of "who holds each
// lock class right now". The control CLI's show-lock does not read the
// mirror; it asks the coordinator process.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// HolderEntry is the published snapshot of a lock class's current holder.
type HolderEntry struct {
	Session    uint32 `json:"session"`
	ConfigID   uint32 `json:"config_id"`
	AcquiredAt int64  `json:"acquired_at"`
}

// HolderCacheConfig tunes the Redis mirror's TTL and operation timeouts.
type HolderCacheConfig struct {
	// TTL bounds how stale a cached holder entry may be if the coordinator
	// crashes without clearing it. The coordinator writes an entry on each
	// acquire and does not refresh it while the lock stays held, so a
	// holder kept longer than TTL drops out of the cache.
	TTL            time.Duration
	OperationTimeout time.Duration
	KeyPrefix      string
}

// DefaultHolderCacheConfig returns sane defaults for the mirror.
func DefaultHolderCacheConfig() *HolderCacheConfig {
	return &HolderCacheConfig{
		TTL:              1 * time.Hour,
		OperationTimeout: 2 * time.Second,
		KeyPrefix:        "tc:holder:",
	}
}

// HolderCache is a Redis-backed mirror of Lock Manager holder state. It is
// never the arbiter of exclusion — the Lock Manager's in-process mutex is.
// Nothing in this module reads it back through Lookup; tcctl show-lock is
// served from the Lock Manager by tcd's status endpoint.
type HolderCache struct {
	redis  *redis.Client
	config *HolderCacheConfig
	logger *slog.Logger
}

// NewHolderCache builds a HolderCache bound to an existing redis client.
func NewHolderCache(client *redis.Client, config *HolderCacheConfig, logger *slog.Logger) *HolderCache {
	if config == nil {
		config = DefaultHolderCacheConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HolderCache{redis: client, config: config, logger: logger}
}

func (c *HolderCache) key(opClass string) string {
	return c.config.KeyPrefix + opClass
}

// Publish records the current holder of an operation class. Called by the
// Lock Manager after every successful Acquire, mirroring the persisted
// tc_session row.
func (c *HolderCache) Publish(ctx context.Context, opClass string, entry HolderEntry) error {
	opCtx, cancel := context.WithTimeout(ctx, c.config.OperationTimeout)
	defer cancel()

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal holder entry: %w", err)
	}

	if err := c.redis.Set(opCtx, c.key(opClass), payload, c.config.TTL).Err(); err != nil {
		c.logger.Warn("holder cache publish failed", "op_class", opClass, "error", err)
		return fmt.Errorf("publish holder entry: %w", err)
	}
	return nil
}

// Clear removes the cached holder for an operation class on release. Best
// effort: a failure here never blocks the in-memory release path, since the
// Lock Manager's mutex state is authoritative.
func (c *HolderCache) Clear(ctx context.Context, opClass string) error {
	opCtx, cancel := context.WithTimeout(ctx, c.config.OperationTimeout)
	defer cancel()

	if err := c.redis.Del(opCtx, c.key(opClass)).Err(); err != nil {
		c.logger.Warn("holder cache clear failed", "op_class", opClass, "error", err)
		return fmt.Errorf("clear holder entry: %w", err)
	}
	return nil
}

// Lookup returns the cached holder for an operation class, or ok=false if
// no entry is cached (the class is free, or the cache itself is cold).
func (c *HolderCache) Lookup(ctx context.Context, opClass string) (entry HolderEntry, ok bool, err error) {
	opCtx, cancel := context.WithTimeout(ctx, c.config.OperationTimeout)
	defer cancel()

	raw, err := c.redis.Get(opCtx, c.key(opClass)).Bytes()
	if err == redis.Nil {
		return HolderEntry{}, false, nil
	}
	if err != nil {
		return HolderEntry{}, false, fmt.Errorf("lookup holder entry: %w", err)
	}

	if err := json.Unmarshal(raw, &entry); err != nil {
		return HolderEntry{}, false, fmt.Errorf("decode holder entry: %w", err)
	}
	return entry, true, nil
}

// Close releases the underlying Redis client.
func (c *HolderCache) Close() error {
	return c.redis.Close()
}
