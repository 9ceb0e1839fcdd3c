package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"slotbook/utils"

	"go.uber.org/zap"
)

// entry is the serialized form of one cache record.
type entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	TTLMillis int64           `json:"ttl"`
}

// Lookup describes the outcome of a cache read that found an entry.
type Lookup struct {
	Expired  bool
	StoredAt time.Time
}

// Cache is a key/value cache with per-entry TTL. An expired entry is still
// returned (marked stale) until it is explicitly purged; callers decide
// whether stale data is acceptable. All payloads cross the boundary as JSON,
// so the cache never aliases live application objects.
type Cache struct {
	store  Store
	clock  utils.Clock
	logger *zap.Logger

	mu         sync.Mutex
	refreshing map[string]bool
}

func New(store Store, clock utils.Clock, logger *zap.Logger) *Cache {
	return &Cache{
		store:      store,
		clock:      clock,
		logger:     logger,
		refreshing: make(map[string]bool),
	}
}

// Set serializes payload and overwrites any existing entry for key. A write
// failure is fail-soft: the caller keeps the in-memory value for the current
// operation and only persistence across restarts is lost.
func (c *Cache) Set(ctx context.Context, key string, payload any, ttl time.Duration) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("cache set %q: marshal payload: %w", key, err)
	}
	raw, err := json.Marshal(entry{
		Data:      data,
		Timestamp: c.clock.Now().UnixMilli(),
		TTLMillis: ttl.Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("cache set %q: marshal entry: %w", key, err)
	}
	if err := c.store.Set(ctx, key, raw); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache set %q: %w", key, err)
	}
	return nil
}

// Get reads the entry for key into dest. It returns false when the key was
// never set, the stored bytes are corrupt, or dest cannot hold the payload.
// A corrupt entry is treated as absent, not as an error signal.
func (c *Cache) Get(ctx context.Context, key string, dest any) (Lookup, bool) {
	raw, found, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return Lookup{}, false
	}
	if !found {
		return Lookup{}, false
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.logger.Debug("corrupt cache entry dropped", zap.String("key", key), zap.Error(err))
		return Lookup{}, false
	}
	if dest != nil {
		if err := json.Unmarshal(e.Data, dest); err != nil {
			c.logger.Debug("corrupt cache payload dropped", zap.String("key", key), zap.Error(err))
			return Lookup{}, false
		}
	}
	storedAt := time.UnixMilli(e.Timestamp)
	expired := c.clock.Now().Sub(storedAt) > time.Duration(e.TTLMillis)*time.Millisecond
	return Lookup{Expired: expired, StoredAt: storedAt}, true
}

// Clear removes one entry. Clearing an absent key is a no-op.
func (c *Cache) Clear(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// ClearPrefix removes every entry whose key starts with prefix.
func (c *Cache) ClearPrefix(ctx context.Context, prefix string) error {
	return c.store.DeletePrefix(ctx, prefix)
}

// ClearAll removes every entry owned by this cache.
func (c *Cache) ClearAll(ctx context.Context) error {
	return c.store.Flush(ctx)
}
