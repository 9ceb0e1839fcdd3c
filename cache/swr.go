package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// GetOrFetch is the stale-while-revalidate read path shared by every cached
// resource:
//
//   - fresh entry: served immediately, no fetch.
//   - stale entry: served immediately AND exactly one background refresh is
//     started for the key; concurrent stale reads do not stack refreshes.
//   - absent entry: fetch synchronously, store, return.
//
// Background refresh failures are logged and never surface to the caller;
// the last known good entry keeps being served. The fetch callback receives
// background=true on the revalidation leg; implementations must keep that
// leg out of user-facing error reporting and foreground request channels.
func GetOrFetch[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fetch func(ctx context.Context, background bool) (T, error)) (T, error) {
	var cached T
	if lookup, ok := c.Get(ctx, key, &cached); ok {
		if lookup.Expired {
			c.revalidate(key, ttl, func(rctx context.Context) (any, error) {
				return fetch(rctx, true)
			})
		}
		return cached, nil
	}

	fetched, err := fetch(ctx, false)
	if err != nil {
		var zero T
		return zero, err
	}
	if err := c.Set(ctx, key, fetched, ttl); err != nil {
		// Fail soft: the fetched value is still usable for this call.
		c.logger.Warn("cache store after fetch failed", zap.String("key", key), zap.Error(err))
	}
	return fetched, nil
}

// revalidate starts one background refresh for key unless one is already in
// flight.
func (c *Cache) revalidate(key string, ttl time.Duration, fetch func(context.Context) (any, error)) {
	c.mu.Lock()
	if c.refreshing[key] {
		c.mu.Unlock()
		return
	}
	c.refreshing[key] = true
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.refreshing, key)
			c.mu.Unlock()
		}()

		// Detached from the caller: the refresh outlives the triggering read.
		rctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		fetched, err := fetch(rctx)
		if err != nil {
			c.logger.Debug("background revalidation failed", zap.String("key", key), zap.Error(err))
			return
		}
		if err := c.Set(rctx, key, fetched, ttl); err != nil {
			c.logger.Debug("background revalidation store failed", zap.String("key", key), zap.Error(err))
		}
	}()
}
