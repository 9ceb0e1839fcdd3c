package cache

import "context"

// Store is the durable key/value persistence behind the local cache.
// Implementations must treat a missing key as (nil, false, nil), never as an
// error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Flush(ctx context.Context) error
}
