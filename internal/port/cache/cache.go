// Package cache defines the port interface for caching loaded policy
// documents. Values are raw bytes; callers own their encoding.
package cache

import (
	"context"
	"time"
)

// Cache is the port interface for key-value caching. A ttl of zero means
// the entry lives until it is deleted or evicted.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
