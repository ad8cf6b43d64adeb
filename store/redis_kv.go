package store

import (
	"context"

	"github.com/BaSui01/pixelqueue/internal/cache"
)

// RedisKV stores records as plain Redis strings without expiry.
type RedisKV struct {
	client *cache.Manager
}

// NewRedisKV wraps a connected cache manager.
func NewRedisKV(client *cache.Manager) *RedisKV {
	return &RedisKV{client: client}
}

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, key)
	if cache.IsCacheMiss(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storageError("get", key, err)
	}
	return v, true, nil
}

func (r *RedisKV) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, key, value, 0); err != nil {
		return storageError("set", key, err)
	}
	return nil
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	if err := r.client.Delete(ctx, key); err != nil {
		return storageError("delete", key, err)
	}
	return nil
}
