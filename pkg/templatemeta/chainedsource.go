package templatemeta

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// NewChainedSource builds the metadata lookup chain used by the producer and
// consumer: an in-process LRU in front of an optional shared Redis tier in
// front of the store of record. Pass a nil redisCfg to skip the Redis level.
//
// The returned cleanup function must be called when the chain is no longer
// needed; it closes the Redis connection if one was opened. The store's own
// client lifecycle stays with the caller.
func NewChainedSource(
	ctx context.Context,
	store Store,
	redisCfg *RedisConfig,
	lruCapacity int,
	logger zerolog.Logger,
) (cache *LRUCache, cleanup func() error, err error) {
	if store == nil {
		return nil, nil, fmt.Errorf("metadata store cannot be nil")
	}

	var source Source = store
	var redisCache *RedisCache
	if redisCfg != nil {
		redisCache, err = NewRedisCache(ctx, redisCfg, store, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create redis metadata cache: %w", err)
		}
		source = redisCache
	}

	cleanupFunc := func() error {
		if redisCache == nil {
			return nil
		}
		return redisCache.Close()
	}

	return NewLRUCache(source, lruCapacity, logger), cleanupFunc, nil
}
