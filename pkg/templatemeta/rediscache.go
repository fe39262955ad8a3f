package templatemeta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mailbatch/pkg/types"
)

// RedisConfig holds configuration for the optional shared Redis cache tier.
type RedisConfig struct {
	Addr     string        // e.g., "localhost:6379"
	Password string        // Leave empty if no password
	DB       int           // e.g., 0
	CacheTTL time.Duration // Time-to-live for cache entries, e.g., 5 * time.Minute
	// KeyPrefix namespaces cache keys, e.g. "tmplmeta:".
	KeyPrefix string
}

// LoadRedisConfigFromEnv loads Redis cache configuration from environment
// variables. It returns nil without error when REDIS_ADDR is unset, meaning
// the shared cache tier is disabled.
func LoadRedisConfigFromEnv() (*RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return nil, nil
	}
	cfg := &RedisConfig{
		Addr:      addr,
		Password:  os.Getenv("REDIS_PASSWORD"),
		CacheTTL:  5 * time.Minute,
		KeyPrefix: "tmplmeta:",
	}
	if db := os.Getenv("REDIS_DB"); db != "" {
		val, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB value %q", db)
		}
		cfg.DB = val
	}
	if ttl := os.Getenv("REDIS_CACHE_TTL"); ttl != "" {
		val, err := time.ParseDuration(ttl)
		if err != nil || val <= 0 {
			return nil, fmt.Errorf("invalid REDIS_CACHE_TTL value %q", ttl)
		}
		cfg.CacheTTL = val
	}
	return cfg, nil
}

// RedisCache implements Source using a Redis cache that falls back to another
// Source on a miss. Unlike the in-process LRU it is shared across worker
// instances, so its TTL bounds staleness between them. Negative results are
// not cached.
type RedisCache struct {
	redisClient *redis.Client
	fallback    Source
	logger      zerolog.Logger
	ttl         time.Duration
	keyPrefix   string
}

// NewRedisCache creates a new caching source. It takes a Redis configuration
// and a fallback source (e.g. the Firestore store).
func NewRedisCache(ctx context.Context, cfg *RedisConfig, fallback Source, logger zerolog.Logger) (*RedisCache, error) {
	if fallback == nil {
		return nil, errors.New("fallback source cannot be nil")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis for template metadata cache")

	return &RedisCache{
		redisClient: rdb,
		fallback:    fallback,
		logger:      logger.With().Str("component", "MetadataRedisCache").Logger(),
		ttl:         cfg.CacheTTL,
		keyPrefix:   cfg.KeyPrefix,
	}, nil
}

// Get retrieves template metadata, checking Redis first. On a miss the
// fallback is consulted and the result written back with the configured TTL.
func (c *RedisCache) Get(ctx context.Context, key string) (*types.TemplateMetadata, error) {
	cacheKey := c.keyPrefix + key

	cached, err := c.redisClient.Get(ctx, cacheKey).Result()
	if err == nil {
		var md types.TemplateMetadata
		if jsonErr := json.Unmarshal([]byte(cached), &md); jsonErr != nil {
			// Corrupted entry, treat as a miss and repopulate below.
			c.logger.Error().Err(jsonErr).Str("template_key", key).Msg("Failed to unmarshal cached metadata from Redis")
		} else {
			c.logger.Debug().Str("template_key", key).Msg("Cache hit: found template metadata in Redis")
			return &md, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		// An actual Redis error, not just a miss. Log and fall through to the
		// source of truth so a cache outage does not stop the pipeline.
		c.logger.Error().Err(err).Str("template_key", key).Msg("Error fetching from Redis cache")
	} else {
		c.logger.Debug().Str("template_key", key).Msg("Cache miss: template metadata not found in Redis")
	}

	md, err := c.fallback.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	jsonData, jsonErr := json.Marshal(md)
	if jsonErr != nil {
		c.logger.Error().Err(jsonErr).Str("template_key", key).Msg("Failed to marshal metadata for caching")
		return md, nil
	}
	if setErr := c.redisClient.Set(ctx, cacheKey, jsonData, c.ttl).Err(); setErr != nil {
		c.logger.Error().Err(setErr).Str("template_key", key).Msg("Failed to set template metadata in Redis cache")
	}
	return md, nil
}

// Invalidate removes the Redis entry for key so the next lookup refetches
// from the fallback.
func (c *RedisCache) Invalidate(ctx context.Context, key string) error {
	if err := c.redisClient.Del(ctx, c.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis Del for %s: %w", key, err)
	}
	return nil
}

// Close gracefully closes the Redis client connection.
func (c *RedisCache) Close() error {
	if c.redisClient != nil {
		c.logger.Info().Msg("Closing Redis client connection...")
		return c.redisClient.Close()
	}
	return nil
}
