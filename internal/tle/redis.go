package tle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the key holding the mirrored snapshot.
const DefaultRedisKey = "orbview:tle:snapshot"

// RedisCacheConfig configures a RedisCache.
type RedisCacheConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string        // default: orbview:tle:snapshot
	MaxAge   time.Duration // freshness window and key TTL (default: 24h)
}

// RedisCache mirrors the snapshot into one Redis key so several instances can
// share a download. It follows the FileCache contract: misses match
// ErrCacheMiss, backend failures are *StorageError.
type RedisCache struct {
	mu     sync.Mutex
	client *redis.Client
	key    string
	maxAge time.Duration
	now    func() time.Time
}

// ConnectRedisCache dials Redis and verifies the connection with PING.
func ConnectRedisCache(ctx context.Context, cfg RedisCacheConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return NewRedisCache(client, cfg), nil
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client, cfg RedisCacheConfig) *RedisCache {
	if cfg.Key == "" {
		cfg.Key = DefaultRedisKey
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	return &RedisCache{
		client: client,
		key:    cfg.Key,
		maxAge: cfg.MaxAge,
		now:    time.Now,
	}
}

// Load reads the mirrored snapshot.
func (c *RedisCache) Load(ctx context.Context) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &MissError{Reason: MissAbsent, Path: c.location()}
		}
		return nil, &StorageError{Op: "load", Path: c.location(), Err: err}
	}

	snap, err := decodeSnapshot(data, "redis")
	if err != nil {
		return nil, &MissError{Reason: MissCorrupt, Path: c.location(), Err: err}
	}
	if !fresh(snap, c.now(), c.maxAge) {
		return nil, &MissError{Reason: MissExpired, Path: c.location()}
	}
	return snap, nil
}

// Store writes the snapshot with a TTL of the remaining freshness window.
// Snapshots that are already stale are not written.
func (c *RedisCache) Store(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("storing nil snapshot")
	}

	ttl := c.maxAge - snap.Age(c.now())
	if ttl <= 0 {
		return nil
	}
	if ttl > c.maxAge {
		ttl = c.maxAge
	}

	data, err := json.Marshal(snap.toFile())
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.client.Set(ctx, c.key, data, ttl).Err(); err != nil {
		return &StorageError{Op: "store", Path: c.location(), Err: err}
	}
	return nil
}

// Clear deletes the key. Deleting a missing key is not an error.
func (c *RedisCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		return &StorageError{Op: "clear", Path: c.location(), Err: err}
	}
	return nil
}

// Close closes the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) location() string {
	return "redis://" + c.client.Options().Addr + "/" + c.key
}
