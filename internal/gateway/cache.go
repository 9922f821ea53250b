package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("cache miss")

// NameCacheResult is a cached profile name. A nil Name means the user has
// no profile name.
type NameCacheResult struct {
	Name *string `json:"name"`
}

type NameCache interface {
	Get(ctx context.Context, userID string) (*NameCacheResult, error)
	Set(ctx context.Context, userID string, result *NameCacheResult, ttl time.Duration) error
	Close() error
}

type RedisNameCache struct {
	client *redis.Client
	prefix string
}

func NewRedisNameCache(address, password string, db int, prefix string) (*RedisNameCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisNameCache{client: client, prefix: prefix}, nil
}

func (c *RedisNameCache) key(userID string) string {
	return fmt.Sprintf("%s:name:%s", c.prefix, userID)
}

func (c *RedisNameCache) Get(ctx context.Context, userID string) (*NameCacheResult, error) {
	data, err := c.client.Get(ctx, c.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var result NameCacheResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}
	return &result, nil
}

func (c *RedisNameCache) Set(ctx context.Context, userID string, result *NameCacheResult, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}
	if err := c.client.Set(ctx, c.key(userID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	return nil
}

func (c *RedisNameCache) Close() error {
	return c.client.Close()
}

// MemoryNameCache keeps names in process memory. Used when no redis is
// configured.
type MemoryNameCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	result  NameCacheResult
	expires time.Time
}

func NewMemoryNameCache() *MemoryNameCache {
	return &MemoryNameCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryNameCache) Get(ctx context.Context, userID string) (*NameCacheResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[userID]
	if !ok {
		return nil, ErrCacheMiss
	}
	if !e.expires.IsZero() && c.now().After(e.expires) {
		delete(c.entries, userID)
		return nil, ErrCacheMiss
	}
	result := e.result
	return &result, nil
}

func (c *MemoryNameCache) Set(ctx context.Context, userID string, result *NameCacheResult, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := memoryEntry{result: *result}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.entries[userID] = e
	return nil
}

func (c *MemoryNameCache) Close() error { return nil }
