package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/opensource-finance/commission/internal/domain"
)

// New creates a new cache based on configuration.
// For Community tier: returns LRU cache.
// For Pro tier with two-phase: returns TwoPhaseCache wrapping LRU + Redis.
// For Pro tier without two-phase: returns Redis cache.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory", "":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache checks a local LRU before Redis.
// Writes and deletes are announced on a Redis channel so every node drops
// its L1 copy of the key. Between the write and the announcement reaching a
// node, that node may still serve the old value; use Shared for state that
// must never be read stale.
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
	node   string
	sub    *redis.PubSub
	done   chan struct{}
}

const invalidationChannel = keyPrefix + "invalidate"

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}

	l1TTL := cfg.LocalTTL
	if l1TTL == 0 {
		l1TTL = 5 * time.Minute
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := remote.client.Subscribe(ctx, invalidationChannel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		remote.Close()
		return nil, fmt.Errorf("failed to subscribe to cache invalidations: %w", err)
	}

	c := &TwoPhaseCache{
		local:  NewLRUCache(cfg.LocalMaxSize),
		remote: remote,
		l1TTL:  l1TTL,
		node:   uuid.New().String(),
		sub:    sub,
		done:   make(chan struct{}),
	}
	go c.listen()

	return c, nil
}

// listen drops L1 entries that another node wrote or deleted.
func (c *TwoPhaseCache) listen() {
	defer close(c.done)
	for msg := range c.sub.Channel() {
		node, key, ok := strings.Cut(msg.Payload, "|")
		if !ok || node == c.node {
			continue
		}
		_ = c.local.Delete(context.Background(), key)
	}
}

func (c *TwoPhaseCache) announce(ctx context.Context, key string) error {
	return c.remote.client.Publish(ctx, invalidationChannel, c.node+"|"+key).Err()
}

// Shared returns the layer of c that all nodes read and write directly.
// For a TwoPhaseCache that is its Redis layer; other caches are returned as is.
func Shared(c domain.Cache) domain.Cache {
	if tp, ok := c.(*TwoPhaseCache); ok {
		return tp.remote
	}
	return c
}

// Get retrieves from L1 first, then L2. Populates L1 on L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		return val, nil
	}

	val, err = c.remote.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, key, val, c.l1TTL)
	}

	return val, nil
}

// Set writes to both L1 and L2. L1 never outlives the requested TTL.
func (c *TwoPhaseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	l1TTL := c.l1TTL
	if ttl > 0 && ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.local.Set(ctx, key, value, l1TTL); err != nil {
		return err
	}
	if err := c.remote.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	return c.announce(ctx, key)
}

// Delete removes from both L1 and L2 and tells other nodes to drop key.
func (c *TwoPhaseCache) Delete(ctx context.Context, key string) error {
	if err := c.local.Delete(ctx, key); err != nil {
		return err
	}
	if err := c.remote.Delete(ctx, key); err != nil {
		return err
	}
	return c.announce(ctx, key)
}

// Ping checks both L1 and L2 health.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close stops the invalidation listener and closes both L1 and L2.
func (c *TwoPhaseCache) Close() error {
	_ = c.sub.Close()
	<-c.done
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 cache statistics.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}

// GetJSON decodes a cached value into T. The bool is false on a miss.
func GetJSON[T any](ctx context.Context, c domain.Cache, key string) (*T, bool, error) {
	data, err := c.Get(ctx, key)
	if err != nil || data == nil {
		return nil, false, err
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached %s: %w", key, err)
	}
	return &v, true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, c domain.Cache, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return c.Set(ctx, key, data, ttl)
}

// PolicyKey is the cache key for an incentive policy.
func PolicyKey(id string) string { return "policy:" + id }

// ProgressKey is the cache key for a user's onboarding snapshot.
func ProgressKey(userID string) string { return "onboarding:" + userID }
