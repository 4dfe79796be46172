// Package dedup remembers LINE webhook event ids so redelivered events are
// processed once.
package dedup

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "clinic-queue:webhook:"

// Deduper claims event ids. A claim is taken before an event is handled and
// released with Forget when handling fails, so only processed events stay
// recorded.
type Deduper interface {
	// Seen records id and reports whether it had already been recorded.
	Seen(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (d *RedisDeduper) Seen(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	stored, err := d.client.SetNX(ctx, keyPrefix+id, 1, d.ttl).Result()
	if err != nil {
		return false, err
	}
	return !stored, nil
}

func (d *RedisDeduper) Forget(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return d.client.Del(ctx, keyPrefix+id).Err()
}

// LRUDeduper is the in-process fallback when Redis is not configured.
type LRUDeduper struct {
	cache *lru.Cache[string, time.Time]
	ttl   time.Duration
	mu    sync.Mutex
	now   func() time.Time
}

func NewLRUDeduper(size int, ttl time.Duration) (*LRUDeduper, error) {
	if size <= 0 {
		size = 4096
	}
	cache, err := lru.New[string, time.Time](size)
	if err != nil {
		return nil, err
	}
	return &LRUDeduper{cache: cache, ttl: ttl, now: time.Now}, nil
}

func (d *LRUDeduper) Seen(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if expires, ok := d.cache.Get(id); ok && (d.ttl <= 0 || now.Before(expires)) {
		return true, nil
	}
	d.cache.Add(id, now.Add(d.ttl))
	return false, nil
}

func (d *LRUDeduper) Forget(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache.Remove(id)
	return nil
}
