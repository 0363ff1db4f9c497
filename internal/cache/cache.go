// Package cache provides the optional object cache tier sitting in front of
// the storage backend: an in-process LRU always on, plus an optional Redis
// tier for multi-process deployments (spec SPEC_FULL §2.M "Object cache").
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache is a read-through cache keyed by "classID/id".
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*list.Element
	order    *list.List
	redis    *redis.Client
}

type entry struct {
	key     string
	value   map[string]any
	expires time.Time
}

// Config controls cache construction.
type Config struct {
	Capacity int
	TTL      time.Duration
	RedisURL string // empty disables the Redis tier
}

// New builds a Cache from cfg. When cfg.RedisURL is set, reads and writes
// also go through a shared Redis tier, giving every process a consistent
// view without widening the in-process LRU.
func New(cfg Config) (*Cache, error) {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 10000
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	c := &Cache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		c.redis = redis.NewClient(opt)
	}

	return c, nil
}

func cacheKey(classID, id string) string { return classID + "/" + id }

// Get returns the cached record for classID/id, checking the in-process LRU
// first, then Redis, backfilling the LRU from a Redis hit.
func (c *Cache) Get(ctx context.Context, classID, id string) (map[string]any, bool) {
	key := cacheKey(classID, id)

	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		if time.Now().Before(e.expires) {
			c.order.MoveToFront(el)
			c.mu.Unlock()
			return e.value, true
		}
		c.removeElement(el)
	}
	c.mu.Unlock()

	if c.redis == nil {
		return nil, false
	}
	raw, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var value map[string]any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, false
	}
	c.storeLocal(key, value)
	return value, true
}

// Set writes through to both tiers.
func (c *Cache) Set(ctx context.Context, classID, id string, value map[string]any) {
	key := cacheKey(classID, id)
	c.storeLocal(key, value)

	if c.redis == nil {
		return
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.redis.Set(ctx, key, payload, c.ttl)
}

// Invalidate drops classID/id from both tiers.
func (c *Cache) Invalidate(ctx context.Context, classID, id string) {
	key := cacheKey(classID, id)
	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
	c.mu.Unlock()

	if c.redis != nil {
		c.redis.Del(ctx, key)
	}
}

func (c *Cache) storeLocal(key string, value map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*entry).value = value
		el.Value.(*entry).expires = time.Now().Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&entry{key: key, value: value, expires: time.Now().Add(c.ttl)})
	c.items[key] = el

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.removeElement(oldest)
		}
	}
}

func (c *Cache) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	delete(c.items, e.key)
	c.order.Remove(el)
}
