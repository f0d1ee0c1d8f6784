package paramstore

import (
	"context"
	"errors"
	"sync"
	"time"
)

type cacheEntry struct {
	value   string
	fetched time.Time
}

// Cache is a Getter that keeps parameter values in memory for ttl. Lambda
// containers are reused across invocations, so secrets are fetched once per
// container and refreshed after ttl or an explicit Reset.
type Cache struct {
	next Getter
	ttl  time.Duration
	now  func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewCache wraps next. A non-positive ttl caches until Reset.
func NewCache(next Getter, ttl time.Duration) (*Cache, error) {
	if next == nil {
		return nil, errors.New("paramstore: getter must not be nil")
	}
	return &Cache{next: next, ttl: ttl, now: time.Now, entries: map[string]cacheEntry{}}, nil
}

func (c *Cache) GetParameter(ctx context.Context, name string) (string, error) {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if ok && (c.ttl <= 0 || c.now().Sub(e.fetched) < c.ttl) {
		return e.value, nil
	}

	v, err := c.next.GetParameter(ctx, name)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.entries[name] = cacheEntry{value: v, fetched: c.now()}
	c.mu.Unlock()
	return v, nil
}

// Reset drops every cached value.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.entries = map[string]cacheEntry{}
	c.mu.Unlock()
}
