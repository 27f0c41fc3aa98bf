package cache

import (
	"sync"
	"time"
)

// Cache is a small in-process TTL cache. The pipeline uses it to keep
// dataset handle resolutions for the duration of one run; nothing in it
// survives the process.
type Cache struct {
	data map[string]*entry
	mu   sync.RWMutex
}

type entry struct {
	value     string
	expiresAt time.Time
}

// New creates a new cache
func New() *Cache {
	return &Cache{
		data: make(map[string]*entry),
	}
}

// Get retrieves a value from cache
func (c *Cache) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, exists := c.data[key]
	if !exists {
		return "", false
	}

	// Check expiration
	if time.Now().After(e.expiresAt) {
		return "", false
	}

	return e.value, true
}

// Set stores a value with a TTL
func (c *Cache) Set(key, value string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = &entry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
}

// Delete removes a key
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, key)
}
