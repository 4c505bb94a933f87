package routes

import (
	"container/list"
	"sync"
	"time"

	"github.com/upb/routeguard/internal/access"
)

// cacheEntry represents a single cache entry with TTL.
// A nil def records that the route is not stored.
type cacheEntry struct {
	name       string
	def        *access.RouteDefinition
	insertedAt time.Time
	element    *list.Element // For LRU tracking
}

// isExpired checks if the cache entry has expired
func (e *cacheEntry) isExpired(ttl time.Duration) bool {
	return time.Since(e.insertedAt) > ttl
}

// RouteCache is an in-memory LRU cache with TTL for stored route definitions
// Thread-safe implementation using sync.Mutex
type RouteCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	lruList *list.List
	maxSize int
	ttl     time.Duration
	hits    uint64
	misses  uint64
}

// NewRouteCache creates a new RouteCache with specified max size and TTL
func NewRouteCache(maxSize int, ttl time.Duration) *RouteCache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &RouteCache{
		entries: make(map[string]*cacheEntry),
		lruList: list.New(),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get returns the cached definition for name. cached is false on a miss;
// found is false when the route is cached as absent.
func (c *RouteCache) Get(name string) (def access.RouteDefinition, found, cached bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[name]
	if !exists || entry.isExpired(c.ttl) {
		c.misses++
		if exists {
			c.removeEntry(name)
		}
		return access.RouteDefinition{}, false, false
	}

	c.lruList.MoveToFront(entry.element)
	c.hits++

	if entry.def == nil {
		return access.RouteDefinition{}, false, true
	}
	return entry.def.Clone(), true, true
}

// Set stores a definition
func (c *RouteCache) Set(def access.RouteDefinition) {
	clone := def.Clone()
	c.put(def.Name, &clone)
}

// SetMissing records that name is not stored
func (c *RouteCache) SetMissing(name string) {
	c.put(name, nil)
}

func (c *RouteCache) put(name string, def *access.RouteDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.entries[name]; exists {
		entry.def = def
		entry.insertedAt = time.Now()
		c.lruList.MoveToFront(entry.element)
		return
	}

	if c.lruList.Len() >= c.maxSize {
		c.evictLRU()
	}

	entry := &cacheEntry{
		name:       name,
		def:        def,
		insertedAt: time.Now(),
	}
	entry.element = c.lruList.PushFront(name)
	c.entries[name] = entry
}

// Invalidate removes the entries for names
func (c *RouteCache) Invalidate(names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, name := range names {
		c.removeEntry(name)
	}
}

// Clear removes all entries from the cache
func (c *RouteCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.lruList.Init()
}

// CacheStats represents cache statistics
type CacheStats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"max_size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Stats returns cache statistics
func (c *RouteCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Size:    c.lruList.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// removeEntry removes an entry from the cache (must be called with lock held)
func (c *RouteCache) removeEntry(name string) {
	if entry, exists := c.entries[name]; exists {
		c.lruList.Remove(entry.element)
		delete(c.entries, name)
	}
}

// evictLRU evicts the least recently used entry (must be called with lock held)
func (c *RouteCache) evictLRU() {
	back := c.lruList.Back()
	if back == nil {
		return
	}
	name := back.Value.(string)
	c.lruList.Remove(back)
	delete(c.entries, name)
}

// CleanupExpired removes all expired entries and returns how many were removed
func (c *RouteCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []string
	for name, entry := range c.entries {
		if entry.isExpired(c.ttl) {
			expired = append(expired, name)
		}
	}
	for _, name := range expired {
		c.removeEntry(name)
	}
	return len(expired)
}

// StartCleanupWorker periodically removes expired entries until stopCh is closed
func (c *RouteCache) StartCleanupWorker(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CleanupExpired()
		case <-stopCh:
			return
		}
	}
}
