// Package cache provides a TTL cache for computed recommendation results.
package cache

import (
	"sync"
	"time"
)

// Key identifies a cached value. Subject names what was computed (for
// example a username and result size); Token is an invalidation token of the
// inputs, such as the blacklist version. A changed token is a miss.
type Key struct {
	Subject string
	Token   string
}

type entry struct {
	data      any
	expiresAt time.Time
}

// Stats tracks cache activity.
type Stats struct {
	Hits        int64     `json:"hits"`
	Misses      int64     `json:"misses"`
	Evictions   int64     `json:"evictions"`
	Entries     int       `json:"entries"`
	LastCleanup time.Time `json:"last_cleanup"`
}

// Cache is a thread-safe in-memory cache with a fixed TTL. Expired entries
// are dropped lazily on read and in bulk by Cleanup.
type Cache struct {
	mu      sync.RWMutex
	entries map[Key]entry
	ttl     time.Duration
	now     func() time.Time
	stats   Stats

	// OnHit and OnMiss are optional hooks for metrics.
	OnHit  func()
	OnMiss func()
}

// New creates a cache whose entries live for ttl.
func New(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[Key]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the value stored under k if present and unexpired.
func (c *Cache) Get(k Key) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[k]
	c.mu.RUnlock()

	if ok && c.now().After(e.expiresAt) {
		e, ok = c.evictExpired(k)
	}

	c.mu.Lock()
	if ok {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	c.mu.Unlock()

	if ok {
		if c.OnHit != nil {
			c.OnHit()
		}
		return e.data, true
	}
	if c.OnMiss != nil {
		c.OnMiss()
	}
	return nil, false
}

// evictExpired removes k if it is still expired under the write lock. A
// concurrent Set may have replaced the entry since it was read; the fresh
// entry is returned as a hit.
func (c *Cache) evictExpired(k Key) (entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.entries[k]
	if !ok {
		return entry{}, false
	}
	if c.now().After(cur.expiresAt) {
		delete(c.entries, k)
		c.stats.Evictions++
		return entry{}, false
	}
	return cur, true
}

// Set stores v under k. Entries for the same subject with other tokens are
// stale by construction and are removed.
func (c *Cache) Set(k Key, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for existing := range c.entries {
		if existing.Subject == k.Subject && existing.Token != k.Token {
			delete(c.entries, existing)
			c.stats.Evictions++
		}
	}
	c.entries[k] = entry{data: v, expiresAt: c.now().Add(c.ttl)}
}

// Invalidate removes every entry for subject.
func (c *Cache) Invalidate(subject string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.Subject == subject {
			delete(c.entries, k)
			c.stats.Evictions++
		}
	}
}

// Purge removes every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Evictions += int64(len(c.entries))
	c.entries = make(map[Key]entry)
}

// Cleanup drops expired entries and returns how many were removed.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	c.stats.Evictions += int64(removed)
	c.stats.LastCleanup = now
	return removed
}

// Stats returns a snapshot of cache activity.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.stats
	s.Entries = len(c.entries)
	return s
}
