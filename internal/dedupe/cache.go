// ABOUTME: Thread-safe TTL cache for tracking delivered event IDs.
// ABOUTME: Used by presence sessions to keep event delivery at-most-once.

package dedupe

import (
	"sync"
	"time"
)

// entry pairs a cached key with the time it was marked, kept in insertion
// order for eviction.
type entry struct {
	key      string
	markedAt time.Time
}

// Cache is a thread-safe, TTL-based, size-limited set of seen keys. Presence
// sessions mark each delivered event ID so that a republished event is not
// delivered to the same session twice.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	queue   []entry // insertion order, oldest first
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a dedupe cache with the given TTL and maximum size.
// A background goroutine periodically sweeps expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// CheckAndMark atomically checks whether key has been seen within the TTL and
// marks it if not. Returns true if the key was already seen (duplicate),
// false if it is new and now marked.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if markedAt, ok := c.seen[key]; ok && time.Since(markedAt) < c.ttl {
		return true
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	now := time.Now()
	c.seen[key] = now
	c.queue = append(c.queue, entry{key: key, markedAt: now})
	return false
}

// Len returns the number of live entries in the cache.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// evictOldest removes the oldest live entry. Queue entries whose timestamp no
// longer matches the map were superseded by a re-mark and are skipped.
// Must be called with mu held.
func (c *Cache) evictOldest() {
	for len(c.queue) > 0 {
		oldest := c.queue[0]
		c.queue = c.queue[1:]
		if markedAt, ok := c.seen[oldest.key]; ok && markedAt.Equal(oldest.markedAt) {
			delete(c.seen, oldest.key)
			return
		}
	}
}

// sweep runs in a background goroutine, periodically removing expired entries.
func (c *Cache) sweep() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

// removeExpired drops all entries older than the TTL.
func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	kept := c.queue[:0]
	for _, e := range c.queue {
		markedAt, ok := c.seen[e.key]
		if !ok {
			continue
		}
		if !markedAt.Equal(e.markedAt) {
			kept = append(kept, e)
			continue
		}
		if now.Sub(markedAt) > c.ttl {
			delete(c.seen, e.key)
			continue
		}
		kept = append(kept, e)
	}
	c.queue = kept
}

// Close stops the background sweeper. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
