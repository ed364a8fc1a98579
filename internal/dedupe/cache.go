// ABOUTME: Thread-safe TTL cache for already-handled Matrix event IDs.
// ABOUTME: Prevents redelivered sync events from being answered twice.

package dedupe

import (
	"container/list"
	"sync"
	"time"

	"maunium.net/go/mautrix/id"
)

// Defaults for the bot's seen-event cache.
const (
	DefaultTTL     = 5 * time.Minute
	DefaultMaxSize = 10_000
)

// cacheEntry stores the timestamp and list element for a cached event ID.
type cacheEntry struct {
	timestamp time.Time
	element   *list.Element
}

// Cache tracks recently handled event IDs with a TTL and a size cap.
// Uses a doubly-linked list to maintain insertion order for O(1) eviction.
type Cache struct {
	mu      sync.RWMutex
	seen    map[id.EventID]*cacheEntry
	order   *list.List // event IDs in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache with the specified TTL and maximum size. A
// background goroutine periodically cleans up expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[id.EventID]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Check reports whether an event ID is currently cached and unexpired,
// without marking it.
func (c *Cache) Check(eventID id.EventID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.seen[eventID]
	if !ok {
		return false
	}
	return time.Since(entry.timestamp) < c.ttl
}

// CheckAndMark atomically checks whether an event ID has been seen and
// marks it if not. Returns true if the event was already seen (duplicate),
// false if it is new and now marked.
func (c *Cache) CheckAndMark(eventID id.EventID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.seen[eventID]; ok && time.Since(entry.timestamp) < c.ttl {
		entry.timestamp = time.Now()
		c.order.MoveToBack(entry.element)
		return true
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(eventID)
	c.seen[eventID] = &cacheEntry{
		timestamp: time.Now(),
		element:   elem,
	}
	return false
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	eventID, _ := front.Value.(id.EventID)
	c.order.Remove(front)
	delete(c.seen, eventID)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries from the cache.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for eventID, entry := range c.seen {
		if now.Sub(entry.timestamp) > c.ttl {
			c.order.Remove(entry.element)
			delete(c.seen, eventID)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
