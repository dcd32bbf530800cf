// Package lru implements a bounded, thread-safe LRU cache with optional idle
// expiry. The API rate limiter keeps its per-client buckets in one.
package lru

import (
	"sync"
	"time"
)

type node[K comparable, V any] struct {
	key     K
	val     V
	touched time.Time
	prev    *node[K, V]
	next    *node[K, V]
}

// Cache holds at most capacity entries. Get and Put mark an entry as used;
// with an idle TTL set, entries unused for longer than it read as absent.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	idleTTL  time.Duration
	now      func() time.Time
	items    map[K]*node[K, V]
	head     *node[K, V] // sentinel, most recently used side
	tail     *node[K, V] // sentinel, least recently used side
}

// New creates a cache with the given capacity. Panics if capacity < 1.
func New[K comparable, V any](capacity int) *Cache[K, V] {
	if capacity < 1 {
		panic("lru: capacity must be >= 1")
	}
	head := &node[K, V]{}
	tail := &node[K, V]{}
	head.next = tail
	tail.prev = head
	return &Cache[K, V]{
		capacity: capacity,
		now:      time.Now,
		items:    make(map[K]*node[K, V], capacity),
		head:     head,
		tail:     tail,
	}
}

// WithIdleTTL expires entries that have not been used for ttl. Zero disables
// expiry.
func (c *Cache[K, V]) WithIdleTTL(ttl time.Duration) *Cache[K, V] {
	c.idleTTL = ttl
	return c
}

// WithClock overrides the clock for deterministic testing.
func (c *Cache[K, V]) WithClock(now func() time.Time) *Cache[K, V] {
	c.now = now
	return c
}

// Get returns the value for key and marks it as used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n, ok := c.items[key]
	if !ok || c.expired(n, now) {
		if ok {
			c.unlink(n)
		}
		var zero V
		return zero, false
	}
	n.touched = now
	c.moveToFront(n)
	return n.val, true
}

// Put inserts or replaces key. At capacity, expired entries are dropped
// first and then the least recently used one. It reports whether a live
// entry was evicted to make room.
func (c *Cache[K, V]) Put(key K, val V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if n, ok := c.items[key]; ok {
		n.val = val
		n.touched = now
		c.moveToFront(n)
		return false
	}

	evicted := false
	if len(c.items) >= c.capacity {
		c.dropExpired(now)
	}
	if len(c.items) >= c.capacity {
		c.unlink(c.tail.prev)
		evicted = true
	}

	n := &node[K, V]{key: key, val: val, touched: now}
	c.items[key] = n
	c.pushFront(n)
	return evicted
}

// Delete removes key and reports whether it was present.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[key]
	if ok {
		c.unlink(n)
	}
	return ok
}

// Len returns the number of stored entries, expired ones included until they
// are next touched or swept.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cache[K, V]) expired(n *node[K, V], now time.Time) bool {
	return c.idleTTL > 0 && now.Sub(n.touched) > c.idleTTL
}

// dropExpired walks from the least recently used end; everything past the
// first live entry is newer and therefore live too.
func (c *Cache[K, V]) dropExpired(now time.Time) {
	for n := c.tail.prev; n != c.head && c.expired(n, now); n = c.tail.prev {
		c.unlink(n)
	}
}

func (c *Cache[K, V]) unlink(n *node[K, V]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev, n.next = nil, nil
	delete(c.items, n.key)
}

func (c *Cache[K, V]) pushFront(n *node[K, V]) {
	n.next = c.head.next
	n.prev = c.head
	c.head.next.prev = n
	c.head.next = n
}

func (c *Cache[K, V]) moveToFront(n *node[K, V]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	c.pushFront(n)
}
