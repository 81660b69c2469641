// Package lru implements a generic, thread-safe LRU cache with optional
// per-entry expiry.
//
// Get, Put and Delete are O(1): a hash map indexes a doubly linked list kept
// in recency order. Expired entries are dropped lazily when touched.
package lru

import (
	"sync"
	"time"
)

type node[K comparable, V any] struct {
	key       K
	val       V
	expiresAt time.Time // zero means no expiry
	prev      *node[K, V]
	next      *node[K, V]
}

// Metrics is a point-in-time snapshot of cache counters.
type Metrics struct {
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Expirations uint64
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (m Metrics) HitRate() float64 {
	total := m.Hits + m.Misses
	if total == 0 {
		return 0
	}
	return float64(m.Hits) / float64(total)
}

// Option configures a Cache.
type Option[K comparable, V any] func(*Cache[K, V])

// WithTTL sets the default lifetime of entries added with Put.
func WithTTL[K comparable, V any](ttl time.Duration) Option[K, V] {
	return func(c *Cache[K, V]) { c.ttl = ttl }
}

// Cache is a generic, thread-safe LRU cache.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	now      func() time.Time
	items    map[K]*node[K, V]
	head     *node[K, V] // most recently used (sentinel)
	tail     *node[K, V] // least recently used (sentinel)
	metrics  Metrics
}

// New creates an LRU cache with the given capacity.
// Panics if capacity < 1.
func New[K comparable, V any](capacity int, opts ...Option[K, V]) *Cache[K, V] {
	if capacity < 1 {
		panic("lru: capacity must be >= 1")
	}

	head := &node[K, V]{}
	tail := &node[K, V]{}
	head.next = tail
	tail.prev = head

	c := &Cache[K, V]{
		capacity: capacity,
		now:      time.Now,
		items:    make(map[K]*node[K, V], capacity),
		head:     head,
		tail:     tail,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the value stored under key and promotes it to most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.live(key)
	if !ok {
		c.metrics.Misses++
		var zero V
		return zero, false
	}
	c.metrics.Hits++
	c.moveToFront(n)
	return n.val, true
}

// Put stores val under key with the default TTL. When the cache is full the
// least recently used entry is evicted and returned.
func (c *Cache[K, V]) Put(key K, val V) (K, V, bool) {
	return c.PutWithTTL(key, val, c.ttl)
}

// PutWithTTL stores val under key for ttl. A ttl <= 0 never expires.
func (c *Cache[K, V]) PutWithTTL(key K, val V, ttl time.Duration) (K, V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}

	if n, ok := c.items[key]; ok {
		n.val = val
		n.expiresAt = expiresAt
		c.moveToFront(n)
		var zk K
		var zv V
		return zk, zv, false
	}

	var (
		evictedKey K
		evictedVal V
		evicted    bool
	)
	if len(c.items) >= c.capacity {
		victim := c.tail.prev
		c.unlink(victim)
		evictedKey, evictedVal, evicted = victim.key, victim.val, true
		c.metrics.Evictions++
	}

	n := &node[K, V]{key: key, val: val, expiresAt: expiresAt}
	c.items[key] = n
	c.pushFront(n)
	return evictedKey, evictedVal, evicted
}

// Delete removes key. Returns true if it was present.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[key]
	if !ok {
		return false
	}
	c.unlink(n)
	return true
}

// DeleteFunc removes every entry whose key satisfies match and returns how
// many were removed. O(n).
func (c *Cache[K, V]) DeleteFunc(match func(K) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for cur := c.head.next; cur != c.tail; {
		next := cur.next
		if match(cur.key) {
			c.unlink(cur)
			removed++
		}
		cur = next
	}
	return removed
}

// Len returns the number of stored entries, including expired ones not yet
// collected.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Clear removes all entries.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.head.next = c.tail
	c.tail.prev = c.head
	c.items = make(map[K]*node[K, V], c.capacity)
}

// Metrics returns a snapshot of the cache counters.
func (c *Cache[K, V]) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// --- internal operations (caller must hold lock) ---

func (n *node[K, V]) expired(now time.Time) bool {
	return !n.expiresAt.IsZero() && !now.Before(n.expiresAt)
}

// live returns the entry for key, collecting it if expired.
func (c *Cache[K, V]) live(key K) (*node[K, V], bool) {
	n, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if n.expired(c.now()) {
		c.unlink(n)
		c.metrics.Expirations++
		return nil, false
	}
	return n, true
}

// unlink detaches a node from the list and the index.
func (c *Cache[K, V]) unlink(n *node[K, V]) {
	c.remove(n)
	delete(c.items, n.key)
}

func (c *Cache[K, V]) remove(n *node[K, V]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev = nil
	n.next = nil
}

func (c *Cache[K, V]) pushFront(n *node[K, V]) {
	n.next = c.head.next
	n.prev = c.head
	c.head.next.prev = n
	c.head.next = n
}

func (c *Cache[K, V]) moveToFront(n *node[K, V]) {
	c.remove(n)
	c.pushFront(n)
}
