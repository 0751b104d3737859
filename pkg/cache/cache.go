package cache

import (
	"container/list"
	"encoding/json"
	"sync"
	"time"
)

const (
	// DefaultMaxEntries is used when New receives a non-positive entry limit.
	DefaultMaxEntries = 1000
	// DefaultMemoryBudget is used when New receives a non-positive budget.
	DefaultMemoryBudget int64 = 100 << 20
	// FallbackSize is charged for values the sizer cannot measure.
	FallbackSize int64 = 1024
)

// entry represents one resident value.
type entry[V any] struct {
	key         string
	value       V
	insertedAt  time.Time
	accessCount int64
	size        int64
}

// Cache is a thread-safe bounded LRU cache.
type Cache[V any] struct {
	mu      sync.Mutex
	max     int
	budget  int64
	used    int64
	items   map[string]*list.Element
	order   *list.List // front is most recently used
	hits    int64
	misses  int64
	evicted int64
	copyFn  func(V) V
	sizeFn  func(V) int64
	metrics *cacheMetrics
	nowFn   func() time.Time
}

// New creates a cache holding at most maxEntries values within budget bytes.
// It returns an error only when metrics registration fails.
func New[V any](maxEntries int, budget int64, opts ...Option[V]) (*Cache[V], error) {
	o := &options[V]{}
	for _, opt := range opts {
		opt(o)
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if budget <= 0 {
		budget = DefaultMemoryBudget
	}

	c := &Cache[V]{
		max:    maxEntries,
		budget: budget,
		items:  make(map[string]*list.Element),
		order:  list.New(),
		copyFn: o.copyFn,
		sizeFn: o.sizeFn,
		nowFn:  time.Now,
	}
	if c.sizeFn == nil {
		c.sizeFn = jsonSize[V]
	}
	if o.registerer != nil {
		m, err := newCacheMetrics(o.registerer, o.component)
		if err != nil {
			return nil, err
		}
		c.metrics = m
	}
	return c, nil
}

// jsonSize estimates the footprint of v by its JSON encoding.
func jsonSize[V any](v V) int64 {
	data, err := json.Marshal(v)
	if err != nil {
		return FallbackSize
	}
	return int64(len(data))
}

func (c *Cache[V]) copyOf(v V) V {
	if c.copyFn == nil {
		return v
	}
	return c.copyFn(v)
}

// Get returns a copy of the value stored under key and marks it as recently
// used. The boolean distinguishes an absent key from a stored zero value.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		if c.metrics != nil {
			c.metrics.recordMiss()
		}
		var zero V
		return zero, false
	}

	e := el.Value.(*entry[V])
	e.accessCount++
	c.order.MoveToFront(el)
	c.hits++
	if c.metrics != nil {
		c.metrics.recordHit()
	}
	return c.copyOf(e.value), true
}

// Put stores a copy of value under key, evicting least recently used entries
// until both the entry limit and the memory budget allow the insert. A value
// larger than the whole budget still lands in an emptied cache.
func (c *Cache[V]) Put(key string, value V) {
	size := c.sizeFn(value)
	stored := c.copyOf(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}

	for c.order.Len() > 0 && (c.order.Len() >= c.max || c.used+size > c.budget) {
		c.evictOldest()
	}

	e := &entry[V]{
		key:        key,
		value:      stored,
		insertedAt: c.nowFn(),
		size:       size,
	}
	c.items[key] = c.order.PushFront(e)
	c.used += size

	if c.metrics != nil {
		c.metrics.recordSet()
		c.metrics.updateSize(len(c.items), c.used)
	}
}

// Delete removes key and reports whether it was resident.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(el)
	if c.metrics != nil {
		c.metrics.updateSize(len(c.items), c.used)
	}
	return true
}

// Clear drops every entry. Counters are kept.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.used = 0
	if c.metrics != nil {
		c.metrics.updateSize(0, 0)
	}
}

// Len returns the number of resident entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns the resident keys, most recently used first.
func (c *Cache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.items))
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry[V]).key)
	}
	return keys
}

// Stats is a snapshot of cache usage.
type Stats struct {
	Entries      int     `json:"total_entries"`
	MaxEntries   int     `json:"max_entries"`
	MemoryUsed   int64   `json:"memory_usage_bytes"`
	MemoryBudget int64   `json:"max_memory_bytes"`
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	Evictions    int64   `json:"evictions"`
	HitRate      float64 `json:"hit_rate"`
}

// Stats returns current counters. HitRate is 0 before any lookup.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var rate float64
	if total := c.hits + c.misses; total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{
		Entries:      len(c.items),
		MaxEntries:   c.max,
		MemoryUsed:   c.used,
		MemoryBudget: c.budget,
		Hits:         c.hits,
		Misses:       c.misses,
		Evictions:    c.evicted,
		HitRate:      rate,
	}
}

// evictOldest removes the least recently used entry. Must be called with mu held.
func (c *Cache[V]) evictOldest() {
	el := c.order.Back()
	if el == nil {
		return
	}
	c.removeElement(el)
	c.evicted++
	if c.metrics != nil {
		c.metrics.recordEviction()
	}
}

// removeElement unlinks el and releases its size. Must be called with mu held.
func (c *Cache[V]) removeElement(el *list.Element) {
	e := el.Value.(*entry[V])
	delete(c.items, e.key)
	c.order.Remove(el)
	c.used -= e.size
}
