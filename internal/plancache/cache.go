// Package plancache is a bounded, concurrency-safe get-or-create cache for
// compiled mapping plans.
//
// Reads are lock-free. On a miss the factory runs without any lock held, so
// two goroutines may build the same value; the first one published wins and
// every caller observes it. A published value is never replaced, only
// evicted, oldest first, once the capacity would be exceeded.
package plancache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 10000

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries   int
	Hits      int64
	Misses    int64
	Evictions int64
	Discarded int64 // values built by a losing factory call
}

type Cache[K comparable, V any] struct {
	entries  sync.Map // K -> V, published values only
	capacity int
	onEvict  func(K, V)

	mu    sync.Mutex // guards order, elems and publication
	order *list.List // of K, oldest first
	elems map[K]*list.Element

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	discarded atomic.Int64
}

type Option[K comparable, V any] func(*Cache[K, V])

// WithOnEvict registers fn to be called, outside the cache lock, for every
// evicted entry.
func WithOnEvict[K comparable, V any](fn func(K, V)) Option[K, V] {
	return func(c *Cache[K, V]) { c.onEvict = fn }
}

func New[K comparable, V any](capacity int, opts ...Option[K, V]) *Cache[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Cache[K, V]{
		capacity: capacity,
		order:    list.New(),
		elems:    make(map[K]*list.Element),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the published value for key.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	if v, ok := c.entries.Load(key); ok {
		return v.(V), true
	}
	var zero V
	return zero, false
}

// GetOrCreate returns the value for key, calling factory on a miss.
// Factory errors are returned as-is and nothing is cached.
func (c *Cache[K, V]) GetOrCreate(key K, factory func() (V, error)) (V, error) {
	if v, ok := c.entries.Load(key); ok {
		c.hits.Add(1)
		return v.(V), nil
	}
	c.misses.Add(1)
	v, err := factory()
	if err != nil {
		var zero V
		return zero, err
	}
	return c.publish(key, v), nil
}

type evicted[K comparable, V any] struct {
	key K
	val V
}

func (c *Cache[K, V]) publish(key K, v V) V {
	c.mu.Lock()
	if cur, ok := c.entries.Load(key); ok {
		c.mu.Unlock()
		c.discarded.Add(1)
		return cur.(V)
	}
	var out []evicted[K, V]
	for c.order.Len() >= c.capacity {
		k := c.order.Remove(c.order.Front()).(K)
		delete(c.elems, k)
		if old, ok := c.entries.LoadAndDelete(k); ok {
			out = append(out, evicted[K, V]{k, old.(V)})
		}
	}
	c.entries.Store(key, v)
	c.elems[key] = c.order.PushBack(key)
	c.mu.Unlock()

	for _, e := range out {
		c.evictions.Add(1)
		if c.onEvict != nil {
			c.onEvict(e.key, e.val)
		}
	}
	return v
}

// Delete removes key. It reports whether an entry was present.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.elems[key]
	if !ok {
		return false
	}
	c.order.Remove(el)
	delete(c.elems, key)
	c.entries.Delete(key)
	return true
}

// Clear drops every entry without invoking the eviction callback.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.elems {
		c.entries.Delete(k)
	}
	c.order.Init()
	c.elems = make(map[K]*list.Element)
}

func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache[K, V]) Cap() int { return c.capacity }

func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Entries:   c.Len(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Discarded: c.discarded.Load(),
	}
}
