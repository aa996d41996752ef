package cache

import (
	"container/list"
	"sync"
	"time"
)

// Cache is an in-memory TTL cache with LRU eviction, safe for concurrent use.
type Cache[V any] struct {
	mu       sync.Mutex
	items    map[string]*entry[V]
	order    *list.List // MRU at front, LRU at back
	maxItems int        // 0 = unlimited
	now      func() time.Time
}

type entry[V any] struct {
	key  string
	val  V
	exp  time.Time // zero = no expiry
	elem *list.Element
}

// New creates a cache holding at most maxItems entries (<=0 means unlimited).
func New[V any](maxItems int) *Cache[V] {
	if maxItems < 0 {
		maxItems = 0
	}
	return &Cache[V]{
		items:    make(map[string]*entry[V]),
		order:    list.New(),
		maxItems: maxItems,
		now:      time.Now,
	}
}

// Get returns the value and whether it exists and has not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	if c == nil {
		return zero, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok {
		return zero, false
	}
	if c.expiredNoLock(e) {
		c.removeNoLock(key)
		return zero, false
	}
	c.order.MoveToFront(e.elem)
	return e.val, true
}

// Set stores v under key. ttl<=0 means no expiry.
func (c *Cache[V]) Set(key string, v V, ttl time.Duration) {
	if c == nil {
		return
	}
	var exp time.Time
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok {
		e.val = v
		e.exp = exp
		c.order.MoveToFront(e.elem)
		return
	}
	e := &entry[V]{key: key, val: v, exp: exp}
	e.elem = c.order.PushFront(e)
	c.items[key] = e
	for c.maxItems > 0 && c.order.Len() > c.maxItems {
		c.evictLRUNoLock()
	}
}

// Delete removes a key.
func (c *Cache[V]) Delete(key string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.removeNoLock(key)
	c.mu.Unlock()
}

// Len reports the number of entries, expired ones included until swept.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Sweep drops every expired entry and returns how many were removed.
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.items {
		if c.expiredNoLock(e) {
			c.removeNoLock(k)
			n++
		}
	}
	return n
}

// Janitor sweeps expired entries every interval until stop is closed.
func (c *Cache[V]) Janitor(interval time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			c.Sweep()
		}
	}
}

func (c *Cache[V]) expiredNoLock(e *entry[V]) bool {
	return !e.exp.IsZero() && c.now().After(e.exp)
}

// caller must hold c.mu
func (c *Cache[V]) removeNoLock(key string) {
	if e, ok := c.items[key]; ok {
		c.order.Remove(e.elem)
		delete(c.items, key)
	}
}

// caller must hold c.mu
func (c *Cache[V]) evictLRUNoLock() {
	back := c.order.Back()
	if back == nil {
		return
	}
	c.order.Remove(back)
	if e, ok := back.Value.(*entry[V]); ok {
		delete(c.items, e.key)
	}
}
