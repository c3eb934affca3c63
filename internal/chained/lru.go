package chained

import "container/list"

type lruItem[K comparable, V any] struct {
	key   K
	value V
}

// LRU is a fixed capacity cache. Get marks a key most recently used;
// Put on a full cache evicts the least recently used key first.
// LRU is not safe for concurrent use.
type LRU[K comparable, V any] struct {
	capacity int
	items    *Map[K, *list.Element]
	order    *list.List // front is most recently used

	OnEvict func(key K, value V)
}

func NewLRU[K comparable, V any](capacity int) *LRU[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return &LRU[K, V]{
		capacity: capacity,
		items:    New[K, *list.Element](capacity),
		order:    list.New(),
	}
}

func (c *LRU[K, V]) Get(key K) (V, bool) {
	el, ok := c.items.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruItem[K, V]).value, true
}

// Peek returns the value for key without touching its recency.
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	el, ok := c.items.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	return el.Value.(*lruItem[K, V]).value, true
}

func (c *LRU[K, V]) Put(key K, value V) {
	if el, ok := c.items.Get(key); ok {
		el.Value.(*lruItem[K, V]).value = value
		c.order.MoveToFront(el)
		return
	}

	if c.items.Len() >= c.capacity {
		c.evictOldest()
	}

	el := c.order.PushFront(&lruItem[K, V]{key, value})
	c.items.Put(key, el)
}

func (c *LRU[K, V]) evictOldest() {
	el := c.order.Back()
	if el == nil {
		return
	}
	item := c.order.Remove(el).(*lruItem[K, V])
	c.items.Delete(item.key)
	if c.OnEvict != nil {
		c.OnEvict(item.key, item.value)
	}
}

func (c *LRU[K, V]) Delete(key K) bool {
	el, ok := c.items.Get(key)
	if !ok {
		return false
	}
	c.order.Remove(el)
	return c.items.Delete(key)
}

func (c *LRU[K, V]) Contains(key K) bool { return c.items.Contains(key) }

func (c *LRU[K, V]) Len() int { return c.items.Len() }

func (c *LRU[K, V]) Capacity() int { return c.capacity }

// Keys returns keys from most to least recently used.
func (c *LRU[K, V]) Keys() []K {
	keys := make([]K, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*lruItem[K, V]).key)
	}
	return keys
}

func (c *LRU[K, V]) Clear() {
	c.items.Clear()
	c.order.Init()
}
