// Package chained provides a separate-chaining hash map and an LRU cache built on it.
package chained

import (
	"fmt"
	"reflect"
)

const (
	DefaultBuckets = 100
	MaxLoadFactor  = 0.75
)

type entry[K comparable, V any] struct {
	key   K
	value V
}

// Map is a hash map with one chain per bucket. When an insert pushes the
// load factor (entries/buckets) above MaxLoadFactor the bucket count
// doubles and every entry is rehashed. Map is not safe for concurrent use.
type Map[K comparable, V any] struct {
	buckets [][]entry[K, V]
	count   int
	resizes int
}

func New[K comparable, V any](buckets int) *Map[K, V] {
	if buckets < 1 {
		buckets = DefaultBuckets
	}
	return &Map[K, V]{buckets: make([][]entry[K, V], buckets)}
}

// hash picks the bucket for key: a base-31 polynomial over the runes of a
// string, the value itself for integers, and the string form for anything else.
func hash(key any, size int) int {
	switch k := key.(type) {
	case string:
		return stringHash(k, size)
	}

	v := reflect.ValueOf(key)
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := v.Int() % int64(size)
		if n < 0 {
			n += int64(size)
		}
		return int(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return int(v.Uint() % uint64(size))
	case reflect.String:
		return stringHash(v.String(), size)
	}
	return stringHash(fmt.Sprintf("%v", key), size)
}

func stringHash(s string, size int) int {
	var h, pow uint64 = 0, 1
	for _, r := range s {
		h += uint64(r) * pow
		pow *= 31
	}
	return int(h % uint64(size))
}

func (m *Map[K, V]) index(key K) int { return hash(key, len(m.buckets)) }

// Put inserts or updates key.
func (m *Map[K, V]) Put(key K, value V) {
	i := m.index(key)
	for j, e := range m.buckets[i] {
		if e.key == key {
			m.buckets[i][j].value = value
			return
		}
	}
	m.buckets[i] = append(m.buckets[i], entry[K, V]{key, value})
	m.count++

	if m.LoadFactor() > MaxLoadFactor {
		m.resize()
	}
}

func (m *Map[K, V]) resize() {
	old := m.buckets
	m.buckets = make([][]entry[K, V], len(old)*2)
	for _, bucket := range old {
		for _, e := range bucket {
			i := m.index(e.key)
			m.buckets[i] = append(m.buckets[i], e)
		}
	}
	m.resizes++
}

func (m *Map[K, V]) Get(key K) (V, bool) {
	for _, e := range m.buckets[m.index(key)] {
		if e.key == key {
			return e.value, true
		}
	}
	var zero V
	return zero, false
}

func (m *Map[K, V]) Contains(key K) bool {
	_, ok := m.Get(key)
	return ok
}

func (m *Map[K, V]) Delete(key K) bool {
	i := m.index(key)
	for j, e := range m.buckets[i] {
		if e.key == key {
			m.buckets[i] = append(m.buckets[i][:j], m.buckets[i][j+1:]...)
			m.count--
			return true
		}
	}
	return false
}

func (m *Map[K, V]) Len() int { return m.count }

func (m *Map[K, V]) Buckets() int { return len(m.buckets) }

// Resizes counts how many times the bucket array has grown.
func (m *Map[K, V]) Resizes() int { return m.resizes }

func (m *Map[K, V]) LoadFactor() float64 {
	return float64(m.count) / float64(len(m.buckets))
}

func (m *Map[K, V]) Keys() []K {
	keys := make([]K, 0, m.count)
	for _, bucket := range m.buckets {
		for _, e := range bucket {
			keys = append(keys, e.key)
		}
	}
	return keys
}

func (m *Map[K, V]) Values() []V {
	values := make([]V, 0, m.count)
	for _, bucket := range m.buckets {
		for _, e := range bucket {
			values = append(values, e.value)
		}
	}
	return values
}

// Range calls f for every entry until f returns false.
func (m *Map[K, V]) Range(f func(key K, value V) bool) {
	for _, bucket := range m.buckets {
		for _, e := range bucket {
			if !f(e.key, e.value) {
				return
			}
		}
	}
}

// Clear drops every entry and keeps the current bucket count.
func (m *Map[K, V]) Clear() {
	m.buckets = make([][]entry[K, V], len(m.buckets))
	m.count = 0
}

type Item[K comparable, V any] struct {
	Key   K
	Value V
}

func (m *Map[K, V]) Items() []Item[K, V] {
	items := make([]Item[K, V], 0, m.count)
	for _, bucket := range m.buckets {
		for _, e := range bucket {
			items = append(items, Item[K, V]{e.key, e.value})
		}
	}
	return items
}
