package chained_test

import (
	"fmt"
	"sort"
	"testing"

	. "github.com/tobsdb/recstore/internal/chained"
	"gotest.tools/assert"
)

func TestMap(t *testing.T) {
	t.Run("put get delete", func(t *testing.T) {
		m := New[string, int](8)
		m.Put("a", 1)
		m.Put("b", 2)
		m.Put("a", 3)

		v, ok := m.Get("a")
		assert.Assert(t, ok)
		assert.Equal(t, v, 3)
		assert.Equal(t, m.Len(), 2)

		assert.Assert(t, m.Delete("a"))
		assert.Assert(t, !m.Delete("a"))
		assert.Assert(t, !m.Contains("a"))
		assert.Assert(t, m.Contains("b"))
		assert.Equal(t, m.Len(), 1)
	})

	t.Run("single resize at load factor", func(t *testing.T) {
		m := New[string, int](4)
		for i, k := range []string{"w", "x", "y", "z"} {
			m.Put(k, i)
		}
		assert.Equal(t, m.Resizes(), 1)
		assert.Equal(t, m.Buckets(), 8)
		assert.Equal(t, m.Len(), 4)
		for i, k := range []string{"w", "x", "y", "z"} {
			v, ok := m.Get(k)
			assert.Assert(t, ok)
			assert.Equal(t, v, i)
		}
	})

	t.Run("three entries do not resize", func(t *testing.T) {
		m := New[int, int](4)
		m.Put(1, 1)
		m.Put(2, 2)
		m.Put(3, 3)
		assert.Equal(t, m.Resizes(), 0)
		assert.Equal(t, m.LoadFactor(), 0.75)
	})

	t.Run("negative integer and struct keys", func(t *testing.T) {
		m := New[int, string](3)
		m.Put(-7, "neg")
		v, _ := m.Get(-7)
		assert.Equal(t, v, "neg")

		type point struct{ x, y int }
		p := New[point, int](3)
		p.Put(point{1, 2}, 12)
		got, ok := p.Get(point{1, 2})
		assert.Assert(t, ok)
		assert.Equal(t, got, 12)
	})

	t.Run("many keys survive rehash", func(t *testing.T) {
		m := New[string, int](2)
		for i := 0; i < 1000; i++ {
			m.Put(fmt.Sprintf("key-%d", i), i)
		}
		assert.Equal(t, m.Len(), 1000)
		assert.Assert(t, m.LoadFactor() <= MaxLoadFactor)

		keys := m.Keys()
		sort.Strings(keys)
		assert.Equal(t, len(keys), 1000)
		v, _ := m.Get("key-999")
		assert.Equal(t, v, 999)
	})

	t.Run("clear", func(t *testing.T) {
		m := New[string, int](4)
		m.Put("a", 1)
		m.Clear()
		assert.Equal(t, m.Len(), 0)
		assert.Assert(t, !m.Contains("a"))
	})
}

func TestLRU(t *testing.T) {
	t.Run("evicts least recently used", func(t *testing.T) {
		c := NewLRU[string, int](2)
		c.Put("a", 1)
		c.Put("b", 2)
		c.Get("a")
		c.Put("c", 3)

		assert.Assert(t, c.Contains("a"))
		assert.Assert(t, !c.Contains("b"))
		assert.Assert(t, c.Contains("c"))
		assert.DeepEqual(t, c.Keys(), []string{"c", "a"})
	})

	t.Run("update does not evict", func(t *testing.T) {
		c := NewLRU[string, int](2)
		evicted := []string{}
		c.OnEvict = func(k string, _ int) { evicted = append(evicted, k) }

		c.Put("a", 1)
		c.Put("b", 2)
		c.Put("a", 10)
		assert.Equal(t, c.Len(), 2)
		assert.Equal(t, len(evicted), 0)

		c.Put("c", 3)
		assert.DeepEqual(t, evicted, []string{"b"})
		v, _ := c.Get("a")
		assert.Equal(t, v, 10)
	})

	t.Run("peek keeps order", func(t *testing.T) {
		c := NewLRU[int, int](2)
		c.Put(1, 1)
		c.Put(2, 2)
		c.Peek(1)
		c.Put(3, 3)
		assert.Assert(t, !c.Contains(1))
	})

	t.Run("delete", func(t *testing.T) {
		c := NewLRU[int, int](2)
		c.Put(1, 1)
		assert.Assert(t, c.Delete(1))
		assert.Equal(t, c.Len(), 0)
		assert.Equal(t, len(c.Keys()), 0)
	})
}
