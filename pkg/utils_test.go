package pkg_test

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	. "github.com/tobsdb/recstore/pkg"
	"gotest.tools/assert"
)

func TestFilter(t *testing.T) {
	res := Filter([]int{1, 2, 3, 4, 5, 6}, func(i int) bool {
		return i%2 == 0
	})

	assert.DeepEqual(t, res, []int{2, 4, 6})
}

func TestNumToInt(t *testing.T) {
	assert.Equal(t, NumToInt(1), 1)
	assert.Equal(t, NumToInt(1.1), 1)
	assert.Equal(t, NumToInt(int64(7)), 7)
	assert.Equal(t, NumToInt("7"), 0)
}

func TestNumToFloat(t *testing.T) {
	f, ok := NumToFloat(3)
	assert.Assert(t, ok)
	assert.Equal(t, f, 3.0)

	_, ok = NumToFloat("3")
	assert.Assert(t, !ok)
}

func TestInsertSortMap(t *testing.T) {
	m := NewInsertSortMap[string, int]()
	m.Push("b", 1)
	m.Push("a", 2)
	m.Push("b", 3)

	assert.DeepEqual(t, m.Sorted, []string{"b", "a"})
	assert.Equal(t, m.Get("b"), 3)

	m.Delete("b")
	assert.DeepEqual(t, m.Sorted, []string{"a"})
	assert.Equal(t, m.Len(), 1)
}

func TestKeyedMutex(t *testing.T) {
	k := NewKeyedMutex()
	assert.Assert(t, k.Get("a") == k.Get("a"))
	assert.Assert(t, k.Get("a") != k.Get("b"))

	counter := 0
	wg := sync.WaitGroup{}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k.Do("a", func() error {
				counter++
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, counter, 50)
	assert.Equal(t, k.Len(), 2)
}

func TestLoggerSink(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(LogLevelNone)
	l.SetSink(&buf)

	l.Info("created table:", "users")
	l.Warn("backup failed")
	l.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, len(lines), 2)
	assert.Assert(t, strings.HasPrefix(lines[0], "["))
	assert.Assert(t, strings.HasSuffix(lines[0], "] INFO: created table: users"))
	assert.Assert(t, strings.HasSuffix(lines[1], "] WARNING: backup failed"))
}

func TestFraming(t *testing.T) {
	var buf bytes.Buffer
	_, err := ConnWriteBytes(&buf, []byte("hello"))
	assert.NilError(t, err)
	_, err = ConnWriteBytes(&buf, []byte("world"))
	assert.NilError(t, err)

	first, err := ConnReadBytes(&buf)
	assert.NilError(t, err)
	assert.Equal(t, string(first), "hello")

	second, err := ConnReadBytes(&buf)
	assert.NilError(t, err)
	assert.Equal(t, string(second), "world")
}
