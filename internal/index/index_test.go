package index_test

import (
	"errors"
	"math/rand"
	"os"
	"sort"
	"testing"

	. "github.com/tobsdb/recstore/internal/index"
	"github.com/tobsdb/recstore/internal/record"
	"github.com/tobsdb/recstore/internal/storage"
	"github.com/tobsdb/recstore/internal/tree"
	"github.com/tobsdb/recstore/pkg"
	"gotest.tools/assert"
)

func newEngine(t *testing.T) *storage.Engine {
	t.Helper()
	e, err := storage.New(storage.NewSettings(t.TempDir()), pkg.NewLogger(pkg.LogLevelNone))
	assert.NilError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func people(n int, seed int64) []record.Record {
	r := rand.New(rand.NewSource(seed))
	cities := []string{"Delhi", "Pune", "Agra", "Goa"}
	rows := make([]record.Record, n)
	for i := range rows {
		rows[i] = record.Record{"id": i + 1, "age": 18 + r.Intn(40), "city": cities[r.Intn(len(cities))]}
		if i%7 == 0 {
			delete(rows[i], "city")
		}
	}
	return rows
}

func scan(rows []record.Record, keep func(record.Record) bool) []int {
	ids := []int{}
	for _, r := range pkg.Filter(rows, keep) {
		id, _ := record.ID(r)
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func sorted(ids []int) []int {
	out := append([]int{}, ids...)
	sort.Ints(out)
	return out
}

func TestLookupMatchesScan(t *testing.T) {
	rows := people(300, 1)
	m := NewManager("people", nil)
	assert.NilError(t, m.CreateIndex("age", rows))
	assert.NilError(t, m.CreateIndex("city", rows))

	for age := 10; age < 65; age++ {
		ids, err := m.Lookup("age", age)
		assert.NilError(t, err)
		want := scan(rows, func(r record.Record) bool { return record.Equal(r["age"], age) })
		assert.DeepEqual(t, ids, want)
	}

	ids, err := m.Lookup("city", "Goa")
	assert.NilError(t, err)
	assert.DeepEqual(t, ids, scan(rows, func(r record.Record) bool { return r["city"] == "Goa" }))

	t.Run("range", func(t *testing.T) {
		for _, bounds := range [][2]int{{18, 18}, {20, 30}, {50, 80}, {0, 17}} {
			min, max := bounds[0], bounds[1]
			ids, err := m.RangeLookup("age", min, max)
			assert.NilError(t, err)
			want := scan(rows, func(r record.Record) bool {
				age := r["age"].(int)
				return age >= min && age <= max
			})
			assert.DeepEqual(t, sorted(ids), want)
		}
	})

	t.Run("range keeps key order", func(t *testing.T) {
		ids, err := m.RangeLookup("age", 20, 25)
		assert.NilError(t, err)
		byID := map[int]int{}
		for _, r := range rows {
			id, _ := record.ID(r)
			byID[id] = r["age"].(int)
		}
		for i := 1; i < len(ids); i++ {
			assert.Assert(t, byID[ids[i-1]] <= byID[ids[i]])
		}
	})

	t.Run("missing values are left out", func(t *testing.T) {
		total := 0
		for _, city := range []string{"Delhi", "Pune", "Agra", "Goa"} {
			ids, _ := m.Lookup("city", city)
			total += len(ids)
		}
		assert.Equal(t, total, len(scan(rows, func(r record.Record) bool { return r["city"] != nil })))
	})
}

func TestIncremental(t *testing.T) {
	rows := people(50, 2)
	m := NewManager("people", nil)
	assert.NilError(t, m.CreateIndex("age", rows[:25]))

	for _, r := range rows[25:] {
		assert.NilError(t, m.AddToIndex(r))
	}
	for _, r := range rows[:10] {
		assert.NilError(t, m.RemoveFromIndex(r))
	}
	live := rows[10:]
	assert.NilError(t, m.Verify(live))

	ids, err := m.RangeLookup("age", 0, 100)
	assert.NilError(t, err)
	assert.DeepEqual(t, sorted(ids), scan(live, func(record.Record) bool { return true }))

	assert.Assert(t, errors.Is(m.Verify(rows), ErrStaleIndex))
}

func TestErrors(t *testing.T) {
	m := NewManager("t", nil)

	_, err := m.Lookup("age", 1)
	assert.Assert(t, errors.Is(err, ErrIndexNotFound))
	assert.Assert(t, errors.Is(m.DropIndex("age"), ErrIndexNotFound))

	err = m.CreateIndex("age", []record.Record{{"id": -1, "age": 3}})
	assert.Assert(t, errors.Is(err, ErrIDOutOfRange))

	err = m.CreateIndex("age", []record.Record{{"id": 1, "age": 3}, {"id": 2, "age": "3"}})
	assert.Assert(t, errors.Is(err, tree.ErrKeyTypeMismatch))

	assert.NilError(t, m.CreateIndex("age", []record.Record{{"id": 1, "age": 3}}))
	err = m.AddToIndex(record.Record{"age": 4})
	assert.Assert(t, errors.Is(err, ErrMissingID))
	err = m.AddToIndex(record.Record{"id": 2, "age": "old"})
	assert.Assert(t, errors.Is(err, tree.ErrKeyTypeMismatch))

	_, err = m.RangeLookup("age", "a", "z")
	assert.Assert(t, errors.Is(err, tree.ErrKeyTypeMismatch))
}

func TestPersistence(t *testing.T) {
	e := newEngine(t)
	rows := people(40, 3)
	assert.NilError(t, e.Write("people", rows))
	assert.NilError(t, e.CreateTable("people_archive"))

	m := NewManager("people", e)
	assert.NilError(t, m.CreateIndex("age", rows))
	assert.NilError(t, m.CreateIndex("city", rows))
	assert.NilError(t, m.AddToIndex(record.Record{"id": 41, "age": 99, "city": "Goa"}))

	data, err := os.ReadFile(e.IndexPath("people", "age"))
	assert.NilError(t, err)
	assert.Assert(t, len(data) > 0 && data[0] == '[')

	other := NewManager("people_archive", e)
	assert.NilError(t, other.CreateIndex("age", []record.Record{{"id": 1, "age": 1}}))

	loaded := NewManager("people", e)
	assert.NilError(t, loaded.LoadAllIndexes())
	assert.DeepEqual(t, loaded.ListIndexes(), []string{"age", "city"})

	for _, age := range []int{18, 30, 99} {
		want, _ := m.Lookup("age", age)
		got, err := loaded.Lookup("age", age)
		assert.NilError(t, err)
		assert.DeepEqual(t, got, want)
	}
	want, _ := m.Lookup("city", "Goa")
	got, _ := loaded.Lookup("city", "Goa")
	assert.DeepEqual(t, got, want)

	t.Run("stale after external write", func(t *testing.T) {
		current, _ := e.Read("people")
		assert.Assert(t, errors.Is(loaded.Verify(current), ErrStaleIndex))
		assert.NilError(t, loaded.RebuildIndexes(current))
		assert.NilError(t, loaded.Verify(current))
	})

	t.Run("drop removes file", func(t *testing.T) {
		assert.NilError(t, loaded.DropIndex("city"))
		_, err := os.Stat(e.IndexPath("people", "city"))
		assert.Assert(t, errors.Is(err, os.ErrNotExist))
		assert.Assert(t, !loaded.HasIndex("city"))
	})
}
