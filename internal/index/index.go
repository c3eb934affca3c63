// Package index keeps secondary indexes of a table: one ordered tree per
// field, from each distinct field value to the set of ids holding it.
package index

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/tobsdb/recstore/internal/record"
	"github.com/tobsdb/recstore/internal/storage"
	"github.com/tobsdb/recstore/internal/tree"
	"github.com/tobsdb/recstore/pkg"
)

var (
	ErrIndexNotFound = errors.New("index does not exist")
	ErrIDOutOfRange  = errors.New("record id cannot be indexed")
	ErrMissingID     = errors.New("record has no id")
	ErrStaleIndex    = errors.New("index does not match table data")
)

type idSet = *roaring.Bitmap

type fieldIndex = tree.Tree[idSet]

// Manager holds the indexes of one table. When built with an engine every
// change is persisted to indexes/{table}_{field}.json; a nil engine keeps the
// indexes in memory only.
//
// Persisted indexes are not checked against the table when loaded. Call
// Verify or RebuildIndexes after the table was written without this Manager.
type Manager struct {
	locker  sync.RWMutex
	table   string
	engine  *storage.Engine
	indexes *pkg.InsertSortMap[string, *fieldIndex]
}

func NewManager(table string, engine *storage.Engine) *Manager {
	return &Manager{
		table:   table,
		engine:  engine,
		indexes: pkg.NewInsertSortMap[string, *fieldIndex](),
	}
}

func (m *Manager) GetLocker() *sync.RWMutex { return &m.locker }

func (m *Manager) Table() string { return m.table }

func (m *Manager) logger() *pkg.Logger {
	if m.engine == nil {
		return pkg.DefaultLogger
	}
	return m.engine.Logger()
}

func toID(r record.Record) (uint32, error) {
	id, ok := record.ID(r)
	if !ok {
		return 0, ErrMissingID
	}
	if id < 0 || id > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d", ErrIDOutOfRange, id)
	}
	return uint32(id), nil
}

func addTo(idx *fieldIndex, key any, id uint32) error {
	set, ok := idx.Search(key)
	if !ok {
		set = roaring.New()
		if err := idx.Insert(key, set); err != nil {
			return err
		}
	}
	set.Add(id)
	return nil
}

func removeFrom(idx *fieldIndex, key any, id uint32) {
	set, ok := idx.Search(key)
	if !ok {
		return
	}
	set.Remove(id)
	if set.IsEmpty() {
		idx.Delete(key)
	}
}

func build(field string, records []record.Record) (*fieldIndex, error) {
	idx := tree.New[idSet]()
	for _, r := range records {
		key := r[field]
		if key == nil {
			continue
		}
		id, err := toID(r)
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", field, err)
		}
		if err := addTo(idx, key, id); err != nil {
			return nil, fmt.Errorf("index %s: %w", field, err)
		}
	}
	return idx, nil
}

// CreateIndex builds the index of field from records, replacing any existing
// one. Records without a value for field are left out.
func (m *Manager) CreateIndex(field string, records []record.Record) error {
	idx, err := build(field, records)
	if err != nil {
		return err
	}

	pkg.LockWrap(m, func() { m.indexes.Push(field, idx) })
	if err := m.persist(field); err != nil {
		return err
	}
	m.logger().Debug(fmt.Sprintf("Created index %s.%s over %d keys", m.table, field, idx.Len()))
	return nil
}

// AddToIndex adds r to every index whose field r holds.
func (m *Manager) AddToIndex(r record.Record) error {
	id, err := toID(r)
	if err != nil {
		return err
	}

	changed := []string{}
	pkg.LockWrap(m, func() {
		for _, field := range m.indexes.Sorted {
			key := r[field]
			if key == nil {
				continue
			}
			if err = addTo(m.indexes.Get(field), key, id); err != nil {
				err = fmt.Errorf("index %s: %w", field, err)
				return
			}
			changed = append(changed, field)
		}
	})
	return errors.Join(err, m.persist(changed...))
}

// RemoveFromIndex removes the id of r from the keys r holds.
func (m *Manager) RemoveFromIndex(r record.Record) error {
	id, err := toID(r)
	if err != nil {
		return err
	}

	changed := []string{}
	pkg.LockWrap(m, func() {
		for _, field := range m.indexes.Sorted {
			key := r[field]
			if key == nil {
				continue
			}
			removeFrom(m.indexes.Get(field), key, id)
			changed = append(changed, field)
		}
	})
	return m.persist(changed...)
}

func setToInts(set idSet) []int {
	ids := make([]int, 0, set.GetCardinality())
	it := set.Iterator()
	for it.HasNext() {
		ids = append(ids, int(it.Next()))
	}
	return ids
}

// Lookup returns the ids whose field equals key, ascending.
func (m *Manager) Lookup(field string, key any) ([]int, error) {
	var ids []int
	var err error
	pkg.RLockWrap(m, func() {
		if !m.indexes.Has(field) {
			err = fmt.Errorf("%w: %s", ErrIndexNotFound, field)
			return
		}
		ids = []int{}
		if set, ok := m.indexes.Get(field).Search(key); ok {
			ids = setToInts(set)
		}
	})
	return ids, err
}

// RangeLookup returns the ids whose field lies in [min, max], ordered by key
// and by id within a key.
func (m *Manager) RangeLookup(field string, min, max any) ([]int, error) {
	var ids []int
	var err error
	pkg.RLockWrap(m, func() {
		if !m.indexes.Has(field) {
			err = fmt.Errorf("%w: %s", ErrIndexNotFound, field)
			return
		}
		var entries []tree.Entry[idSet]
		entries, err = m.indexes.Get(field).Range(min, max)
		if err != nil {
			return
		}
		ids = []int{}
		for _, e := range entries {
			ids = append(ids, setToInts(e.Value)...)
		}
	})
	return ids, err
}

func (m *Manager) DropIndex(field string) error {
	var found bool
	pkg.LockWrap(m, func() {
		found = m.indexes.Has(field)
		m.indexes.Delete(field)
	})
	if !found {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, field)
	}
	if m.engine != nil {
		err := os.Remove(m.engine.IndexPath(m.table, field))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// RebuildIndexes recomputes every index from records.
func (m *Manager) RebuildIndexes(records []record.Record) error {
	fields := m.ListIndexes()
	built := make([]*fieldIndex, len(fields))
	for i, field := range fields {
		idx, err := build(field, records)
		if err != nil {
			return err
		}
		built[i] = idx
	}

	pkg.LockWrap(m, func() {
		for i, field := range fields {
			m.indexes.Push(field, built[i])
		}
	})
	return m.persist(fields...)
}

func (m *Manager) ListIndexes() []string {
	var fields []string
	pkg.RLockWrap(m, func() { fields = append([]string{}, m.indexes.Sorted...) })
	return fields
}

func (m *Manager) HasIndex(field string) bool {
	var ok bool
	pkg.RLockWrap(m, func() { ok = m.indexes.Has(field) })
	return ok
}

// Verify reports ErrStaleIndex for the first index that does not describe records.
func (m *Manager) Verify(records []record.Record) error {
	for _, field := range m.ListIndexes() {
		fresh, err := build(field, records)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrStaleIndex, field, err)
		}

		var stale bool
		pkg.RLockWrap(m, func() {
			stale = !sameIndex(m.indexes.Get(field), fresh)
		})
		if stale {
			return fmt.Errorf("%w: %s", ErrStaleIndex, field)
		}
	}
	return nil
}

func sameIndex(a, b *fieldIndex) bool {
	if a.Len() != b.Len() {
		return false
	}
	same := true
	a.Walk(func(key any, set idSet) bool {
		other, ok := b.Search(key)
		same = ok && set.Equals(other)
		return same
	})
	return same
}

// persist writes fields to disk as [[key, [ids...]], ...] in key order.
func (m *Manager) persist(fields ...string) error {
	if m.engine == nil || len(fields) == 0 {
		return nil
	}

	errs := []error{}
	for _, field := range fields {
		var buf []byte
		var err error
		pkg.RLockWrap(m, func() {
			idx := m.indexes.Get(field)
			if idx == nil {
				return
			}
			pairs := make([][2]any, 0, idx.Len())
			idx.Walk(func(key any, set idSet) bool {
				pairs = append(pairs, [2]any{key, setToInts(set)})
				return true
			})
			buf, err = json.Marshal(pairs)
		})
		if err == nil && buf != nil {
			err = storage.WriteFileAtomic(m.engine.IndexPath(m.table, field), buf)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("persist index %s: %w", field, err))
		}
	}
	return errors.Join(errs...)
}

// LoadIndex reads the persisted index of field.
func (m *Manager) LoadIndex(field string) error {
	if m.engine == nil {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, field)
	}
	data, err := os.ReadFile(m.engine.IndexPath(m.table, field))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, field)
	}
	if err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var pairs [][2]any
	if err := dec.Decode(&pairs); err != nil {
		return fmt.Errorf("load index %s: %w", field, err)
	}

	idx := tree.New[idSet]()
	for _, pair := range pairs {
		key := record.Normalize(pair[0])
		ids, ok := pair[1].([]any)
		if !ok {
			return fmt.Errorf("load index %s: ids of %v are not a list", field, key)
		}
		set := roaring.New()
		for _, v := range ids {
			id, err := toID(record.Record{record.SYS_PRIMARY_KEY: record.Normalize(v)})
			if err != nil {
				return fmt.Errorf("load index %s: %w", field, err)
			}
			set.Add(id)
		}
		if err := idx.Insert(key, set); err != nil {
			return fmt.Errorf("load index %s: %w", field, err)
		}
	}

	pkg.LockWrap(m, func() { m.indexes.Push(field, idx) })
	return nil
}

// LoadAllIndexes loads every persisted index of the table. Files that belong
// to another table whose name starts with "{table}_" are skipped.
func (m *Manager) LoadAllIndexes() error {
	if m.engine == nil {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(m.engine.IndexDir(), m.table+"_*.json"))
	if err != nil {
		return err
	}
	tables, err := m.engine.ListTables()
	if err != nil {
		return err
	}

	prefix := m.table + "_"
	errs := []error{}
	for _, path := range matches {
		name := strings.TrimSuffix(filepath.Base(path), ".json")
		if m.ownedByOther(name, prefix, tables) {
			continue
		}
		field := strings.TrimPrefix(name, prefix)
		if err := m.LoadIndex(field); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) ownedByOther(name, prefix string, tables []string) bool {
	for _, other := range tables {
		if other != m.table && strings.HasPrefix(other, prefix) && strings.HasPrefix(name, other+"_") {
			return true
		}
	}
	return false
}
