// Package table is the record level API over one table of a storage.Engine.
package table

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tobsdb/recstore/internal/index"
	"github.com/tobsdb/recstore/internal/record"
	"github.com/tobsdb/recstore/internal/storage"
	"github.com/tobsdb/recstore/pkg"
)

var (
	ErrInvalidData = errors.New("record data must be an object")
	ErrInvalidID   = errors.New("record id must be a whole number")
	ErrDuplicateID = errors.New("record id already exists")
)

// Table assigns ids and timestamps and delegates persistence to its engine.
//
// The id tracker starts at the largest id in the table when the Table is
// created and only lives in memory, so all writers of a table should share
// one Table. Writes through one Table are serialized together with their
// index upkeep.
type Table struct {
	Locker sync.RWMutex
	Name   string

	IdTracker atomic.Int64

	engine  *storage.Engine
	indexes *index.Manager
}

func New(name string, engine *storage.Engine) (*Table, error) {
	t := &Table{Name: name, engine: engine}
	rows, err := engine.Read(name)
	if err != nil {
		return nil, err
	}
	var max int64
	for _, r := range rows {
		if id, ok := record.ID(r); ok && int64(id) > max {
			max = int64(id)
		}
	}
	t.IdTracker.Store(max)
	return t, nil
}

func (t *Table) GetLocker() *sync.RWMutex { return &t.Locker }

func (t *Table) Engine() *storage.Engine { return t.engine }

func (t *Table) Indexes() *index.Manager { return t.indexes }

// AttachIndexes makes every write through t update m. The indexes of m are
// rebuilt from the current table content.
func (t *Table) AttachIndexes(m *index.Manager) (err error) {
	pkg.LockWrap(t, func() {
		var rows []record.Record
		rows, err = t.engine.Read(t.Name)
		if err != nil {
			return
		}
		if err = m.RebuildIndexes(rows); err != nil {
			return
		}
		t.indexes = m
	})
	return err
}

// write runs a Modify of the table and then upkeep, both under t's lock,
// so index upkeep of concurrent writes applies in write order.
func (t *Table) write(fn storage.ModifyFunc, upkeep func()) (err error) {
	pkg.LockWrap(t, func() {
		if err = t.engine.Modify(t.Name, fn); err != nil {
			return
		}
		upkeep()
	})
	return err
}

func (t *Table) nextID() int { return int(t.IdTracker.Add(1)) }

// observeID moves the tracker past an explicitly supplied id.
func (t *Table) observeID(id int) {
	for {
		cur := t.IdTracker.Load()
		if int64(id) <= cur || t.IdTracker.CompareAndSwap(cur, int64(id)) {
			return
		}
	}
}

// prepare copies data and gives it an id and timestamps. An explicit id must
// be a whole number not in taken.
func (t *Table) prepare(data record.Record, now string, taken map[int]bool) (record.Record, error) {
	r := record.NormalizeRecord(record.Clone(data))
	if r == nil {
		r = record.Record{}
	}
	if r[record.SYS_PRIMARY_KEY] != nil {
		id, ok := record.ID(r)
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrInvalidID, r[record.SYS_PRIMARY_KEY])
		}
		if taken[id] {
			return nil, fmt.Errorf("%w: %d in table %s", ErrDuplicateID, id, t.Name)
		}
	} else {
		record.SetID(r, t.nextID())
	}
	if !r.Has(record.SYS_CREATED_AT) {
		r.Set(record.SYS_CREATED_AT, now)
	}
	r.Set(record.SYS_UPDATED_AT, now)
	return r, nil
}

// Insert stores a copy of data with an id and timestamps and returns it.
// An id already present in data is kept when no other record has it.
func (t *Table) Insert(data record.Record) (record.Record, error) {
	if data == nil {
		return nil, ErrInvalidData
	}
	rows, err := t.InsertMany([]record.Record{data})
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

func (t *Table) InsertMany(data []record.Record) ([]record.Record, error) {
	for _, d := range data {
		if d == nil {
			return nil, ErrInvalidData
		}
	}

	inserted := make([]record.Record, 0, len(data))
	err := t.write(func(rows []record.Record) ([]record.Record, bool, error) {
		now := record.Now()
		taken := make(map[int]bool, len(rows)+len(data))
		for _, r := range rows {
			if id, ok := record.ID(r); ok {
				taken[id] = true
			}
		}
		for _, d := range data {
			r, err := t.prepare(d, now, taken)
			if err != nil {
				return nil, false, err
			}
			id, _ := record.ID(r)
			taken[id] = true
			rows = append(rows, r)
			inserted = append(inserted, r)
		}
		for _, r := range inserted {
			id, _ := record.ID(r)
			t.observeID(id)
		}
		return rows, true, nil
	}, func() {
		for _, r := range inserted {
			t.indexAdd(r)
		}
	})
	if err != nil {
		return nil, err
	}
	return record.CloneAll(inserted), nil
}

func hasID(r record.Record, id int) bool {
	return record.Equal(r[record.SYS_PRIMARY_KEY], id)
}

func (t *Table) FindByID(id int) (record.Record, error) {
	rows, err := t.engine.Read(t.Name)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if hasID(r, id) {
			return r, nil
		}
	}
	return nil, storage.NewRecordNotFound("find", t.Name, id)
}

// FindByIDs reads the table once and returns the records with the given ids
// in the order of ids. Ids with no record are skipped.
func (t *Table) FindByIDs(ids []int) ([]record.Record, error) {
	rows, err := t.engine.Read(t.Name)
	if err != nil {
		return nil, err
	}
	by_id := make(map[int]record.Record, len(rows))
	for _, r := range rows {
		if id, ok := record.ID(r); ok {
			by_id[id] = r
		}
	}
	found := make([]record.Record, 0, len(ids))
	for _, id := range ids {
		if r, ok := by_id[id]; ok {
			found = append(found, r)
		}
	}
	return found, nil
}

// FindAll returns the records matching every filter. No filters match all records.
func (t *Table) FindAll(filters map[string]any) ([]record.Record, error) {
	rows, err := t.engine.Read(t.Name)
	if err != nil {
		return nil, err
	}
	if len(filters) == 0 {
		return rows, nil
	}
	found := []record.Record{}
	for _, r := range rows {
		if record.Matches(r, filters) {
			found = append(found, r)
		}
	}
	return found, nil
}

// FindOne returns the first match or nil.
func (t *Table) FindOne(filters map[string]any) (record.Record, error) {
	found, err := t.FindAll(filters)
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return found[0], nil
}

// merge applies patch to a copy of r, keeping its id and created_at.
func merge(r, patch record.Record, now string) record.Record {
	updated := record.Clone(r)
	for k, v := range record.NormalizeRecord(record.Clone(patch)) {
		updated[k] = v
	}
	updated[record.SYS_PRIMARY_KEY] = r[record.SYS_PRIMARY_KEY]
	if created, ok := r[record.SYS_CREATED_AT]; ok {
		updated[record.SYS_CREATED_AT] = created
	} else {
		delete(updated, record.SYS_CREATED_AT)
	}
	updated[record.SYS_UPDATED_AT] = now
	return updated
}

func (t *Table) Update(id int, patch record.Record) (record.Record, error) {
	if patch == nil {
		return nil, ErrInvalidData
	}

	var old, updated record.Record
	err := t.write(func(rows []record.Record) ([]record.Record, bool, error) {
		for i, r := range rows {
			if hasID(r, id) {
				old = r
				updated = merge(r, patch, record.Now())
				rows[i] = updated
				return rows, true, nil
			}
		}
		return nil, false, storage.NewRecordNotFound("update", t.Name, id)
	}, func() { t.indexReplace(old, updated) })
	if err != nil {
		return nil, err
	}
	return record.Clone(updated), nil
}

// UpdateMany applies patch to every match and returns how many were updated.
func (t *Table) UpdateMany(filters map[string]any, patch record.Record) (int, error) {
	var olds, news []record.Record
	err := t.write(func(rows []record.Record) ([]record.Record, bool, error) {
		now := record.Now()
		for i, r := range rows {
			if !record.Matches(r, filters) {
				continue
			}
			updated := merge(r, patch, now)
			olds = append(olds, r)
			news = append(news, updated)
			rows[i] = updated
		}
		return rows, len(news) > 0, nil
	}, func() {
		for i := range olds {
			t.indexReplace(olds[i], news[i])
		}
	})
	if err != nil {
		return 0, err
	}
	return len(news), nil
}

func (t *Table) Delete(id int) error {
	var removed []record.Record
	return t.write(func(rows []record.Record) ([]record.Record, bool, error) {
		kept := make([]record.Record, 0, len(rows))
		for _, r := range rows {
			if hasID(r, id) {
				removed = append(removed, r)
			} else {
				kept = append(kept, r)
			}
		}
		if len(removed) == 0 {
			return nil, false, storage.NewRecordNotFound("delete", t.Name, id)
		}
		return kept, true, nil
	}, func() {
		for _, r := range removed {
			t.indexRemove(r)
		}
	})
}

// DeleteMany removes every match and returns how many were removed.
func (t *Table) DeleteMany(filters map[string]any) (int, error) {
	var removed []record.Record
	err := t.write(func(rows []record.Record) ([]record.Record, bool, error) {
		kept := make([]record.Record, 0, len(rows))
		for _, r := range rows {
			if record.Matches(r, filters) {
				removed = append(removed, r)
			} else {
				kept = append(kept, r)
			}
		}
		return kept, len(removed) > 0, nil
	}, func() {
		for _, r := range removed {
			t.indexRemove(r)
		}
	})
	if err != nil {
		return 0, err
	}
	return len(removed), nil
}

// Truncate removes every record and returns how many there were.
// The id tracker is kept so ids are not handed out twice.
func (t *Table) Truncate() (int, error) {
	count := 0
	err := t.write(func(rows []record.Record) ([]record.Record, bool, error) {
		count = len(rows)
		return []record.Record{}, true, nil
	}, func() {
		if t.indexes == nil {
			return
		}
		if err := t.indexes.RebuildIndexes(nil); err != nil {
			t.indexWarn(err)
		}
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (t *Table) Count(filters map[string]any) (int, error) {
	found, err := t.FindAll(filters)
	return len(found), err
}

func (t *Table) Exists(filters map[string]any) (bool, error) {
	n, err := t.Count(filters)
	return n > 0, err
}

// Index upkeep runs after the table write succeeded; a failure leaves the
// index stale and is logged instead of failing the write.
func (t *Table) indexWarn(err error) {
	t.engine.Logger().Warn(fmt.Sprintf("Index update of %s failed: %v", t.Name, err))
}

func (t *Table) indexAdd(r record.Record) {
	if t.indexes == nil {
		return
	}
	if err := t.indexes.AddToIndex(r); err != nil {
		t.indexWarn(err)
	}
}

func (t *Table) indexRemove(r record.Record) {
	if t.indexes == nil {
		return
	}
	if err := t.indexes.RemoveFromIndex(r); err != nil {
		t.indexWarn(err)
	}
}

func (t *Table) indexReplace(old, updated record.Record) {
	t.indexRemove(old)
	t.indexAdd(updated)
}
