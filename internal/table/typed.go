package table

import (
	"bytes"
	"encoding/json"

	"github.com/tobsdb/recstore/internal/record"
	"github.com/tobsdb/recstore/internal/validate"
)

// Typed stores values of T in a Table. T is converted through its json form,
// so field names follow T's json tags. When a schema is set every write is
// validated first.
type Typed[T any] struct {
	table  *Table
	schema *validate.Schema
}

func NewTyped[T any](t *Table, schema *validate.Schema) *Typed[T] {
	return &Typed[T]{t, schema}
}

func (t *Typed[T]) Table() *Table { return t.table }

func ToRecord(v any) (record.Record, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.UseNumber()
	var r record.Record
	if err := dec.Decode(&r); err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrInvalidData
	}
	return record.NormalizeRecord(r), nil
}

func FromRecord[T any](r record.Record) (T, error) {
	var v T
	buf, err := json.Marshal(r)
	if err != nil {
		return v, err
	}
	err = json.Unmarshal(buf, &v)
	return v, err
}

func (t *Typed[T]) validate(r record.Record) error {
	if t.schema == nil {
		return nil
	}
	return validate.ValidateRecord(r, t.schema)
}

func (t *Typed[T]) Insert(v T) (T, error) {
	var zero T
	r, err := ToRecord(v)
	if err != nil {
		return zero, err
	}
	if err := t.validate(r); err != nil {
		return zero, err
	}
	inserted, err := t.table.Insert(r)
	if err != nil {
		return zero, err
	}
	return FromRecord[T](inserted)
}

func (t *Typed[T]) FindByID(id int) (T, error) {
	r, err := t.table.FindByID(id)
	if err != nil {
		var zero T
		return zero, err
	}
	return FromRecord[T](r)
}

func (t *Typed[T]) FindAll(filters map[string]any) ([]T, error) {
	rows, err := t.table.FindAll(filters)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(rows))
	for i, r := range rows {
		if out[i], err = FromRecord[T](r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Update validates the record as it would look after patch is applied.
func (t *Typed[T]) Update(id int, patch record.Record) (T, error) {
	var zero T
	current, err := t.table.FindByID(id)
	if err != nil {
		return zero, err
	}
	if err := t.validate(merge(current, patch, "")); err != nil {
		return zero, err
	}
	updated, err := t.table.Update(id, patch)
	if err != nil {
		return zero, err
	}
	return FromRecord[T](updated)
}

func (t *Typed[T]) Delete(id int) error { return t.table.Delete(id) }
