// Package query evaluates chained filters, ordering and paging against the
// full content of a table.
package query

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/tobsdb/recstore/internal/record"
	"github.com/tobsdb/recstore/pkg"
	sorted "github.com/tobshub/go-sortedmap"
)

type Operator string

const (
	OpEqual        Operator = "="
	OpNotEqual     Operator = "!="
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpLike         Operator = "LIKE"
	OpIn           Operator = "IN"
	OpNotIn        Operator = "NOT IN"
)

type Direction string

const (
	ASC  Direction = "ASC"
	DESC Direction = "DESC"
)

var (
	ErrUnknownOperator  = errors.New("unknown operator")
	ErrInvalidOperand   = errors.New("invalid operand")
	ErrInvalidDirection = errors.New("invalid sort direction")
	ErrInvalidPage      = errors.New("page and per page must be at least 1")
)

// Source is anything that can list the records of a table.
type Source interface {
	FindAll(filters map[string]any) ([]record.Record, error)
}

type condition struct {
	field string
	op    Operator
	value any
}

// Builder collects conditions and options; nothing is read until Get, First,
// Count, Exists or Paginate runs. Conditions are AND-ed in the order added.
type Builder struct {
	source Source

	conditions  []condition
	order_field string
	order_dir   Direction
	limit       int
	offset      int
	fields      []string
}

func New(source Source) *Builder {
	return &Builder{source: source, order_dir: ASC}
}

func (b *Builder) clone() *Builder {
	c := *b
	c.conditions = append([]condition{}, b.conditions...)
	c.fields = append([]string(nil), b.fields...)
	return &c
}

func (b *Builder) Where(field string, op Operator, value any) *Builder {
	b.conditions = append(b.conditions, condition{field, Operator(strings.ToUpper(string(op))), value})
	return b
}

func (b *Builder) WhereEqual(field string, value any) *Builder {
	return b.Where(field, OpEqual, value)
}

func (b *Builder) WhereNotEqual(field string, value any) *Builder {
	return b.Where(field, OpNotEqual, value)
}

func (b *Builder) WhereGreater(field string, value any) *Builder {
	return b.Where(field, OpGreater, value)
}

func (b *Builder) WhereLess(field string, value any) *Builder {
	return b.Where(field, OpLess, value)
}

func (b *Builder) WhereIn(field string, values any) *Builder {
	return b.Where(field, OpIn, values)
}

func (b *Builder) WhereLike(field, pattern string) *Builder {
	return b.Where(field, OpLike, pattern)
}

// OrderBy sorts by field. Records missing field sort as the empty string and
// equal values keep their table order in both directions.
func (b *Builder) OrderBy(field string, dir Direction) *Builder {
	b.order_field = field
	b.order_dir = Direction(strings.ToUpper(string(dir)))
	return b
}

// Limit caps the result size. n <= 0 removes the cap.
func (b *Builder) Limit(n int) *Builder {
	b.limit = n
	return b
}

func (b *Builder) Offset(n int) *Builder {
	b.offset = n
	return b
}

// Select keeps only fields in each result; missing fields come back as nil.
func (b *Builder) Select(fields ...string) *Builder {
	b.fields = fields
	return b
}

func (b *Builder) filtered() ([]record.Record, error) {
	rows, err := b.source.FindAll(nil)
	if err != nil {
		return nil, err
	}
	for _, c := range b.conditions {
		kept := make([]record.Record, 0, len(rows))
		for _, r := range rows {
			ok, err := c.match(r[c.field])
			if err != nil {
				return nil, err
			}
			if ok {
				kept = append(kept, r)
			}
		}
		rows = kept
	}
	return rows, nil
}

type sortItem struct {
	pos int
	rec record.Record
}

func (b *Builder) sort(rows []record.Record) ([]record.Record, error) {
	var desc bool
	switch b.order_dir {
	case ASC, "":
	case DESC:
		desc = true
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDirection, b.order_dir)
	}

	field := b.order_field
	m := sorted.New[int, sortItem](len(rows), func(x, y sortItem) bool {
		c := record.SortCompare(x.rec[field], y.rec[field])
		if desc {
			c = -c
		}
		if c == 0 {
			return x.pos < y.pos
		}
		return c < 0
	})
	for i, r := range rows {
		m.Insert(i, sortItem{i, r})
	}

	iter, err := m.IterCh()
	if err != nil {
		return nil, err
	}
	out := make([]record.Record, 0, len(rows))
	for rec := range iter.Records() {
		out = append(out, rec.Val.rec)
	}
	return out, nil
}

func (b *Builder) Get() ([]record.Record, error) {
	rows, err := b.filtered()
	if err != nil {
		return nil, err
	}

	if b.order_field != "" && len(rows) > 0 {
		if rows, err = b.sort(rows); err != nil {
			return nil, err
		}
	}

	if b.offset > 0 {
		if b.offset >= len(rows) {
			rows = []record.Record{}
		} else {
			rows = rows[b.offset:]
		}
	}
	if b.limit > 0 && b.limit < len(rows) {
		rows = rows[:b.limit]
	}

	if len(b.fields) > 0 {
		projected := make([]record.Record, len(rows))
		for i, r := range rows {
			p := make(record.Record, len(b.fields))
			for _, f := range b.fields {
				p[f] = r[f]
			}
			projected[i] = p
		}
		rows = projected
	}
	return rows, nil
}

// First returns the first result or nil.
func (b *Builder) First() (record.Record, error) {
	rows, err := b.clone().Limit(1).Get()
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// Count applies the conditions only; ordering, limit and offset are ignored.
func (b *Builder) Count() (int, error) {
	rows, err := b.filtered()
	return len(rows), err
}

func (b *Builder) Exists() (bool, error) {
	n, err := b.Count()
	return n > 0, err
}

type Page struct {
	Data       []record.Record `json:"data"`
	Page       int             `json:"page"`
	PerPage    int             `json:"per_page"`
	Total      int             `json:"total"`
	TotalPages int             `json:"total_pages"`
	HasNext    bool            `json:"has_next"`
	HasPrev    bool            `json:"has_prev"`
}

// Paginate returns the 1-indexed page of per_page results. Any offset or
// limit set on b is replaced for this call.
func (b *Builder) Paginate(page, per_page int) (*Page, error) {
	if page < 1 || per_page < 1 {
		return nil, fmt.Errorf("%w: page %d, per page %d", ErrInvalidPage, page, per_page)
	}

	total, err := b.Count()
	if err != nil {
		return nil, err
	}
	total_pages := (total + per_page - 1) / per_page

	rows, err := b.clone().Offset((page - 1) * per_page).Limit(per_page).Get()
	if err != nil {
		return nil, err
	}
	return &Page{
		Data:       rows,
		Page:       page,
		PerPage:    per_page,
		Total:      total,
		TotalPages: total_pages,
		HasNext:    page < total_pages,
		HasPrev:    page > 1,
	}, nil
}

func (c condition) match(v any) (bool, error) {
	switch c.op {
	case OpEqual:
		return record.Equal(v, c.value), nil
	case OpNotEqual:
		return !record.Equal(v, c.value), nil
	case OpGreater, OpLess, OpGreaterEqual, OpLessEqual:
		if v == nil {
			return false, nil
		}
		cmp, err := record.Compare(v, c.value)
		if err != nil {
			return false, nil
		}
		switch c.op {
		case OpGreater:
			return cmp > 0, nil
		case OpLess:
			return cmp < 0, nil
		case OpGreaterEqual:
			return cmp >= 0, nil
		}
		return cmp <= 0, nil
	case OpLike:
		pattern, ok := c.value.(string)
		if !ok {
			return false, fmt.Errorf("%w: LIKE on %s needs a string, got %T", ErrInvalidOperand, c.field, c.value)
		}
		if !truthy(v) {
			return false, nil
		}
		return strings.Contains(strings.ToLower(fmt.Sprint(v)), strings.ToLower(pattern)), nil
	case OpIn, OpNotIn:
		values, err := listOf(c.value)
		if err != nil {
			return false, fmt.Errorf("%w: %s on %s: %v", ErrInvalidOperand, c.op, c.field, err)
		}
		found := false
		for _, item := range values {
			if record.Equal(v, item) {
				found = true
				break
			}
		}
		return found == (c.op == OpIn), nil
	}
	return false, fmt.Errorf("%w: %q", ErrUnknownOperator, c.op)
}

func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	case record.Record:
		return len(v) > 0
	}
	if f, ok := pkg.NumToFloat(v); ok {
		return f != 0
	}
	return true
}

func listOf(v any) ([]any, error) {
	if list, ok := v.([]any); ok {
		return list, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	list := make([]any, rv.Len())
	for i := range list {
		list[i] = rv.Index(i).Interface()
	}
	return list, nil
}
