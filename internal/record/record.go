package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/tobsdb/recstore/pkg"
)

const (
	SYS_PRIMARY_KEY = "id"
	SYS_CREATED_AT  = "created_at"
	SYS_UPDATED_AT  = "updated_at"
)

// TimeLayout is the layout of created_at/updated_at stamps.
const TimeLayout = "2006-01-02T15:04:05.000000"

// Maps field name to its saved data.
type Record = pkg.Map[string, any]

func Now() string { return time.Now().Format(TimeLayout) }

// ID returns the record's id. ok is false when id is absent, nil or not a whole number.
func ID(r Record) (int, bool) {
	v, has := r[SYS_PRIMARY_KEY]
	if !has || v == nil {
		return 0, false
	}
	f, is_num := pkg.NumToFloat(v)
	if !is_num || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func SetID(r Record, id int) { r.Set(SYS_PRIMARY_KEY, id) }

// Clone deep copies r.
func Clone(r Record) Record {
	if r == nil {
		return nil
	}
	c := make(Record, len(r))
	for k, v := range r {
		c[k] = cloneValue(v)
	}
	return c
}

func CloneAll(rows []Record) []Record {
	out := make([]Record, len(rows))
	for i, r := range rows {
		out[i] = Clone(r)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		c := make(map[string]any, len(v))
		for k, vv := range v {
			c[k] = cloneValue(vv)
		}
		return c
	case Record:
		return Clone(v)
	case []any:
		c := make([]any, len(v))
		for i, vv := range v {
			c[i] = cloneValue(vv)
		}
		return c
	}
	return v
}

// Normalize converts json.Number values (recursively) to int when integral
// and float64 otherwise. Nested Records become plain maps.
func Normalize(v any) any {
	switch v := v.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int(i)
		}
		f, _ := v.Float64()
		return f
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
			return int(v)
		}
		return v
	case map[string]any:
		for k, vv := range v {
			v[k] = Normalize(vv)
		}
		return v
	case Record:
		m := map[string]any(v)
		for k, vv := range m {
			m[k] = Normalize(vv)
		}
		return m
	case []any:
		for i, vv := range v {
			v[i] = Normalize(vv)
		}
		return v
	}
	return v
}

// NormalizeRecord normalizes every field of r in place.
func NormalizeRecord(r Record) Record {
	for k, v := range r {
		r[k] = Normalize(v)
	}
	return r
}

// Equal compares two record values. Numbers compare by value regardless of kind.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	fa, a_num := pkg.NumToFloat(a)
	fb, b_num := pkg.NumToFloat(b)
	if a_num || b_num {
		return a_num && b_num && fa == fb
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case map[string]any:
		return equalMaps(av, asMap(b))
	case Record:
		return equalMaps(av, asMap(b))
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func asMap(v any) map[string]any {
	switch v := v.(type) {
	case map[string]any:
		return v
	case Record:
		return v
	}
	return nil
}

func equalMaps(a, b map[string]any) bool {
	if b == nil || len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !Equal(av, bv) {
			return false
		}
	}
	return true
}

// Matches reports whether every filter field is present in r with an equal value.
// A nil filter value matches a missing or nil field.
func Matches(r Record, filters map[string]any) bool {
	for k, want := range filters {
		if !Equal(r[k], want) {
			return false
		}
	}
	return true
}

// Kind is the ordering class of a value.
type Kind int

const (
	KindNil Kind = iota
	KindBool
	KindNumber
	KindString
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	}
	return "composite"
}

func KindOf(v any) Kind {
	switch v.(type) {
	case nil:
		return KindNil
	case bool:
		return KindBool
	case string:
		return KindString
	}
	if pkg.IsNumber(v) {
		return KindNumber
	}
	return KindOther
}

var ErrIncomparable = errors.New("values are not mutually ordered")

// Compare orders two values of the same orderable kind.
func Compare(a, b any) (int, error) {
	ka, kb := KindOf(a), KindOf(b)
	if ka != kb || ka == KindNil || ka == KindOther {
		return 0, fmt.Errorf("%w: %s and %s", ErrIncomparable, ka, kb)
	}
	switch ka {
	case KindNumber:
		fa, _ := pkg.NumToFloat(a)
		fb, _ := pkg.NumToFloat(b)
		return cmpOrdered(fa, fb), nil
	case KindString:
		return strings.Compare(a.(string), b.(string)), nil
	default:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0, nil
		case !ba:
			return -1, nil
		}
		return 1, nil
	}
}

// SortCompare is a total order over record values used for sorting.
// nil sorts as the empty string; mixed kinds order by Kind.
func SortCompare(a, b any) int {
	if a == nil {
		a = ""
	}
	if b == nil {
		b = ""
	}
	if c, err := Compare(a, b); err == nil {
		return c
	}
	ka, kb := KindOf(a), KindOf(b)
	if ka != kb {
		return cmpOrdered(ka, kb)
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func cmpOrdered[T ~int | ~float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
