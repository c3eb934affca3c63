// Package validate holds field validators for records.
//
// Every Rule receives the field name and the current value, and returns the
// value to pass to the next rule or a *FieldError.
package validate

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tobsdb/recstore/internal/record"
	"github.com/tobsdb/recstore/pkg"
)

type Rule func(field string, v any) (any, error)

type FieldError struct {
	Field string
	Msg   string
}

func (e *FieldError) Error() string { return e.Msg }

func fail(field, format string, args ...any) error {
	return &FieldError{field, field + " " + fmt.Sprintf(format, args...)}
}

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	urlPattern   = regexp.MustCompile(`^https?://[^\s/$.?#].[^\s]*$`)
	phonePattern = regexp.MustCompile(`^(\+91)?[6-9]\d{9}$`)
	phoneStrip   = regexp.MustCompile(`[\s\-()]`)
)

// empty reports values that count as missing: nil, false, zero numbers and
// empty strings, maps and lists.
func empty(v any) bool {
	switch v := v.(type) {
	case nil:
		return true
	case bool:
		return !v
	case string:
		return v == ""
	case map[string]any:
		return len(v) == 0
	case record.Record:
		return len(v) == 0
	case []any:
		return len(v) == 0
	}
	if f, ok := pkg.NumToFloat(v); ok {
		return f == 0
	}
	return false
}

func length(v any) int {
	switch v := v.(type) {
	case string:
		return utf8.RuneCountInString(v)
	case []any:
		return len(v)
	case map[string]any:
		return len(v)
	}
	return utf8.RuneCountInString(fmt.Sprint(v))
}

func Required(field string, v any) (any, error) {
	if s, ok := v.(string); v == nil || ok && strings.TrimSpace(s) == "" {
		return v, fail(field, "is required")
	}
	return v, nil
}

func Email(field string, v any) (any, error) {
	if empty(v) {
		return v, fail(field, "is required")
	}
	s, ok := v.(string)
	if !ok || !emailPattern.MatchString(s) {
		return v, fail(field, "must be a valid email address")
	}
	return v, nil
}

func MinLength(n int) Rule {
	return func(field string, v any) (any, error) {
		if empty(v) || length(v) < n {
			return v, fail(field, "must be at least %d characters", n)
		}
		return v, nil
	}
}

func MaxLength(n int) Rule {
	return func(field string, v any) (any, error) {
		if !empty(v) && length(v) > n {
			return v, fail(field, "must be at most %d characters", n)
		}
		return v, nil
	}
}

// number returns v as a float. A nil v is skipped by the numeric rules.
func number(field string, v any) (float64, error) {
	f, ok := pkg.NumToFloat(v)
	if !ok {
		return 0, fail(field, "must be a number")
	}
	return f, nil
}

func MinValue(min float64) Rule {
	return func(field string, v any) (any, error) {
		if v == nil {
			return v, nil
		}
		f, err := number(field, v)
		if err != nil {
			return v, err
		}
		if f < min {
			return v, fail(field, "must be at least %v", min)
		}
		return v, nil
	}
}

func MaxValue(max float64) Rule {
	return func(field string, v any) (any, error) {
		if v == nil {
			return v, nil
		}
		f, err := number(field, v)
		if err != nil {
			return v, err
		}
		if f > max {
			return v, fail(field, "must be at most %v", max)
		}
		return v, nil
	}
}

func InRange(min, max float64) Rule {
	return func(field string, v any) (any, error) {
		if v == nil {
			return v, nil
		}
		f, err := number(field, v)
		if err != nil {
			return v, err
		}
		if f < min || f > max {
			return v, fail(field, "must be between %v and %v", min, max)
		}
		return v, nil
	}
}

func OneOf(choices ...any) Rule {
	names := make([]string, len(choices))
	for i, c := range choices {
		names[i] = fmt.Sprint(c)
	}
	return func(field string, v any) (any, error) {
		for _, c := range choices {
			if record.Equal(v, c) {
				return v, nil
			}
		}
		return v, fail(field, "must be one of: %s", strings.Join(names, ", "))
	}
}

func isType(name string, check func(any) bool) Rule {
	return func(field string, v any) (any, error) {
		if v != nil && !check(v) {
			return v, fail(field, "must be of type %s", name)
		}
		return v, nil
	}
}

var (
	IsInt = isType("int", func(v any) bool {
		switch v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		}
		return false
	})
	IsFloat  = isType("float", pkg.IsNumber)
	IsString = isType("string", func(v any) bool { _, ok := v.(string); return ok })
	IsBool   = isType("bool", func(v any) bool { _, ok := v.(bool); return ok })
	IsDict   = isType("dict", func(v any) bool {
		switch v.(type) {
		case map[string]any, record.Record:
			return true
		}
		return false
	})
	IsList = isType("list", func(v any) bool { _, ok := v.([]any); return ok })
)

// Pattern matches the string form of non-empty values against expr,
// anchored at the start.
func Pattern(expr string) Rule {
	re := regexp.MustCompile(`^(?:` + expr + `)`)
	return func(field string, v any) (any, error) {
		if !empty(v) && !re.MatchString(fmt.Sprint(v)) {
			return v, fail(field, "format is invalid")
		}
		return v, nil
	}
}

func URL(field string, v any) (any, error) {
	if empty(v) {
		return v, nil
	}
	s, ok := v.(string)
	if !ok || !urlPattern.MatchString(s) {
		return v, fail(field, "must be a valid URL")
	}
	return v, nil
}

// Phone accepts ten digit Indian mobile numbers starting 6-9, optionally
// prefixed with +91. Spaces, dashes and parentheses are ignored.
func Phone(field string, v any) (any, error) {
	if empty(v) {
		return v, nil
	}
	s, ok := v.(string)
	if !ok || !phonePattern.MatchString(phoneStrip.ReplaceAllString(s, "")) {
		return v, fail(field, "must be a valid phone number")
	}
	return v, nil
}

var isoLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
}

func ISODate(field string, v any) (any, error) {
	if empty(v) {
		return v, nil
	}
	if s, ok := v.(string); ok {
		for _, layout := range isoLayouts {
			if _, err := time.Parse(layout, s); err == nil {
				return v, nil
			}
		}
	}
	return v, fail(field, "must be a valid ISO date string")
}

// Chain runs rules in order and stops at the first failure.
func Chain(rules ...Rule) Rule {
	return func(field string, v any) (any, error) {
		var err error
		for _, rule := range rules {
			if v, err = rule(field, v); err != nil {
				return v, err
			}
		}
		return v, nil
	}
}
