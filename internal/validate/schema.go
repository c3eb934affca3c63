package validate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tobsdb/recstore/internal/record"
	"github.com/tobsdb/recstore/pkg"
)

// Schema maps field names to their rules, in declaration order.
type Schema struct {
	fields *pkg.InsertSortMap[string, []Rule]
}

func NewSchema() *Schema {
	return &Schema{pkg.NewInsertSortMap[string, []Rule]()}
}

// Field appends rules to field.
func (s *Schema) Field(name string, rules ...Rule) *Schema {
	s.fields.Push(name, append(s.fields.Get(name), rules...))
	return s
}

func (s *Schema) Fields() []string {
	return append([]string{}, s.fields.Sorted...)
}

// ValidationError lists the first failing message of every invalid field.
type ValidationError struct {
	Fields map[string]string
	order  []string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	order := e.order
	if len(order) != len(e.Fields) {
		order = pkg.SortedKeys(e.Fields)
	}
	for _, f := range order {
		parts = append(parts, fmt.Sprintf("%s: %s", f, e.Fields[f]))
	}
	return "Validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	if _, ok := e.Fields[field]; !ok {
		e.order = append(e.order, field)
	}
	e.Fields[field] = msg
}

func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}

// ValidateRecord runs the rules of every schema field against r and reports
// all failing fields at once. Rules of one field stop at its first failure.
func ValidateRecord(r record.Record, s *Schema) error {
	verr := &ValidationError{}
	for _, field := range s.fields.Sorted {
		v := r[field]
		for _, rule := range s.fields.Get(field) {
			var err error
			if v, err = rule(field, v); err != nil {
				verr.add(field, err.Error())
				break
			}
		}
	}
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

// Collector gathers any number of messages per field for hand written checks.
type Collector struct {
	errors *pkg.InsertSortMap[string, []string]
}

func NewCollector() *Collector {
	return &Collector{pkg.NewInsertSortMap[string, []string]()}
}

func (c *Collector) AddError(field, msg string) {
	c.errors.Push(field, append(c.errors.Get(field), msg))
}

// Check runs rules against v and records every failure.
func (c *Collector) Check(field string, v any, rules ...Rule) {
	for _, rule := range rules {
		if _, err := rule(field, v); err != nil {
			c.AddError(field, err.Error())
		}
	}
}

func (c *Collector) IsValid() bool { return c.errors.Len() == 0 }

func (c *Collector) Errors() map[string][]string {
	out := make(map[string][]string, c.errors.Len())
	for _, f := range c.errors.Sorted {
		out[f] = append([]string{}, c.errors.Get(f)...)
	}
	return out
}

// Err returns nil when valid, otherwise a ValidationError holding the first
// message of every field.
func (c *Collector) Err() error {
	if c.IsValid() {
		return nil
	}
	verr := &ValidationError{}
	for _, f := range c.errors.Sorted {
		verr.add(f, c.errors.Get(f)[0])
	}
	return verr
}
