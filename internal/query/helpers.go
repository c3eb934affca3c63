package query

import "github.com/tobsdb/recstore/internal/record"

const DefaultRecentLimit = 10

// Search returns the records where any of fields contains term, ignoring case.
// Matches are grouped by the first field they matched on and each id
// appears once.
func Search(source Source, term string, fields ...string) ([]record.Record, error) {
	seen := map[int]bool{}
	var found []record.Record
	for _, field := range fields {
		rows, err := New(source).WhereLike(field, term).Get()
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			if id, ok := record.ID(r); ok {
				if seen[id] {
					continue
				}
				seen[id] = true
			}
			found = append(found, r)
		}
	}
	if found == nil {
		return []record.Record{}, nil
	}
	return found, nil
}

// FindRecent returns the newest limit records by field, created_at when
// field is empty. limit <= 0 uses DefaultRecentLimit.
func FindRecent(source Source, limit int, field string) ([]record.Record, error) {
	if field == "" {
		field = record.SYS_CREATED_AT
	}
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	return New(source).OrderBy(field, DESC).Limit(limit).Get()
}
