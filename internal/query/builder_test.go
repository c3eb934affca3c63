package query_test

import (
	"errors"
	"testing"

	. "github.com/tobsdb/recstore/internal/query"
	"github.com/tobsdb/recstore/internal/record"
	"github.com/tobsdb/recstore/internal/storage"
	"github.com/tobsdb/recstore/internal/table"
	"github.com/tobsdb/recstore/pkg"
	"gotest.tools/assert"
)

func newTable(t *testing.T, rows ...record.Record) *table.Table {
	t.Helper()
	e, err := storage.New(storage.NewSettings(t.TempDir()), pkg.NewLogger(pkg.LogLevelNone))
	assert.NilError(t, err)
	t.Cleanup(func() { e.Close() })
	tbl, err := table.New("items", e)
	assert.NilError(t, err)
	if len(rows) > 0 {
		_, err = tbl.InsertMany(rows)
		assert.NilError(t, err)
	}
	return tbl
}

func ids(rows []record.Record) []int {
	out := make([]int, len(rows))
	for i, r := range rows {
		out[i], _ = record.ID(r)
	}
	return out
}

func names(rows []record.Record) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i], _ = r["name"].(string)
	}
	return out
}

func users(t *testing.T) *table.Table {
	return newTable(t,
		record.Record{"name": "A", "role": "admin", "age": 30, "email": "a@corp.io"},
		record.Record{"name": "B", "role": "guest", "age": 17},
		record.Record{"name": "C", "role": "user", "age": 42, "email": "c@Mail.com"},
		record.Record{"name": "D", "role": "user", "age": 30},
		record.Record{"name": "E", "role": "admin", "age": 25.5, "email": ""},
	)
}

func TestWhere(t *testing.T) {
	tbl := users(t)

	cases := []struct {
		name string
		q    *Builder
		want []string
	}{
		{"equal", New(tbl).WhereEqual("age", 30), []string{"A", "D"}},
		{"not equal", New(tbl).WhereNotEqual("role", "admin"), []string{"B", "C", "D"}},
		{"greater", New(tbl).WhereGreater("age", 25.5), []string{"A", "C", "D"}},
		{"less", New(tbl).WhereLess("age", 18), []string{"B"}},
		{">=", New(tbl).Where("age", OpGreaterEqual, 30), []string{"A", "C", "D"}},
		{"<=", New(tbl).Where("age", OpLessEqual, 25.5), []string{"B", "E"}},
		{"in", New(tbl).WhereIn("role", []string{"guest", "user"}), []string{"B", "C", "D"}},
		{"not in", New(tbl).Where("role", OpNotIn, []any{"user"}), []string{"A", "B", "E"}},
		{"like ignores case", New(tbl).WhereLike("email", "MAIL"), []string{"C"}},
		{"like skips empty", New(tbl).WhereLike("email", ""), []string{"A", "C"}},
		{"lowercase operator", New(tbl).Where("name", "like", "d"), []string{"D"}},
		{"and", New(tbl).WhereEqual("role", "admin").WhereGreater("age", 26), []string{"A"}},
		{"missing field", New(tbl).WhereGreater("score", 1), []string{}},
		{"incomparable", New(tbl).WhereGreater("role", 1), []string{}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rows, err := c.q.Get()
			assert.NilError(t, err)
			assert.DeepEqual(t, names(rows), c.want)
		})
	}

	t.Run("unknown operator", func(t *testing.T) {
		_, err := New(tbl).Where("age", "~", 1).Get()
		assert.Assert(t, errors.Is(err, ErrUnknownOperator))
	})

	t.Run("in needs a list", func(t *testing.T) {
		_, err := New(tbl).WhereIn("role", "user").Get()
		assert.Assert(t, errors.Is(err, ErrInvalidOperand))
	})

	t.Run("empty table", func(t *testing.T) {
		rows, err := New(newTable(t)).WhereEqual("x", 1).Get()
		assert.NilError(t, err)
		assert.Equal(t, len(rows), 0)
	})
}

func TestOrder(t *testing.T) {
	tbl := users(t)

	t.Run("asc with ties in table order", func(t *testing.T) {
		rows, err := New(tbl).OrderBy("age", ASC).Get()
		assert.NilError(t, err)
		assert.DeepEqual(t, names(rows), []string{"B", "E", "A", "D", "C"})
	})

	t.Run("desc keeps ties in table order", func(t *testing.T) {
		rows, err := New(tbl).OrderBy("age", "desc").Get()
		assert.NilError(t, err)
		assert.DeepEqual(t, names(rows), []string{"C", "A", "D", "E", "B"})
	})

	t.Run("missing values sort as empty string", func(t *testing.T) {
		rows, err := New(tbl).OrderBy("email", ASC).Get()
		assert.NilError(t, err)
		assert.DeepEqual(t, names(rows), []string{"B", "D", "E", "A", "C"})
	})

	t.Run("filter then order", func(t *testing.T) {
		rows, err := New(tbl).WhereIn("role", []any{"admin", "user"}).
			WhereGreater("age", 26).
			OrderBy("name", DESC).
			Get()
		assert.NilError(t, err)
		assert.DeepEqual(t, names(rows), []string{"D", "C", "A"})
	})

	t.Run("bad direction", func(t *testing.T) {
		_, err := New(tbl).OrderBy("age", "sideways").Get()
		assert.Assert(t, errors.Is(err, ErrInvalidDirection))
	})
}

func TestLimitOffsetSelect(t *testing.T) {
	tbl := users(t)

	rows, err := New(tbl).Offset(1).Limit(2).Get()
	assert.NilError(t, err)
	assert.DeepEqual(t, ids(rows), []int{2, 3})

	rows, _ = New(tbl).Limit(0).Get()
	assert.Equal(t, len(rows), 5)

	rows, _ = New(tbl).Offset(10).Get()
	assert.Equal(t, len(rows), 0)

	rows, err = New(tbl).WhereEqual("name", "B").Select("name", "email").Get()
	assert.NilError(t, err)
	assert.DeepEqual(t, rows, []record.Record{{"name": "B", "email": nil}})

	first, err := New(tbl).OrderBy("age", DESC).First()
	assert.NilError(t, err)
	assert.Equal(t, first["name"], "C")

	none, err := New(tbl).WhereEqual("name", "Z").First()
	assert.NilError(t, err)
	assert.Assert(t, none == nil)

	q := New(tbl).WhereEqual("role", "user").Limit(1).Offset(1)
	n, err := q.Count()
	assert.NilError(t, err)
	assert.Equal(t, n, 2)
	ok, _ := q.Exists()
	assert.Assert(t, ok)
	ok, _ = New(tbl).WhereEqual("role", "root").Exists()
	assert.Assert(t, !ok)
}

func TestPaginate(t *testing.T) {
	rows := make([]record.Record, 12)
	for i := range rows {
		rows[i] = record.Record{"n": i}
	}
	tbl := newTable(t, rows...)

	page, err := New(tbl).Paginate(2, 5)
	assert.NilError(t, err)
	assert.DeepEqual(t, ids(page.Data), []int{6, 7, 8, 9, 10})
	assert.Equal(t, page.Total, 12)
	assert.Equal(t, page.TotalPages, 3)
	assert.Assert(t, page.HasNext)
	assert.Assert(t, page.HasPrev)

	page, _ = New(tbl).Paginate(3, 5)
	assert.DeepEqual(t, ids(page.Data), []int{11, 12})
	assert.Assert(t, !page.HasNext)

	page, _ = New(tbl).WhereLess("n", 0).Paginate(1, 5)
	assert.Equal(t, page.TotalPages, 0)
	assert.Equal(t, len(page.Data), 0)
	assert.Assert(t, !page.HasNext && !page.HasPrev)

	_, err = New(tbl).Paginate(0, 5)
	assert.Assert(t, errors.Is(err, ErrInvalidPage))
	_, err = New(tbl).Paginate(1, 0)
	assert.Assert(t, errors.Is(err, ErrInvalidPage))
}

func TestHelpers(t *testing.T) {
	tbl := newTable(t,
		record.Record{"name": "Ann Lee", "bio": "likes go"},
		record.Record{"name": "Bob", "bio": "Ann's friend"},
		record.Record{"name": "Cy", "bio": nil},
	)

	found, err := Search(tbl, "ann", "name", "bio")
	assert.NilError(t, err)
	assert.DeepEqual(t, ids(found), []int{1, 2})

	found, err = Search(tbl, "nothing", "name")
	assert.NilError(t, err)
	assert.Equal(t, len(found), 0)

	stamped := newTable(t,
		record.Record{"name": "old", "created_at": "2024-01-01T00:00:00.000000"},
		record.Record{"name": "new", "created_at": "2024-03-01T00:00:00.000000"},
		record.Record{"name": "mid", "created_at": "2024-02-01T00:00:00.000000"},
	)
	recent, err := FindRecent(stamped, 2, "")
	assert.NilError(t, err)
	assert.DeepEqual(t, names(recent), []string{"new", "mid"})

	recent, _ = FindRecent(stamped, 0, "name")
	assert.DeepEqual(t, names(recent), []string{"old", "new", "mid"})
}

func TestInThenOrderDesc(t *testing.T) {
	tbl := newTable(t, record.Record{"name": "A"}, record.Record{"name": "B"}, record.Record{"name": "C"})

	rows, err := New(tbl).Where("name", OpIn, []any{"A", "C"}).OrderBy("name", DESC).Get()
	assert.NilError(t, err)
	assert.DeepEqual(t, names(rows), []string{"C", "A"})
	assert.DeepEqual(t, ids(rows), []int{3, 1})
}
