package storage_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tobsdb/recstore/internal/record"
	. "github.com/tobsdb/recstore/internal/storage"
	"github.com/tobsdb/recstore/pkg"
	"gotest.tools/assert"
)

func newEngine(t *testing.T, opts ...func(*Settings)) *Engine {
	t.Helper()
	settings := NewSettings(t.TempDir())
	for _, opt := range opts {
		opt(settings)
	}
	e, err := New(settings, pkg.NewLogger(pkg.LogLevelNone))
	assert.NilError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func noCache(s *Settings) { s.CacheSize = 0 }

func writeBackupFiles(t *testing.T, e *Engine, table string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("%s_200001%02d_000000.json", table, i+1)
		err := os.WriteFile(filepath.Join(e.BackupDir(), name), []byte("[]"), 0644)
		assert.NilError(t, err)
	}
}

func TestReadWrite(t *testing.T) {
	for name, opt := range map[string]func(*Settings){"cached": func(*Settings) {}, "uncached": noCache} {
		t.Run(name, func(t *testing.T) {
			e := newEngine(t, opt)

			rows, err := e.Read("users")
			assert.NilError(t, err)
			assert.Equal(t, len(rows), 0)
			assert.Assert(t, e.TableExists("users"))

			in := []record.Record{
				{"id": 1, "name": "Alice", "score": 9.5, "tags": []any{"a", 2}},
				{"id": 2, "name": "Bob", "active": true, "meta": map[string]any{"age": 30}},
			}
			assert.NilError(t, e.Write("users", in))

			out, err := e.Read("users")
			assert.NilError(t, err)
			assert.DeepEqual(t, out, in)
			assert.Equal(t, out[0]["id"], 1)
			assert.Equal(t, out[0]["score"], 9.5)
		})
	}

	t.Run("reads do not share state", func(t *testing.T) {
		e := newEngine(t)
		assert.NilError(t, e.Write("t", []record.Record{{"id": 1}}))
		a, _ := e.Read("t")
		a[0]["id"] = 99
		b, _ := e.Read("t")
		assert.Equal(t, b[0]["id"], 1)
	})

	t.Run("external edits are picked up", func(t *testing.T) {
		e := newEngine(t)
		assert.NilError(t, e.Write("t", []record.Record{{"id": 1}}))
		e.Read("t")
		path := filepath.Join(e.DataDir(), "t.json")
		assert.NilError(t, os.WriteFile(path, []byte(`[{"id": 1}, {"id": 2}]`), 0644))
		rows, err := e.Read("t")
		assert.NilError(t, err)
		assert.Equal(t, len(rows), 2)
	})

	t.Run("same size rewrite with unchanged mtime", func(t *testing.T) {
		e := newEngine(t)
		assert.NilError(t, e.Write("t", []record.Record{{"name": "aaa"}}))
		path := filepath.Join(e.DataDir(), "t.json")
		before, err := os.Stat(path)
		assert.NilError(t, err)
		rows, _ := e.Read("t")
		assert.Equal(t, rows[0]["name"], "aaa")

		data, err := os.ReadFile(path)
		assert.NilError(t, err)
		rewritten := strings.Replace(string(data), "aaa", "bbb", 1)
		assert.Equal(t, len(rewritten), len(data))
		assert.NilError(t, os.WriteFile(path, []byte(rewritten), 0644))
		assert.NilError(t, os.Chtimes(path, before.ModTime(), before.ModTime()))

		misses := e.CacheStats().Misses
		rows, err = e.Read("t")
		assert.NilError(t, err)
		assert.Equal(t, rows[0]["name"], "bbb")
		assert.Equal(t, e.CacheStats().Misses, misses+1)
	})
}

func TestMalformed(t *testing.T) {
	e := newEngine(t)
	path := filepath.Join(e.DataDir(), "bad.json")

	t.Run("not json", func(t *testing.T) {
		assert.NilError(t, os.WriteFile(path, []byte("{oops"), 0644))
		_, err := e.Read("bad")
		assert.Assert(t, errors.Is(err, ErrMalformedSnapshot))
		assert.Assert(t, IsStorageError(err))
	})

	t.Run("not a list", func(t *testing.T) {
		assert.NilError(t, os.WriteFile(path, []byte(`{"id": 1}`), 0644))
		_, err := e.Read("bad")
		assert.Assert(t, errors.Is(err, ErrMalformedSnapshot))
	})

	t.Run("write value rejects non sequences", func(t *testing.T) {
		err := e.WriteValue("t", map[string]any{"id": 1})
		assert.Assert(t, errors.Is(err, ErrNotSequence))
		assert.NilError(t, e.WriteValue("t", []any{map[string]any{"id": 1.0}}))
		rows, _ := e.Read("t")
		assert.Equal(t, rows[0]["id"], 1)
	})

	t.Run("invalid names", func(t *testing.T) {
		for _, name := range []string{"", "..", "a/b", `a\b`} {
			_, err := e.Read(name)
			assert.Assert(t, errors.Is(err, ErrInvalidTableName), name)
		}
	})
}

func TestTables(t *testing.T) {
	e := newEngine(t)

	assert.NilError(t, e.CreateTable("b"))
	assert.NilError(t, e.CreateTable("a"))
	err := e.CreateTable("a")
	assert.Assert(t, errors.Is(err, ErrTableExists))

	tables, err := e.ListTables()
	assert.NilError(t, err)
	assert.DeepEqual(t, tables, []string{"a", "b"})

	assert.NilError(t, e.Write("a", []record.Record{{"id": 1}, {"id": 2}}))
	info, err := e.TableInfo("a")
	assert.NilError(t, err)
	assert.Equal(t, info.RecordCount, 2)
	assert.Assert(t, info.FileSize > 0)

	assert.NilError(t, e.Drop("a"))
	assert.Assert(t, !e.TableExists("a"))
	assert.Assert(t, errors.Is(e.Drop("a"), ErrTableNotFound))
	_, err = e.TableInfo("a")
	assert.Assert(t, errors.Is(err, ErrTableNotFound))

	tables, err = e.ListTables()
	assert.NilError(t, err)
	assert.DeepEqual(t, tables, []string{"b"})

	t.Run("drop takes exactly one backup", func(t *testing.T) {
		writeBackupFiles(t, e, "c", 2)
		assert.NilError(t, e.Write("c", []record.Record{{"id": 1}}))
		before, err := e.ListBackups("c")
		assert.NilError(t, err)
		assert.Equal(t, len(before), 2)

		start := time.Now().Truncate(time.Second)
		assert.NilError(t, e.Drop("c"))

		after, err := e.ListBackups("c")
		assert.NilError(t, err)
		assert.Equal(t, len(after), len(before)+1)
		assert.Assert(t, !after[0].Created.Before(start), "newest backup %s", after[0].Name)

		assert.NilError(t, e.Restore("c", after[0].Name))
		rows, err := e.Read("c")
		assert.NilError(t, err)
		assert.DeepEqual(t, rows, []record.Record{{"id": 1}})
	})
}

func TestAtomicWrite(t *testing.T) {
	e := newEngine(t)
	assert.NilError(t, e.Write("t", []record.Record{{"id": 1}}))
	assert.NilError(t, e.Write("t", []record.Record{{"id": 2}}))

	entries, err := os.ReadDir(e.DataDir())
	assert.NilError(t, err)
	for _, entry := range entries {
		assert.Assert(t, !strings.HasSuffix(entry.Name(), ".tmp"), entry.Name())
	}

	t.Run("failed write leaves target untouched", func(t *testing.T) {
		dir := t.TempDir()
		target := filepath.Join(dir, "missing", "file.json")
		err := WriteFileAtomic(target, []byte("[]"))
		assert.Assert(t, err != nil)
		_, err = os.Stat(target)
		assert.Assert(t, errors.Is(err, os.ErrNotExist))
	})
}

func TestModify(t *testing.T) {
	e := newEngine(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := e.Modify("counter", func(rows []record.Record) ([]record.Record, bool, error) {
				return append(rows, record.Record{"n": len(rows)}), true, nil
			})
			assert.Check(t, err)
		}()
	}
	wg.Wait()

	rows, err := e.Read("counter")
	assert.NilError(t, err)
	assert.Equal(t, len(rows), 20)
	for i, r := range rows {
		assert.Equal(t, r["n"], i)
	}

	t.Run("no write", func(t *testing.T) {
		boom := errors.New("boom")
		err := e.Modify("counter", func(rows []record.Record) ([]record.Record, bool, error) {
			return nil, false, boom
		})
		assert.Assert(t, errors.Is(err, boom))
		rows, _ := e.Read("counter")
		assert.Equal(t, len(rows), 20)
	})
}

func TestBackups(t *testing.T) {
	t.Run("rotation keeps newest", func(t *testing.T) {
		e := newEngine(t)
		assert.NilError(t, e.Write("users", []record.Record{}))
		writeBackupFiles(t, e, "users", 12)
		writeBackupFiles(t, e, "users_archive", 3)

		assert.NilError(t, e.Write("users", []record.Record{{"id": 1}}))

		backups, err := e.ListBackups("users")
		assert.NilError(t, err)
		assert.Equal(t, len(backups), DefaultBackupRetention)
		for _, b := range backups[1:] {
			assert.Assert(t, !strings.HasPrefix(b.Name, "users_20000101"), b.Name)
			assert.Assert(t, !strings.HasPrefix(b.Name, "users_20000102"), b.Name)
		}

		others, _ := e.ListBackups("users_archive")
		assert.Equal(t, len(others), 3)
	})

	t.Run("restore latest", func(t *testing.T) {
		e := newEngine(t)
		assert.NilError(t, e.Write("t", []record.Record{{"id": 1}}))
		assert.NilError(t, e.Write("t", []record.Record{{"id": 2}}))

		assert.NilError(t, e.Restore("t", ""))
		rows, _ := e.Read("t")
		assert.DeepEqual(t, rows, []record.Record{{"id": 1}})
	})

	t.Run("restore by name", func(t *testing.T) {
		e := newEngine(t)
		assert.NilError(t, e.Write("t", []record.Record{{"id": 5}}))
		name := "t_20000101_000000.json"
		err := os.WriteFile(filepath.Join(e.BackupDir(), name), []byte(`[{"id": 3}]`), 0644)
		assert.NilError(t, err)

		assert.NilError(t, e.Restore("t", name))
		rows, _ := e.Read("t")
		assert.DeepEqual(t, rows, []record.Record{{"id": 3}})

		err = e.Restore("t", "t_19990101_000000.json")
		assert.Assert(t, errors.Is(err, ErrBackupNotFound))
		assert.Assert(t, errors.Is(e.Restore("none", ""), ErrNoBackups))
	})

	t.Run("compressed", func(t *testing.T) {
		e := newEngine(t, func(s *Settings) { s.CompressBackups = true })
		assert.NilError(t, e.Write("t", []record.Record{{"id": 1, "name": "zst"}}))
		assert.NilError(t, e.Write("t", []record.Record{}))

		backups, _ := e.ListBackups("t")
		assert.Equal(t, len(backups), 1)
		assert.Assert(t, backups[0].Compressed)
		assert.Assert(t, strings.HasSuffix(backups[0].Name, ".json.zst"))

		assert.NilError(t, e.Restore("t", backups[0].Name))
		rows, _ := e.Read("t")
		assert.DeepEqual(t, rows, []record.Record{{"id": 1, "name": "zst"}})
	})
}

func TestVacuum(t *testing.T) {
	e := newEngine(t)
	for _, table := range []string{"a", "b", "c"} {
		assert.NilError(t, e.Write(table, []record.Record{{"id": 1}, {"id": 2}}))
		writeBackupFiles(t, e, table, 8)
	}

	results, err := e.Vacuum(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, len(results), 3)
	for _, res := range results {
		assert.Equal(t, res.Records, 2)
		assert.Assert(t, res.SizeAfter < res.SizeBefore, res.Table)

		backups, _ := e.ListBackups(res.Table)
		assert.Equal(t, len(backups), DefaultVacuumRetention)
	}

	rows, _ := e.Read("b")
	assert.DeepEqual(t, rows, []record.Record{{"id": 1}, {"id": 2}})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := e.Vacuum(ctx)
		assert.Assert(t, errors.Is(err, context.Canceled))
	})
}

func TestCSV(t *testing.T) {
	e := newEngine(t)
	path := filepath.Join(t.TempDir(), "out.csv")

	assert.NilError(t, e.CreateTable("empty"))
	assert.Assert(t, errors.Is(e.ExportCSV("empty", path), ErrTableEmpty))
	assert.Assert(t, errors.Is(e.ExportCSV("missing", path), ErrTableNotFound))

	assert.NilError(t, e.Write("users", []record.Record{
		{"id": 1, "name": "Alice"},
		{"id": 2, "email": "b@x.io", "score": 1.5},
	}))
	assert.NilError(t, e.ExportCSV("users", path))

	data, err := os.ReadFile(path)
	assert.NilError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.DeepEqual(t, lines, []string{
		"email,id,name,score",
		",1,Alice,",
		"b@x.io,2,,1.5",
	})

	n, err := e.ImportCSV("copy", path)
	assert.NilError(t, err)
	assert.Equal(t, n, 2)
	rows, _ := e.Read("copy")
	assert.Equal(t, len(rows), 2)
	assert.Equal(t, rows[0]["name"], "Alice")
	assert.Equal(t, rows[1]["id"], "2")
}

func TestLogFile(t *testing.T) {
	e := newEngine(t)
	assert.NilError(t, e.CreateTable("users"))

	data, err := os.ReadFile(e.LogFile())
	assert.NilError(t, err)
	line := strings.TrimSpace(string(data))
	assert.Assert(t, strings.HasPrefix(line, "["))
	assert.Assert(t, strings.HasSuffix(line, "] INFO: Created table: users"), line)
}
