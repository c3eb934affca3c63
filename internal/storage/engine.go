package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/tobsdb/recstore/internal/record"
	"github.com/tobsdb/recstore/pkg"
)

const (
	snapshotExt = ".json"
	tmpExt      = ".tmp"
)

// Engine owns the table snapshot files under one root.
//
// Writes to a table are serialized by a per-table mutex owned by the Engine,
// so an Engine should be created once per root and shared.
// Plain reads take no lock.
type Engine struct {
	settings *Settings
	log      *pkg.Logger
	locks    *pkg.KeyedMutex
	cache    *snapshotCache

	zenc *zstd.Encoder
	zdec *zstd.Decoder

	data_path   string
	backup_path string
	index_path  string
	log_path    string
}

// New creates the storage directories under settings.Root.
// Events are written to logs/database.log through a copy of logger;
// a nil logger uses pkg.DefaultLogger.
func New(settings *Settings, logger *pkg.Logger) (*Engine, error) {
	if settings == nil {
		return nil, errors.New("storage settings must be set")
	}
	if err := settings.validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		settings:    settings,
		locks:       pkg.NewKeyedMutex(),
		cache:       newSnapshotCache(settings.CacheSize),
		data_path:   filepath.Join(settings.Root, "data"),
		backup_path: filepath.Join(settings.Root, "backups"),
		index_path:  filepath.Join(settings.Root, "indexes"),
		log_path:    filepath.Join(settings.Root, "logs"),
	}

	for _, dir := range []string{e.data_path, e.backup_path, e.index_path, e.log_path} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, wrapError("init", "", err)
		}
	}

	if logger == nil {
		logger = pkg.DefaultLogger
	}
	e.log = logger.With(pkg.AppendFile(filepath.Join(e.log_path, "database.log")))

	var err error
	if e.zenc, err = zstd.NewWriter(nil); err != nil {
		return nil, wrapError("init", "", err)
	}
	if e.zdec, err = zstd.NewReader(nil); err != nil {
		return nil, wrapError("init", "", err)
	}

	return e, nil
}

func (e *Engine) Close() error {
	e.zdec.Close()
	return e.zenc.Close()
}

func (e *Engine) Settings() Settings  { return *e.settings }
func (e *Engine) Logger() *pkg.Logger { return e.log }
func (e *Engine) DataDir() string     { return e.data_path }
func (e *Engine) BackupDir() string   { return e.backup_path }
func (e *Engine) IndexDir() string    { return e.index_path }
func (e *Engine) LogFile() string     { return filepath.Join(e.log_path, "database.log") }

// IndexPath is where the index of field on table is persisted.
func (e *Engine) IndexPath(table, field string) string {
	return filepath.Join(e.index_path, fmt.Sprintf("%s_%s%s", table, field, snapshotExt))
}

func (e *Engine) tablePath(table string) string {
	return filepath.Join(e.data_path, table+snapshotExt)
}

func checkTableName(table string) error {
	if table == "" || table == "." || table == ".." ||
		strings.ContainsAny(table, `/\`) || strings.ContainsRune(table, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidTableName, table)
	}
	return nil
}

func (e *Engine) TableExists(table string) bool {
	if checkTableName(table) != nil {
		return false
	}
	_, err := os.Stat(e.tablePath(table))
	return err == nil
}

// CreateTable writes an empty snapshot for table. It fails if the table exists.
func (e *Engine) CreateTable(table string) error {
	if err := checkTableName(table); err != nil {
		return wrapError("create", table, err)
	}
	return e.locks.Do(table, func() error {
		if e.TableExists(table) {
			return wrapError("create", table, ErrTableExists)
		}
		if err := e.writeSnapshot(table, []record.Record{}, false); err != nil {
			return wrapError("create", table, err)
		}
		e.log.Info(fmt.Sprintf("Created table: %s", table))
		return nil
	})
}

// Drop backs table up and deletes it.
func (e *Engine) Drop(table string) error {
	if err := checkTableName(table); err != nil {
		return wrapError("drop", table, err)
	}
	return e.locks.Do(table, func() error {
		if !e.TableExists(table) {
			return wrapError("drop", table, ErrTableNotFound)
		}

		e.createBackup(table, e.settings.BackupRetention)

		if err := os.Remove(e.tablePath(table)); err != nil {
			return wrapError("drop", table, err)
		}
		e.cache.forget(table)
		e.log.Info(fmt.Sprintf("Dropped table: %s", table))
		return nil
	})
}

// Read returns every record of table. A missing table is created empty.
func (e *Engine) Read(table string) ([]record.Record, error) {
	if err := checkTableName(table); err != nil {
		return nil, wrapError("read", table, err)
	}

	rows, exists, err := e.readSnapshot(table)
	if err != nil {
		return nil, wrapError("read", table, err)
	}
	if !exists {
		if err := e.CreateTable(table); err != nil && !errors.Is(err, ErrTableExists) {
			return nil, err
		}
	}
	return rows, nil
}

// readSnapshot loads the snapshot of table. exists is false when there is no
// snapshot file, in which case rows is empty.
func (e *Engine) readSnapshot(table string) (rows []record.Record, exists bool, err error) {
	data, err := os.ReadFile(e.tablePath(table))
	if errors.Is(err, os.ErrNotExist) {
		return []record.Record{}, false, nil
	}
	if err != nil {
		return nil, true, err
	}
	if rows, ok := e.cache.load(table, data); ok {
		return rows, true, nil
	}
	rows, err = decodeSnapshot(data)
	if err != nil {
		return nil, true, err
	}

	e.cache.store(table, data, rows)
	return rows, true, nil
}

// Write replaces the snapshot of table with records.
func (e *Engine) Write(table string, records []record.Record) error {
	if err := checkTableName(table); err != nil {
		return wrapError("write", table, err)
	}
	return e.locks.Do(table, func() error {
		return wrapError("write", table, e.writeSnapshot(table, records, true))
	})
}

// WriteValue writes decoded json to table. v must be a list of objects.
func (e *Engine) WriteValue(table string, v any) error {
	records, err := toRecords(v)
	if err != nil {
		return wrapError("write", table, err)
	}
	return e.Write(table, records)
}

// ModifyFunc receives the current records of a table and returns the records
// to write. Returning write=false leaves the table untouched.
type ModifyFunc func(records []record.Record) (out []record.Record, write bool, err error)

// Modify runs a read-modify-write of table while holding the table lock.
// A missing table is handed to fn as an empty list.
func (e *Engine) Modify(table string, fn ModifyFunc) error {
	if err := checkTableName(table); err != nil {
		return wrapError("modify", table, err)
	}
	return e.locks.Do(table, func() error {
		rows, _, err := e.readSnapshot(table)
		if err != nil {
			return wrapError("read", table, err)
		}
		out, write, err := fn(rows)
		if err != nil || !write {
			return err
		}
		return wrapError("write", table, e.writeSnapshot(table, out, true))
	})
}

// writeSnapshot must be called with the table lock held.
func (e *Engine) writeSnapshot(table string, records []record.Record, backup bool) error {
	if records == nil {
		records = []record.Record{}
	}

	path := e.tablePath(table)
	if backup {
		if _, err := os.Stat(path); err == nil {
			e.createBackup(table, e.settings.BackupRetention)
		}
	}

	buf, err := encodeSnapshot(records, e.settings.Indent)
	if err != nil {
		return err
	}
	if err := WriteFileAtomic(path, buf); err != nil {
		e.cache.forget(table)
		return err
	}
	e.cache.store(table, buf, records)
	return nil
}

// WriteFileAtomic writes data to a uniquely named temp file next to path,
// syncs it and renames it over path. The temp file is removed on failure.
func WriteFileAtomic(path string, data []byte) (err error) {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	tmp := fmt.Sprintf("%s.%s%s", base, uuid.NewString(), tmpExt)
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(tmp)
		}
	}()

	if _, err = f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func encodeSnapshot(records []record.Record, indent bool) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeSnapshot(data []byte) ([]record.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	rows, err := toRecords(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	return rows, nil
}

func toRecords(v any) ([]record.Record, error) {
	switch v := v.(type) {
	case []record.Record:
		return v, nil
	case []map[string]any:
		out := make([]record.Record, len(v))
		for i, m := range v {
			out[i] = record.NormalizeRecord(m)
		}
		return out, nil
	case []any:
		out := make([]record.Record, len(v))
		for i, item := range v {
			switch m := item.(type) {
			case map[string]any:
				out[i] = record.NormalizeRecord(m)
			case record.Record:
				out[i] = record.NormalizeRecord(m)
			default:
				return nil, fmt.Errorf("item %d is %T, not an object", i, item)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: got %T", ErrNotSequence, v)
}

// ListTables returns the names of every table in ascending order.
func (e *Engine) ListTables() ([]string, error) {
	entries, err := os.ReadDir(e.data_path)
	if err != nil {
		return nil, wrapError("list", "", err)
	}
	tables := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, snapshotExt) {
			continue
		}
		tables = append(tables, strings.TrimSuffix(name, snapshotExt))
	}
	sort.Strings(tables)
	return tables, nil
}

type TableInfo struct {
	Name        string    `json:"name"`
	RecordCount int       `json:"record_count"`
	FileSize    int64     `json:"file_size"`
	Modified    time.Time `json:"modified"`
}

// TableInfo describes table. It fails with ErrTableNotFound for missing tables.
func (e *Engine) TableInfo(table string) (*TableInfo, error) {
	if !e.TableExists(table) {
		return nil, wrapError("info", table, ErrTableNotFound)
	}
	info, err := os.Stat(e.tablePath(table))
	if err != nil {
		return nil, wrapError("info", table, err)
	}
	rows, _, err := e.readSnapshot(table)
	if err != nil {
		return nil, wrapError("info", table, err)
	}
	return &TableInfo{table, len(rows), info.Size(), info.ModTime()}, nil
}
