package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type VacuumResult struct {
	Table      string `json:"table"`
	Records    int    `json:"records"`
	SizeBefore int64  `json:"size_before"`
	SizeAfter  int64  `json:"size_after"`
}

// Vacuum rewrites every table as compact json, trims each table's backups
// down to VacuumRetention and removes old temp files left by interrupted writes.
// Tables are processed concurrently, at most VacuumWorkers at a time.
func (e *Engine) Vacuum(ctx context.Context) ([]VacuumResult, error) {
	tables, err := e.ListTables()
	if err != nil {
		return nil, err
	}

	e.removeStaleTemps()

	var mu sync.Mutex
	results := make([]VacuumResult, len(tables))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.settings.VacuumWorkers)
	for i, table := range tables {
		i, table := i, table
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := e.vacuumTable(table)
			if err != nil {
				return err
			}
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.log.Error(fmt.Sprintf("Vacuum failed: %v", err))
		return nil, err
	}

	e.log.Info("Database vacuum completed")
	return results, nil
}

func (e *Engine) vacuumTable(table string) (VacuumResult, error) {
	res := VacuumResult{Table: table}
	err := e.locks.Do(table, func() error {
		path := e.tablePath(table)
		if info, err := os.Stat(path); err == nil {
			res.SizeBefore = info.Size()
		}

		rows, _, err := e.readSnapshot(table)
		if err != nil {
			return err
		}
		buf, err := encodeSnapshot(rows, false)
		if err != nil {
			return err
		}
		if err := WriteFileAtomic(path, buf); err != nil {
			return err
		}
		res.Records = len(rows)

		res.SizeAfter = int64(len(buf))
		e.cache.store(table, buf, rows)

		e.cleanupBackups(table, e.settings.VacuumRetention)
		return nil
	})
	return res, wrapError("vacuum", table, err)
}

// temp files younger than this may belong to a write in progress
const staleTempAge = time.Minute

func (e *Engine) removeStaleTemps() {
	for _, dir := range []string{e.data_path, e.index_path, e.backup_path} {
		matches, err := filepath.Glob(filepath.Join(dir, "*"+tmpExt))
		if err != nil {
			continue
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || time.Since(info.ModTime()) < staleTempAge {
				continue
			}
			if os.Remove(m) == nil {
				e.log.Debug(fmt.Sprintf("Removed stale temp file: %s", filepath.Base(m)))
			}
		}
	}
}
