package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	backupTimeLayout = "20060102_150405"
	compressedExt    = ".zst"
)

var backupStamp = regexp.MustCompile(`^\d{8}_\d{6}$`)

type BackupInfo struct {
	Name       string    `json:"name"`
	Table      string    `json:"table"`
	Created    time.Time `json:"created"`
	Size       int64     `json:"size"`
	Compressed bool      `json:"compressed"`
}

// parseBackupName splits "{table}_{stamp}.json[.zst]". ok is false for names
// that do not belong to table.
func parseBackupName(table, name string) (created time.Time, compressed bool, ok bool) {
	rest, found := strings.CutPrefix(name, table+"_")
	if !found {
		return time.Time{}, false, false
	}
	if s, found := strings.CutSuffix(rest, snapshotExt+compressedExt); found {
		rest, compressed = s, true
	} else if s, found := strings.CutSuffix(rest, snapshotExt); found {
		rest = s
	} else {
		return time.Time{}, false, false
	}
	if !backupStamp.MatchString(rest) {
		return time.Time{}, false, false
	}
	created, err := time.ParseInLocation(backupTimeLayout, rest, time.Local)
	if err != nil {
		return time.Time{}, false, false
	}
	return created, compressed, true
}

// createBackup copies the current snapshot of table into backups/ and trims
// old backups down to keep. Failures are logged and never returned.
// Must be called with the table lock held.
func (e *Engine) createBackup(table string, keep int) {
	data, err := os.ReadFile(e.tablePath(table))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			e.log.Warn(fmt.Sprintf("Backup of %s failed: %v", table, err))
		}
		return
	}

	name := fmt.Sprintf("%s_%s%s", table, time.Now().Format(backupTimeLayout), snapshotExt)
	if e.settings.CompressBackups {
		data = e.zenc.EncodeAll(data, nil)
		name += compressedExt
	}

	if err := WriteFileAtomic(filepath.Join(e.backup_path, name), data); err != nil {
		e.log.Warn(fmt.Sprintf("Backup of %s failed: %v", table, err))
		return
	}
	e.log.Debug(fmt.Sprintf("Created backup: %s", name))

	e.cleanupBackups(table, keep)
}

// cleanupBackups removes all but the keep newest backups of table.
func (e *Engine) cleanupBackups(table string, keep int) {
	backups, err := e.ListBackups(table)
	if err != nil {
		e.log.Warn(fmt.Sprintf("Backup cleanup of %s failed: %v", table, err))
		return
	}
	if len(backups) <= keep {
		return
	}
	for _, b := range backups[keep:] {
		if err := os.Remove(filepath.Join(e.backup_path, b.Name)); err != nil {
			e.log.Warn(fmt.Sprintf("Could not remove backup %s: %v", b.Name, err))
			continue
		}
		e.log.Debug(fmt.Sprintf("Removed old backup: %s", b.Name))
	}
}

// ListBackups returns the backups of table, newest first.
func (e *Engine) ListBackups(table string) ([]BackupInfo, error) {
	if err := checkTableName(table); err != nil {
		return nil, wrapError("backups", table, err)
	}
	entries, err := os.ReadDir(e.backup_path)
	if err != nil {
		return nil, wrapError("backups", table, err)
	}

	backups := []BackupInfo{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		created, compressed, ok := parseBackupName(table, entry.Name())
		if !ok {
			continue
		}
		var size int64
		if info, err := entry.Info(); err == nil {
			size = info.Size()
		}
		backups = append(backups, BackupInfo{entry.Name(), table, created, size, compressed})
	}

	sort.SliceStable(backups, func(i, j int) bool {
		if !backups[i].Created.Equal(backups[j].Created) {
			return backups[i].Created.After(backups[j].Created)
		}
		return backups[i].Name > backups[j].Name
	})
	return backups, nil
}

// Restore replaces table with one of its backups. An empty name restores the
// newest backup. The snapshot being replaced is itself backed up first.
func (e *Engine) Restore(table, name string) error {
	backups, err := e.ListBackups(table)
	if err != nil {
		return wrapError("restore", table, err)
	}
	if len(backups) == 0 {
		return wrapError("restore", table, ErrNoBackups)
	}

	var chosen *BackupInfo
	if name == "" {
		chosen = &backups[0]
	} else {
		for i := range backups {
			if backups[i].Name == name {
				chosen = &backups[i]
				break
			}
		}
	}
	if chosen == nil {
		return wrapError("restore", table, fmt.Errorf("%w: %s", ErrBackupNotFound, name))
	}

	data, err := os.ReadFile(filepath.Join(e.backup_path, chosen.Name))
	if err != nil {
		return wrapError("restore", table, err)
	}
	if chosen.Compressed {
		if data, err = e.zdec.DecodeAll(data, nil); err != nil {
			return wrapError("restore", table, err)
		}
	}
	rows, err := decodeSnapshot(data)
	if err != nil {
		return wrapError("restore", table, err)
	}

	err = e.locks.Do(table, func() error {
		return e.writeSnapshot(table, rows, true)
	})
	if err != nil {
		return wrapError("restore", table, err)
	}
	e.log.Info(fmt.Sprintf("Restored %s from backup %s", table, chosen.Name))
	return nil
}
