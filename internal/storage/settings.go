package storage

import (
	"errors"
	"runtime"
)

const (
	DefaultBackupRetention = 10
	DefaultVacuumRetention = 5
	DefaultCacheSize       = 16
)

type Settings struct {
	// directory holding data/, backups/, indexes/ and logs/
	Root string
	// backups kept per table after a normal write
	BackupRetention int
	// backups kept per table after Vacuum
	VacuumRetention int
	// store backups zstd compressed
	CompressBackups bool
	// pretty print snapshots on normal writes; Vacuum always writes compact json
	Indent bool
	// decoded snapshots kept in memory, 0 disables the cache
	CacheSize int
	// tables vacuumed concurrently
	VacuumWorkers int
}

func NewSettings(root string) *Settings {
	return &Settings{
		Root:            root,
		BackupRetention: DefaultBackupRetention,
		VacuumRetention: DefaultVacuumRetention,
		Indent:          true,
		CacheSize:       DefaultCacheSize,
		VacuumWorkers:   runtime.NumCPU(),
	}
}

func (s *Settings) validate() error {
	if s.Root == "" {
		return errors.New("storage root must be set")
	}
	if s.BackupRetention < 1 {
		s.BackupRetention = DefaultBackupRetention
	}
	if s.VacuumRetention < 1 {
		s.VacuumRetention = DefaultVacuumRetention
	}
	if s.VacuumWorkers < 1 {
		s.VacuumWorkers = 1
	}
	return nil
}
