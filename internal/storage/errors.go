package storage

import (
	"errors"
	"fmt"
)

var (
	ErrTableNotFound     = errors.New("table does not exist")
	ErrTableExists       = errors.New("table already exists")
	ErrInvalidTableName  = errors.New("invalid table name")
	ErrNotSequence       = errors.New("table data must be a list")
	ErrMalformedSnapshot = errors.New("malformed table snapshot")
	ErrRecordNotFound    = errors.New("record not found")
	ErrNoBackups         = errors.New("no backups found")
	ErrBackupNotFound    = errors.New("backup not found")
	ErrTableEmpty        = errors.New("table is empty")
)

// StorageError is returned for every failure of a table operation.
// Missing records are StorageErrors wrapping ErrRecordNotFound.
type StorageError struct {
	Op    string
	Table string
	Err   error
}

func (e *StorageError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage: %s %q: %v", e.Op, e.Table, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func wrapError(op, table string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Table: table, Err: err}
}

func NewRecordNotFound(op, table string, id int) error {
	return &StorageError{
		Op:    op,
		Table: table,
		Err:   fmt.Errorf("%w: record with id %d not found in table %q", ErrRecordNotFound, id, table),
	}
}

func IsRecordNotFound(err error) bool { return errors.Is(err, ErrRecordNotFound) }

func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
