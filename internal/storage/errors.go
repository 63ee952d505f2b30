package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrLockTimeout is the busy signal returned when a per-key lock could not
	// be acquired before the caller's context ended.
	ErrLockTimeout = errors.New("storage: lock not acquired")
	// ErrRecordNotFound is returned by backends when no record exists for a key.
	ErrRecordNotFound = errors.New("storage: record not found")
	// ErrNoHistory is returned when a history operation needs an existing record.
	ErrNoHistory = errors.New("storage: no teleport history")
)

// StorageIOError wraps a failure of the underlying backend.
type StorageIOError struct {
	Op     string
	Folder string
	Key    string
	Err    error
}

func (e *StorageIOError) Error() string {
	return fmt.Sprintf("storage %s %s/%s: %v", e.Op, e.Folder, e.Key, e.Err)
}

func (e *StorageIOError) Unwrap() error { return e.Err }

// DataCorruptionError reports a persisted payload that failed to decode.
type DataCorruptionError struct {
	Folder string
	Key    string
	Err    error
}

func (e *DataCorruptionError) Error() string {
	return fmt.Sprintf("corrupted record %s/%s: %v", e.Folder, e.Key, e.Err)
}

func (e *DataCorruptionError) Unwrap() error { return e.Err }

// ValidationError reports an input the store refuses to accept.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}
