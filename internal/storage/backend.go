// Package storage provides durable per-player records: a generic keyed store
// with per-key locking over pluggable backends, and the request, history and
// home stores built on it.
package storage

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
)

// Kind names the namespace a record type lives in.
type Kind struct {
	// Folder is the subdirectory (or key prefix) owned by the record type.
	Folder string
	// Ext is appended to the key to form a file name.
	Ext string
}

// Backend is the byte-level persistence layer shared by all stores.
type Backend interface {
	// Resolve prepares the namespace of kind for use.
	Resolve(kind Kind) error
	// Exists reports whether a record is stored for key.
	Exists(kind Kind, key string) (bool, error)
	// Read returns the payload for key, or ErrRecordNotFound.
	Read(kind Kind, key string) ([]byte, error)
	// Write replaces the payload for key.
	Write(kind Kind, key string, data []byte) error
	// Remove deletes the record for key. Removing a missing record is not an error.
	Remove(kind Kind, key string) error
	// Purge deletes every record of kind and leaves the namespace ready for use.
	Purge(kind Kind) error
	// Close releases the backend.
	Close() error
}

// Backend names accepted by OpenBackend.
const (
	BackendFile   = "file"
	BackendPebble = "pebble"
	BackendSQLite = "sqlite"
)

// OpenBackend opens the named backend rooted at dataDir.
func OpenBackend(name, dataDir string, logger *zap.Logger) (Backend, error) {
	switch name {
	case "", BackendFile:
		return NewFileBackend(dataDir, logger), nil
	case BackendPebble:
		p := NewPebbleBackend(filepath.Join(dataDir, "pebble"), logger)
		if err := p.Init(); err != nil {
			return nil, err
		}
		return p, nil
	case BackendSQLite:
		return OpenSQLiteBackend(filepath.Join(dataDir, "waypoint.sqlite"), logger)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (use 'file', 'pebble' or 'sqlite')", name)
	}
}
