package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

// PebbleBackend is a Pebble LSM-tree backed Backend. Records are keyed
// "<folder>/<key>" inside a single database.
type PebbleBackend struct {
	db     *pebble.DB
	path   string
	logger *zap.Logger
}

// NewPebbleBackend creates a PebbleBackend instance (not yet opened).
func NewPebbleBackend(dbPath string, logger *zap.Logger) *PebbleBackend {
	return &PebbleBackend{
		path:   dbPath,
		logger: logger,
	}
}

// Init opens the Pebble database.
func (p *PebbleBackend) Init() error {
	opts := &pebble.Options{
		Logger: &pebbleLogger{p.logger},
	}
	db, err := pebble.Open(p.path, opts)
	if err != nil {
		return fmt.Errorf("pebble open %s: %w", p.path, err)
	}
	p.db = db
	p.logger.Info("Pebble storage opened", zap.String("path", p.path))
	return nil
}

// Close flushes and closes the database.
func (p *PebbleBackend) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func recordKey(kind Kind, key string) []byte {
	return []byte(kind.Folder + "/" + key)
}

// folderBounds returns the [lower, upper) range covering every key of kind.
func folderBounds(kind Kind) ([]byte, []byte) {
	return []byte(kind.Folder + "/"), []byte(kind.Folder + "0")
}

// Resolve is a no-op; folders are key prefixes.
func (p *PebbleBackend) Resolve(Kind) error { return nil }

func (p *PebbleBackend) Exists(kind Kind, key string) (bool, error) {
	_, closer, err := p.db.Get(recordKey(kind, key))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pebble get: %w", err)
	}
	closer.Close()
	return true, nil
}

func (p *PebbleBackend) Read(kind Kind, key string) ([]byte, error) {
	data, closer, err := p.db.Get(recordKey(kind, key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pebble get: %w", err)
	}
	defer closer.Close()
	// data is only valid until closer.Close
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (p *PebbleBackend) Write(kind Kind, key string, data []byte) error {
	if err := p.db.Set(recordKey(kind, key), data, pebble.Sync); err != nil {
		return fmt.Errorf("pebble set: %w", err)
	}
	return nil
}

func (p *PebbleBackend) Remove(kind Kind, key string) error {
	if err := p.db.Delete(recordKey(kind, key), pebble.Sync); err != nil {
		return fmt.Errorf("pebble delete: %w", err)
	}
	return nil
}

// Purge range-deletes every key of kind.
func (p *PebbleBackend) Purge(kind Kind) error {
	lower, upper := folderBounds(kind)
	if err := p.db.DeleteRange(lower, upper, pebble.Sync); err != nil {
		return fmt.Errorf("pebble delete range: %w", err)
	}
	return nil
}

// pebbleLogger adapts zap.Logger to the pebble.Logger interface.
type pebbleLogger struct {
	z *zap.Logger
}

func (l *pebbleLogger) Infof(format string, args ...any) {
	l.z.Sugar().Infof(format, args...)
}

func (l *pebbleLogger) Errorf(format string, args ...any) {
	l.z.Sugar().Errorf(format, args...)
}

func (l *pebbleLogger) Fatalf(format string, args ...any) {
	l.z.Sugar().Fatalf(format, args...)
}
