package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS Records(
Folder TEXT NOT NULL,
Name TEXT NOT NULL,
Payload BLOB NOT NULL,
UpdatedAt DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
PRIMARY KEY (Folder, Name));`

// SQLiteBackend stores every record as a row of a single table.
type SQLiteBackend struct {
	db     *sqlx.DB
	path   string
	logger *zap.Logger
}

// OpenSQLiteBackend opens (and if needed creates) the database at path.
func OpenSQLiteBackend(path string, logger *zap.Logger) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite open %s: %w", path, err)
	}
	// A single connection; concurrent writers would hit SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	logger.Info("SQLite storage opened", zap.String("path", path))
	return &SQLiteBackend{db: db, path: path, logger: logger}, nil
}

// Resolve is a no-op; folders are a column.
func (s *SQLiteBackend) Resolve(Kind) error { return nil }

func (s *SQLiteBackend) Exists(kind Kind, key string) (bool, error) {
	var n int
	err := s.db.Get(&n, "SELECT COUNT(1) FROM Records WHERE Folder = ? AND Name = ?", kind.Folder, key)
	if err != nil {
		return false, fmt.Errorf("sqlite exists: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteBackend) Read(kind Kind, key string) ([]byte, error) {
	var payload []byte
	err := s.db.Get(&payload, "SELECT Payload FROM Records WHERE Folder = ? AND Name = ?", kind.Folder, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite read: %w", err)
	}
	return payload, nil
}

func (s *SQLiteBackend) Write(kind Kind, key string, data []byte) error {
	_, err := s.db.Exec(`INSERT INTO Records(Folder, Name, Payload, UpdatedAt)
		VALUES(?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(Folder, Name) DO UPDATE SET Payload = excluded.Payload, UpdatedAt = CURRENT_TIMESTAMP`,
		kind.Folder, key, data)
	if err != nil {
		return fmt.Errorf("sqlite write: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Remove(kind Kind, key string) error {
	if _, err := s.db.Exec("DELETE FROM Records WHERE Folder = ? AND Name = ?", kind.Folder, key); err != nil {
		return fmt.Errorf("sqlite delete: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Purge(kind Kind) error {
	res, err := s.db.Exec("DELETE FROM Records WHERE Folder = ?", kind.Folder)
	if err != nil {
		return fmt.Errorf("sqlite purge: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.logger.Info("Purged records", zap.String("folder", kind.Folder), zap.Int64("count", n))
	}
	return nil
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}
