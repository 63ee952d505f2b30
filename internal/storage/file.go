package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// FileBackend keeps one file per record under <root>/<folder>/<key><ext>.
type FileBackend struct {
	root   string
	logger *zap.Logger
}

// NewFileBackend creates a FileBackend rooted at root.
func NewFileBackend(root string, logger *zap.Logger) *FileBackend {
	return &FileBackend{root: root, logger: logger}
}

func (b *FileBackend) dir(kind Kind) string {
	return filepath.Join(b.root, kind.Folder)
}

func (b *FileBackend) path(kind Kind, key string) string {
	return filepath.Join(b.dir(kind), key+kind.Ext)
}

// Resolve removes a plain file squatting on the folder path and creates the folder.
func (b *FileBackend) Resolve(kind Kind) error {
	dir := b.dir(kind)
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		b.logger.Warn("Removing file occupying data folder", zap.String("path", dir))
		if err := os.Remove(dir); err != nil {
			return err
		}
	}
	return os.MkdirAll(dir, 0o755)
}

// ensureRegular deletes a directory occupying a record path.
func (b *FileBackend) ensureRegular(path string) error {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return nil
	}
	b.logger.Warn("Removing directory occupying record path", zap.String("path", path))
	return os.RemoveAll(path)
}

func (b *FileBackend) Exists(kind Kind, key string) (bool, error) {
	info, err := os.Stat(b.path(kind, key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func (b *FileBackend) Read(kind Kind, key string) ([]byte, error) {
	path := b.path(kind, key)
	if err := b.ensureRegular(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrRecordNotFound
	}
	return data, err
}

// Write replaces the record through a temp file so readers never see a torn payload.
func (b *FileBackend) Write(kind Kind, key string, data []byte) error {
	path := b.path(kind, key)
	if err := b.ensureRegular(path); err != nil {
		return err
	}
	if err := os.MkdirAll(b.dir(kind), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(b.dir(kind), "."+key+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (b *FileBackend) Remove(kind Kind, key string) error {
	err := os.RemoveAll(b.path(kind, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Purge deletes the whole folder of kind and recreates it empty.
func (b *FileBackend) Purge(kind Kind) error {
	if err := os.RemoveAll(b.dir(kind)); err != nil {
		return err
	}
	return b.Resolve(kind)
}

// Close is a no-op; files are closed after every operation.
func (b *FileBackend) Close() error { return nil }
