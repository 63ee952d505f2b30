package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Codec converts records to and from their persisted payload.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// JSONCodec stores records as indented JSON.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Encode(v T) ([]byte, error) {
	return json.MarshalIndent(v, "", "    ")
}

func (JSONCodec[T]) Decode(data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}

// TextCodec stores a string verbatim.
type TextCodec struct{}

func (TextCodec) Encode(v string) ([]byte, error) { return []byte(v), nil }

func (TextCodec) Decode(data []byte) (string, error) { return string(data), nil }

// Store is a durable collection of records of one kind, one per key. It
// hands out a single Handle per key for its whole lifetime.
type Store[T any] struct {
	kind    Kind
	codec   Codec[T]
	backend Backend
	logger  *zap.Logger

	mu      sync.Mutex
	handles map[string]*Handle[T]
}

// NewStore creates a Store for kind over backend.
func NewStore[T any](kind Kind, codec Codec[T], backend Backend, logger *zap.Logger) *Store[T] {
	return &Store[T]{
		kind:    kind,
		codec:   codec,
		backend: backend,
		logger:  logger.With(zap.String("store", kind.Folder)),
		handles: make(map[string]*Handle[T]),
	}
}

// Kind returns the namespace of the store.
func (s *Store[T]) Kind() Kind { return s.kind }

// Resolve prepares the backend namespace. Call once at startup.
func (s *Store[T]) Resolve() error {
	if err := s.backend.Resolve(s.kind); err != nil {
		return &StorageIOError{Op: "resolve", Folder: s.kind.Folder, Err: err}
	}
	return nil
}

// Purge deletes every record of the store and resets cached state.
func (s *Store[T]) Purge() error {
	s.mu.Lock()
	handles := make([]*Handle[T], 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		_ = h.WithLock(context.Background(), func(tx *Tx[T]) error {
			tx.Invalidate()
			return nil
		})
	}
	if err := s.backend.Purge(s.kind); err != nil {
		return &StorageIOError{Op: "purge", Folder: s.kind.Folder, Err: err}
	}
	s.logger.Info("Purged store")
	return nil
}

// Handle returns the handle for key, creating it on first use.
func (s *Store[T]) Handle(key string) (*Handle[T], error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[key]
	if !ok {
		h = &Handle[T]{store: s, key: key, lock: newKeyLock()}
		s.handles[key] = h
	}
	return h, nil
}

// WithLock runs fn holding the lock of key.
func (s *Store[T]) WithLock(ctx context.Context, key string, fn func(tx *Tx[T]) error) error {
	h, err := s.Handle(key)
	if err != nil {
		return err
	}
	return h.WithLock(ctx, fn)
}

func validateKey(key string) error {
	switch {
	case key == "":
		return &ValidationError{Field: "key", Value: key, Reason: "empty"}
	case key == "." || key == "..":
		return &ValidationError{Field: "key", Value: key, Reason: "reserved name"}
	case strings.ContainsAny(key, `/\`+"\x00"):
		return &ValidationError{Field: "key", Value: key, Reason: "contains a path separator"}
	}
	return nil
}

type cacheState int

const (
	cacheUnknown cacheState = iota
	cacheAbsent
	cachePresent
)

// Handle is the per-key access point of a Store. Its cache is only touched
// while its lock is held.
type Handle[T any] struct {
	store *Store[T]
	key   string
	lock  keyLock

	state  cacheState
	cached T
}

// Key returns the key the handle is bound to.
func (h *Handle[T]) Key() string { return h.key }

// WithLock acquires the handle's lock, runs fn and releases the lock on
// every exit path. If ctx ends while waiting, ErrLockTimeout is returned.
func (h *Handle[T]) WithLock(ctx context.Context, fn func(tx *Tx[T]) error) error {
	if err := h.lock.lock(ctx); err != nil {
		return err
	}
	defer h.lock.unlock()
	return fn(&Tx[T]{h: h})
}

// TryWithLock runs fn only if the lock is free. It reports whether fn ran.
func (h *Handle[T]) TryWithLock(fn func(tx *Tx[T]) error) (bool, error) {
	if !h.lock.tryLock() {
		return false, nil
	}
	defer h.lock.unlock()
	return true, fn(&Tx[T]{h: h})
}

// Tx is the view of a record while its handle's lock is held. It must not
// be retained after the WithLock callback returns.
type Tx[T any] struct {
	h *Handle[T]
}

// Key returns the key of the locked record.
func (tx *Tx[T]) Key() string { return tx.h.key }

func (tx *Tx[T]) ioError(op string, err error) error {
	return &StorageIOError{Op: op, Folder: tx.h.store.kind.Folder, Key: tx.h.key, Err: err}
}

// Exists reports whether a record is stored for the key.
func (tx *Tx[T]) Exists() (bool, error) {
	switch tx.h.state {
	case cachePresent:
		return true, nil
	case cacheAbsent:
		return false, nil
	}
	ok, err := tx.h.store.backend.Exists(tx.h.store.kind, tx.h.key)
	if err != nil {
		return false, tx.ioError("exists", err)
	}
	return ok, nil
}

// Load returns the record, reading it through the cache. The boolean is
// false when no record exists.
func (tx *Tx[T]) Load() (T, bool, error) {
	var zero T
	switch tx.h.state {
	case cachePresent:
		return tx.h.cached, true, nil
	case cacheAbsent:
		return zero, false, nil
	}
	data, err := tx.ReadRaw()
	if errors.Is(err, ErrRecordNotFound) {
		tx.h.state = cacheAbsent
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	v, err := tx.h.store.codec.Decode(data)
	if err != nil {
		return zero, false, &DataCorruptionError{Folder: tx.h.store.kind.Folder, Key: tx.h.key, Err: err}
	}
	tx.h.cached, tx.h.state = v, cachePresent
	return v, true, nil
}

// Save persists v and makes it the cached record.
func (tx *Tx[T]) Save(v T) error {
	data, err := tx.h.store.codec.Encode(v)
	if err != nil {
		return err
	}
	if err := tx.WriteRaw(data); err != nil {
		return err
	}
	tx.h.cached, tx.h.state = v, cachePresent
	return nil
}

// Remove deletes the record. Removing a missing record succeeds.
func (tx *Tx[T]) Remove() error {
	if err := tx.h.store.backend.Remove(tx.h.store.kind, tx.h.key); err != nil {
		tx.Invalidate()
		return tx.ioError("remove", err)
	}
	var zero T
	tx.h.cached, tx.h.state = zero, cacheAbsent
	return nil
}

// ReadRaw returns the persisted payload bypassing the codec and the cache.
// A missing record yields ErrRecordNotFound.
func (tx *Tx[T]) ReadRaw() ([]byte, error) {
	data, err := tx.h.store.backend.Read(tx.h.store.kind, tx.h.key)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, tx.ioError("read", err)
	}
	return data, nil
}

// WriteRaw persists data bypassing the codec. The cache is dropped.
func (tx *Tx[T]) WriteRaw(data []byte) error {
	tx.Invalidate()
	if err := tx.h.store.backend.Write(tx.h.store.kind, tx.h.key, data); err != nil {
		return tx.ioError("write", err)
	}
	return nil
}

// Invalidate drops the cached record so the next Load reads the backend.
func (tx *Tx[T]) Invalidate() {
	var zero T
	tx.h.cached, tx.h.state = zero, cacheUnknown
}

