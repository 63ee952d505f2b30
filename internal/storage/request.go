package storage

import (
	"context"

	"go.uber.org/zap"
)

var requestKind = Kind{Folder: "tpa", Ext: ".tpa"}

// RequestStore holds, per target player, the player who asked to teleport to them.
type RequestStore struct {
	store *Store[string]
}

// NewRequestStore creates a RequestStore over backend.
func NewRequestStore(backend Backend, logger *zap.Logger) *RequestStore {
	return &RequestStore{store: NewStore[string](requestKind, TextCodec{}, backend, logger)}
}

// RequestTx is the locked view of one target's pending request.
type RequestTx struct {
	tx *Tx[string]
}

// Target returns the key of the locked request.
func (r *RequestTx) Target() string { return r.tx.Key() }

// Requester returns the stored requester, if any.
func (r *RequestTx) Requester() (string, bool, error) {
	return r.tx.Load()
}

// SetRequester overwrites the stored requester.
func (r *RequestTx) SetRequester(requester string) error {
	return r.tx.Save(requester)
}

// Remove deletes the stored request.
func (r *RequestTx) Remove() error {
	return r.tx.Remove()
}

// Update runs fn holding the lock of target.
func (s *RequestStore) Update(ctx context.Context, target string, fn func(r *RequestTx) error) error {
	return s.store.WithLock(ctx, target, func(tx *Tx[string]) error {
		return fn(&RequestTx{tx: tx})
	})
}

// SetRequester records requester as the pending requester of target.
func (s *RequestStore) SetRequester(ctx context.Context, target, requester string) error {
	return s.Update(ctx, target, func(r *RequestTx) error {
		return r.SetRequester(requester)
	})
}

// Requester returns the pending requester of target.
func (s *RequestStore) Requester(ctx context.Context, target string) (requester string, ok bool, err error) {
	err = s.Update(ctx, target, func(r *RequestTx) error {
		requester, ok, err = r.Requester()
		return err
	})
	return requester, ok, err
}

// Remove deletes the pending request of target.
func (s *RequestStore) Remove(ctx context.Context, target string) error {
	return s.Update(ctx, target, func(r *RequestTx) error {
		return r.Remove()
	})
}

// RemoveAll clears every pending request left over from a previous run.
func (s *RequestStore) RemoveAll() error {
	return s.store.Purge()
}
