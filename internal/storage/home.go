package storage

import (
	"context"
	"encoding/json"
	"errors"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.uber.org/zap"

	"github.com/iggydv12/waypoint/internal/location"
)

var homeKind = Kind{Folder: "home", Ext: ".json"}

// Homes maps home names to locations in insertion order.
type Homes = orderedmap.OrderedMap[string, location.Location]

// NewHomes returns an empty set of homes.
func NewHomes() *Homes {
	return orderedmap.New[string, location.Location]()
}

func cloneHomes(src *Homes) *Homes {
	dst := orderedmap.New[string, location.Location](src.Len())
	for p := src.Oldest(); p != nil; p = p.Next() {
		dst.Set(p.Key, p.Value)
	}
	return dst
}

// HomeNames returns the home names in insertion order.
func HomeNames(h *Homes) []string {
	names := make([]string, 0, h.Len())
	for p := h.Oldest(); p != nil; p = p.Next() {
		names = append(names, p.Key)
	}
	return names
}

type homesCodec struct{}

func (homesCodec) Encode(h *Homes) ([]byte, error) {
	return json.MarshalIndent(h, "", "    ")
}

func (homesCodec) Decode(data []byte) (*Homes, error) {
	h := NewHomes()
	if err := json.Unmarshal(data, h); err != nil {
		return nil, err
	}
	return h, nil
}

// HomeStore keeps a bounded set of named homes per player.
type HomeStore struct {
	store  *Store[*Homes]
	max    int
	logger *zap.Logger
}

// NewHomeStore creates a HomeStore allowing at most max homes per player.
func NewHomeStore(backend Backend, max int, logger *zap.Logger) *HomeStore {
	return &HomeStore{
		store:  NewStore[*Homes](homeKind, homesCodec{}, backend, logger),
		max:    max,
		logger: logger.With(zap.String("store", homeKind.Folder)),
	}
}

// Resolve prepares the store's namespace.
func (s *HomeStore) Resolve() error { return s.store.Resolve() }

// Max returns the per-player home limit.
func (s *HomeStore) Max() int { return s.max }

// HomeTx is the locked view of one player's homes. Mutations persist
// immediately and leave the set untouched when the write fails.
type HomeTx struct {
	tx    *Tx[*Homes]
	homes *Homes
	max   int
}

// Homes returns the current set. Callers must not modify it.
func (h *HomeTx) Homes() *Homes { return h.homes }

// Count returns the number of homes.
func (h *HomeTx) Count() int { return h.homes.Len() }

// Full reports whether the limit has been reached.
func (h *HomeTx) Full() bool { return h.homes.Len() >= h.max }

// Get returns the home called name.
func (h *HomeTx) Get(name string) (location.Location, bool) {
	return h.homes.Get(name)
}

// Set inserts a new home. It returns false without changes when the name is
// taken or the set is full.
func (h *HomeTx) Set(name string, loc location.Location) (bool, error) {
	if _, ok := h.homes.Get(name); ok || h.Full() {
		return false, nil
	}
	next := cloneHomes(h.homes)
	next.Set(name, loc)
	if err := h.tx.Save(next); err != nil {
		return false, err
	}
	h.homes = next
	return true, nil
}

// Remove deletes the home called name. It returns false when absent.
func (h *HomeTx) Remove(name string) (bool, error) {
	if _, ok := h.homes.Get(name); !ok {
		return false, nil
	}
	next := cloneHomes(h.homes)
	next.Delete(name)
	if err := h.tx.Save(next); err != nil {
		return false, err
	}
	h.homes = next
	return true, nil
}

// load reads the player's homes. A missing record is created empty and a
// corrupted one is replaced by an empty set.
func (s *HomeStore) load(tx *Tx[*Homes]) (*Homes, error) {
	homes, ok, err := tx.Load()
	var corrupt *DataCorruptionError
	switch {
	case errors.As(err, &corrupt):
		s.logger.Error("Home data corrupted, resetting",
			zap.String("player", tx.Key()), zap.Error(corrupt.Err))
	case err != nil:
		return nil, err
	case ok:
		return homes, nil
	}
	homes = NewHomes()
	if err := tx.Save(homes); err != nil {
		return nil, err
	}
	return homes, nil
}

// Update runs fn holding the lock of player.
func (s *HomeStore) Update(ctx context.Context, player string, fn func(h *HomeTx) error) error {
	return s.store.WithLock(ctx, player, func(tx *Tx[*Homes]) error {
		homes, err := s.load(tx)
		if err != nil {
			return err
		}
		return fn(&HomeTx{tx: tx, homes: homes, max: s.max})
	})
}

// List returns a copy of the player's homes.
func (s *HomeStore) List(ctx context.Context, player string) (homes *Homes, err error) {
	err = s.Update(ctx, player, func(h *HomeTx) error {
		homes = cloneHomes(h.Homes())
		return nil
	})
	return homes, err
}

// Lookup returns a copy of the player's stored homes without creating or
// repairing the record. ok is false when nothing is stored for the player.
func (s *HomeStore) Lookup(ctx context.Context, player string) (homes *Homes, ok bool, err error) {
	err = s.store.WithLock(ctx, player, func(tx *Tx[*Homes]) error {
		stored, found, err := tx.Load()
		if err != nil {
			return err
		}
		ok = found
		if found {
			homes = cloneHomes(stored)
		} else {
			homes = NewHomes()
		}
		return nil
	})
	return homes, ok, err
}

// Home returns the player's home called name.
func (s *HomeStore) Home(ctx context.Context, player, name string) (loc location.Location, ok bool, err error) {
	err = s.Update(ctx, player, func(h *HomeTx) error {
		loc, ok = h.Get(name)
		return nil
	})
	return loc, ok, err
}

// Count returns how many homes the player has.
func (s *HomeStore) Count(ctx context.Context, player string) (n int, err error) {
	err = s.Update(ctx, player, func(h *HomeTx) error {
		n = h.Count()
		return nil
	})
	return n, err
}

// SetHome adds a home. It returns false when name is taken or the player
// already has the maximum number of homes.
func (s *HomeStore) SetHome(ctx context.Context, player, name string, loc location.Location) (ok bool, err error) {
	err = s.Update(ctx, player, func(h *HomeTx) error {
		ok, err = h.Set(name, loc)
		return err
	})
	return ok, err
}

// RemoveHome deletes a home. It returns false when name is absent.
func (s *HomeStore) RemoveHome(ctx context.Context, player, name string) (ok bool, err error) {
	err = s.Update(ctx, player, func(h *HomeTx) error {
		ok, err = h.Remove(name)
		return err
	})
	return ok, err
}
