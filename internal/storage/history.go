package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/iggydv12/waypoint/internal/location"
)

var historyKind = Kind{Folder: "history", Ext: ".json"}

// Record is the origin of a player's last teleport.
type Record struct {
	location.Location
	// Timestamp is the teleport time in fractional Unix seconds.
	Timestamp float64 `json:"timestamp"`
	// Warned is set once the player has been told the record expired.
	Warned bool `json:"warned"`
}

// NewRecord wraps loc as a fresh, unwarned record taken at now.
func NewRecord(loc location.Location, now time.Time) Record {
	return Record{
		Location:  loc,
		Timestamp: float64(now.UnixNano()) / float64(time.Second),
	}
}

// Time returns Timestamp as a time.Time.
func (r Record) Time() time.Time {
	sec := int64(r.Timestamp)
	nsec := int64((r.Timestamp - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

// Expired reports whether ttl has elapsed since the record was taken.
func (r Record) Expired(now time.Time, ttl time.Duration) bool {
	return !r.Time().Add(ttl).After(now)
}

// UnmarshalJSON decodes the location fields and the history fields.
func (r *Record) UnmarshalJSON(data []byte) error {
	var loc location.Location
	if err := json.Unmarshal(data, &loc); err != nil {
		return err
	}
	var meta struct {
		Timestamp *float64 `json:"timestamp"`
		Warned    bool     `json:"warned"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return err
	}
	if meta.Timestamp == nil {
		return errors.New("history: missing timestamp")
	}
	*r = Record{Location: loc, Timestamp: *meta.Timestamp, Warned: meta.Warned}
	return nil
}

// HistoryStore keeps the last teleport origin of each player.
type HistoryStore struct {
	store *Store[Record]
	now   func() time.Time
}

// NewHistoryStore creates a HistoryStore over backend. now defaults to time.Now.
func NewHistoryStore(backend Backend, now func() time.Time, logger *zap.Logger) *HistoryStore {
	if now == nil {
		now = time.Now
	}
	return &HistoryStore{
		store: NewStore[Record](historyKind, JSONCodec[Record]{}, backend, logger),
		now:   now,
	}
}

// Resolve prepares the store's namespace.
func (s *HistoryStore) Resolve() error { return s.store.Resolve() }

// HistoryTx is the locked view of one player's history.
type HistoryTx struct {
	tx  *Tx[Record]
	now func() time.Time
}

// Get returns the record, if any.
func (h *HistoryTx) Get() (Record, bool, error) {
	return h.tx.Load()
}

// SetLocation replaces the record with a fresh one at loc.
func (h *HistoryTx) SetLocation(loc location.Location) error {
	return h.tx.Save(NewRecord(loc, h.now()))
}

// MarkWarned flags the record as warned. It fails with ErrNoHistory when
// there is no record.
func (h *HistoryTx) MarkWarned() error {
	rec, ok, err := h.tx.Load()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoHistory
	}
	rec.Warned = true
	return h.tx.Save(rec)
}

// Update runs fn holding the lock of player.
func (s *HistoryStore) Update(ctx context.Context, player string, fn func(h *HistoryTx) error) error {
	return s.store.WithLock(ctx, player, func(tx *Tx[Record]) error {
		return fn(&HistoryTx{tx: tx, now: s.now})
	})
}

// SetLocation records loc as the player's last teleport origin.
func (s *HistoryStore) SetLocation(ctx context.Context, player string, loc location.Location) error {
	return s.Update(ctx, player, func(h *HistoryTx) error {
		return h.SetLocation(loc)
	})
}

// History returns the player's record.
func (s *HistoryStore) History(ctx context.Context, player string) (rec Record, ok bool, err error) {
	err = s.Update(ctx, player, func(h *HistoryTx) error {
		rec, ok, err = h.Get()
		return err
	})
	return rec, ok, err
}

// MarkWarned flags the player's record as warned.
func (s *HistoryStore) MarkWarned(ctx context.Context, player string) error {
	return s.Update(ctx, player, func(h *HistoryTx) error {
		return h.MarkWarned()
	})
}
