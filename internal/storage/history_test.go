package storage_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iggydv12/waypoint/internal/location"
	"github.com/iggydv12/waypoint/internal/storage"
)

func setupHistory(t *testing.T, now func() time.Time) (*storage.HistoryStore, string) {
	t.Helper()
	dir := t.TempDir()
	s := storage.NewHistoryStore(storage.NewFileBackend(dir, zap.NewNop()), now, zap.NewNop())
	require.NoError(t, s.Resolve())
	return s, dir
}

func TestHistorySetLocation(t *testing.T) {
	s, _ := setupHistory(t, nil)
	ctx := context.Background()
	loc := location.Location{X: 10, Y: 64, Z: -5, Realm: location.Nether}

	before := time.Now()
	require.NoError(t, s.SetLocation(ctx, "steve", loc))

	rec, ok, err := s.History(ctx, "steve")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, loc, rec.Location)
	assert.False(t, rec.Warned)
	assert.WithinDuration(t, before, rec.Time(), 2*time.Second)
}

func TestHistoryWarnedClearedByReplace(t *testing.T) {
	s, _ := setupHistory(t, nil)
	ctx := context.Background()

	require.NoError(t, s.SetLocation(ctx, "steve", location.Location{X: 1}))
	require.NoError(t, s.MarkWarned(ctx, "steve"))

	rec, _, err := s.History(ctx, "steve")
	require.NoError(t, err)
	assert.True(t, rec.Warned)

	second := location.Location{X: 2, Realm: location.End}
	require.NoError(t, s.SetLocation(ctx, "steve", second))
	rec, _, err = s.History(ctx, "steve")
	require.NoError(t, err)
	assert.False(t, rec.Warned)
	assert.Equal(t, second, rec.Location)
}

func TestHistoryMarkWarnedWithoutRecord(t *testing.T) {
	s, _ := setupHistory(t, nil)
	err := s.MarkWarned(context.Background(), "steve")
	assert.ErrorIs(t, err, storage.ErrNoHistory)
}

func TestHistoryExpired(t *testing.T) {
	taken := time.Unix(1_700_000_000, 0)
	rec := storage.NewRecord(location.Location{}, taken)

	assert.Equal(t, taken, rec.Time())
	assert.False(t, rec.Expired(taken.Add(time.Hour-time.Second), time.Hour))
	assert.True(t, rec.Expired(taken.Add(time.Hour), time.Hour))
	assert.True(t, rec.Expired(taken.Add(2*time.Hour), time.Hour))
}

func TestHistoryPersistedFormat(t *testing.T) {
	taken := time.Unix(1_700_000_000, 0)
	s, dir := setupHistory(t, func() time.Time { return taken })
	require.NoError(t, s.SetLocation(context.Background(), "steve", location.Location{X: 1, Y: 2, Z: 3, Realm: location.Nether}))

	data, err := os.ReadFile(filepath.Join(dir, "history", "steve.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1,"y":2,"z":3,"realm":-1,"timestamp":1700000000,"warned":false}`, string(data))
}

func TestHistoryLegacyRecord(t *testing.T) {
	s, dir := setupHistory(t, nil)
	payload := `{"x": 1.5, "y": 70, "z": 3, "dim": 1, "timestamp": 1600000000.25, "warned": true}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "history", "steve.json"), []byte(payload), 0o644))

	rec, ok, err := s.History(context.Background(), "steve")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, location.End, rec.Realm)
	assert.Equal(t, 1.5, rec.X)
	assert.Equal(t, 1600000000.25, rec.Timestamp)
	assert.True(t, rec.Warned)
}

func TestHistoryMissingTimestampIsCorruption(t *testing.T) {
	s, dir := setupHistory(t, nil)
	payload := `{"x": 1, "y": 2, "z": 3, "realm": 0}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "history", "steve.json"), []byte(payload), 0o644))

	_, _, err := s.History(context.Background(), "steve")
	var corrupt *storage.DataCorruptionError
	assert.True(t, errors.As(err, &corrupt))
}
