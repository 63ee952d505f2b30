package timer_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iggydv12/waypoint/internal/storage"
	"github.com/iggydv12/waypoint/internal/timer"
)

type expiry struct {
	target, requester string
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []expiry
	err   error
	panic bool
}

func (n *recordingNotifier) RequestExpired(_ context.Context, target, requester string) error {
	n.mu.Lock()
	n.calls = append(n.calls, expiry{target, requester})
	n.mu.Unlock()
	if n.panic {
		panic("notifier exploded")
	}
	return n.err
}

func (n *recordingNotifier) Calls() []expiry {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]expiry(nil), n.calls...)
}

func setupTimers(t *testing.T, after time.Duration, n timer.Notifier) (*timer.Timers, *storage.RequestStore) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	requests := storage.NewRequestStore(storage.NewFileBackend(t.TempDir(), logger), logger)
	require.NoError(t, requests.RemoveAll())
	ts := timer.New(requests, after, n, logger)
	t.Cleanup(ts.Close)
	return ts, requests
}

func pendingRequester(t *testing.T, requests *storage.RequestStore, target string) (string, bool) {
	t.Helper()
	r, ok, err := requests.Requester(context.Background(), target)
	require.NoError(t, err)
	return r, ok
}

func TestTimerStartAndRemove(t *testing.T) {
	ts, requests := setupTimers(t, time.Hour, &recordingNotifier{})
	ctx := context.Background()

	tm := ts.GetOrCreate("steve")
	assert.False(t, tm.IsValid())
	require.NoError(t, tm.Start(ctx, "alex"))
	assert.True(t, tm.IsValid())
	assert.Same(t, tm, ts.GetOrCreate("steve"))

	r, ok := pendingRequester(t, requests, "steve")
	assert.True(t, ok)
	assert.Equal(t, "alex", r)

	got, ok, err := tm.Requester(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "alex", got)

	require.NoError(t, tm.Remove(ctx))
	assert.False(t, tm.IsValid())
	_, ok = pendingRequester(t, requests, "steve")
	assert.False(t, ok)

	// idempotent
	require.NoError(t, tm.Remove(ctx))
	assert.NotSame(t, tm, ts.GetOrCreate("steve"))
}

func TestTimerExpires(t *testing.T) {
	n := &recordingNotifier{}
	ts, requests := setupTimers(t, 30*time.Millisecond, n)

	tm := ts.GetOrCreate("steve")
	require.NoError(t, tm.Start(context.Background(), "alex"))

	assert.Eventually(t, func() bool { return !tm.IsValid() }, 2*time.Second, 5*time.Millisecond)
	_, ok := pendingRequester(t, requests, "steve")
	assert.False(t, ok)
	assert.Equal(t, []expiry{{"steve", "alex"}}, n.Calls())
}

func TestTimerRemovedBeforeExpiryDoesNotNotify(t *testing.T) {
	n := &recordingNotifier{}
	ts, _ := setupTimers(t, 30*time.Millisecond, n)
	ctx := context.Background()

	tm := ts.GetOrCreate("steve")
	require.NoError(t, tm.Start(ctx, "alex"))
	require.NoError(t, tm.Remove(ctx))

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, n.Calls())
}

func TestTimerRejectsSecondRequest(t *testing.T) {
	ts, requests := setupTimers(t, time.Hour, &recordingNotifier{})
	ctx := context.Background()

	first := ts.GetOrCreate("steve")
	second := ts.GetOrCreate("steve")
	require.NotSame(t, first, second)

	require.NoError(t, first.Start(ctx, "alex"))
	assert.ErrorIs(t, second.Start(ctx, "notch"), timer.ErrRequestExists)
	assert.ErrorIs(t, first.Start(ctx, "notch"), timer.ErrStarted)

	r, _ := pendingRequester(t, requests, "steve")
	assert.Equal(t, "alex", r)
	assert.False(t, second.IsValid())
}

func TestTimerStaleHandleCannotRemoveNewRequest(t *testing.T) {
	ts, requests := setupTimers(t, time.Hour, &recordingNotifier{})
	ctx := context.Background()

	old := ts.GetOrCreate("steve")
	require.NoError(t, old.Start(ctx, "alex"))
	require.NoError(t, old.Remove(ctx))

	fresh := ts.GetOrCreate("steve")
	require.NoError(t, fresh.Start(ctx, "notch"))
	require.NoError(t, old.Remove(ctx))

	assert.True(t, fresh.IsValid())
	r, ok := pendingRequester(t, requests, "steve")
	assert.True(t, ok)
	assert.Equal(t, "notch", r)
}

func TestTimersClaim(t *testing.T) {
	ts, requests := setupTimers(t, time.Hour, &recordingNotifier{})
	ctx := context.Background()

	_, ok, err := ts.Claim(ctx, "steve")
	require.NoError(t, err)
	assert.False(t, ok)

	tm := ts.GetOrCreate("steve")
	require.NoError(t, tm.Start(ctx, "alex"))
	assert.Equal(t, []string{"steve"}, ts.Pending())

	requester, ok, err := ts.Claim(ctx, "steve")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "alex", requester)
	assert.False(t, tm.IsValid())
	assert.Empty(t, ts.Pending())

	_, ok = pendingRequester(t, requests, "steve")
	assert.False(t, ok)
}

func TestTimerCleansUpWhenNotifierFails(t *testing.T) {
	for name, n := range map[string]*recordingNotifier{
		"error": {err: errors.New("player vanished")},
		"panic": {panic: true},
	} {
		t.Run(name, func(t *testing.T) {
			ts, requests := setupTimers(t, 20*time.Millisecond, n)
			tm := ts.GetOrCreate("steve")
			require.NoError(t, tm.Start(context.Background(), "alex"))

			assert.Eventually(t, func() bool { return !tm.IsValid() }, 2*time.Second, 5*time.Millisecond)
			_, ok := pendingRequester(t, requests, "steve")
			assert.False(t, ok)
			assert.Len(t, n.Calls(), 1)
		})
	}
}

func TestTimersClose(t *testing.T) {
	n := &recordingNotifier{}
	ts, _ := setupTimers(t, 30*time.Millisecond, n)
	ctx := context.Background()

	require.NoError(t, ts.GetOrCreate("steve").Start(ctx, "alex"))
	ts.Close()

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, n.Calls())
	assert.ErrorIs(t, ts.GetOrCreate("alex").Start(ctx, "steve"), timer.ErrClosed)
}

func TestTimerName(t *testing.T) {
	ts, _ := setupTimers(t, time.Hour, nil)
	tm := ts.GetOrCreate("steve")
	assert.Regexp(t, `^Request_steve_[0-9a-f]{8}$`, tm.Name())
	assert.Equal(t, "steve", tm.Target())
}
