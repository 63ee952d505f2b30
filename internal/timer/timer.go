// Package timer expires pending teleport requests. Each target player has at
// most one running Timer; resolving the request before the deadline makes
// the timer invalid, and an invalid timer does nothing when it fires.
package timer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/iggydv12/waypoint/internal/storage"
)

var (
	// ErrRequestExists is returned by Start when another timer is pending for the target.
	ErrRequestExists = errors.New("timer: request already pending")
	// ErrStarted is returned when a Timer is started twice.
	ErrStarted = errors.New("timer: already started")
	// ErrClosed is returned by Start after Timers.Close.
	ErrClosed = errors.New("timer: closed")
)

// Notifier tells both parties that a request ran out.
type Notifier interface {
	RequestExpired(ctx context.Context, target, requester string) error
}

// Timers tracks the running timer of every target.
type Timers struct {
	requests *storage.RequestStore
	expiry   time.Duration
	notifier Notifier
	logger   *zap.Logger

	mu      sync.Mutex
	running map[string]*Timer
	closed  atomic.Bool
}

// New creates a Timers that expires requests after expiry.
func New(requests *storage.RequestStore, expiry time.Duration, notifier Notifier, logger *zap.Logger) *Timers {
	return &Timers{
		requests: requests,
		expiry:   expiry,
		notifier: notifier,
		logger:   logger,
		running:  make(map[string]*Timer),
	}
}

// Expiry returns the delay after which a started timer fires.
func (ts *Timers) Expiry() time.Duration { return ts.expiry }

// GetOrCreate returns the running timer of target, or a fresh unstarted one.
func (ts *Timers) GetOrCreate(target string) *Timer {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if t, ok := ts.running[target]; ok {
		return t
	}
	return &Timer{timers: ts, target: target, id: uuid.New()}
}

// Pending returns the targets that currently have a running timer.
func (ts *Timers) Pending() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	targets := make([]string, 0, len(ts.running))
	for target := range ts.running {
		targets = append(targets, target)
	}
	return targets
}

// Claim consumes the pending request of target: it reads the requester and
// removes the running timer in one step. ok is false when nothing was pending.
func (ts *Timers) Claim(ctx context.Context, target string) (requester string, ok bool, err error) {
	err = ts.requests.Update(ctx, target, func(r *storage.RequestTx) error {
		t := ts.current(target)
		if t == nil {
			return nil
		}
		requester, ok, err = r.Requester()
		if err != nil {
			return err
		}
		return t.removeLocked(r)
	})
	if err != nil {
		return "", false, err
	}
	return requester, ok, nil
}

// Close stops every pending fire action. Persisted requests are left for the
// next startup to clear.
func (ts *Timers) Close() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.closed.Store(true)
	for target, t := range ts.running {
		t.fire.Stop()
		delete(ts.running, target)
	}
	ts.logger.Info("Request timers stopped")
}

func (ts *Timers) current(target string) *Timer {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.running[target]
}

// register makes t the running timer of its target and schedules it.
func (ts *Timers) register(t *Timer) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.closed.Load() {
		return ErrClosed
	}
	if _, ok := ts.running[t.target]; ok {
		return ErrRequestExists
	}
	ts.running[t.target] = t
	t.fire = time.AfterFunc(ts.expiry, t.expire)
	return nil
}

func (ts *Timers) deregister(t *Timer) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.running[t.target] != t {
		return false
	}
	delete(ts.running, t.target)
	t.fire.Stop()
	return true
}

func (ts *Timers) notify(ctx context.Context, t *Timer, requester string) {
	defer func() {
		if r := recover(); r != nil {
			ts.logger.Error("Expiry notification panicked",
				zap.String("timer", t.Name()), zap.Any("panic", r))
		}
	}()
	if ts.notifier == nil {
		return
	}
	if err := ts.notifier.RequestExpired(ctx, t.target, requester); err != nil {
		ts.logger.Warn("Expiry notification failed",
			zap.String("timer", t.Name()), zap.Error(err))
	}
}

// Timer is the expiry of one request. Its state is guarded by the request
// store lock of its target.
type Timer struct {
	timers  *Timers
	target  string
	id      uuid.UUID
	fire    *time.Timer
	started bool
}

// ID returns the unique id of the timer.
func (t *Timer) ID() uuid.UUID { return t.id }

// Target returns the player the request was sent to.
func (t *Timer) Target() string { return t.target }

// Name identifies the timer in logs.
func (t *Timer) Name() string {
	return fmt.Sprintf("Request_%s_%s", t.target, t.id.String()[:8])
}

// IsValid reports whether t is the running timer of its target.
func (t *Timer) IsValid() bool {
	return t.timers.current(t.target) == t
}

// Start records requester as the pending requester of the target and
// schedules the expiry. It fails with ErrRequestExists while another timer
// is running for the target.
func (t *Timer) Start(ctx context.Context, requester string) error {
	return t.timers.requests.Update(ctx, t.target, func(r *storage.RequestTx) error {
		if t.started {
			return ErrStarted
		}
		if err := t.timers.register(t); err != nil {
			return err
		}
		t.started = true
		if err := r.SetRequester(requester); err != nil {
			t.timers.deregister(t)
			return err
		}
		t.timers.logger.Debug("Request timer started",
			zap.String("timer", t.Name()),
			zap.String("requester", requester),
			zap.Duration("expiry", t.timers.expiry))
		return nil
	})
}

// Requester returns the pending requester while t is valid.
func (t *Timer) Requester(ctx context.Context) (requester string, ok bool, err error) {
	err = t.timers.requests.Update(ctx, t.target, func(r *storage.RequestTx) error {
		if !t.IsValid() {
			return nil
		}
		requester, ok, err = r.Requester()
		return err
	})
	return requester, ok, err
}

// Remove deregisters t and deletes the persisted request if t is still the
// running timer. Calling it again, or on a stale timer, does nothing.
func (t *Timer) Remove(ctx context.Context) error {
	return t.timers.requests.Update(ctx, t.target, t.removeLocked)
}

func (t *Timer) removeLocked(r *storage.RequestTx) error {
	if !t.timers.deregister(t) {
		return nil
	}
	return r.Remove()
}

func (t *Timer) expire() {
	defer func() {
		if r := recover(); r != nil {
			t.timers.logger.Error("Request timer panicked",
				zap.String("timer", t.Name()), zap.Any("panic", r))
		}
	}()
	ctx := context.Background()
	err := t.timers.requests.Update(ctx, t.target, func(r *storage.RequestTx) error {
		if !t.IsValid() {
			return nil
		}
		requester, ok, err := r.Requester()
		if err != nil {
			t.timers.logger.Warn("Expired request unreadable",
				zap.String("timer", t.Name()), zap.Error(err))
		}
		if ok {
			t.timers.notify(ctx, t, requester)
		}
		return t.removeLocked(r)
	})
	if err != nil {
		t.timers.logger.Error("Request expiry failed", zap.String("timer", t.Name()), zap.Error(err))
		return
	}
	t.timers.logger.Debug("Request expired", zap.String("timer", t.Name()))
}
