// Package notify delivers player-facing notifications. Messages are kept in a
// per-player mailbox until the host drains them, and every delivery is fired
// as an event so in-process listeners can react immediately.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/robinbraemer/event"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/iggydv12/waypoint/internal/presence"
)

// Message codes. Peer is the other player involved.
const (
	CodeRequestReceived = "request.received"
	CodeRequestAccepted = "request.accepted"
	CodeRequestDeclined = "request.declined"
	CodeOutgoingExpired = "request.expired.outgoing"
	CodeIncomingExpired = "request.expired.incoming"
)

// maxPending bounds each mailbox; the oldest message is dropped first.
const maxPending = 64

// Message is one notification for a player.
type Message struct {
	Code string    `json:"code"`
	Peer string    `json:"peer,omitempty"`
	At   time.Time `json:"at"`
}

// MessageEvent is fired for every delivered message.
type MessageEvent struct {
	Player  string
	Message Message
}

// RequestExpiredEvent is fired when a teleport request times out.
type RequestExpiredEvent struct {
	Target    string
	Requester string
}

// Mailbox stores messages per player.
type Mailbox struct {
	events event.Manager
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	boxes     map[string][]Message
	delivered atomic.Int64
	dropped   atomic.Int64
}

// NewMailbox creates a Mailbox firing its events on events.
func NewMailbox(events event.Manager, logger *zap.Logger) *Mailbox {
	return &Mailbox{
		events: events,
		logger: logger,
		now:    time.Now,
		boxes:  make(map[string][]Message),
	}
}

// Tell queues msg for player. A zero At is set to the current time.
func (m *Mailbox) Tell(ctx context.Context, player string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.At.IsZero() {
		msg.At = m.now()
	}
	m.mu.Lock()
	box := append(m.boxes[player], msg)
	if len(box) > maxPending {
		box = box[len(box)-maxPending:]
		m.dropped.Inc()
	}
	m.boxes[player] = box
	m.mu.Unlock()

	m.delivered.Inc()
	m.events.Fire(&MessageEvent{Player: player, Message: msg})
	m.logger.Debug("Message queued", zap.String("player", player), zap.String("code", msg.Code))
	return nil
}

// RequestExpired tells both parties that the request from requester to
// target ran out.
func (m *Mailbox) RequestExpired(ctx context.Context, target, requester string) error {
	m.events.Fire(&RequestExpiredEvent{Target: target, Requester: requester})
	if err := m.Tell(ctx, requester, Message{Code: CodeOutgoingExpired, Peer: target}); err != nil {
		return err
	}
	return m.Tell(ctx, target, Message{Code: CodeIncomingExpired, Peer: requester})
}

// Drain returns and clears the pending messages of player, oldest first.
func (m *Mailbox) Drain(player string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	box := m.boxes[player]
	delete(m.boxes, player)
	return box
}

// Discard drops the mailbox of player.
func (m *Mailbox) Discard(player string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.boxes[player])
	delete(m.boxes, player)
	return n
}

// Players returns how many players have a mailbox.
func (m *Mailbox) Players() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.boxes)
}

// Subscribe drops mailboxes of players who leave and all of them when the
// server stops. The returned func unsubscribes.
func (m *Mailbox) Subscribe(mgr event.Manager) (unsubscribe func()) {
	leave := event.Subscribe(mgr, 0, func(e *presence.PlayerLeaveEvent) {
		if n := m.Discard(e.Player); n > 0 {
			m.logger.Debug("Dropped mailbox", zap.String("player", e.Player), zap.Int("pending", n))
		}
	})
	stop := event.Subscribe(mgr, 0, func(*presence.ServerStopEvent) {
		m.mu.Lock()
		m.boxes = make(map[string][]Message)
		m.mu.Unlock()
	})
	return func() {
		leave()
		stop()
	}
}

// Pending returns how many messages wait for player.
func (m *Mailbox) Pending(player string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.boxes[player])
}

// Delivered returns the number of messages queued since start.
func (m *Mailbox) Delivered() int64 { return m.delivered.Load() }

// Dropped returns how many messages were discarded because a mailbox was full.
func (m *Mailbox) Dropped() int64 { return m.dropped.Load() }
