// Package presence tracks which players are online, driven by host events.
package presence

import (
	"sync"

	"github.com/robinbraemer/event"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// PlayerJoinEvent is fired when a player comes online.
type PlayerJoinEvent struct {
	Player string
}

// PlayerLeaveEvent is fired when a player goes offline.
type PlayerLeaveEvent struct {
	Player string
}

// ServerStartEvent is fired when the game server (re)starts. Players lists
// everyone already online; Limit is the server's player cap (0 if unknown).
type ServerStartEvent struct {
	Players []string
	Limit   int
}

// ServerStopEvent is fired when the game server stops.
type ServerStopEvent struct{}

// List is the set of online players in join order.
type List struct {
	mu      sync.RWMutex
	players []string
	limit   int
	logger  *zap.Logger
}

// NewList creates an empty List.
func NewList(logger *zap.Logger) *List {
	return &List{logger: logger}
}

// IsOnline reports whether player is online.
func (l *List) IsOnline(player string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return lo.Contains(l.players, player)
}

// Add marks player online. It returns false if the player already was.
func (l *List) Add(player string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lo.Contains(l.players, player) {
		return false
	}
	l.players = append(l.players, player)
	return true
}

// Remove marks player offline. It returns false if the player was not online.
func (l *List) Remove(player string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !lo.Contains(l.players, player) {
		return false
	}
	l.players = lo.Without(l.players, player)
	return true
}

// Players returns a snapshot of the online players.
func (l *List) Players() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.players...)
}

// Count returns the number of online players.
func (l *List) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.players)
}

// Limit returns the server's player cap.
func (l *List) Limit() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limit
}

// Reset replaces the whole list.
func (l *List) Reset(players []string, limit int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.players = lo.Uniq(lo.Filter(players, func(p string, _ int) bool { return p != "" }))
	l.limit = limit
}

// Subscribe keeps the list in sync with the events fired on mgr. The
// returned func unsubscribes every handler.
func (l *List) Subscribe(mgr event.Manager) (unsubscribe func()) {
	unsubs := []func(){
		event.Subscribe(mgr, 0, func(e *PlayerJoinEvent) {
			if l.Add(e.Player) {
				l.logger.Debug("Player joined", zap.String("player", e.Player))
			}
		}),
		event.Subscribe(mgr, 0, func(e *PlayerLeaveEvent) {
			if l.Remove(e.Player) {
				l.logger.Debug("Player left", zap.String("player", e.Player))
			}
		}),
		event.Subscribe(mgr, 0, func(e *ServerStartEvent) {
			l.Reset(e.Players, e.Limit)
			l.logger.Info("Server started", zap.Int("online", l.Count()), zap.Int("limit", e.Limit))
		}),
		event.Subscribe(mgr, 0, func(*ServerStopEvent) {
			l.Reset(nil, 0)
			l.logger.Info("Server stopped")
		}),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}
