// Package service implements the tpa, home and back flows on top of the
// stores and request timers. It returns typed outcomes; the host turns them
// into chat messages and performs the actual teleports.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iggydv12/waypoint/internal/location"
	"github.com/iggydv12/waypoint/internal/notify"
	"github.com/iggydv12/waypoint/internal/storage"
	"github.com/iggydv12/waypoint/internal/timer"
)

// Expected, non-fatal outcomes.
var (
	ErrSelfRequest      = errors.New("cannot send a teleport request to yourself")
	ErrNotOnline        = errors.New("player is not online")
	ErrRequestExists    = errors.New("a teleport request is already pending")
	ErrNoPendingRequest = errors.New("no pending teleport request")
	ErrHomeLimit        = errors.New("home limit reached")
	ErrHomeExists       = errors.New("home already exists")
	ErrHomeNotFound     = errors.New("home not found")
	ErrNoHistory        = errors.New("no teleport history")
	ErrHistoryExpired   = errors.New("teleport history expired")
)

// OnlineChecker reports whether a player is online.
type OnlineChecker interface {
	IsOnline(player string) bool
}

// Teller delivers a message to a player.
type Teller interface {
	Tell(ctx context.Context, player string, msg notify.Message) error
}

// Options tunes the flows.
type Options struct {
	// TeleportDelay is the countdown the host runs before an accepted teleport.
	TeleportDelay time.Duration
	// HistoryTTL is how long a back record stays fresh.
	HistoryTTL time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Acceptance describes an accepted teleport request.
type Acceptance struct {
	Requester string        `json:"requester"`
	Target    string        `json:"target"`
	Delay     time.Duration `json:"delay"`
}

// Service runs the player-facing flows.
type Service struct {
	history *storage.HistoryStore
	homes   *storage.HomeStore
	timers  *timer.Timers
	online  OnlineChecker
	teller  Teller
	opts    Options
	logger  *zap.Logger
}

// New creates a Service.
func New(reg *storage.Registry, timers *timer.Timers, online OnlineChecker, teller Teller, opts Options, logger *zap.Logger) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		history: reg.History(),
		homes:   reg.Homes(),
		timers:  timers,
		online:  online,
		teller:  teller,
		opts:    opts,
		logger:  logger,
	}
}

func (s *Service) tell(ctx context.Context, player, code, peer string) {
	if err := s.teller.Tell(ctx, player, notify.Message{Code: code, Peer: peer}); err != nil {
		s.logger.Warn("Failed to notify player",
			zap.String("player", player), zap.String("code", code), zap.Error(err))
	}
}

// RequestTeleport asks target to accept requester teleporting to them.
func (s *Service) RequestTeleport(ctx context.Context, requester, target string) error {
	if requester == target {
		return ErrSelfRequest
	}
	if !s.online.IsOnline(target) {
		return fmt.Errorf("%w: %s", ErrNotOnline, target)
	}
	t := s.timers.GetOrCreate(target)
	if t.IsValid() {
		return fmt.Errorf("%w: %s", ErrRequestExists, target)
	}
	if err := t.Start(ctx, requester); err != nil {
		if errors.Is(err, timer.ErrRequestExists) {
			return fmt.Errorf("%w: %s", ErrRequestExists, target)
		}
		return err
	}
	s.tell(ctx, target, notify.CodeRequestReceived, requester)
	s.logger.Info("Teleport requested",
		zap.String("requester", requester), zap.String("target", target), zap.String("timer", t.Name()))
	return nil
}

// PendingRequest returns the requester waiting on target.
func (s *Service) PendingRequest(ctx context.Context, target string) (string, bool, error) {
	return s.timers.GetOrCreate(target).Requester(ctx)
}

// Accept consumes target's pending request. The request is consumed even
// when the requester has gone offline in the meantime.
func (s *Service) Accept(ctx context.Context, target string) (Acceptance, error) {
	requester, ok, err := s.timers.Claim(ctx, target)
	if err != nil {
		return Acceptance{}, err
	}
	if !ok {
		return Acceptance{}, ErrNoPendingRequest
	}
	if !s.online.IsOnline(requester) {
		return Acceptance{}, fmt.Errorf("%w: %s", ErrNotOnline, requester)
	}
	s.tell(ctx, requester, notify.CodeRequestAccepted, target)
	s.logger.Info("Teleport accepted", zap.String("requester", requester), zap.String("target", target))
	return Acceptance{Requester: requester, Target: target, Delay: s.opts.TeleportDelay}, nil
}

// Decline consumes target's pending request and returns its requester.
func (s *Service) Decline(ctx context.Context, target string) (string, error) {
	requester, ok, err := s.timers.Claim(ctx, target)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNoPendingRequest
	}
	s.tell(ctx, requester, notify.CodeRequestDeclined, target)
	s.logger.Info("Teleport declined", zap.String("requester", requester), zap.String("target", target))
	return requester, nil
}

// HomeLimit returns the maximum number of homes per player.
func (s *Service) HomeLimit() int { return s.homes.Max() }

// AddHome saves loc as the player's home called name and returns the new count.
func (s *Service) AddHome(ctx context.Context, player, name string, loc location.Location) (int, error) {
	if name == "" {
		return 0, &storage.ValidationError{Field: "home name", Value: name, Reason: "empty"}
	}
	var count int
	err := s.homes.Update(ctx, player, func(h *storage.HomeTx) error {
		if h.Full() {
			return fmt.Errorf("%w: %d", ErrHomeLimit, s.homes.Max())
		}
		if _, ok := h.Get(name); ok {
			return fmt.Errorf("%w: %s", ErrHomeExists, name)
		}
		if _, err := h.Set(name, loc); err != nil {
			return err
		}
		count = h.Count()
		return nil
	})
	return count, err
}

// RemoveHome deletes the player's home called name and returns the new count.
func (s *Service) RemoveHome(ctx context.Context, player, name string) (int, error) {
	var count int
	err := s.homes.Update(ctx, player, func(h *storage.HomeTx) error {
		ok, err := h.Remove(name)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrHomeNotFound, name)
		}
		count = h.Count()
		return nil
	})
	return count, err
}

// Home returns the location of the player's home called name.
func (s *Service) Home(ctx context.Context, player, name string) (location.Location, error) {
	loc, ok, err := s.homes.Home(ctx, player, name)
	if err != nil {
		return location.Location{}, err
	}
	if !ok {
		return location.Location{}, fmt.Errorf("%w: %s", ErrHomeNotFound, name)
	}
	return loc, nil
}

// Homes lists the player's homes in the order they were added.
func (s *Service) Homes(ctx context.Context, player string) (*storage.Homes, error) {
	return s.homes.List(ctx, player)
}

// RecordOrigin remembers where the player stood before a teleport.
func (s *Service) RecordOrigin(ctx context.Context, player string, loc location.Location) error {
	return s.history.SetLocation(ctx, player, loc)
}

// History returns the player's back record.
func (s *Service) History(ctx context.Context, player string) (storage.Record, error) {
	rec, ok, err := s.history.History(ctx, player)
	if err != nil {
		return storage.Record{}, err
	}
	if !ok {
		return storage.Record{}, ErrNoHistory
	}
	return rec, nil
}

// Back returns where the player was before their last teleport. An expired
// record is refused once with ErrHistoryExpired; asking again goes through.
// When from is set it becomes the new back record, so back can be undone.
func (s *Service) Back(ctx context.Context, player string, from *location.Location) (location.Location, error) {
	var dest location.Location
	err := s.history.Update(ctx, player, func(h *storage.HistoryTx) error {
		rec, ok, err := h.Get()
		if err != nil {
			return err
		}
		if !ok {
			return ErrNoHistory
		}
		if rec.Expired(s.opts.Now(), s.opts.HistoryTTL) && !rec.Warned {
			if err := h.MarkWarned(); err != nil {
				return err
			}
			return ErrHistoryExpired
		}
		dest = rec.Location
		if from != nil {
			return h.SetLocation(*from)
		}
		return nil
	})
	return dest, err
}
