package storage

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Options configures the stores of a Registry.
type Options struct {
	MaxHomes int
	// Now is the clock used for history timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Registry owns one store per record kind over a shared backend.
type Registry struct {
	mu       sync.Mutex
	backend  Backend
	requests *RequestStore
	history  *HistoryStore
	homes    *HomeStore
	logger   *zap.Logger
	closed   bool
}

// NewRegistry creates a Registry over backend.
func NewRegistry(backend Backend, opts Options, logger *zap.Logger) *Registry {
	return &Registry{
		backend:  backend,
		requests: NewRequestStore(backend, logger),
		history:  NewHistoryStore(backend, opts.Now, logger),
		homes:    NewHomeStore(backend, opts.MaxHomes, logger),
		logger:   logger,
	}
}

// Init clears requests left over from a previous run and prepares the
// history and home namespaces.
func (r *Registry) Init() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requests.RemoveAll(); err != nil {
		return fmt.Errorf("request store init: %w", err)
	}
	if err := r.history.Resolve(); err != nil {
		return fmt.Errorf("history store init: %w", err)
	}
	if err := r.homes.Resolve(); err != nil {
		return fmt.Errorf("home store init: %w", err)
	}
	r.logger.Info("Storage initialized")
	return nil
}

// Close releases the backend. Further calls are no-ops.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.backend.Close()
}

// Requests returns the pending request store.
func (r *Registry) Requests() *RequestStore { return r.requests }

// History returns the teleport history store.
func (r *Registry) History() *HistoryStore { return r.history }

// Homes returns the home store.
func (r *Registry) Homes() *HomeStore { return r.homes }
