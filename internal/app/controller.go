// Package app provides the bootstrap pipeline of the waypoint server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/robinbraemer/event"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iggydv12/waypoint/internal/api/rest"
	"github.com/iggydv12/waypoint/internal/config"
	"github.com/iggydv12/waypoint/internal/notify"
	"github.com/iggydv12/waypoint/internal/presence"
	"github.com/iggydv12/waypoint/internal/service"
	"github.com/iggydv12/waypoint/internal/storage"
	"github.com/iggydv12/waypoint/internal/timer"
)

const (
	shutdownTimeout = 5 * time.Second
	openAttempts    = 3
)

// Controller wires all components and runs until shutdown.
type Controller struct {
	cfg    *config.Config
	logger *zap.Logger

	mu    sync.Mutex
	addr  string
	ready chan struct{}
}

// NewController creates a Controller.
func NewController(cfg *config.Config, logger *zap.Logger) *Controller {
	return &Controller{
		cfg:    cfg,
		logger: logger,
		ready:  make(chan struct{}),
	}
}

// Ready is closed once the REST API accepts connections.
func (c *Controller) Ready() <-chan struct{} { return c.ready }

// Addr returns the address the REST API listens on, once Ready.
func (c *Controller) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

// Run bootstraps all components and blocks until SIGINT/SIGTERM or ctx ends.
func (c *Controller) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	c.logger.Info("Starting waypoint",
		zap.String("backend", c.cfg.Storage.Backend),
		zap.String("dataDir", c.cfg.Storage.DataDir),
	)

	// --- 1. Storage ---
	// A restarting predecessor may still hold the pebble lock or the sqlite file.
	var backend storage.Backend
	err := retry.Do(func() error {
		var err error
		backend, err = storage.OpenBackend(c.cfg.Storage.Backend, c.cfg.Storage.DataDir, c.logger)
		return err
	},
		retry.Context(ctx),
		retry.Attempts(openAttempts),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("Storage open retry", zap.Uint("attempt", n), zap.Error(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("storage open: %w", err)
	}
	reg := storage.NewRegistry(backend, storage.Options{MaxHomes: c.cfg.Home.MaxCount}, c.logger)
	defer reg.Close()
	if err := reg.Init(); err != nil {
		return fmt.Errorf("storage init: %w", err)
	}

	// --- 2. Events, presence and notifications ---
	events := event.New()
	online := presence.NewList(c.logger)
	unsubscribe := online.Subscribe(events)
	defer unsubscribe()
	mailbox := notify.NewMailbox(events, c.logger)
	dropMailboxes := mailbox.Subscribe(events)
	defer dropMailboxes()

	// --- 3. Request timers and flows ---
	timers := timer.New(reg.Requests(), c.cfg.Request.ExpireTime, mailbox, c.logger)
	defer timers.Close()
	svc := service.New(reg, timers, online, mailbox, service.Options{
		TeleportDelay: c.cfg.Teleport.Delay,
		HistoryTTL:    c.cfg.History.ExpireTime,
	}, c.logger)

	// --- 4. REST API ---
	api := rest.New(svc, events, online, mailbox, rest.Options{
		RateLimit: c.cfg.API.RateLimit,
		Burst:     c.cfg.API.Burst,
	}, c.logger)
	ln, err := net.Listen("tcp", c.cfg.API.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", c.cfg.API.Addr, err)
	}
	srv := &http.Server{Handler: api.Handler(), ReadHeaderTimeout: 10 * time.Second}

	c.mu.Lock()
	c.addr = ln.Addr().String()
	c.mu.Unlock()
	close(c.ready)
	c.logger.Info("REST API listening", zap.String("addr", c.Addr()))

	// --- 5. Serve until shutdown ---
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		c.logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
