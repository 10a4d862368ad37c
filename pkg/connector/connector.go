// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/moodle-rocketchat/pkg/moodle"
)

// Connector owns the Rocket.Chat facade, the Moodle store and the event
// observer, and runs the event sources and the admin API.
type Connector struct {
	Config   *Config
	Manager  *APIManager
	Store    *moodle.Store
	Events   EventHandler
	EventLog EventLog
	Log      zerolog.Logger

	handledEvents atomic.Int64
	started       time.Time
}

// NewConnector wires an observer over manager and store.
func NewConnector(cfg *Config, manager *APIManager, store *moodle.Store, log zerolog.Logger) *Connector {
	c := &Connector{
		Config:  cfg,
		Manager: manager,
		Store:   store,
		Log:     log,
	}
	if manager != nil && store != nil {
		c.Events = NewObserver(manager, store, cfg.SyncUserDeletion, log.With().Str("component", "observer").Logger())
	}
	if store != nil {
		c.EventLog = store
	}
	return c
}

// HandledEventCount returns how many events were dispatched to an observer
// since startup.
func (c *Connector) HandledEventCount() int64 {
	return c.handledEvents.Load()
}

// Run serves the admin API and starts the enabled event sources. It returns
// when ctx is cancelled or any of them fails.
func (c *Connector) Run(ctx context.Context) error {
	c.started = time.Now()
	eg, ctx := errgroup.WithContext(ctx)

	if server := c.adminServer(); server != nil {
		eg.Go(func() error {
			c.Log.Info().Str("addr", server.Addr).Msg("Starting admin API")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		eg.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	} else {
		c.Log.Info().Msg("Admin API disabled, webhook events are not accepted")
	}

	if c.Config.Logstore.Enabled {
		eg.Go(func() error {
			return c.WatchEventLog(ctx, 0)
		})
	}
	if c.Config.NATS.Enabled {
		eg.Go(func() error {
			return c.SubscribeNATS(ctx, c.Config.NATS.URL, c.Config.NATS.Subject, c.Config.NATS.Queue)
		})
	}

	eg.Go(func() error {
		<-ctx.Done()
		return nil
	})

	err := eg.Wait()
	c.Log.Info().Int64("handled_events", c.HandledEventCount()).Msg("Connector stopped")
	return err
}

// adminServer returns the admin API server, or nil when admin_api_addr is
// empty.
func (c *Connector) adminServer() *http.Server {
	if c.Config.AdminAPIAddr == "" {
		return nil
	}
	if c.Config.AdminAPIToken == "" {
		c.Log.Warn().
			Str("addr", c.Config.AdminAPIAddr).
			Msg("Admin API is served without admin_api_token, every route is unauthenticated")
	}
	return &http.Server{
		Addr:         c.Config.AdminAPIAddr,
		Handler:      c.AdminHandler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
