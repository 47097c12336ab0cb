// Package lifecycle ties connection events and process shutdown to the room
// registry and the worker pool.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/luciancaetano/parley"
	"github.com/luciancaetano/parley/internal/metrics"
	"github.com/luciancaetano/parley/internal/pool"
	"github.com/luciancaetano/parley/internal/room"
)

// Transport is the part of the network layer driven during shutdown.
type Transport interface {
	// StopAccepting stops taking new connections. Open ones stay up.
	StopAccepting(ctx context.Context) error
	// Stop closes whatever connections are still open.
	Stop(ctx context.Context) error
}

// Lifecycle reacts to connections coming and going, and owns the shutdown
// sequence.
type Lifecycle struct {
	registry  *room.Registry
	pool      *pool.Pool
	transport Transport
	logger    zerolog.Logger

	once sync.Once
	err  error
}

// New creates a Lifecycle. The transport is bound later with Bind because
// the transport needs the lifecycle callbacks at construction.
func New(registry *room.Registry, p *pool.Pool, logger zerolog.Logger) *Lifecycle {
	return &Lifecycle{
		registry: registry,
		pool:     p,
		logger:   logger.With().Str("component", "lifecycle").Logger(),
	}
}

// Bind sets the transport stopped by Shutdown.
func (l *Lifecycle) Bind(t Transport) {
	l.transport = t
}

// OnConnect records a new connection. It is not a room member until it
// sends JOIN.
func (l *Lifecycle) OnConnect(conn parley.Connection) {
	metrics.ConnectionsActive.Inc()
	l.logger.Info().
		Str("conn_id", conn.ID()).
		Str("remote_addr", conn.RemoteAddr()).
		Msg("client connected")
}

// OnDisconnect removes conn from every room it joined. Later broadcasts no
// longer reach it.
func (l *Lifecycle) OnDisconnect(conn parley.Connection, voluntary bool) {
	metrics.ConnectionsActive.Dec()
	removed := l.registry.RemoveConnectionEverywhere(conn.ID())

	l.logger.Info().
		Str("conn_id", conn.ID()).
		Bool("voluntary", voluntary).
		Int("memberships", removed).
		Msg("client disconnected")
}

// Shutdown stops the service in order: transport intake, room state and
// member connections, the worker pool, then any remaining connections.
// Later calls return the result of the first.
func (l *Lifecycle) Shutdown(ctx context.Context) error {
	l.once.Do(func() {
		l.err = l.shutdown(ctx)
	})
	return l.err
}

func (l *Lifecycle) shutdown(ctx context.Context) error {
	l.logger.Info().Msg("shutting down")

	var errs []error

	if l.transport != nil {
		if err := l.transport.StopAccepting(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop accepting: %w", err))
		}
	}

	l.registry.Shutdown(ctx)

	if err := l.pool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain worker pool: %w", err))
	}

	if l.transport != nil {
		if err := l.transport.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop transport: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		l.logger.Error().Err(err).Msg("shutdown finished with errors")
		return err
	}
	l.logger.Info().Msg("shutdown complete")
	return nil
}
