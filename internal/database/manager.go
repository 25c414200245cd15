// Canteend - Theater Canteen Notification and Event Fan-out Service
// Copyright 2026 Canteend Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/theaterops/canteend

// Package database wraps the MongoDB driver with the resilience substrate the
// rest of Canteend relies on: connection-state tracking, bounded-backoff
// reconnection, a ping-verified readiness gate, and retry-with-timeout query
// execution.
package database

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/theaterops/canteend/internal/logging"
	"github.com/theaterops/canteend/internal/metrics"
)

// State is the observable connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

// String implements fmt.Stringer for the health endpoint.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Config tunes the resilience layer. Zero values take the defaults below;
// tests shrink the intervals.
type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration

	// ReadyProbes is the number of consecutive successful pings AwaitReady
	// requires. Guards against the race where the driver reports connected
	// moments before a forced close.
	ReadyProbes int

	// ProbeSpacing is the minimum gap between readiness probes.
	ProbeSpacing time.Duration

	// BaseRetryDelay seeds the Execute backoff: min(2^n * base, MaxRetryDelay).
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration

	// ReconnectBaseDelay seeds the reconnector backoff (doubling per attempt).
	ReconnectBaseDelay time.Duration

	// ReconnectMaxAttempts bounds one reconnect episode; afterwards the
	// reconnector yields until a disconnect or explicit Trigger revives it.
	ReconnectMaxAttempts int
}

func (c *Config) applyDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ReadyProbes <= 0 {
		c.ReadyProbes = 3
	}
	if c.ProbeSpacing <= 0 {
		c.ProbeSpacing = 500 * time.Millisecond
	}
	if c.BaseRetryDelay <= 0 {
		c.BaseRetryDelay = 250 * time.Millisecond
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = 8 * time.Second
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = 5 * time.Second
	}
	if c.ReconnectMaxAttempts <= 0 {
		c.ReconnectMaxAttempts = 5
	}
}

// Manager owns the MongoDB client and its lifecycle.
type Manager struct {
	cfg    Config
	logger zerolog.Logger

	state atomic.Int32

	mu           sync.Mutex
	client       *mongo.Client
	reconnecting bool

	// ping and dial are hook points; tests stub them.
	ping func(ctx context.Context) error
	dial func(ctx context.Context) error
}

// New creates a Manager in the disconnected state.
func New(cfg Config) *Manager {
	cfg.applyDefaults()
	m := &Manager{
		cfg:    cfg,
		logger: logging.Component("database"),
	}
	m.ping = m.defaultPing
	m.dial = m.defaultDial
	return m
}

// Connect establishes the initial connection. A failure leaves the manager
// disconnected with the reconnector scheduled.
func (m *Manager) Connect(ctx context.Context) error {
	m.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	if err := m.dial(dialCtx); err != nil {
		m.setState(StateDisconnected)
		m.scheduleReconnect(err)
		return &Error{Kind: KindTransient, Query: "connect", Err: err}
	}
	m.setState(StateConnected)
	m.logger.Info().Str("database", m.cfg.Database).Msg("database connected")
	return nil
}

// Close disconnects the client.
func (m *Manager) Close(ctx context.Context) error {
	m.setState(StateDisconnecting)
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.mu.Unlock()

	m.setState(StateDisconnected)
	if client == nil {
		return nil
	}
	return client.Disconnect(ctx)
}

// State returns the current connection state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
}

// Database returns the raw handle. Most callers should go through AwaitReady
// or Execute instead.
func (m *Manager) Database() *mongo.Database {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	return m.client.Database(m.cfg.Database)
}

// AwaitReady blocks until the connection is usable: the driver reports
// connected and ReadyProbes consecutive pings, spaced at least ProbeSpacing
// apart, all succeed. It returns ErrReadyTimeout when maxWait elapses first.
func (m *Manager) AwaitReady(ctx context.Context, maxWait time.Duration) (*mongo.Database, error) {
	waitCtx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	consecutive := 0
	for {
		if err := waitCtx.Err(); err != nil {
			return nil, ErrReadyTimeout
		}

		if m.State() != StateConnected {
			m.Trigger()
			consecutive = 0
			if !sleepCtx(waitCtx, m.cfg.ProbeSpacing) {
				return nil, ErrReadyTimeout
			}
			continue
		}

		if err := m.ping(waitCtx); err != nil {
			m.logger.Debug().Err(err).Msg("readiness probe failed")
			consecutive = 0
			m.noteFailure(err)
			if !sleepCtx(waitCtx, m.cfg.ProbeSpacing) {
				return nil, ErrReadyTimeout
			}
			continue
		}

		consecutive++
		if consecutive >= m.cfg.ReadyProbes {
			return m.Database(), nil
		}
		if !sleepCtx(waitCtx, m.cfg.ProbeSpacing) {
			return nil, ErrReadyTimeout
		}
	}
}

// Trigger revives a dormant reconnector. Connection use calls this so a yielded
// reconnect loop resumes without waiting for another disconnect event.
func (m *Manager) Trigger() {
	if m.State() == StateDisconnected {
		m.scheduleReconnect(nil)
	}
}

// noteFailure reacts to a classified failure observed by Execute or the
// readiness gate. Transient failures flip the state machine to disconnected
// and schedule the reconnector exactly once.
func (m *Manager) noteFailure(err error) {
	if Classify(err) != KindTransient {
		return
	}
	if m.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnected)) {
		m.logger.Warn().Err(err).Msg("connection lost, scheduling reconnect")
		m.scheduleReconnect(err)
	}
}

// scheduleReconnect starts a single reconnect loop; concurrent calls while one
// is in flight are no-ops.
func (m *Manager) scheduleReconnect(cause error) {
	m.mu.Lock()
	if m.reconnecting {
		m.mu.Unlock()
		return
	}
	m.reconnecting = true
	m.mu.Unlock()

	go m.reconnectLoop(cause)
}

// reconnectLoop retries the connection with doubling backoff. DNS-class
// failures (SRV lookups timing out) get a 60s cap, everything else 30s. After
// ReconnectMaxAttempts the loop yields and waits for an external trigger.
func (m *Manager) reconnectLoop(cause error) {
	backoffCap := 30 * time.Second
	if isDNSClassFailure(cause) {
		backoffCap = 60 * time.Second
	}

	defer func() {
		m.mu.Lock()
		m.reconnecting = false
		m.mu.Unlock()
	}()

	for attempt := 0; attempt < m.cfg.ReconnectMaxAttempts; attempt++ {
		delay := m.cfg.ReconnectBaseDelay << uint(attempt)
		if delay > backoffCap {
			delay = backoffCap
		}
		time.Sleep(delay)

		if m.State() == StateDisconnecting {
			return
		}

		m.setState(StateConnecting)
		metrics.DBReconnectAttempts.Inc()

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
		err := m.tryReconnect(ctx)
		cancel()

		if err == nil {
			m.setState(StateConnected)
			m.logger.Info().Int("attempt", attempt+1).Msg("database reconnected")
			return
		}

		m.setState(StateDisconnected)
		m.logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Dur("next_delay", delay*2).
			Msg("reconnect attempt failed")
	}

	m.logger.Error().
		Int("attempts", m.cfg.ReconnectMaxAttempts).
		Msg("reconnector exhausted, waiting for external trigger")
}

// tryReconnect pings the existing client first; only a dead client is replaced.
func (m *Manager) tryReconnect(ctx context.Context) error {
	if err := m.ping(ctx); err == nil {
		return nil
	}
	return m.dial(ctx)
}

func (m *Manager) defaultPing(ctx context.Context) error {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()
	if client == nil {
		return ErrNotReady
	}
	return client.Ping(ctx, readpref.Primary())
}

func (m *Manager) defaultDial(ctx context.Context) error {
	m.mu.Lock()
	old := m.client
	m.mu.Unlock()
	if old != nil {
		// Best-effort teardown of the dead client.
		_ = old.Disconnect(ctx)
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(m.cfg.URI))
	if err != nil {
		return err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return err
	}

	m.mu.Lock()
	m.client = client
	m.mu.Unlock()
	return nil
}

// sleepCtx sleeps for d or until ctx is done; returns false on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
