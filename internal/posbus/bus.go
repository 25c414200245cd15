// Canteend - Theater Canteen Notification and Event Fan-out Service
// Copyright 2026 Canteend Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/theaterops/canteend

// Package posbus fans POS order events out to live per-theater subscriptions.
package posbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/theaterops/canteend/internal/logging"
	"github.com/theaterops/canteend/internal/metrics"
	"github.com/theaterops/canteend/internal/models"
)

// Order lifecycle events carried on the stream.
const (
	EventCreated   = "created"
	EventUpdated   = "updated"
	EventCancelled = "cancelled"
	EventCompleted = "completed"
)

// frameType tags every frame on the wire.
const frameType = "pos_order"

// Heartbeat and write bounds. Variables so tests can compress time.
var (
	// pingInterval is the heartbeat period; a subscriber must pong before the
	// next tick or it is torn down.
	pingInterval = 30 * time.Second

	// writeTimeout bounds every transport write so a hung client can never
	// stall a broadcast.
	writeTimeout = 2 * time.Second
)

// sendBuffer is the per-subscription outbound queue. A full queue means the
// client is not keeping up; the subscription is dropped.
const sendBuffer = 32

// ErrBusClosed is returned by Subscribe after shutdown.
var ErrBusClosed = errors.New("posbus: bus closed")

// Frame is the JSON message pushed to subscribers.
type Frame struct {
	Type    string              `json:"type"`
	Event   string              `json:"event"`
	OrderID string              `json:"orderId"`
	Order   models.OrderSummary `json:"order"`
}

// Transport is one subscriber's wire. Writes must honour their own deadline;
// Close must be idempotent.
type Transport interface {
	WriteMessage(data []byte, deadline time.Time) error
	WritePing(deadline time.Time) error
	Close(code int, reason string) error
}

// Close codes mirror RFC 6455.
const (
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011
)

// Bus is the subscription registry. A single writer mutates it; broadcasts
// take the read lock.
type Bus struct {
	logger zerolog.Logger

	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	closed bool
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		logger: logging.Component("posbus"),
		subs:   make(map[string]map[*Subscription]struct{}),
	}
}

// Subscribe registers a transport for one theater and starts its write and
// heartbeat loops.
func (b *Bus) Subscribe(theaterID string, transport Transport) (*Subscription, error) {
	sub := &Subscription{
		bus:       b,
		theaterID: theaterID,
		transport: transport,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
	}
	sub.alive.Store(true)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}
	set, ok := b.subs[theaterID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[theaterID] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	metrics.PosSubscriptions.Inc()
	go sub.writeLoop()

	b.logger.Debug().Str("theater", theaterID).Msg("subscription registered")
	return sub, nil
}

// Unsubscribe removes a subscription and closes its transport. Idempotent.
func (b *Bus) Unsubscribe(sub *Subscription) {
	sub.close(CloseInternalError, "unsubscribed")
}

// remove detaches the subscription from the registry. Called exactly once per
// subscription, from close.
func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	if set, ok := b.subs[sub.theaterID]; ok {
		if _, present := set[sub]; present {
			delete(set, sub)
			metrics.PosSubscriptions.Dec()
		}
		if len(set) == 0 {
			delete(b.subs, sub.theaterID)
		}
	}
	b.mu.Unlock()
}

// Broadcast pushes one order event to every subscription of its theater and
// returns the number of queued deliveries. A subscription that cannot accept
// the frame is torn down; the broadcast itself never blocks.
func (b *Bus) Broadcast(event string, order *models.Order) int {
	frame := Frame{
		Type:    frameType,
		Event:   event,
		OrderID: order.ID.Hex(),
		Order:   order.Summarize(),
	}
	data, err := json.Marshal(frame)
	if err != nil {
		b.logger.Error().Err(err).Msg("marshalling frame")
		return 0
	}

	theaterID := order.TheaterID.Hex()
	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subs[theaterID]))
	for sub := range b.subs[theaterID] {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	delivered := 0
	for _, sub := range targets {
		select {
		case sub.send <- data:
			delivered++
		default:
			metrics.PosSendsDropped.Inc()
			b.logger.Warn().Str("theater", theaterID).Msg("subscriber queue full, dropping subscription")
			go sub.close(CloseInternalError, "client too slow")
		}
	}

	metrics.PosEventsBroadcast.WithLabelValues(event).Inc()
	return delivered
}

// Stats reports theater and subscription counts for health output.
func (b *Bus) Stats() (theaters, subscriptions int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, set := range b.subs {
		subscriptions += len(set)
	}
	return len(b.subs), subscriptions
}

// Serve blocks until the context ends, then shuts the bus down. It satisfies
// the suture service contract.
func (b *Bus) Serve(ctx context.Context) error {
	<-ctx.Done()
	b.Shutdown()
	return ctx.Err()
}

// Shutdown closes every subscription with a server-shutdown close code.
// Subsequent broadcasts deliver to nobody.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*Subscription
	for _, set := range b.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range all {
		sub.close(CloseInternalError, "server shutting down")
	}
	b.logger.Info().Int("subscriptions", len(all)).Msg("bus shut down")
}

// Subscription is one live subscriber. Frames queued on send are written in
// FIFO order by a single goroutine, preserving per-subscription ordering.
type Subscription struct {
	bus       *Bus
	theaterID string
	transport Transport

	send  chan []byte
	done  chan struct{}
	alive atomic.Bool
	once  sync.Once
}

// TheaterID reports which theater this subscription listens to.
func (s *Subscription) TheaterID() string { return s.theaterID }

// Done is closed when the subscription has been torn down.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// MarkAlive records a pong from the client.
func (s *Subscription) MarkAlive() { s.alive.Store(true) }

func (s *Subscription) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case data := <-s.send:
			if err := s.transport.WriteMessage(data, time.Now().Add(writeTimeout)); err != nil {
				s.bus.logger.Debug().Err(err).Str("theater", s.theaterID).Msg("write failed")
				s.close(CloseInternalError, "write failed")
				return
			}
		case <-ticker.C:
			// A subscriber that never ponged since the last tick is dead.
			if !s.alive.Swap(false) {
				s.close(CloseInternalError, "heartbeat missed")
				return
			}
			if err := s.transport.WritePing(time.Now().Add(writeTimeout)); err != nil {
				s.close(CloseInternalError, "ping failed")
				return
			}
		}
	}
}

// close tears the subscription down exactly once: registry removal, done
// signal, transport close. Safe to call from any goroutine.
func (s *Subscription) close(code int, reason string) {
	s.once.Do(func() {
		close(s.done)
		s.bus.remove(s)
		_ = s.transport.Close(code, reason)
	})
}
