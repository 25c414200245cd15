// Canteend - Theater Canteen Notification and Event Fan-out Service
// Copyright 2026 Canteend Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/theaterops/canteend

// Package settings caches the mutable system configuration document and fans
// out change notifications to in-process subscribers.
package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/theaterops/canteend/internal/logging"
	"github.com/theaterops/canteend/internal/models"
	"github.com/theaterops/canteend/internal/store"
)

// redactedMask replaces secret values in operator-facing copies.
const redactedMask = "********"

// subscriberBuffer bounds each change channel; emits never block.
const subscriberBuffer = 8

// Store is the persistence slice the registry needs.
type Store interface {
	GetSettings(ctx context.Context) (*models.SystemSettings, error)
	SaveSettings(ctx context.Context, settings *models.SystemSettings) error
}

// Registry holds the in-memory settings snapshot. Reads are lock-cheap;
// writes go through Update which persists first and swaps second.
type Registry struct {
	store  Store
	logger zerolog.Logger

	mu      sync.RWMutex
	current *models.SystemSettings

	subMu sync.Mutex
	subs  map[chan string]struct{}
}

// New creates a Registry seeded with defaults; call Load to hydrate.
func New(st Store) *Registry {
	return &Registry{
		store:   st,
		logger:  logging.Component("settings"),
		current: models.DefaultSystemSettings(),
		subs:    make(map[chan string]struct{}),
	}
}

// Load hydrates the registry from the database. A missing document is seeded
// with defaults and persisted.
func (r *Registry) Load(ctx context.Context) error {
	loaded, err := r.store.GetSettings(ctx)
	if errors.Is(err, store.ErrNotFound) {
		r.logger.Info().Msg("no settings document, seeding defaults")
		seeded := models.DefaultSystemSettings()
		if err := r.store.SaveSettings(ctx, seeded); err != nil {
			return fmt.Errorf("settings: seeding defaults: %w", err)
		}
		loaded = seeded
	} else if err != nil {
		return fmt.Errorf("settings: loading: %w", err)
	}

	if loaded.Schedule == nil {
		loaded.Schedule = models.DefaultSchedule()
	}

	r.mu.Lock()
	r.current = loaded
	r.mu.Unlock()
	return nil
}

// SMTP returns the current mail relay settings.
func (r *Registry) SMTP() models.SMTPSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current.SMTP
}

// SMS returns the current SMS provider settings.
func (r *Registry) SMS() models.SMSSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current.SMS
}

// Branding returns the current branding assets.
func (r *Registry) Branding() models.BrandingSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current.Branding
}

// StorageCreds returns the current remote-storage credentials.
func (r *Registry) StorageCreds() models.StorageCredentials {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current.Storage
}

// Schedule returns a copy of the per-job schedule map.
func (r *Registry) Schedule() map[string]models.ScheduleSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]models.ScheduleSpec, len(r.current.Schedule))
	for name, spec := range r.current.Schedule {
		out[name] = spec
	}
	return out
}

// Snapshot returns a deep-enough copy of the whole document.
func (r *Registry) Snapshot() models.SystemSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copySettings(r.current)
}

// Redacted returns the document with secrets masked for operator endpoints.
func (r *Registry) Redacted() models.SystemSettings {
	out := r.Snapshot()
	out.SMTP.Password = mask(out.SMTP.Password)
	out.SMS.APIKey = mask(out.SMS.APIKey)
	out.Storage.KeyJSON = mask(out.Storage.KeyJSON)
	return out
}

// Update applies a mutation to a copy of the current document, persists it,
// then swaps it in and emits configChanged(section). The in-memory snapshot
// never reflects a write that failed to persist.
func (r *Registry) Update(ctx context.Context, section string, apply func(*models.SystemSettings)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := copySettings(r.current)
	apply(&next)

	if err := r.store.SaveSettings(ctx, &next); err != nil {
		return fmt.Errorf("settings: persisting %s: %w", section, err)
	}
	r.current = &next

	r.emit(section)
	r.logger.Info().Str("section", section).Msg("settings updated")
	return nil
}

// Subscribe returns a buffered channel receiving section names on change.
// Slow subscribers lose notifications rather than blocking writers.
func (r *Registry) Subscribe() chan string {
	ch := make(chan string, subscriberBuffer)
	r.subMu.Lock()
	r.subs[ch] = struct{}{}
	r.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (r *Registry) Unsubscribe(ch chan string) {
	r.subMu.Lock()
	if _, ok := r.subs[ch]; ok {
		delete(r.subs, ch)
		close(ch)
	}
	r.subMu.Unlock()
}

func (r *Registry) emit(section string) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for ch := range r.subs {
		select {
		case ch <- section:
		default:
			r.logger.Warn().Str("section", section).Msg("subscriber buffer full, notification dropped")
		}
	}
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return redactedMask
}

func copySettings(s *models.SystemSettings) models.SystemSettings {
	out := *s
	out.Schedule = make(map[string]models.ScheduleSpec, len(s.Schedule))
	for name, spec := range s.Schedule {
		out.Schedule[name] = spec
	}
	return out
}
