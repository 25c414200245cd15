// Canteend - Theater Canteen Notification and Event Fan-out Service
// Copyright 2026 Canteend Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/theaterops/canteend

package cron

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/theaterops/canteend/internal/logging"
	"github.com/theaterops/canteend/internal/metrics"
	"github.com/theaterops/canteend/internal/models"
	"github.com/theaterops/canteend/internal/settings"
)

// reloadDebounce coalesces bursts of schedule changes into one reload.
const reloadDebounce = 200 * time.Millisecond

// JobFunc is one scheduled job body.
type JobFunc func(ctx context.Context) error

// Supervisor owns the running job set. Each installed job gets its own
// goroutine that sleeps until the next scheduled minute; a job body never
// overlaps itself because the loop is serial.
type Supervisor struct {
	registry *settings.Registry
	logger   zerolog.Logger

	mu      sync.Mutex
	jobs    map[string]JobFunc
	handles map[string]*handle

	reloads atomic.Int32
}

type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSupervisor creates a Supervisor over the settings registry.
func NewSupervisor(registry *settings.Registry) *Supervisor {
	return &Supervisor{
		registry: registry,
		logger:   logging.Component("cron"),
		jobs:     make(map[string]JobFunc),
		handles:  make(map[string]*handle),
	}
}

// Register binds a job body to its schedule name. Call before Initialise.
func (s *Supervisor) Register(name string, fn JobFunc) {
	s.mu.Lock()
	s.jobs[name] = fn
	s.mu.Unlock()
}

// Initialise installs every enabled job from the current schedule. A job
// whose expression does not parse falls back to its hard-coded default; a
// schedule with no usable entries falls back entirely.
func (s *Supervisor) Initialise(ctx context.Context) error {
	sched := s.registry.Schedule()
	if len(sched) == 0 {
		s.logger.Warn().Msg("empty schedule, using defaults")
		sched = models.DefaultSchedule()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	installed := 0
	for name, spec := range sched {
		fn, ok := s.jobs[name]
		if !ok {
			s.logger.Warn().Str("job", name).Msg("schedule names an unregistered job")
			continue
		}
		if !spec.Enabled {
			s.logger.Info().Str("job", name).Msg("job disabled")
			continue
		}

		plan, err := buildPlan(spec)
		if err != nil {
			s.logger.Error().Err(err).Str("job", name).Msg("bad schedule, falling back to default")
			if def, ok := models.DefaultSchedule()[name]; ok {
				if plan, err = buildPlan(def); err != nil {
					continue
				}
			} else {
				continue
			}
		}

		s.install(name, fn, plan)
		installed++
	}

	if installed == 0 && len(s.jobs) > 0 {
		return fmt.Errorf("cron: no jobs installed from %d schedule entries", len(sched))
	}
	s.logger.Info().Int("jobs", installed).Msg("schedule installed")
	return nil
}

// install starts one job goroutine. Caller holds s.mu.
func (s *Supervisor) install(name string, fn JobFunc, p plan) {
	jobCtx, cancel := context.WithCancel(context.Background())
	h := &handle{cancel: cancel, done: make(chan struct{})}
	s.handles[name] = h
	go s.runJob(jobCtx, name, fn, p, h.done)
}

// installDefaults puts every registered job on its hard-coded default
// schedule. Last resort when the persisted schedule yields nothing runnable.
func (s *Supervisor) installDefaults() {
	s.mu.Lock()
	defer s.mu.Unlock()

	installed := 0
	for name, spec := range models.DefaultSchedule() {
		fn, ok := s.jobs[name]
		if !ok {
			continue
		}
		p, err := buildPlan(spec)
		if err != nil {
			continue
		}
		s.install(name, fn, p)
		installed++
	}
	s.logger.Warn().Int("jobs", installed).Msg("default schedule installed")
}

// Reload stops every handle, waits for in-flight runs to finish, then
// re-initialises. No job fires during the swap window.
func (s *Supervisor) Reload(ctx context.Context) error {
	s.reloads.Add(1)
	s.stopAll()
	return s.Initialise(ctx)
}

// Serve runs the supervisor until the context ends: initialise once, then
// reload on configChanged("schedule") with a debounce. It satisfies the
// suture service contract.
func (s *Supervisor) Serve(ctx context.Context) error {
	if err := s.Initialise(ctx); err != nil {
		s.logger.Error().Err(err).Msg("initialise failed, falling back to the default schedule")
		s.installDefaults()
	}
	defer s.stopAll()

	changes := s.registry.Subscribe()
	defer s.registry.Unsubscribe(changes)

	var debounce *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case section, ok := <-changes:
			if !ok {
				return nil
			}
			if section != models.SectionSchedule {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(reloadDebounce)
				fire = debounce.C
			} else {
				if !debounce.Stop() {
					<-debounce.C
				}
				debounce.Reset(reloadDebounce)
			}
		case <-fire:
			debounce = nil
			fire = nil
			s.logger.Info().Msg("schedule changed, reloading")
			if err := s.Reload(ctx); err != nil {
				s.logger.Error().Err(err).Msg("reload failed")
			}
		}
	}
}

// plan is one job's concrete timing: a cron schedule in a zone, or a fixed
// interval when only IntervalMinutes is set.
type plan struct {
	schedule *Schedule
	loc      *time.Location
	interval time.Duration
}

func buildPlan(spec models.ScheduleSpec) (plan, error) {
	if spec.Cron == "" {
		if spec.IntervalMinutes <= 0 {
			return plan{}, fmt.Errorf("cron: schedule has neither expression nor interval")
		}
		return plan{interval: time.Duration(spec.IntervalMinutes) * time.Minute}, nil
	}

	sched, err := Parse(spec.Cron)
	if err != nil {
		return plan{}, err
	}

	tz := spec.Timezone
	if tz == "" {
		tz = models.DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return plan{}, fmt.Errorf("cron: timezone %q: %w", tz, err)
	}
	return plan{schedule: sched, loc: loc}, nil
}

func (p plan) next(after time.Time) time.Time {
	if p.schedule != nil {
		return p.schedule.Next(after, p.loc)
	}
	return after.Add(p.interval)
}

func (s *Supervisor) runJob(ctx context.Context, name string, fn JobFunc, p plan, done chan struct{}) {
	defer close(done)

	for {
		next := p.next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		// A reload must not abort a run already underway: only the timer wait
		// listens for cancellation, and stopAll blocks on done until the body
		// returns.
		start := time.Now()
		err := fn(context.WithoutCancel(ctx))
		metrics.JobDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.JobRuns.WithLabelValues(name, "error").Inc()
			s.logger.Error().Err(err).Str("job", name).Dur("took", time.Since(start)).Msg("job failed")
			continue
		}
		metrics.JobRuns.WithLabelValues(name, "ok").Inc()
		s.logger.Info().Str("job", name).Dur("took", time.Since(start)).Msg("job completed")
	}
}

func (s *Supervisor) stopAll() {
	s.mu.Lock()
	handles := s.handles
	s.handles = make(map[string]*handle)
	s.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
	for _, h := range handles {
		<-h.done
	}
}

// Running reports the currently installed job names, for health output.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.handles))
	for name := range s.handles {
		names = append(names, name)
	}
	return names
}
