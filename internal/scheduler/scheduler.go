package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// RunFunc performs one scheduled scan. scheduledAt is the aligned slot the
// run belongs to.
type RunFunc func(ctx context.Context, scheduledAt time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	// RunOnStart performs one run immediately before waiting for the first slot.
	RunOnStart bool
}

// Scheduler triggers scans on a fixed cadence. Runs never overlap: a slot
// that passes while a run is still going is skipped.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking fn on every slot until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, fn RunFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if s.opts.RunOnStart {
		s.invoke(ctx, fn, time.Now().UTC())
	}

	next := s.nextSlot(time.Now().UTC())
	for {
		timer := time.NewTimer(time.Until(next))
		s.logger.Debug().Time("next_run", next).Msg("waiting for next slot")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		s.invoke(ctx, fn, s.slotStart(next))

		now := time.Now().UTC()
		next = next.Add(s.opts.Interval)
		if !next.After(now) {
			skipped := s.nextSlot(now)
			s.logger.Warn().Time("missed_slot", next).Time("next_run", skipped).Msg("run overran its interval, skipping slots")
			next = skipped
		}
	}
}

func (s *Scheduler) invoke(ctx context.Context, fn RunFunc, slot time.Time) {
	started := time.Now()
	s.logger.Info().Time("slot", slot).Msg("starting scheduled scan")
	if err := fn(ctx, slot); err != nil {
		s.logger.Error().Err(err).Time("slot", slot).Msg("scheduled scan failed")
		return
	}
	s.logger.Info().Time("slot", slot).Dur("took", time.Since(started)).Msg("scheduled scan finished")
}

func (s *Scheduler) nextSlot(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	slot := now.Truncate(s.opts.Interval)
	if !slot.After(now) {
		slot = slot.Add(s.opts.Interval)
	}
	return slot
}

func (s *Scheduler) slotStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
