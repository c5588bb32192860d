package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per firing with the scheduled fire time.
type TickFunc func(ctx context.Context, fireAt time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	// Hour and Minute give the daily wall-clock fire time in Location.
	Hour         int
	Minute       int
	Location     *time.Location
	StartupDelay time.Duration
}

// Scheduler fires a job once per day at a fixed wall-clock time.
type Scheduler struct {
	opts   Options
	now    func() time.Time
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if opts.Hour < 0 || opts.Hour > 23 || opts.Minute < 0 || opts.Minute > 59 {
		return nil, fmt.Errorf("scheduler: invalid fire time %02d:%02d", opts.Hour, opts.Minute)
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Scheduler{
		opts:   opts,
		now:    time.Now,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}, nil
}

// Run blocks, invoking tick at each daily fire time until ctx is cancelled.
// Tick errors are logged and do not stop the schedule.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	for {
		next := s.NextRun(s.now())
		timer := time.NewTimer(next.Sub(s.now()))
		s.logger.Info().Time("next_run", next).Msg("waiting for next daily run")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		s.logger.Info().Time("fire_at", next).Msg("executing scheduled tick")
		if err := tick(ctx, next); err != nil {
			s.logger.Error().Err(err).Time("fire_at", next).Msg("tick execution failed")
		}
	}
}

// NextRun returns the first fire time strictly after now.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	local := now.In(s.opts.Location)
	y, m, d := local.Date()
	candidate := time.Date(y, m, d, s.opts.Hour, s.opts.Minute, 0, 0, s.opts.Location)
	if !candidate.After(local) {
		candidate = time.Date(y, m, d+1, s.opts.Hour, s.opts.Minute, 0, 0, s.opts.Location)
	}
	return candidate
}
