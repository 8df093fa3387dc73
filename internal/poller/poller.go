// Package poller drives the periodic refresh sweep over tracked stations.
package poller

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// SweepFunc runs one refresh cycle. cycle is the aligned start of the
// interval the sweep belongs to.
type SweepFunc func(ctx context.Context, cycle time.Time) error

// Options tune poller behaviour.
type Options struct {
	Interval time.Duration
	// AlignToBucket snaps cycles to wall-clock interval boundaries so
	// replicas sweep in the same rhythm.
	AlignToBucket bool
	// RunOnStart fires one sweep immediately instead of waiting a full
	// interval for the first one.
	RunOnStart   bool
	StartupDelay time.Duration
}

// Poller repeatedly executes a sweep until its context is cancelled.
type Poller struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Poller.
func New(opts Options, logger zerolog.Logger) *Poller {
	if opts.Interval <= 0 {
		panic("poller interval must be positive")
	}
	return &Poller{opts: opts, logger: logger.With().Str("component", "poller").Logger()}
}

// Run blocks, invoking the sweep on each cycle until ctx is cancelled. A
// failing sweep is logged; the loop keeps going.
func (p *Poller) Run(ctx context.Context, sweep SweepFunc) error {
	if p.opts.StartupDelay > 0 {
		timer := time.NewTimer(p.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if p.opts.RunOnStart {
		p.sweepOnce(ctx, sweep, time.Now().UTC())
	}

	next := p.nextCycle(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = p.nextCycle(time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		p.logger.Debug().Time("next_cycle", next).Msg("waiting for next sweep")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		p.sweepOnce(ctx, sweep, p.cycleStart(next))
		next = next.Add(p.opts.Interval)
	}
}

func (p *Poller) sweepOnce(ctx context.Context, sweep SweepFunc, cycle time.Time) {
	p.logger.Info().Time("cycle", cycle).Msg("starting refresh sweep")
	if err := sweep(ctx, cycle); err != nil {
		p.logger.Error().Err(err).Time("cycle", cycle).Msg("refresh sweep failed")
	}
}

func (p *Poller) nextCycle(now time.Time) time.Time {
	if !p.opts.AlignToBucket {
		return now.Add(p.opts.Interval)
	}
	cycle := now.Truncate(p.opts.Interval)
	if !cycle.After(now) {
		cycle = cycle.Add(p.opts.Interval)
	}
	return cycle
}

func (p *Poller) cycleStart(t time.Time) time.Time {
	if !p.opts.AlignToBucket {
		return t
	}
	return t.Truncate(p.opts.Interval)
}
