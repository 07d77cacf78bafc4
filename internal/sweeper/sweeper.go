// Package sweeper runs the periodic pass that expires stale offers and
// retries tasks nobody has been offered yet.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"designer-dispatch/internal/dispatch"
)

const (
	DefaultSchedule  = "@every 30s"
	DefaultBatchSize = 100
)

// Engine is the part of dispatch.Engine the sweep drives.
type Engine interface {
	ExpireStale(ctx context.Context, limit int) (dispatch.SweepResult, error)
	ScheduleWaiting(ctx context.Context, limit int) (dispatch.SweepResult, error)
}

type Pass struct {
	Expired   int
	Reoffered int
	Offered   int
	Unplaced  int
	Duration  time.Duration
}

type Sweeper struct {
	engine   Engine
	schedule cron.Schedule
	batch    int
	logger   *slog.Logger
	stats    Stats
	now      func() time.Time
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule accepts five-field cron expressions and descriptors such as
// "@every 30s" or "@hourly".
func ParseSchedule(spec string) (cron.Schedule, error) {
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return sched, nil
}

func New(engine Engine, spec string, batch int, logger *slog.Logger) (*Sweeper, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	sched, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{engine: engine, schedule: sched, batch: batch, logger: logger, now: time.Now}, nil
}

// RunOnce expires first so that released tasks are retried in the same pass.
func (s *Sweeper) RunOnce(ctx context.Context) (Pass, error) {
	start := s.now()
	var pass Pass

	expired, err := s.engine.ExpireStale(ctx, s.batch)
	if err != nil {
		sweepErrors.WithLabelValues("expire").Inc()
		return pass, fmt.Errorf("expire stale offers: %w", err)
	}
	pass.Expired = expired.Expired
	pass.Reoffered = expired.Offered

	waiting, err := s.engine.ScheduleWaiting(ctx, s.batch)
	if err != nil {
		sweepErrors.WithLabelValues("schedule").Inc()
		return pass, fmt.Errorf("schedule waiting tasks: %w", err)
	}
	pass.Offered = waiting.Offered
	pass.Unplaced = waiting.Unplaced + expired.Unplaced
	pass.Duration = s.now().Sub(start)

	sweepDuration.Observe(pass.Duration.Seconds())
	s.stats.record(pass)
	return pass, nil
}

// Start blocks, sweeping on schedule until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	s.logger.Info("Starting sweeper", "batch_size", s.batch)
	defer func() {
		t := s.stats.Snapshot()
		s.logger.Info("Sweeper stopped", "passes", t.Passes, "expired", t.Expired, "offered", t.Offered, "unplaced", t.Unplaced)
	}()

	for {
		now := s.now()
		wait := s.schedule.Next(now).Sub(now)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		pass, err := s.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("Sweep failed", "error", err)
			continue
		}
		if pass.Expired > 0 || pass.Offered > 0 {
			s.logger.Info("Sweep pass", "expired", pass.Expired, "reoffered", pass.Reoffered,
				"offered", pass.Offered, "unplaced", pass.Unplaced, "duration", pass.Duration)
		}
	}
}

func (s *Sweeper) Stats() Totals { return s.stats.Snapshot() }
