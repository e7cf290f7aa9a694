/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSchedule runs the notifier every minute.
const DefaultSchedule = "* * * * *"

// Runner is what the trigger invokes.
type Runner interface {
	RunOnce(ctx context.Context) (Report, error)
}

// Trigger invokes a Runner on a cron schedule. Overlapping runs are skipped.
type Trigger struct {
	runner   Runner
	schedule cron.Schedule
	spec     string
	loc      *time.Location
	logger   zerolog.Logger
	timeout  time.Duration
}

// ParseSchedule validates a standard five-field cron expression.
func ParseSchedule(spec string) (cron.Schedule, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return sched, nil
}

// NewTrigger builds a trigger. Each run is bounded by timeout when positive.
func NewTrigger(runner Runner, spec string, loc *time.Location, timeout time.Duration, logger zerolog.Logger) (*Trigger, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	sched, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Trigger{
		runner:   runner,
		schedule: sched,
		spec:     spec,
		loc:      loc,
		logger:   logger.With().Str("component", "trigger").Logger(),
		timeout:  timeout,
	}, nil
}

// Next returns the next activation after t.
func (t *Trigger) Next(after time.Time) time.Time {
	return t.schedule.Next(after.In(t.loc))
}

// Run blocks until ctx is cancelled, then waits for an in-flight run.
func (t *Trigger) Run(ctx context.Context) error {
	clog := cronLogger{t.logger}
	c := cron.New(
		cron.WithLocation(t.loc),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	c.Schedule(t.schedule, cron.FuncJob(func() { t.fire(ctx) }))

	t.logger.Info().Str("schedule", t.spec).Msg("notifier trigger started")
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	t.logger.Info().Msg("notifier trigger stopped")
	return ctx.Err()
}

func (t *Trigger) fire(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	if _, err := t.runner.RunOnce(ctx); err != nil {
		t.logger.Error().Err(err).Msg("notifier run failed")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
