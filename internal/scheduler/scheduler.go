// Package scheduler provides scheduling logic for SurveyPipe.
//
// It runs the daily report and the optional survey broadcast using cron expressions
// evaluated in the configured time zone.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Default cron expressions.
const (
	// DefaultReportCron runs the report every day at 23:00 local time.
	DefaultReportCron = "0 23 * * *"
)

// Opts holds configuration for the scheduler.
type Opts struct {
	Location *time.Location
}

// Option defines a configuration option for the scheduler.
type Option func(*Opts)

// WithLocation evaluates cron expressions in loc instead of time.Local.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
	stop context.CancelFunc
}

// NewScheduler creates and starts a cron scheduler. Jobs receive a context that is
// cancelled by Stop.
func NewScheduler(opts ...Option) *Scheduler {
	cfg := Opts{Location: time.Local}
	for _, opt := range opts {
		opt(&cfg)
	}
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(cfg.Location),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start()
	slog.Debug("Scheduler started", "location", cfg.Location.String())
	return &Scheduler{cron: c, ctx: ctx, stop: cancel}
}

// AddJob schedules a named task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(name, expr string, task func(ctx context.Context)) error {
	id, err := s.cron.AddFunc(expr, func() {
		slog.Info("Scheduler job firing", "job", name)
		task(s.ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s with %q: %w", name, expr, err)
	}
	slog.Info("Scheduler job added", "job", name, "expr", expr, "next", s.cron.Entry(id).Next)
	return nil
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.stop()
	<-s.cron.Stop().Done()
	slog.Debug("Scheduler stopped")
}
