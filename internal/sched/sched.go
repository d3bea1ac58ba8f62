// Package sched runs the bridge's background jobs (follow-back passes,
// catch-up replays) on cron schedules.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// Job is a named task with a cron expression.
type Job struct {
	Name string
	Expr string
	Run  func(ctx context.Context) error
}

// Scheduler ticks once a minute and runs every job whose expression is due.
// Jobs run sequentially on the scheduler goroutine; a slow job delays the
// next tick rather than overlapping itself.
type Scheduler struct {
	jobs []Job
	gron *gronx.Gronx
	tick time.Duration
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{gron: gronx.New(), tick: time.Minute}
}

// Add registers a job. Returns an error for invalid cron expressions so
// config mistakes surface at startup, not at 3am.
func (s *Scheduler) Add(job Job) error {
	if !s.gron.IsValid(job.Expr) {
		return fmt.Errorf("job %s: invalid cron expression %q", job.Name, job.Expr)
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	if len(s.jobs) == 0 {
		return
	}
	slog.Info("scheduler started", "jobs", len(s.jobs))

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case now := <-ticker.C:
			s.runDue(ctx, now)
		}
	}
}

func (s *Scheduler) runDue(ctx context.Context, now time.Time) {
	for _, job := range s.jobs {
		due, err := s.gron.IsDue(job.Expr, now)
		if err != nil || !due {
			continue
		}
		slog.Info("running scheduled job", "job", job.Name)
		if err := job.Run(ctx); err != nil {
			slog.Warn("scheduled job failed", "job", job.Name, "error", err)
		}
	}
}
