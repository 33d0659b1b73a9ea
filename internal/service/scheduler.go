package service

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Job is one periodic pass run by the Scheduler.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs each job on its own ticker until the context ends. Passes of
// the same job never overlap.
type Scheduler struct {
	jobs []Job
}

func NewScheduler(jobs ...Job) *Scheduler {
	return &Scheduler{jobs: jobs}
}

// SettlementJobs wires the sweep, reminder and cleanup passes.
func SettlementJobs(settlement *SettlementService, reminders *ReminderService, retention *RetentionService, sweepEvery, remindEvery, cleanupEvery time.Duration) []Job {
	return []Job{
		{Name: "settlement", Interval: sweepEvery, Run: func(ctx context.Context) error {
			_, err := settlement.Sweep(ctx)
			return err
		}},
		{Name: "reminders", Interval: remindEvery, Run: func(ctx context.Context) error {
			_, err := reminders.SendDeadlineReminders(ctx)
			return err
		}},
		{Name: "cleanup", Interval: cleanupEvery, Run: func(ctx context.Context) error {
			_, err := retention.Cleanup(ctx)
			return err
		}},
	}
}

// Run blocks until ctx is cancelled. A failing pass is logged and the job
// keeps its schedule.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			slog.Warn("scheduler job disabled", "job", job.Name)
			continue
		}
		g.Go(func() error {
			runJob(ctx, job)
			return nil
		})
	}
	return g.Wait()
}

func runJob(ctx context.Context, job Job) {
	slog.Info("scheduler job started", "job", job.Name, "interval", job.Interval.String())

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler job stopped", "job", job.Name)
			return
		case <-ticker.C:
			start := time.Now()
			if err := job.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("scheduler job failed", "error", err, "job", job.Name)
				continue
			}
			slog.Debug("scheduler job finished", "job", job.Name, "duration_ms", time.Since(start).Milliseconds())
		}
	}
}
