package sla

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultCheckSchedule runs the sweep every 15 minutes.
const DefaultCheckSchedule = "@every 15m"

// CheckJob runs the monitor sweep on a cron schedule. Overlapping runs are
// skipped rather than queued.
type CheckJob struct {
	monitor  *Monitor
	schedule string
	logger   *slog.Logger
	cron     *cron.Cron
}

func NewCheckJob(monitor *Monitor, schedule string, logger *slog.Logger) *CheckJob {
	if schedule == "" {
		schedule = DefaultCheckSchedule
	}

	return &CheckJob{
		monitor:  monitor,
		schedule: schedule,
		logger:   logger.With("module", "sla_check_job"),
	}
}

func (j *CheckJob) Start(ctx context.Context) error {
	cronLogger := &cronSlogAdapter{logger: j.logger}

	j.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cronLogger),
		cron.Recover(cronLogger),
	))

	_, err := j.cron.AddFunc(j.schedule, func() {
		result, err := j.monitor.RunCheck(ctx)
		if err != nil {
			j.logger.ErrorContext(ctx, "sla sweep failed", "error", err)

			return
		}

		j.logger.InfoContext(ctx, "sla sweep finished",
			"checked", result.Checked,
			"warnings", result.Warnings,
			"criticals", result.Criticals,
			"escalations", result.Escalations)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sla sweep %q: %w", j.schedule, err)
	}

	j.cron.Start()
	j.logger.InfoContext(ctx, "sla check job started", "schedule", j.schedule)

	return nil
}

// Stop halts scheduling and waits for an in-flight sweep to finish.
func (j *CheckJob) Stop() {
	if j.cron == nil {
		return
	}

	<-j.cron.Stop().Done()
}

type cronSlogAdapter struct {
	logger *slog.Logger
}

func (a *cronSlogAdapter) Info(msg string, keysAndValues ...any) {
	a.logger.Info(msg, keysAndValues...)
}

func (a *cronSlogAdapter) Error(err error, msg string, keysAndValues ...any) {
	args := append([]any{"error", err}, keysAndValues...)
	a.logger.Error(msg, args...)
}
