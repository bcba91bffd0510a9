// Package main provides the Stepflow SLA monitor service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/megicode/stepflow/pkg/eventbus"
	"github.com/megicode/stepflow/pkg/notify"
	"github.com/megicode/stepflow/pkg/persistence"
	"github.com/megicode/stepflow/pkg/sla"
)

// Options configures the monitor process.
type Options struct {
	Schedule     string
	RedisURL     string
	PollInterval time.Duration
}

// MonitorService runs the SLA sweep job and, when Redis is configured, the
// reminder delivery loop.
type MonitorService struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	opts        Options
}

func NewMonitorService(
	logger *slog.Logger,
	store persistence.Persistence,
	eventBus eventbus.EventBus,
	opts Options,
) *MonitorService {
	return &MonitorService{
		logger:      logger,
		persistence: store,
		eventBus:    eventBus,
		opts:        opts,
	}
}

// Run blocks until the context ends or a termination signal arrives.
func (m *MonitorService) Run(ctx context.Context) error {
	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dispatcher := notify.NewLogDispatcher(m.logger)
	monitor := sla.NewMonitor(m.persistence, dispatcher, m.eventBus, m.logger)

	job := sla.NewCheckJob(monitor, m.opts.Schedule, m.logger)
	if err := job.Start(runCtx); err != nil {
		return err
	}

	defer job.Stop()

	if m.opts.RedisURL != "" {
		redisOpts, err := redis.ParseURL(m.opts.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}

		queue := notify.NewRedisReminderQueue(redis.NewClient(redisOpts), dispatcher, m.logger)

		go queue.Run(runCtx, m.opts.PollInterval)

		m.logger.InfoContext(runCtx, "reminder delivery started", "poll_interval", m.opts.PollInterval)
	}

	m.logger.InfoContext(runCtx, "monitor running", "schedule", m.opts.Schedule)

	<-runCtx.Done()

	m.logger.Info("Shutting down gracefully...")

	return nil
}
