package main

import (
	"context"
	"os"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/megicode/stepflow/pkg/cmd"
	"github.com/megicode/stepflow/pkg/log"
	"github.com/megicode/stepflow/pkg/otelhelper"
	"github.com/megicode/stepflow/pkg/sla"
)

func main() {
	logger := log.WithModule("monitor")

	command := &cli.Command{
		Name:                  "stepflow-monitor",
		Usage:                 "Run the SLA sweep and reminder delivery service",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL, empty runs in-memory",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS"),
			},
			&cli.StringFlag{
				Name:    "sla-schedule",
				Usage:   "Cron schedule for the SLA sweep",
				Value:   sla.DefaultCheckSchedule,
				Sources: cli.EnvVars("SLA_CHECK_SCHEDULE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the reminder queue, empty disables reminder delivery",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.DurationFlag{
				Name:    "reminder-poll-interval",
				Usage:   "How often to poll for due reminders",
				Value:   time.Minute,
				Sources: cli.EnvVars("REMINDER_POLL_INTERVAL"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export consumer spans over OTLP",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Stepflow Monitor")

			var tracer trace.Tracer

			if command.Bool("tracing") {
				t, err := otelhelper.NewTracer(ctx, "stepflow-monitor")
				if err != nil {
					return err
				}

				tracer = t
			}

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "stepflow-monitor", logger, tracer)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			monitor := NewMonitorService(logger, store, eventBus, Options{
				Schedule:     command.String("sla-schedule"),
				RedisURL:     command.String("redis-url"),
				PollInterval: command.Duration("reminder-poll-interval"),
			})

			return monitor.Run(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
