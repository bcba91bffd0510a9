package main

import (
	"context"
	"log/slog"
	"os"

	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/megicode/stepflow/pkg/cmd"
	"github.com/megicode/stepflow/pkg/eventbus"
	"github.com/megicode/stepflow/pkg/log"
	"github.com/megicode/stepflow/pkg/otelhelper"
)

const defaultPort = 8080

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "stepflow-api",
		Usage:                 "Run the process management API",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
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
				Name:    "redis-url",
				Usage:   "Redis URL for the reminder queue, empty logs reminders instead",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "team-file",
				Usage:   "Path to a JSON file listing assignable team members",
				Sources: cli.EnvVars("TEAM_FILE"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export consumer spans over OTLP",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.BoolFlag{
				Name:    "seed-defaults",
				Usage:   "Seed the default definitions, automation rules and SLA rules on startup",
				Value:   true,
				Sources: cli.EnvVars("SEED_DEFAULTS"),
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

			logger.InfoContext(ctx, "Initializing Stepflow API")

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := newEventBus(ctx, command, logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			api, err := NewAPI(ctx, logger, store, eventBus, Options{
				RedisURL:     command.String("redis-url"),
				TeamFile:     command.String("team-file"),
				SeedDefaults: command.Bool("seed-defaults"),
			})
			if err != nil {
				return err
			}

			if err := api.Subscribe(ctx); err != nil {
				return err
			}

			return api.Start(command.Int("port"))
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

func newEventBus(ctx context.Context, command *cli.Command, logger *slog.Logger) (eventbus.EventBus, error) {
	var tracer trace.Tracer

	if command.Bool("tracing") {
		t, err := otelhelper.NewTracer(ctx, "stepflow-api")
		if err != nil {
			return nil, err
		}

		tracer = t
	}

	return cmd.NewEventBus(command.String("event-bus"), "stepflow-api", logger, tracer)
}
