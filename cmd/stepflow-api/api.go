// Package main provides the Stepflow API server implementation.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	redis "github.com/redis/go-redis/v9"

	"github.com/megicode/stepflow/pkg/analytics"
	"github.com/megicode/stepflow/pkg/assignment"
	"github.com/megicode/stepflow/pkg/automation"
	"github.com/megicode/stepflow/pkg/engine"
	"github.com/megicode/stepflow/pkg/eventbus"
	"github.com/megicode/stepflow/pkg/models"
	"github.com/megicode/stepflow/pkg/notify"
	"github.com/megicode/stepflow/pkg/persistence"
	"github.com/megicode/stepflow/pkg/roster"
	"github.com/megicode/stepflow/pkg/sla"
	"github.com/megicode/stepflow/pkg/template"
	"github.com/megicode/stepflow/pkg/web"
)

// Options configures the optional pieces of the API process.
type Options struct {
	RedisURL     string
	TeamFile     string
	SeedDefaults bool
}

type API struct {
	logger   *slog.Logger
	eventBus eventbus.EventBus
	handlers *web.APIHandlers
	rules    *automation.Engine
}

func NewAPI(
	ctx context.Context,
	logger *slog.Logger,
	store persistence.Persistence,
	eventBus eventbus.EventBus,
	opts Options,
) (*API, error) {
	members, err := loadRoster(opts.TeamFile)
	if err != nil {
		return nil, err
	}

	dispatcher := notify.NewLogDispatcher(logger)

	var scheduler notify.ReminderScheduler = dispatcher

	if opts.RedisURL != "" {
		redisOpts, err := redis.ParseURL(opts.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}

		scheduler = notify.NewRedisReminderQueue(redis.NewClient(redisOpts), dispatcher, logger)
	}

	assignments := assignment.NewService(store, members, eventBus, logger)
	processEngine := engine.NewEngine(store, eventBus, assignments, logger)

	registry := automation.NewRegistry()
	registry.Register(models.ActionSendNotification, automation.NewNotificationHandler(dispatcher))
	registry.Register(models.ActionCreateTask, automation.NewTaskHandler(dispatcher))
	registry.Register(models.ActionScheduleReminder, automation.NewReminderHandler(scheduler))
	registry.Register(models.ActionCallWebhook, automation.NewWebhookHandler(notify.NewHTTPWebhookCaller(logger)))
	registry.Register(models.ActionAdvanceGateway, automation.NewGatewayHandler(processEngine))

	ruleEngine := automation.NewEngine(store, registry, eventBus, automation.Config{Enabled: true}, logger)

	templates := template.NewService(store.Definitions(), logger)
	rules := automation.NewRuleService(store.Rules())
	slaRules := sla.NewRuleService(store.SLARules())
	monitor := sla.NewMonitor(store, dispatcher, eventBus, logger)
	analyticsService := analytics.NewService(store, logger)

	if opts.SeedDefaults {
		if err := templates.EnsureDefaults(ctx, template.SeedDefinitions()...); err != nil {
			return nil, fmt.Errorf("failed to seed definitions: %w", err)
		}

		if err := rules.EnsureDefaults(ctx, automation.SeedRules()...); err != nil {
			return nil, fmt.Errorf("failed to seed automation rules: %w", err)
		}

		if err := slaRules.EnsureDefaults(ctx, sla.SeedRules()...); err != nil {
			return nil, fmt.Errorf("failed to seed sla rules: %w", err)
		}
	}

	handlers := web.NewAPIHandlers(processEngine, templates, rules, ruleEngine, slaRules, monitor, assignments, analyticsService, store)

	return &API{
		logger:   logger,
		eventBus: eventBus,
		handlers: handlers,
		rules:    ruleEngine,
	}, nil
}

// Subscribe connects the automation engine to the engine event stream.
func (a *API) Subscribe(ctx context.Context) error {
	if err := a.rules.RegisterHandlers(a.eventBus); err != nil {
		return err
	}

	return a.eventBus.Subscribe(ctx)
}

func (a *API) App() *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Stepflow API")
	})

	a.handlers.RegisterRoutes(app)

	return app
}

func (a *API) Start(port int) error {
	return a.App().Listen(":" + strconv.Itoa(port))
}

// loadRoster reads team members from a JSON file. An empty path yields an
// empty roster, which disables auto-assignment.
func loadRoster(path string) (*roster.MemoryProvider, error) {
	if path == "" {
		return roster.NewMemoryProvider(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read team file: %w", err)
	}

	var members []*models.TeamMember
	if err := json.Unmarshal(raw, &members); err != nil {
		return nil, fmt.Errorf("failed to parse team file %s: %w", path, err)
	}

	return roster.NewMemoryProvider(members...), nil
}
