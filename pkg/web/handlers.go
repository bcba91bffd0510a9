package web

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/megicode/stepflow/pkg/analytics"
	"github.com/megicode/stepflow/pkg/assignment"
	"github.com/megicode/stepflow/pkg/automation"
	"github.com/megicode/stepflow/pkg/engine"
	"github.com/megicode/stepflow/pkg/persistence"
	"github.com/megicode/stepflow/pkg/sla"
	"github.com/megicode/stepflow/pkg/template"
)

type APIHandlers struct {
	engine      *engine.Engine
	templates   *template.Service
	rules       *automation.RuleService
	ruleEngine  *automation.Engine
	slaRules    *sla.RuleService
	monitor     *sla.Monitor
	assignments *assignment.Service
	analytics   *analytics.Service
	persistence persistence.Persistence
	validator   *validator.Validate
}

func NewAPIHandlers(
	processEngine *engine.Engine,
	templates *template.Service,
	rules *automation.RuleService,
	ruleEngine *automation.Engine,
	slaRules *sla.RuleService,
	monitor *sla.Monitor,
	assignments *assignment.Service,
	analyticsService *analytics.Service,
	store persistence.Persistence,
) *APIHandlers {
	return &APIHandlers{
		engine:      processEngine,
		templates:   templates,
		rules:       rules,
		ruleEngine:  ruleEngine,
		slaRules:    slaRules,
		monitor:     monitor,
		assignments: assignments,
		analytics:   analyticsService,
		persistence: store,
		validator:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

// RegisterRoutes mounts every API route on the app. The binary and the tests
// share this wiring.
func (h *APIHandlers) RegisterRoutes(app *fiber.App) {
	app.Get("/health", h.HealthCheck)

	d := app.Group("/definitions")
	d.Get("/", h.ListDefinitions)
	d.Post("/", h.CreateDefinition)
	d.Get("/categories", h.DefinitionCategories)
	d.Get("/usage", h.DefinitionUsage)
	d.Get("/:key", h.GetDefinition)
	d.Delete("/:key", h.DeactivateDefinition)
	d.Get("/:key/versions/:version", h.GetDefinitionVersion)
	d.Post("/:key/versions", h.CreateDefinitionVersion)
	d.Post("/:key/clone", h.CloneDefinition)
	d.Post("/:key/default", h.SetDefaultDefinition)

	i := app.Group("/instances")
	i.Post("/", h.StartInstance)
	i.Get("/", h.ListInstances)
	i.Get("/:id", h.GetInstance)
	i.Get("/:id/progress", h.GetInstanceProgress)
	i.Get("/:id/events", h.GetInstanceEvents)
	i.Get("/:id/sla", h.GetInstanceSLA)
	i.Post("/:id/execute", h.ExecuteStep)
	i.Post("/:id/skip", h.SkipStep)
	i.Post("/:id/cancel", h.CancelInstance)
	i.Post("/:id/assign", h.AssignStep)
	i.Post("/:id/auto-assign", h.AutoAssignStep)
	i.Post("/:id/reassign", h.ReassignStep)

	r := app.Group("/automation/rules")
	r.Get("/", h.ListRules)
	r.Post("/", h.SaveRule)
	r.Get("/:id", h.GetRule)
	r.Delete("/:id", h.DeleteRule)
	r.Post("/:id/toggle", h.ToggleRule)
	r.Post("/:id/test", h.TestRule)

	s := app.Group("/sla")
	s.Get("/rules", h.ListSLARules)
	s.Post("/rules", h.SaveSLARule)
	s.Get("/rules/:id", h.GetSLARule)
	s.Delete("/rules/:id", h.DeleteSLARule)
	s.Get("/breaches", h.ListSLABreaches)

	app.Get("/team/workload", h.TeamWorkload)

	a := app.Group("/analytics/:key")
	a.Get("/steps", h.AnalyticsSteps)
	a.Get("/lanes", h.AnalyticsLanes)
	a.Get("/flow", h.AnalyticsFlow)
	a.Get("/trends", h.AnalyticsTrends)
	a.Get("/sla", h.AnalyticsSLA)
	a.Get("/bottlenecks", h.AnalyticsBottlenecks)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	httpStatus := http.StatusOK

	err := h.persistence.HealthCheck(c.Context())
	if err != nil {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"timestamp": time.Now().UTC(),
	})
}
