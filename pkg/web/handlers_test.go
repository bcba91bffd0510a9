package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megicode/stepflow/pkg/analytics"
	"github.com/megicode/stepflow/pkg/assignment"
	"github.com/megicode/stepflow/pkg/automation"
	"github.com/megicode/stepflow/pkg/engine"
	"github.com/megicode/stepflow/pkg/eventbus"
	"github.com/megicode/stepflow/pkg/models"
	"github.com/megicode/stepflow/pkg/notify"
	"github.com/megicode/stepflow/pkg/persistence/memory"
	"github.com/megicode/stepflow/pkg/roster"
	"github.com/megicode/stepflow/pkg/sla"
	"github.com/megicode/stepflow/pkg/template"
	"github.com/megicode/stepflow/pkg/web"
)

type noopPublisher struct{}

func (noopPublisher) Publish(ctx context.Context, key string, event eventbus.Event) error {
	return nil
}

func setupTestApp(t *testing.T) (*fiber.App, *memory.Persistence) {
	t.Helper()

	ctx := context.Background()
	logger := slog.Default()
	store := memory.NewPersistence()
	publisher := noopPublisher{}

	members := roster.NewMemoryProvider(
		&models.TeamMember{UserID: "pm-1", Name: "Paula", Role: "pm", Available: true},
		&models.TeamMember{UserID: "dev-1", Name: "Devon", Role: "dev", Skills: []string{"development"}, Available: true},
	)

	assignments := assignment.NewService(store, members, publisher, logger)
	processEngine := engine.NewEngine(store, publisher, assignments, logger)
	templates := template.NewService(store.Definitions(), logger)
	rules := automation.NewRuleService(store.Rules())
	dispatcher := notify.NewLogDispatcher(logger)

	registry := automation.NewRegistry()
	registry.Register(models.ActionSendNotification, automation.NewNotificationHandler(dispatcher))
	registry.Register(models.ActionCreateTask, automation.NewTaskHandler(dispatcher))

	ruleEngine := automation.NewEngine(store, registry, publisher, automation.Config{Enabled: true}, logger)
	slaRules := sla.NewRuleService(store.SLARules())
	monitor := sla.NewMonitor(store, notify.NewLogDispatcher(logger), publisher, logger)
	analyticsService := analytics.NewService(store, logger)

	require.NoError(t, templates.EnsureDefaults(ctx, template.SeedDefinitions()...))
	require.NoError(t, rules.EnsureDefaults(ctx, automation.SeedRules()...))
	require.NoError(t, slaRules.EnsureDefaults(ctx, sla.SeedRules()...))

	handlers := web.NewAPIHandlers(processEngine, templates, rules, ruleEngine, slaRules, monitor, assignments, analyticsService, store)

	app := fiber.New()
	handlers.RegisterRoutes(app)

	return app, store
}

func doJSON(t *testing.T, app *fiber.App, method, path string, payload any) *http.Response {
	t.Helper()

	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListDefinitionsReturnsSeeds(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/definitions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Definitions []*models.Definition `json:"definitions"`
	}
	decodeBody(t, resp, &body)

	keys := make([]string, 0, len(body.Definitions))
	for _, def := range body.Definitions {
		keys = append(keys, def.Key)
	}

	assert.ElementsMatch(t, []string{"client_delivery", "consulting_engagement", "quick_fix"}, keys)
}

func TestCreateDefinition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
	}{
		{
			name: "successful creation",
			requestBody: web.CreateDefinitionRequest{
				Name:     "Incident Response",
				Category: "operations",
				Lanes: []models.Lane{
					{Key: "ops", DisplayName: "Operations", Participant: "ops"},
				},
				Steps: []*models.Step{
					{Key: "open", Title: "Open", Type: models.StepTypeStart, LaneKey: "ops", Next: "resolve"},
					{Key: "resolve", Title: "Resolve", Type: models.StepTypeTask, LaneKey: "ops", IsManual: true, Next: "done"},
					{Key: "done", Title: "Done", Type: models.StepTypeEnd, LaneKey: "ops"},
				},
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "missing name",
			requestBody: web.CreateDefinitionRequest{
				Lanes: []models.Lane{{Key: "ops", DisplayName: "Operations", Participant: "ops"}},
				Steps: []*models.Step{
					{Key: "open", Title: "Open", Type: models.StepTypeStart, LaneKey: "ops", Next: "done"},
					{Key: "done", Title: "Done", Type: models.StepTypeEnd, LaneKey: "ops"},
				},
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "broken graph",
			requestBody: web.CreateDefinitionRequest{
				Name:  "Broken Flow",
				Lanes: []models.Lane{{Key: "ops", DisplayName: "Operations", Participant: "ops"}},
				Steps: []*models.Step{
					{Key: "open", Title: "Open", Type: models.StepTypeStart, LaneKey: "ops", Next: "missing"},
					{Key: "done", Title: "Done", Type: models.StepTypeEnd, LaneKey: "ops"},
				},
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid JSON",
			requestBody:    "not-json",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, _ := setupTestApp(t)

			var resp *http.Response
			if raw, ok := tt.requestBody.(string); ok {
				req := httptest.NewRequest(http.MethodPost, "/definitions", bytes.NewBufferString(raw))
				req.Header.Set("Content-Type", "application/json")

				var err error
				resp, err = app.Test(req)
				require.NoError(t, err)
			} else {
				resp = doJSON(t, app, http.MethodPost, "/definitions", tt.requestBody)
			}

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
		})
	}
}

func TestInstanceLifecycle(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodPost, "/instances", web.StartInstanceRequest{
		DefinitionKey:   "quick_fix",
		BusinessRefKind: "ticket",
		BusinessRefID:   "ticket-9",
		StartedBy:       "client-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var started models.Instance
	decodeBody(t, resp, &started)
	require.NotEmpty(t, started.ID)
	assert.Equal(t, "triage", started.CurrentStepKey)
	assert.Equal(t, models.InstanceStatusRunning, started.Status)

	resp = doJSON(t, app, http.MethodPost, "/instances/"+started.ID+"/execute", web.ExecuteStepRequest{
		StepKey: "triage",
		UserID:  "pm-1",
		Notes:   "reproduced locally",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var advanced models.Instance
	decodeBody(t, resp, &advanced)
	assert.Equal(t, "apply_fix", advanced.CurrentStepKey)

	resp = doJSON(t, app, http.MethodGet, "/instances/"+started.ID+"/progress", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, app, http.MethodGet, "/instances/"+started.ID+"/events", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var events struct {
		Events []*models.Event `json:"events"`
	}
	decodeBody(t, resp, &events)
	assert.NotEmpty(t, events.Events)

	resp = doJSON(t, app, http.MethodGet, "/instances?business_ref_kind=ticket&business_ref_id=ticket-9", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listed struct {
		Instances []*models.Instance `json:"instances"`
	}
	decodeBody(t, resp, &listed)
	require.Len(t, listed.Instances, 1)
	assert.Equal(t, started.ID, listed.Instances[0].ID)

	resp = doJSON(t, app, http.MethodGet, "/definitions/usage", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var usage struct {
		Usage map[string]int `json:"usage"`
	}
	decodeBody(t, resp, &usage)
	assert.Equal(t, 1, usage.Usage["quick_fix"])
}

func TestStartInstanceUnknownDefinition(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodPost, "/instances", web.StartInstanceRequest{
		DefinitionKey: "no_such_process",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelInstanceRequiresReason(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodPost, "/instances", web.StartInstanceRequest{
		DefinitionKey: "quick_fix",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var started models.Instance
	decodeBody(t, resp, &started)

	resp = doJSON(t, app, http.MethodPost, "/instances/"+started.ID+"/cancel", web.CancelInstanceRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, app, http.MethodPost, "/instances/"+started.ID+"/cancel", web.CancelInstanceRequest{
		UserID: "pm-1",
		Reason: "duplicate ticket",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var canceled models.Instance
	decodeBody(t, resp, &canceled)
	assert.Equal(t, models.InstanceStatusCanceled, canceled.Status)
}

func TestExecuteStepOnCanceledInstanceConflicts(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodPost, "/instances", web.StartInstanceRequest{
		DefinitionKey: "quick_fix",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var started models.Instance
	decodeBody(t, resp, &started)

	resp = doJSON(t, app, http.MethodPost, "/instances/"+started.ID+"/cancel", web.CancelInstanceRequest{
		UserID: "pm-1",
		Reason: "scope changed",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The caller's view is stale, not malformed.
	resp = doJSON(t, app, http.MethodPost, "/instances/"+started.ID+"/execute", web.ExecuteStepRequest{
		StepKey: "triage",
		UserID:  "pm-1",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAutomationRuleEndpoints(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/automation/rules", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Rules []*models.AutomationRule `json:"rules"`
	}
	decodeBody(t, resp, &body)
	require.Len(t, body.Rules, 3)

	systemRuleID := body.Rules[0].ID

	resp = doJSON(t, app, http.MethodDelete, "/automation/rules/"+systemRuleID, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	enabled := false
	resp = doJSON(t, app, http.MethodPost, "/automation/rules/"+systemRuleID+"/toggle", web.ToggleRuleRequest{Enabled: &enabled})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, app, http.MethodPost, "/automation/rules/"+systemRuleID+"/toggle", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, app, http.MethodPost, "/automation/rules", &models.AutomationRule{
		Name:    "Bad Rule",
		Trigger: "on_full_moon",
		Actions: []models.RuleAction{{Type: models.ActionSendNotification, Config: map[string]any{"recipient_role": "pm", "message": "hi"}}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTestRuleEndpointReturnsDryRunPayloads(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodPost, "/automation/rules", &models.AutomationRule{
		Name:    "Notify on triage",
		Trigger: models.TriggerStepEntered,
		Enabled: true,
		Actions: []models.RuleAction{{
			Type: models.ActionSendNotification,
			Config: map[string]any{
				"recipient_role": "pm",
				"message":        "{{step_title}} started for {{customer}}",
			},
		}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var rule models.AutomationRule
	decodeBody(t, resp, &rule)

	resp = doJSON(t, app, http.MethodPost, "/instances", web.StartInstanceRequest{
		DefinitionKey: "quick_fix",
		Context:       models.ProcessContext{"customer": "Acme"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var started models.Instance
	decodeBody(t, resp, &started)

	resp = doJSON(t, app, http.MethodPost, "/automation/rules/"+rule.ID+"/test", web.TestRuleRequest{
		InstanceID: started.ID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Results []automation.ExecutionResult `json:"results"`
	}
	decodeBody(t, resp, &body)
	require.Len(t, body.Results, 1)
	assert.True(t, body.Results[0].Success)
	assert.Equal(t, "Triage & Review started for Acme", body.Results[0].Payload["message"])

	// A missing instance id is a validation failure, not a lookup.
	resp = doJSON(t, app, http.MethodPost, "/automation/rules/"+rule.ID+"/test", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSLAEndpoints(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/sla/rules", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rules struct {
		Rules []*models.SLARule `json:"rules"`
	}
	decodeBody(t, resp, &rules)
	assert.Len(t, rules.Rules, 3)

	resp = doJSON(t, app, http.MethodGet, "/sla/breaches", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var breaches struct {
		Breaches []*models.SLABreach `json:"breaches"`
	}
	decodeBody(t, resp, &breaches)
	assert.Empty(t, breaches.Breaches)
}

func TestTeamWorkloadRequiresRole(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/team/workload", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, app, http.MethodGet, "/team/workload?role=pm", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAnalyticsEndpoints(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/analytics/quick_fix/steps?period_days=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, app, http.MethodGet, "/analytics/quick_fix/steps?period_days=7", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, app, http.MethodGet, "/analytics/quick_fix/bottlenecks", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var analysis analytics.BottleneckAnalysis
	decodeBody(t, resp, &analysis)
	assert.Zero(t, analysis.TotalProcesses)
}
