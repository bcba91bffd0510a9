package automation

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megicode/stepflow/pkg/engine"
	"github.com/megicode/stepflow/pkg/models"
	"github.com/megicode/stepflow/pkg/notify"
	"github.com/megicode/stepflow/pkg/persistence/memory"
)

type recordingDispatcher struct {
	notifications []notify.Notification
	tasks         []notify.Task
	failNext      bool
}

func (d *recordingDispatcher) Notify(ctx context.Context, notification notify.Notification) error {
	if d.failNext {
		d.failNext = false

		return errors.New("smtp down")
	}

	d.notifications = append(d.notifications, notification)

	return nil
}

func (d *recordingDispatcher) CreateTask(ctx context.Context, task notify.Task) error {
	d.tasks = append(d.tasks, task)

	return nil
}

func testDefinition() *models.Definition {
	return &models.Definition{
		ID:       "def-1",
		Key:      "deal_flow",
		Name:     "Deal Flow",
		Version:  1,
		IsActive: true,
		Lanes: []models.Lane{
			{Key: "analyst", DisplayName: "Analyst", Participant: "analyst"},
			{Key: "partner", DisplayName: "Partner", Participant: "partner"},
		},
		Steps: []*models.Step{
			{Key: "start", Title: "Start", Type: models.StepTypeStart, LaneKey: "analyst", Next: "discovery"},
			{Key: "discovery", Title: "Discovery", Type: models.StepTypeTask, LaneKey: "analyst", IsManual: true, Next: "decision"},
			{Key: "decision", Title: "Qualified?", Type: models.StepTypeGateway, LaneKey: "partner", GatewayConditions: []models.GatewayCondition{
				{Label: "qualified", TargetStepKey: "proposal"},
				{Label: "rejected", TargetStepKey: "end", IsDefault: true},
			}},
			{Key: "proposal", Title: "Proposal", Type: models.StepTypeTask, LaneKey: "partner", IsManual: true, Next: "end"},
			{Key: "end", Title: "Done", Type: models.StepTypeEnd, LaneKey: "partner"},
		},
	}
}

func setup(t *testing.T, config Config) (*Engine, *memory.Persistence, *recordingDispatcher) {
	t.Helper()

	store := memory.NewPersistence()
	require.NoError(t, store.Definitions().Save(context.Background(), testDefinition()))

	dispatcher := &recordingDispatcher{}

	registry := NewRegistry()
	registry.Register(models.ActionSendNotification, NewNotificationHandler(dispatcher))
	registry.Register(models.ActionCreateTask, NewTaskHandler(dispatcher))

	return NewEngine(store, registry, nil, config, slog.Default()), store, dispatcher
}

func discoveryStep(t *testing.T) *models.Step {
	t.Helper()

	step := testDefinition().StepByKey("discovery")
	require.NotNil(t, step)

	return step
}

func TestFindMatchingRules(t *testing.T) {
	eng, store, _ := setup(t, Config{Enabled: true})
	ctx := context.Background()

	rules := []*models.AutomationRule{
		{
			ID: "r-match", Name: "big deal", Trigger: models.TriggerStepEntered, Priority: 5, Enabled: true,
			Conditions: []models.Condition{{Field: "deal_size", Operator: models.OpGreaterThan, Value: 100000}},
			Actions:    []models.RuleAction{{Type: models.ActionSendNotification}},
		},
		{
			ID: "r-first", Name: "any entry", Trigger: models.TriggerStepEntered, Priority: 1, Enabled: true,
			Actions: []models.RuleAction{{Type: models.ActionSendNotification}},
		},
		{
			ID: "r-wrong-step", Name: "proposal only", Trigger: models.TriggerStepEntered, Priority: 0, Enabled: true,
			StepKeys: []string{"proposal"},
			Actions:  []models.RuleAction{{Type: models.ActionSendNotification}},
		},
		{
			ID: "r-wrong-lane", Name: "partner lane", Trigger: models.TriggerStepEntered, Priority: 0, Enabled: true,
			LaneKeys: []string{"partner"},
			Actions:  []models.RuleAction{{Type: models.ActionSendNotification}},
		},
		{
			ID: "r-cond-miss", Name: "small deal", Trigger: models.TriggerStepEntered, Priority: 0, Enabled: true,
			Conditions: []models.Condition{{Field: "deal_size", Operator: models.OpLessThan, Value: 1000}},
			Actions:    []models.RuleAction{{Type: models.ActionSendNotification}},
		},
		{
			ID: "r-disabled", Name: "off", Trigger: models.TriggerStepEntered, Priority: 0, Enabled: false,
			Actions: []models.RuleAction{{Type: models.ActionSendNotification}},
		},
		{
			ID: "r-other-trigger", Name: "completion", Trigger: models.TriggerStepCompleted, Priority: 0, Enabled: true,
			Actions: []models.RuleAction{{Type: models.ActionSendNotification}},
		},
		{
			ID: "r-expr", Name: "expression", Trigger: models.TriggerStepEntered, Priority: 9, Enabled: true,
			Expression: `deal_size > 200000`,
			Actions:    []models.RuleAction{{Type: models.ActionSendNotification}},
		},
	}
	for _, rule := range rules {
		require.NoError(t, store.Rules().Save(ctx, rule))
	}

	processContext := models.ProcessContext{"deal_size": float64(250000)}

	matched, err := eng.FindMatchingRules(ctx, models.TriggerStepEntered, discoveryStep(t), processContext)
	require.NoError(t, err)

	ids := make([]string, len(matched))
	for i, rule := range matched {
		ids[i] = rule.ID
	}

	// Priority ascending.
	assert.Equal(t, []string{"r-first", "r-match", "r-expr"}, ids)
}

func TestFindMatchingRulesKillSwitch(t *testing.T) {
	eng, store, _ := setup(t, Config{Enabled: false})
	ctx := context.Background()

	require.NoError(t, store.Rules().Save(ctx, &models.AutomationRule{
		ID: "r1", Name: "any", Trigger: models.TriggerStepEntered, Enabled: true,
		Actions: []models.RuleAction{{Type: models.ActionSendNotification}},
	}))

	matched, err := eng.FindMatchingRules(ctx, models.TriggerStepEntered, discoveryStep(t), nil)
	require.NoError(t, err)
	assert.Empty(t, matched)
}

func TestFindMatchingRulesCategoryDisabled(t *testing.T) {
	eng, store, _ := setup(t, Config{Enabled: true, DisabledCategories: []models.RuleCategory{models.CategoryNotification}})
	ctx := context.Background()

	require.NoError(t, store.Rules().Save(ctx, &models.AutomationRule{
		ID: "r-notif", Name: "notify", Trigger: models.TriggerStepEntered, Enabled: true,
		Category: models.CategoryNotification,
		Actions:  []models.RuleAction{{Type: models.ActionSendNotification}},
	}))
	require.NoError(t, store.Rules().Save(ctx, &models.AutomationRule{
		ID: "r-task", Name: "task", Trigger: models.TriggerStepEntered, Enabled: true,
		Category: models.CategoryTask,
		Actions:  []models.RuleAction{{Type: models.ActionCreateTask}},
	}))

	matched, err := eng.FindMatchingRules(ctx, models.TriggerStepEntered, discoveryStep(t), nil)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "r-task", matched[0].ID)
}

func TestExecuteRulesActionFailureIsolation(t *testing.T) {
	eng, store, dispatcher := setup(t, Config{Enabled: true})
	ctx := context.Background()

	instance := &models.Instance{
		ID: "inst-1", DefinitionKey: "deal_flow", DefinitionVersion: 1,
		Status: models.InstanceStatusRunning, Context: models.ProcessContext{},
	}
	require.NoError(t, store.Instances().Create(ctx, instance))

	dispatcher.failNext = true

	rule := &models.AutomationRule{
		ID: "r1", Name: "two notifications", Trigger: models.TriggerStepEntered, Enabled: true,
		Actions: []models.RuleAction{
			{Type: models.ActionSendNotification, Config: map[string]any{"recipient_role": "partner", "message": "first"}},
			{Type: models.ActionSendNotification, Config: map[string]any{"recipient_role": "partner", "message": "second"}},
		},
	}

	results := eng.ExecuteRules(ctx, Invocation{
		Trigger:  models.TriggerStepEntered,
		Instance: instance,
		Step:     discoveryStep(t),
	}, []*models.AutomationRule{rule})

	// First action failed, second still ran.
	require.Len(t, dispatcher.notifications, 1)
	assert.Equal(t, "second", dispatcher.notifications[0].Message)

	require.Len(t, results, 2)
	assert.False(t, results[0].Success)
	assert.Error(t, results[0].Err)
	assert.True(t, results[1].Success)
	assert.Equal(t, "r1", results[1].RuleID)

	log, err := store.Events().ListByInstance(ctx, "inst-1")
	require.NoError(t, err)
	require.Len(t, log, 2)

	types := []models.EventType{log[0].Type, log[1].Type}
	assert.Contains(t, types, models.EventAutomationFailed)
	assert.Contains(t, types, models.EventAutomationExecuted)
}

func TestExecuteRulesDryRun(t *testing.T) {
	eng, store, dispatcher := setup(t, Config{Enabled: true, DryRun: true})
	ctx := context.Background()

	instance := &models.Instance{
		ID: "inst-1", DefinitionKey: "deal_flow", DefinitionVersion: 1,
		Status: models.InstanceStatusRunning,
	}
	require.NoError(t, store.Instances().Create(ctx, instance))

	rule := &models.AutomationRule{
		ID: "r1", Name: "notify", Trigger: models.TriggerStepEntered, Enabled: true,
		Actions: []models.RuleAction{
			{Type: models.ActionSendNotification, Config: map[string]any{"recipient_role": "partner", "message": "hi"}},
		},
	}

	results := eng.ExecuteRules(ctx, Invocation{Trigger: models.TriggerStepEntered, Instance: instance}, []*models.AutomationRule{rule})

	assert.Empty(t, dispatcher.notifications)

	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, "hi", results[0].Payload["message"])

	log, err := store.Events().ListByInstance(ctx, "inst-1")
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, models.EventAutomationExecuted, log[0].Type)
	assert.Equal(t, true, log[0].Payload["dry_run"])
}

func TestTestRuleRendersPayloadWithoutExecuting(t *testing.T) {
	eng, store, dispatcher := setup(t, Config{Enabled: true})
	ctx := context.Background()

	instance := &models.Instance{
		ID: "inst-1", DefinitionKey: "deal_flow", DefinitionVersion: 1,
		Status:  models.InstanceStatusRunning,
		Context: models.ProcessContext{"client_name": "Acme"},
	}
	require.NoError(t, store.Instances().Create(ctx, instance))

	rule := &models.AutomationRule{
		ID: "r1", Name: "notify partner", Trigger: models.TriggerStepEntered, Enabled: true,
		Actions: []models.RuleAction{
			{Type: models.ActionSendNotification, Config: map[string]any{
				"recipient_role": "partner",
				"message":        "Review {{step_title}} for {{client_name}}",
			}},
		},
	}

	results := eng.TestRule(ctx, rule, Invocation{
		Trigger:  models.TriggerStepEntered,
		Instance: instance,
		Step:     discoveryStep(t),
	})

	assert.Empty(t, dispatcher.notifications)

	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, "Review Discovery for Acme", results[0].Payload["message"])
}

func TestGatewayHandlerAdvancesProcess(t *testing.T) {
	ctx := context.Background()

	store := memory.NewPersistence()
	require.NoError(t, store.Definitions().Save(ctx, testDefinition()))

	processEngine := engine.NewEngine(store, nil, nil, slog.Default())

	instance, err := processEngine.StartProcess(ctx, engine.StartRequest{DefinitionKey: "deal_flow"})
	require.NoError(t, err)

	instance, err = processEngine.ExecuteStep(ctx, engine.ExecuteRequest{InstanceID: instance.ID})
	require.NoError(t, err)
	require.Equal(t, "decision", instance.CurrentStepKey)

	handler := NewGatewayHandler(processEngine)

	decision := testDefinition().StepByKey("decision")
	require.NotNil(t, decision)

	invocation := Invocation{
		Rule:     &models.AutomationRule{ID: "r1", Name: "auto qualify"},
		Instance: instance,
		Step:     decision,
	}

	err = handler.Execute(ctx, invocation, map[string]any{"decision": "qualified"})
	require.NoError(t, err)

	instance, err = store.Instances().GetByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "proposal", instance.CurrentStepKey)
}

func TestGatewayHandlerDefaultsToDefaultCondition(t *testing.T) {
	ctx := context.Background()

	store := memory.NewPersistence()
	require.NoError(t, store.Definitions().Save(ctx, testDefinition()))

	processEngine := engine.NewEngine(store, nil, nil, slog.Default())

	instance, err := processEngine.StartProcess(ctx, engine.StartRequest{DefinitionKey: "deal_flow"})
	require.NoError(t, err)

	instance, err = processEngine.ExecuteStep(ctx, engine.ExecuteRequest{InstanceID: instance.ID})
	require.NoError(t, err)

	handler := NewGatewayHandler(processEngine)

	decision := testDefinition().StepByKey("decision")
	require.NotNil(t, decision)

	err = handler.Execute(ctx, Invocation{
		Rule:     &models.AutomationRule{ID: "r1", Name: "auto decline"},
		Instance: instance,
		Step:     decision,
	}, nil)
	require.NoError(t, err)

	instance, err = store.Instances().GetByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
}
