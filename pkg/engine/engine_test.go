package engine

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megicode/stepflow/pkg/eventbus"
	"github.com/megicode/stepflow/pkg/events"
	"github.com/megicode/stepflow/pkg/models"
	"github.com/megicode/stepflow/pkg/persistence"
	"github.com/megicode/stepflow/pkg/persistence/memory"
	"github.com/megicode/stepflow/pkg/services"
)

// capturePublisher collects published events in order.
type capturePublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *capturePublisher) Publish(ctx context.Context, key string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *capturePublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]events.EventType, len(p.events))
	for i, event := range p.events {
		out[i] = event.GetType()
	}

	return out
}

func dealFlowDefinition() *models.Definition {
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

func newTestEngine(t *testing.T) (*Engine, *memory.Persistence, *capturePublisher) {
	t.Helper()

	store := memory.NewPersistence()
	publisher := &capturePublisher{}
	eng := NewEngine(store, publisher, nil, slog.Default())

	require.NoError(t, store.Definitions().Save(context.Background(), dealFlowDefinition()))

	return eng, store, publisher
}

func TestStartProcessAdvancesPastStart(t *testing.T) {
	eng, store, publisher := newTestEngine(t)
	ctx := context.Background()

	instance, err := eng.StartProcess(ctx, StartRequest{
		DefinitionKey: "deal_flow",
		BusinessRef:   &models.BusinessRef{Kind: "lead", ID: "lead-42"},
		Context:       models.ProcessContext{"deal_size": 250000},
		StartedBy:     "user-a",
	})
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusRunning, instance.Status)
	assert.Equal(t, "discovery", instance.CurrentStepKey)

	active, err := store.Instances().ActiveStepInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "discovery", active.StepKey)

	types := publisher.types()
	assert.Contains(t, types, events.ProcessStartedEvent)
	assert.Contains(t, types, events.StepEnteredEvent)

	def, err := store.Definitions().GetByID(ctx, "def-1")
	require.NoError(t, err)
	assert.Equal(t, 1, def.UsageCount)
}

func TestStartProcessUnknownDefinition(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	_, err := eng.StartProcess(context.Background(), StartRequest{DefinitionKey: "ghost"})
	require.Error(t, err)
}

func TestStartProcessInactiveDefinition(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	ctx := context.Background()

	def := dealFlowDefinition()
	def.ID = "def-2"
	def.Version = 2
	def.IsActive = false
	require.NoError(t, store.Definitions().Save(ctx, def))

	_, err := eng.StartProcess(ctx, StartRequest{DefinitionKey: "deal_flow", Version: 2})
	assert.ErrorIs(t, err, services.ErrTemplateInactive)
}

func TestExecuteStepFullFlowQualified(t *testing.T) {
	eng, store, publisher := newTestEngine(t)
	ctx := context.Background()

	instance, err := eng.StartProcess(ctx, StartRequest{DefinitionKey: "deal_flow", StartedBy: "user-a"})
	require.NoError(t, err)

	// discovery -> decision
	instance, err = eng.ExecuteStep(ctx, ExecuteRequest{
		InstanceID: instance.ID,
		UserID:     "user-a",
		Output:     map[string]any{"deal_size": 500000},
	})
	require.NoError(t, err)
	assert.Equal(t, "decision", instance.CurrentStepKey)
	assert.Equal(t, 500000, instance.Context["deal_size"])

	// decision(qualified) -> proposal
	instance, err = eng.ExecuteStep(ctx, ExecuteRequest{
		InstanceID: instance.ID,
		UserID:     "user-b",
		Decision:   "qualified",
	})
	require.NoError(t, err)
	assert.Equal(t, "proposal", instance.CurrentStepKey)
	assert.Contains(t, publisher.types(), events.GatewayCrossedEvent)

	// proposal -> end, process completes
	instance, err = eng.ExecuteStep(ctx, ExecuteRequest{InstanceID: instance.ID, UserID: "user-b"})
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
	assert.Empty(t, instance.CurrentStepKey)
	require.NotNil(t, instance.EndedAt)
	assert.Contains(t, publisher.types(), events.ProcessCompletedEvent)

	log, err := store.Events().ListByInstance(ctx, instance.ID)
	require.NoError(t, err)

	logged := make([]models.EventType, 0, len(log))
	for _, event := range log {
		logged = append(logged, event.Type)
	}

	assert.Contains(t, logged, models.EventProcessStarted)
	assert.Contains(t, logged, models.EventGatewayCrossed)
	assert.Contains(t, logged, models.EventProcessCompleted)
}

func TestExecuteStepRejectedPathEndsProcess(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	instance, err := eng.StartProcess(ctx, StartRequest{DefinitionKey: "deal_flow"})
	require.NoError(t, err)

	instance, err = eng.ExecuteStep(ctx, ExecuteRequest{InstanceID: instance.ID, UserID: "user-a"})
	require.NoError(t, err)

	instance, err = eng.ExecuteStep(ctx, ExecuteRequest{InstanceID: instance.ID, Decision: "rejected"})
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
}

func TestExecuteStepDecisionValidation(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	instance, err := eng.StartProcess(ctx, StartRequest{DefinitionKey: "deal_flow"})
	require.NoError(t, err)

	t.Run("decision rejected on task step", func(t *testing.T) {
		_, err := eng.ExecuteStep(ctx, ExecuteRequest{InstanceID: instance.ID, Decision: "qualified"})
		assert.ErrorIs(t, err, services.ErrDecisionNotAllowed)
	})

	instance, err = eng.ExecuteStep(ctx, ExecuteRequest{InstanceID: instance.ID})
	require.NoError(t, err)
	require.Equal(t, "decision", instance.CurrentStepKey)

	t.Run("gateway requires decision", func(t *testing.T) {
		_, err := eng.ExecuteStep(ctx, ExecuteRequest{InstanceID: instance.ID})
		assert.ErrorIs(t, err, services.ErrDecisionRequired)
	})

	t.Run("unknown decision rejected", func(t *testing.T) {
		_, err := eng.ExecuteStep(ctx, ExecuteRequest{InstanceID: instance.ID, Decision: "maybe"})
		assert.ErrorIs(t, err, services.ErrUnknownDecision)
	})
}

func TestExecuteStepWrongStepKey(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	instance, err := eng.StartProcess(ctx, StartRequest{DefinitionKey: "deal_flow"})
	require.NoError(t, err)

	_, err = eng.ExecuteStep(ctx, ExecuteRequest{InstanceID: instance.ID, StepKey: "proposal"})
	assert.ErrorIs(t, err, services.ErrStepNotActive)
}

func TestExecuteStepCompletionRace(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	ctx := context.Background()

	instance, err := eng.StartProcess(ctx, StartRequest{DefinitionKey: "deal_flow"})
	require.NoError(t, err)

	// First caller wins the discovery step.
	active, err := store.Instances().ActiveStepInstance(ctx, instance.ID)
	require.NoError(t, err)

	applied, err := store.Instances().CompleteStepInstance(ctx, active.ID, persistence.StepCompletion{
		Status:            models.StepStatusCompleted,
		CompletedByUserID: "user-a",
		CompletedAt:       time.Now().UTC(),
	})
	require.NoError(t, err)
	require.True(t, applied)

	// The loser's completion must not apply.
	applied, err = store.Instances().CompleteStepInstance(ctx, active.ID, persistence.StepCompletion{
		Status:            models.StepStatusCompleted,
		CompletedByUserID: "user-b",
		CompletedAt:       time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.False(t, applied)

	// A later engine call finds no active step to complete.
	_, err = eng.ExecuteStep(ctx, ExecuteRequest{InstanceID: instance.ID, StepKey: "discovery", UserID: "user-b"})
	assert.ErrorIs(t, err, services.ErrStepNotActive)

	winner, err := store.Instances().StepInstanceByID(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-a", winner.CompletedByUserID)
}

func TestSkipStepAdvances(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	instance, err := eng.StartProcess(ctx, StartRequest{DefinitionKey: "deal_flow"})
	require.NoError(t, err)

	instance, err = eng.SkipStep(ctx, instance.ID, "user-a", "not needed")
	require.NoError(t, err)
	assert.Equal(t, "decision", instance.CurrentStepKey)

	// Gateway skip follows the default condition straight to the end.
	instance, err = eng.SkipStep(ctx, instance.ID, "user-a", "auto decline")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
}

func TestCancelProcess(t *testing.T) {
	eng, store, publisher := newTestEngine(t)
	ctx := context.Background()

	instance, err := eng.StartProcess(ctx, StartRequest{DefinitionKey: "deal_flow"})
	require.NoError(t, err)

	instance, err = eng.CancelProcess(ctx, instance.ID, "user-a", "deal fell through")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCanceled, instance.Status)
	assert.Equal(t, "deal fell through", instance.CancelReason)
	require.NotNil(t, instance.EndedAt)

	// The active step left every queue.
	_, err = store.Instances().ActiveStepInstance(ctx, instance.ID)
	require.Error(t, err)

	assert.Contains(t, publisher.types(), events.ProcessCanceledEvent)

	t.Run("terminal instance rejects transitions", func(t *testing.T) {
		_, err := eng.ExecuteStep(ctx, ExecuteRequest{InstanceID: instance.ID})
		assert.ErrorIs(t, err, services.ErrInstanceNotRunning)

		_, err = eng.CancelProcess(ctx, instance.ID, "user-a", "again")
		assert.ErrorIs(t, err, services.ErrInstanceNotRunning)
	})
}

func TestProgress(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	instance, err := eng.StartProcess(ctx, StartRequest{DefinitionKey: "deal_flow"})
	require.NoError(t, err)

	progress, err := eng.Progress(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, progress.TotalSteps)
	assert.Equal(t, 0, progress.CompletedSteps)
	assert.Equal(t, "discovery", progress.CurrentStepKey)

	instance, err = eng.ExecuteStep(ctx, ExecuteRequest{InstanceID: instance.ID})
	require.NoError(t, err)

	progress, err = eng.Progress(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.CompletedSteps)
	assert.Equal(t, 33, progress.PercentComplete)

	instance, err = eng.ExecuteStep(ctx, ExecuteRequest{InstanceID: instance.ID, Decision: "rejected"})
	require.NoError(t, err)

	progress, err = eng.Progress(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, progress.Status)
	assert.Equal(t, 100, progress.PercentComplete)
}
