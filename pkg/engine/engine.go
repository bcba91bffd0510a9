// Package engine drives process instances through their definitions. Each
// instance carries a single token: one active step at a time, advanced only
// through the engine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/megicode/stepflow/pkg/eventbus"
	"github.com/megicode/stepflow/pkg/events"
	"github.com/megicode/stepflow/pkg/models"
	"github.com/megicode/stepflow/pkg/persistence"
	"github.com/megicode/stepflow/pkg/services"
)

// Assigner picks an assignee for a manual step on entry. A nil assigner
// leaves steps unassigned.
type Assigner interface {
	PickAssignee(ctx context.Context, definition *models.Definition, step *models.Step, instance *models.Instance) (*models.Candidate, error)
}

// Engine executes process instances. All transitions go through
// CompleteStepInstance's active-state guard, so concurrent completions of the
// same step resolve to exactly one winner.
type Engine struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	assigner    Assigner
	logger      *slog.Logger
}

func NewEngine(store persistence.Persistence, publisher eventbus.EventPublisher, assigner Assigner, logger *slog.Logger) *Engine {
	return &Engine{
		persistence: store,
		publisher:   publisher,
		assigner:    assigner,
		logger:      logger,
	}
}

// StartRequest starts a process for a business entity. Version zero pins the
// latest active definition version.
type StartRequest struct {
	DefinitionKey string `validate:"required"`
	Version       int
	BusinessRef   *models.BusinessRef
	Context       models.ProcessContext
	StartedBy     string
}

// StartProcess creates a running instance and advances it to the first step
// that needs outside input.
func (e *Engine) StartProcess(ctx context.Context, req StartRequest) (*models.Instance, error) {
	definition, err := e.resolveDefinition(ctx, req.DefinitionKey, req.Version)
	if err != nil {
		return nil, err
	}

	if !definition.IsActive {
		return nil, services.ErrTemplateInactive
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate instance ID: %w", err)
	}

	now := time.Now().UTC()

	instance := &models.Instance{
		ID:                id.String(),
		DefinitionID:      definition.ID,
		DefinitionKey:     definition.Key,
		DefinitionVersion: definition.Version,
		BusinessRef:       req.BusinessRef,
		Status:            models.InstanceStatusRunning,
		Context:           req.Context,
		StartedByUserID:   req.StartedBy,
		StartedAt:         now,
	}

	if instance.Context == nil {
		instance.Context = models.ProcessContext{}
	}

	err = e.persistence.Instances().Create(ctx, instance)
	if err != nil {
		return nil, err
	}

	err = e.persistence.Definitions().IncrementUsage(ctx, definition.ID)
	if err != nil {
		e.logger.WarnContext(ctx, "failed to bump definition usage", "definition_id", definition.ID, "error", err)
	}

	e.record(ctx, instance, "", models.EventProcessStarted, req.StartedBy, map[string]any{
		"definition_key":     definition.Key,
		"definition_version": definition.Version,
	})

	started := events.ProcessStarted{
		BaseEvent:         events.NewBaseEvent(events.ProcessStartedEvent, instance.ID),
		DefinitionKey:     definition.Key,
		DefinitionVersion: definition.Version,
		StartedBy:         req.StartedBy,
		Context:           instance.Context,
	}
	if req.BusinessRef != nil {
		started.BusinessRefKind = req.BusinessRef.Kind
		started.BusinessRefID = req.BusinessRef.ID
	}

	e.publish(ctx, instance.ID, started)

	startStep := definition.StartStep()

	err = e.enterStep(ctx, definition, instance, startStep, req.StartedBy)
	if err != nil {
		return nil, err
	}

	return e.persistence.Instances().GetByID(ctx, instance.ID)
}

// ExecuteRequest completes the instance's active step. StepKey, when set,
// must name that step; Decision is required for gateways and rejected
// elsewhere.
type ExecuteRequest struct {
	InstanceID string `validate:"required"`
	StepKey    string
	UserID     string
	Decision   string
	Output     map[string]any
	Notes      string
}

// ExecuteStep completes the active step and advances the token. On a lost
// completion race it returns ErrStepAlreadyCompleted.
func (e *Engine) ExecuteStep(ctx context.Context, req ExecuteRequest) (*models.Instance, error) {
	instance, err := e.persistence.Instances().GetByID(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}

	if !instance.IsRunning() {
		return nil, services.ErrInstanceNotRunning
	}

	active, err := e.persistence.Instances().ActiveStepInstance(ctx, instance.ID)
	if err != nil {
		if errors.Is(err, persistence.ErrStepInstanceNotFound) {
			return nil, services.ErrStepNotActive
		}

		return nil, err
	}

	if req.StepKey != "" && req.StepKey != active.StepKey {
		return nil, services.ErrStepNotActive
	}

	definition, err := e.persistence.Definitions().GetByKeyVersion(ctx, instance.DefinitionKey, instance.DefinitionVersion)
	if err != nil {
		return nil, err
	}

	step := definition.StepByKey(active.StepKey)
	if step == nil {
		return nil, fmt.Errorf("active step %q missing from definition %s", active.StepKey, definition.ID)
	}

	nextKey, err := e.resolveNextStep(step, req.Decision)
	if err != nil {
		return nil, err
	}

	applied, err := e.persistence.Instances().CompleteStepInstance(ctx, active.ID, persistence.StepCompletion{
		Status:            models.StepStatusCompleted,
		CompletedByUserID: req.UserID,
		GatewayDecision:   req.Decision,
		Output:            req.Output,
		Notes:             req.Notes,
		CompletedAt:       time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	if !applied {
		return nil, services.ErrStepAlreadyCompleted
	}

	e.afterCompletion(ctx, definition, instance, step, active, req)

	if len(req.Output) > 0 {
		for key, value := range req.Output {
			instance.Context[key] = value
		}

		err = e.persistence.Instances().Save(ctx, instance)
		if err != nil {
			return nil, err
		}
	}

	err = e.advance(ctx, definition, instance, nextKey, req.UserID)
	if err != nil {
		return nil, err
	}

	return e.persistence.Instances().GetByID(ctx, instance.ID)
}

// SkipStep marks the active step skipped and advances. Gateways advance along
// their default condition.
func (e *Engine) SkipStep(ctx context.Context, instanceID, userID, reason string) (*models.Instance, error) {
	instance, err := e.persistence.Instances().GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if !instance.IsRunning() {
		return nil, services.ErrInstanceNotRunning
	}

	active, err := e.persistence.Instances().ActiveStepInstance(ctx, instance.ID)
	if err != nil {
		if errors.Is(err, persistence.ErrStepInstanceNotFound) {
			return nil, services.ErrStepNotActive
		}

		return nil, err
	}

	definition, err := e.persistence.Definitions().GetByKeyVersion(ctx, instance.DefinitionKey, instance.DefinitionVersion)
	if err != nil {
		return nil, err
	}

	step := definition.StepByKey(active.StepKey)
	if step == nil {
		return nil, fmt.Errorf("active step %q missing from definition %s", active.StepKey, definition.ID)
	}

	var nextKey string

	if step.IsGateway() {
		nextKey = step.DefaultCondition().TargetStepKey
	} else {
		nextKey = step.Next
	}

	applied, err := e.persistence.Instances().CompleteStepInstance(ctx, active.ID, persistence.StepCompletion{
		Status:            models.StepStatusSkipped,
		CompletedByUserID: userID,
		Notes:             reason,
		CompletedAt:       time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	if !applied {
		return nil, services.ErrStepAlreadyCompleted
	}

	e.record(ctx, instance, step.Key, models.EventStepSkipped, userID, map[string]any{"reason": reason})
	e.publish(ctx, instance.ID, events.StepSkipped{
		BaseEvent:      events.NewBaseEvent(events.StepSkippedEvent, instance.ID),
		StepInstanceID: active.ID,
		StepKey:        step.Key,
		SkippedBy:      userID,
		Reason:         reason,
	})

	err = e.advance(ctx, definition, instance, nextKey, userID)
	if err != nil {
		return nil, err
	}

	return e.persistence.Instances().GetByID(ctx, instance.ID)
}

// CancelProcess stops a running instance. The active step is marked skipped
// so it leaves every assignee's queue.
func (e *Engine) CancelProcess(ctx context.Context, instanceID, userID, reason string) (*models.Instance, error) {
	instance, err := e.persistence.Instances().GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if !instance.IsRunning() {
		return nil, services.ErrInstanceNotRunning
	}

	active, err := e.persistence.Instances().ActiveStepInstance(ctx, instance.ID)
	if err != nil && !errors.Is(err, persistence.ErrStepInstanceNotFound) {
		return nil, err
	}

	atStepKey := ""

	if active != nil {
		atStepKey = active.StepKey

		_, err = e.persistence.Instances().CompleteStepInstance(ctx, active.ID, persistence.StepCompletion{
			Status:      models.StepStatusSkipped,
			Notes:       "process canceled: " + reason,
			CompletedAt: time.Now().UTC(),
		})
		if err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()

	instance.Status = models.InstanceStatusCanceled
	instance.CurrentStepKey = ""
	instance.EndedAt = &now
	instance.CancelReason = reason

	err = e.persistence.Instances().Save(ctx, instance)
	if err != nil {
		return nil, err
	}

	e.record(ctx, instance, atStepKey, models.EventProcessCanceled, userID, map[string]any{"reason": reason})
	e.publish(ctx, instance.ID, events.ProcessCanceled{
		BaseEvent:  events.NewBaseEvent(events.ProcessCanceledEvent, instance.ID),
		Reason:     reason,
		CanceledBy: userID,
		AtStepKey:  atStepKey,
	})

	return instance, nil
}

func (e *Engine) resolveDefinition(ctx context.Context, key string, version int) (*models.Definition, error) {
	if version > 0 {
		return e.persistence.Definitions().GetByKeyVersion(ctx, key, version)
	}

	return e.persistence.Definitions().GetLatest(ctx, key)
}

// resolveNextStep maps a completion request onto the step's successor.
func (e *Engine) resolveNextStep(step *models.Step, decision string) (string, error) {
	if step.IsGateway() {
		if decision == "" {
			return "", services.ErrDecisionRequired
		}

		condition := step.Condition(decision)
		if condition == nil {
			return "", fmt.Errorf("%w: %q not in %v", services.ErrUnknownDecision, decision, step.DecisionLabels())
		}

		return condition.TargetStepKey, nil
	}

	if decision != "" {
		return "", services.ErrDecisionNotAllowed
	}

	if step.IsTerminal() {
		return "", nil
	}

	return step.Next, nil
}

// advance walks the token forward, auto-completing automated steps until a
// manual step, a gateway or the end is reached.
func (e *Engine) advance(ctx context.Context, definition *models.Definition, instance *models.Instance, nextKey, actorID string) error {
	if nextKey == "" {
		return e.completeProcess(ctx, definition, instance)
	}

	next := definition.StepByKey(nextKey)
	if next == nil {
		return fmt.Errorf("successor step %q missing from definition %s", nextKey, definition.ID)
	}

	return e.enterStep(ctx, definition, instance, next, actorID)
}

// enterStep activates a step. Start steps and automated tasks complete
// immediately and the walk continues.
func (e *Engine) enterStep(ctx context.Context, definition *models.Definition, instance *models.Instance, step *models.Step, actorID string) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate step instance ID: %w", err)
	}

	now := time.Now().UTC()

	stepInstance := &models.StepInstance{
		ID:         id.String(),
		InstanceID: instance.ID,
		StepKey:    step.Key,
		Status:     models.StepStatusActive,
		StartedAt:  now,
	}

	if e.shouldAssign(step) {
		candidate, err := e.assigner.PickAssignee(ctx, definition, step, instance)
		if err != nil {
			e.logger.WarnContext(ctx, "auto-assignment failed, leaving step unassigned",
				"instance_id", instance.ID, "step_key", step.Key, "error", err)
		} else if candidate != nil {
			stepInstance.AssignedToUserID = candidate.Member.UserID
		}
	}

	err = e.persistence.Instances().CreateStepInstance(ctx, stepInstance)
	if err != nil {
		return err
	}

	instance.CurrentStepKey = step.Key

	err = e.persistence.Instances().Save(ctx, instance)
	if err != nil {
		return err
	}

	e.record(ctx, instance, step.Key, models.EventStepEntered, actorID, map[string]any{
		"lane_key":  step.LaneKey,
		"is_manual": step.IsManual,
	})
	e.publish(ctx, instance.ID, events.StepEntered{
		BaseEvent:      events.NewBaseEvent(events.StepEnteredEvent, instance.ID),
		StepInstanceID: stepInstance.ID,
		StepKey:        step.Key,
		LaneKey:        step.LaneKey,
		IsManual:       step.IsManual,
		AssignedTo:     stepInstance.AssignedToUserID,
	})

	if stepInstance.AssignedToUserID != "" {
		e.record(ctx, instance, step.Key, models.EventStepAssigned, "", map[string]any{
			"assignee_id": stepInstance.AssignedToUserID,
		})
		e.publish(ctx, instance.ID, events.StepAssigned{
			BaseEvent:      events.NewBaseEvent(events.StepAssignedEvent, instance.ID),
			StepInstanceID: stepInstance.ID,
			StepKey:        step.Key,
			AssigneeID:     stepInstance.AssignedToUserID,
			Automatic:      true,
		})
	}

	if step.Type == models.StepTypeEnd {
		return e.completeEndStep(ctx, definition, instance, step, stepInstance)
	}

	if e.autoAdvances(step) {
		return e.autoComplete(ctx, definition, instance, step, stepInstance, actorID)
	}

	return nil
}

// shouldAssign limits auto-assignment to manual human steps.
func (e *Engine) shouldAssign(step *models.Step) bool {
	return e.assigner != nil && step.IsManual && step.Type == models.StepTypeTask &&
		step.Participant != models.ParticipantAutomation
}

// autoAdvances reports whether the engine completes the step without outside
// input. Gateways always wait for an explicit decision.
func (e *Engine) autoAdvances(step *models.Step) bool {
	if step.IsGateway() {
		return false
	}

	return step.Type == models.StepTypeStart || !step.IsManual
}

func (e *Engine) autoComplete(ctx context.Context, definition *models.Definition, instance *models.Instance, step *models.Step, stepInstance *models.StepInstance, actorID string) error {
	applied, err := e.persistence.Instances().CompleteStepInstance(ctx, stepInstance.ID, persistence.StepCompletion{
		Status:      models.StepStatusCompleted,
		CompletedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	if !applied {
		return nil
	}

	e.record(ctx, instance, step.Key, models.EventStepCompleted, "", nil)
	e.publish(ctx, instance.ID, events.StepCompleted{
		BaseEvent:      events.NewBaseEvent(events.StepCompletedEvent, instance.ID),
		StepInstanceID: stepInstance.ID,
		StepKey:        step.Key,
	})

	return e.advance(ctx, definition, instance, step.Next, actorID)
}

func (e *Engine) completeEndStep(ctx context.Context, definition *models.Definition, instance *models.Instance, step *models.Step, stepInstance *models.StepInstance) error {
	_, err := e.persistence.Instances().CompleteStepInstance(ctx, stepInstance.ID, persistence.StepCompletion{
		Status:      models.StepStatusCompleted,
		CompletedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	return e.completeProcess(ctx, definition, instance)
}

func (e *Engine) completeProcess(ctx context.Context, definition *models.Definition, instance *models.Instance) error {
	now := time.Now().UTC()

	instance.Status = models.InstanceStatusCompleted
	instance.CurrentStepKey = ""
	instance.EndedAt = &now

	err := e.persistence.Instances().Save(ctx, instance)
	if err != nil {
		return err
	}

	steps, err := e.persistence.Instances().StepInstances(ctx, instance.ID)
	if err != nil {
		return err
	}

	completed := 0

	for _, stepInstance := range steps {
		if stepInstance.Status == models.StepStatusCompleted {
			completed++
		}
	}

	e.record(ctx, instance, "", models.EventProcessCompleted, "", map[string]any{"steps_completed": completed})
	e.publish(ctx, instance.ID, events.ProcessCompleted{
		BaseEvent:      events.NewBaseEvent(events.ProcessCompletedEvent, instance.ID),
		DefinitionKey:  definition.Key,
		DurationMs:     now.Sub(instance.StartedAt).Milliseconds(),
		StepsCompleted: completed,
	})

	return nil
}

func (e *Engine) afterCompletion(ctx context.Context, definition *models.Definition, instance *models.Instance, step *models.Step, active *models.StepInstance, req ExecuteRequest) {
	durationMs := time.Now().UTC().Sub(active.StartedAt).Milliseconds()

	e.record(ctx, instance, step.Key, models.EventStepCompleted, req.UserID, map[string]any{
		"duration_ms": durationMs,
	})
	e.publish(ctx, instance.ID, events.StepCompleted{
		BaseEvent:      events.NewBaseEvent(events.StepCompletedEvent, instance.ID),
		StepInstanceID: active.ID,
		StepKey:        step.Key,
		CompletedBy:    req.UserID,
		DurationMs:     durationMs,
		Output:         req.Output,
	})

	if step.IsGateway() {
		condition := step.Condition(req.Decision)

		e.record(ctx, instance, step.Key, models.EventGatewayCrossed, req.UserID, map[string]any{
			"decision":        req.Decision,
			"target_step_key": condition.TargetStepKey,
		})
		e.publish(ctx, instance.ID, events.GatewayCrossed{
			BaseEvent:      events.NewBaseEvent(events.GatewayCrossedEvent, instance.ID),
			StepInstanceID: active.ID,
			GatewayKey:     step.Key,
			Decision:       req.Decision,
			TargetStepKey:  condition.TargetStepKey,
			DecidedBy:      req.UserID,
		})
	}
}

// record appends to the event log. Log failures are reported, not fatal: the
// state transition already happened.
func (e *Engine) record(ctx context.Context, instance *models.Instance, stepKey string, eventType models.EventType, actorID string, payload map[string]any) {
	event := &models.Event{
		InstanceID: instance.ID,
		StepKey:    stepKey,
		Type:       eventType,
		ActorID:    actorID,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	err := e.persistence.Events().Append(ctx, event)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to append process event",
			"instance_id", instance.ID, "event_type", eventType, "error", err)
	}
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	err := e.publisher.Publish(ctx, key, event)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to publish event",
			"event_type", event.GetType(), "error", err)
	}
}
