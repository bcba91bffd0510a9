// Package automation matches rules against engine events and runs their
// actions. Action failures are isolated: a failing action never blocks the
// step transition that fired it, nor the remaining actions.
package automation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/megicode/stepflow/pkg/eventbus"
	"github.com/megicode/stepflow/pkg/events"
	"github.com/megicode/stepflow/pkg/models"
	"github.com/megicode/stepflow/pkg/persistence"
)

// Config holds the automation kill switch and per-category enables.
type Config struct {
	// Enabled is the global kill switch. When false no rule fires.
	Enabled bool
	// DisabledCategories suppresses rules of the listed categories.
	DisabledCategories []models.RuleCategory
	// DryRun logs and records what would run without executing actions.
	DryRun bool
}

func (c Config) categoryEnabled(category models.RuleCategory) bool {
	for _, disabled := range c.DisabledCategories {
		if disabled == category {
			return false
		}
	}

	return true
}

// Engine evaluates automation rules for engine events.
type Engine struct {
	persistence persistence.Persistence
	registry    *Registry
	evaluator   *ExpressionEvaluator
	publisher   eventbus.EventPublisher
	config      Config
	logger      *slog.Logger
}

func NewEngine(store persistence.Persistence, registry *Registry, publisher eventbus.EventPublisher, config Config, logger *slog.Logger) *Engine {
	return &Engine{
		persistence: store,
		registry:    registry,
		evaluator:   NewExpressionEvaluator(),
		publisher:   publisher,
		config:      config,
		logger:      logger,
	}
}

// FindMatchingRules returns the enabled rules for the trigger whose filters,
// conditions and expression all admit the step and context, in priority
// order.
func (e *Engine) FindMatchingRules(ctx context.Context, trigger models.RuleTrigger, step *models.Step, processContext models.ProcessContext) ([]*models.AutomationRule, error) {
	if !e.config.Enabled {
		return nil, nil
	}

	rules, err := e.persistence.Rules().ListEnabledByTrigger(ctx, trigger)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	matched := make([]*models.AutomationRule, 0)

	for _, rule := range rules {
		if !e.config.categoryEnabled(rule.Category) {
			continue
		}

		if step != nil && !rule.AppliesToStep(step) {
			continue
		}

		if !EvaluateConditions(rule.Conditions, processContext, e.logger) {
			continue
		}

		if rule.Expression != "" {
			ok, err := e.evaluator.Evaluate(rule.Expression, processContext)
			if err != nil {
				e.logger.WarnContext(ctx, "rule expression failed, skipping rule",
					"rule_id", rule.ID, "error", err)

				continue
			}

			if !ok {
				continue
			}
		}

		matched = append(matched, rule)
	}

	return matched, nil
}

// ExecutionResult is the outcome of a single rule action. In dry-run mode
// Payload carries the rendered config the action would have received.
type ExecutionResult struct {
	RuleID     string            `json:"rule_id"`
	ActionType models.ActionType `json:"action_type"`
	Success    bool              `json:"success"`
	Payload    map[string]any    `json:"payload,omitempty"`
	Err        error             `json:"-"`
}

// ExecuteRules runs every matched rule's actions against the invocation and
// reports one result per action. Failed actions are recorded and skipped;
// later actions still run.
func (e *Engine) ExecuteRules(ctx context.Context, invocation Invocation, rules []*models.AutomationRule) []ExecutionResult {
	results := make([]ExecutionResult, 0)

	for _, rule := range rules {
		ruleInvocation := invocation
		ruleInvocation.Rule = rule

		for _, action := range rule.Actions {
			results = append(results, e.executeAction(ctx, ruleInvocation, action, e.config.DryRun))
		}
	}

	return results
}

// TestRule runs one rule's actions in dry-run mode against a live invocation.
// No action executes; each result's payload shows what would have been sent.
func (e *Engine) TestRule(ctx context.Context, rule *models.AutomationRule, invocation Invocation) []ExecutionResult {
	invocation.Rule = rule

	results := make([]ExecutionResult, 0, len(rule.Actions))
	for _, action := range rule.Actions {
		results = append(results, e.executeAction(ctx, invocation, action, true))
	}

	return results
}

func (e *Engine) executeAction(ctx context.Context, invocation Invocation, action models.RuleAction, dryRun bool) ExecutionResult {
	rule := invocation.Rule
	result := ExecutionResult{RuleID: rule.ID, ActionType: action.Type}
	started := time.Now()

	if dryRun {
		e.logger.InfoContext(ctx, "dry run, action skipped",
			"rule_id", rule.ID, "action_type", action.Type)
		result.Success = true
		result.Payload = renderConfig(action.Config, invocation)
		e.recordExecuted(ctx, invocation, action, 0, true)

		return result
	}

	handler, err := e.registry.Handler(action.Type)
	if err != nil {
		result.Err = err
		e.recordFailed(ctx, invocation, action, err)

		return result
	}

	err = handler.Execute(ctx, invocation, action.Config)
	if err != nil {
		result.Err = err
		e.recordFailed(ctx, invocation, action, err)

		return result
	}

	result.Success = true
	e.recordExecuted(ctx, invocation, action, time.Since(started).Milliseconds(), false)

	return result
}

func (e *Engine) recordExecuted(ctx context.Context, invocation Invocation, action models.RuleAction, durationMs int64, dryRun bool) {
	rule := invocation.Rule

	e.appendLog(ctx, invocation, models.EventAutomationExecuted, map[string]any{
		"rule_id":     rule.ID,
		"rule_name":   rule.Name,
		"action_type": string(action.Type),
		"dry_run":     dryRun,
	})

	e.publish(ctx, invocation.Instance.ID, events.AutomationExecuted{
		BaseEvent:  events.NewBaseEvent(events.AutomationExecutedEvent, invocation.Instance.ID),
		RuleID:     rule.ID,
		RuleName:   rule.Name,
		StepKey:    stepKey(invocation),
		ActionType: string(action.Type),
		DurationMs: durationMs,
		DryRun:     dryRun,
	})
}

func (e *Engine) recordFailed(ctx context.Context, invocation Invocation, action models.RuleAction, actionErr error) {
	rule := invocation.Rule

	e.logger.ErrorContext(ctx, "automation action failed",
		"rule_id", rule.ID, "rule_name", rule.Name,
		"action_type", action.Type, "error", actionErr)

	e.appendLog(ctx, invocation, models.EventAutomationFailed, map[string]any{
		"rule_id":     rule.ID,
		"rule_name":   rule.Name,
		"action_type": string(action.Type),
		"error":       actionErr.Error(),
	})

	e.publish(ctx, invocation.Instance.ID, events.AutomationFailed{
		BaseEvent:  events.NewBaseEvent(events.AutomationFailedEvent, invocation.Instance.ID),
		RuleID:     rule.ID,
		RuleName:   rule.Name,
		StepKey:    stepKey(invocation),
		ActionType: string(action.Type),
		Error:      actionErr.Error(),
	})
}

func (e *Engine) appendLog(ctx context.Context, invocation Invocation, eventType models.EventType, payload map[string]any) {
	err := e.persistence.Events().Append(ctx, &models.Event{
		InstanceID: invocation.Instance.ID,
		StepKey:    stepKey(invocation),
		Type:       eventType,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to append automation event", "error", err)
	}
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	err := e.publisher.Publish(ctx, key, event)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to publish automation event", "error", err)
	}
}

// RegisterHandlers subscribes the automation engine to the engine events that
// can trigger rules.
func (e *Engine) RegisterHandlers(bus eventbus.EventSubscriber) error {
	err := bus.Handle(events.StepEnteredEvent, e.handleStepEntered)
	if err != nil {
		return err
	}

	err = bus.Handle(events.StepCompletedEvent, e.handleStepCompleted)
	if err != nil {
		return err
	}

	return bus.Handle(events.GatewayCrossedEvent, e.handleGatewayCrossed)
}

func (e *Engine) handleStepEntered(ctx context.Context, event any) error {
	entered, ok := event.(*events.StepEntered)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", event)
	}

	return e.react(ctx, models.TriggerStepEntered, entered.InstanceID, entered.StepKey, "")
}

func (e *Engine) handleStepCompleted(ctx context.Context, event any) error {
	completed, ok := event.(*events.StepCompleted)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", event)
	}

	return e.react(ctx, models.TriggerStepCompleted, completed.InstanceID, completed.StepKey, "")
}

func (e *Engine) handleGatewayCrossed(ctx context.Context, event any) error {
	crossed, ok := event.(*events.GatewayCrossed)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", event)
	}

	return e.react(ctx, models.TriggerGatewayCrossed, crossed.InstanceID, crossed.GatewayKey, crossed.Decision)
}

// react loads the invocation context and runs matching rules. Rule failures
// never propagate back to the bus as errors.
func (e *Engine) react(ctx context.Context, trigger models.RuleTrigger, instanceID, stepKeyName, decision string) error {
	if !e.config.Enabled {
		return nil
	}

	instance, err := e.persistence.Instances().GetByID(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("failed to load instance: %w", err)
	}

	definition, err := e.persistence.Definitions().GetByKeyVersion(ctx, instance.DefinitionKey, instance.DefinitionVersion)
	if err != nil {
		return fmt.Errorf("failed to load definition: %w", err)
	}

	step := definition.StepByKey(stepKeyName)

	rules, err := e.FindMatchingRules(ctx, trigger, step, instance.Context)
	if err != nil {
		return err
	}

	if len(rules) == 0 {
		return nil
	}

	e.ExecuteRules(ctx, Invocation{
		Trigger:    trigger,
		Instance:   instance,
		Definition: definition,
		Step:       step,
		Decision:   decision,
	}, rules)

	return nil
}
