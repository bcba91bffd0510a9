// Package sla tracks per-step time budgets for running process instances and
// raises warning, critical and escalation events when a step overstays them.
// Sweeps are re-runnable: escalations deduplicate through the event log, so a
// recurring job firing twice inside the repeat interval never double-alerts.
package sla

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/megicode/stepflow/pkg/eventbus"
	"github.com/megicode/stepflow/pkg/events"
	"github.com/megicode/stepflow/pkg/models"
	"github.com/megicode/stepflow/pkg/notify"
	"github.com/megicode/stepflow/pkg/persistence"
)

// StepSLA is the monitor's verdict for one step instance.
type StepSLA struct {
	StepInstanceID       string           `json:"step_instance_id"`
	StepKey              string           `json:"step_key"`
	Status               models.SLAStatus `json:"status"`
	ElapsedMinutes       int              `json:"elapsed_minutes"`
	WarningAfterMinutes  int              `json:"warning_after_minutes"`
	CriticalAfterMinutes int              `json:"critical_after_minutes"`
	// PercentUsed is elapsed time over the critical budget, capped at 100.
	PercentUsed int `json:"percent_used"`
	// RemainingMinutes is time left until critical, zero once breached.
	RemainingMinutes int       `json:"remaining_minutes"`
	AssignedToUserID string    `json:"assigned_to_user_id,omitempty"`
	StartedAt        time.Time `json:"started_at"`
}

// ProcessSummary aggregates the SLA picture of one process instance.
type ProcessSummary struct {
	InstanceID string `json:"instance_id"`
	// OverallStatus is the worst status among currently active steps.
	OverallStatus models.SLAStatus `json:"overall_status"`
	CurrentStep   *StepSLA         `json:"current_step,omitempty"`
	// HistoricalBreaches counts completed steps that exceeded their
	// critical threshold before completing.
	HistoricalBreaches     int `json:"historical_breaches"`
	AverageStepTimeMinutes int `json:"average_step_time_minutes"`
}

// CheckResult reports what a monitor sweep did.
type CheckResult struct {
	Checked     int `json:"checked"`
	Warnings    int `json:"warnings"`
	Criticals   int `json:"criticals"`
	Escalations int `json:"escalations"`
}

// Monitor computes SLA statuses and drives escalations. Escalation delivery
// goes through the notification dispatcher; delivery failures are logged and
// recorded but never abort the sweep.
type Monitor struct {
	persistence persistence.Persistence
	dispatcher  notify.Dispatcher
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	now         func() time.Time
}

func NewMonitor(
	store persistence.Persistence,
	dispatcher notify.Dispatcher,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Monitor {
	return &Monitor{
		persistence: store,
		dispatcher:  dispatcher,
		publisher:   publisher,
		logger:      logger.With("module", "sla_monitor"),
		now:         time.Now,
	}
}

// RuleForStep picks the rule governing a step: an exact step-key rule wins
// over the definition's wildcard rule. Returns nil when neither exists.
func RuleForStep(rules []*models.SLARule, definitionKey, stepKey string) *models.SLARule {
	var wildcard *models.SLARule

	for _, rule := range rules {
		if rule.DefinitionKey != definitionKey {
			continue
		}

		if rule.StepKey == stepKey {
			return rule
		}

		if rule.StepKey == models.WildcardStepKey && wildcard == nil {
			wildcard = rule
		}
	}

	return wildcard
}

// CalculateStepStatus evaluates one step instance against a rule at the
// monitor's current clock.
func (m *Monitor) CalculateStepStatus(step *models.StepInstance, rule *models.SLARule) StepSLA {
	elapsed := int(m.now().Sub(step.StartedAt).Minutes())
	if elapsed < 0 {
		elapsed = 0
	}

	status := models.SLAStatusOK

	switch {
	case elapsed >= rule.CriticalAfterMinutes:
		status = models.SLAStatusCritical
	case elapsed >= rule.WarningAfterMinutes:
		status = models.SLAStatusWarning
	}

	percent := 100
	if rule.CriticalAfterMinutes > 0 && elapsed < rule.CriticalAfterMinutes {
		percent = elapsed * 100 / rule.CriticalAfterMinutes
	}

	remaining := 0
	if status != models.SLAStatusCritical {
		remaining = rule.CriticalAfterMinutes - elapsed
	}

	return StepSLA{
		StepInstanceID:       step.ID,
		StepKey:              step.StepKey,
		Status:               status,
		ElapsedMinutes:       elapsed,
		WarningAfterMinutes:  rule.WarningAfterMinutes,
		CriticalAfterMinutes: rule.CriticalAfterMinutes,
		PercentUsed:          percent,
		RemainingMinutes:     remaining,
		AssignedToUserID:     step.AssignedToUserID,
		StartedAt:            step.StartedAt,
	}
}

// CheckAllBreaches sweeps every active step of every running instance and
// returns the current warning and critical breaches without side effects.
func (m *Monitor) CheckAllBreaches(ctx context.Context) ([]*models.SLABreach, error) {
	steps, rules, err := m.loadSweepInputs(ctx)
	if err != nil {
		return nil, err
	}

	breaches := make([]*models.SLABreach, 0)

	for _, step := range steps {
		instance, rule, err := m.resolveStep(ctx, step, rules)
		if err != nil {
			m.logger.WarnContext(ctx, "skipping step in sweep",
				"step_instance_id", step.ID, "error", err)

			continue
		}

		if rule == nil {
			continue
		}

		status := m.CalculateStepStatus(step, rule)
		if status.Status == models.SLAStatusOK {
			continue
		}

		overdue := status.ElapsedMinutes - rule.WarningAfterMinutes
		if status.Status == models.SLAStatusCritical {
			overdue = status.ElapsedMinutes - rule.CriticalAfterMinutes
		}

		breaches = append(breaches, &models.SLABreach{
			Rule:           rule,
			Instance:       instance,
			StepInstance:   step,
			Status:         status.Status,
			ElapsedMinutes: status.ElapsedMinutes,
			OverdueMinutes: overdue,
		})
	}

	return breaches, nil
}

// RunCheck is the recurring sweep: it records warning and critical events
// (once per step per level) and fires escalations subject to the repeat
// interval.
func (m *Monitor) RunCheck(ctx context.Context) (CheckResult, error) {
	result := CheckResult{}

	steps, rules, err := m.loadSweepInputs(ctx)
	if err != nil {
		return result, err
	}

	for _, step := range steps {
		instance, rule, err := m.resolveStep(ctx, step, rules)
		if err != nil {
			m.logger.WarnContext(ctx, "skipping step in sweep",
				"step_instance_id", step.ID, "error", err)

			continue
		}

		if rule == nil {
			continue
		}

		result.Checked++

		status := m.CalculateStepStatus(step, rule)

		switch status.Status {
		case models.SLAStatusWarning:
			fired, err := m.recordWarning(ctx, instance, step, rule, status)
			if err != nil {
				return result, err
			}

			if fired {
				result.Warnings++
			}
		case models.SLAStatusCritical:
			fired, err := m.recordCritical(ctx, instance, step, rule, status)
			if err != nil {
				return result, err
			}

			if fired {
				result.Criticals++
			}

			escalated, err := m.escalate(ctx, instance, step, rule, status)
			if err != nil {
				return result, err
			}

			if escalated {
				result.Escalations++
			}
		case models.SLAStatusOK:
		}
	}

	return result, nil
}

// ProcessSLASummary computes the SLA picture for one instance: the active
// step's live status plus breach history over its completed steps.
func (m *Monitor) ProcessSLASummary(ctx context.Context, instanceID string) (*ProcessSummary, error) {
	instance, err := m.persistence.Instances().GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	steps, err := m.persistence.Instances().StepInstances(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load step instances: %w", err)
	}

	rules, err := m.persistence.SLARules().ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load sla rules: %w", err)
	}

	summary := &ProcessSummary{
		InstanceID:    instanceID,
		OverallStatus: models.SLAStatusOK,
	}

	totalMinutes := 0
	completed := 0

	for _, step := range steps {
		rule := RuleForStep(rules, instance.DefinitionKey, step.StepKey)

		switch step.Status {
		case models.StepStatusActive:
			if rule == nil {
				continue
			}

			status := m.CalculateStepStatus(step, rule)
			summary.CurrentStep = &status

			if worseThan(status.Status, summary.OverallStatus) {
				summary.OverallStatus = status.Status
			}
		case models.StepStatusCompleted:
			minutes, ok := step.DurationMinutes()
			if !ok {
				continue
			}

			totalMinutes += minutes
			completed++

			if rule != nil && minutes > rule.CriticalAfterMinutes {
				summary.HistoricalBreaches++
			}
		case models.StepStatusPending, models.StepStatusFailed, models.StepStatusSkipped:
		}
	}

	if completed > 0 {
		summary.AverageStepTimeMinutes = totalMinutes / completed
	}

	return summary, nil
}

func (m *Monitor) loadSweepInputs(ctx context.Context) ([]*models.StepInstance, []*models.SLARule, error) {
	steps, err := m.persistence.Instances().ListActiveStepInstances(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list active steps: %w", err)
	}

	rules, err := m.persistence.SLARules().ListEnabled(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load sla rules: %w", err)
	}

	return steps, rules, nil
}

func (m *Monitor) resolveStep(
	ctx context.Context,
	step *models.StepInstance,
	rules []*models.SLARule,
) (*models.Instance, *models.SLARule, error) {
	instance, err := m.persistence.Instances().GetByID(ctx, step.InstanceID)
	if err != nil {
		return nil, nil, err
	}

	if !instance.IsRunning() {
		return instance, nil, nil
	}

	return instance, RuleForStep(rules, instance.DefinitionKey, step.StepKey), nil
}

// recordWarning appends at most one sla.warning per step instance.
func (m *Monitor) recordWarning(
	ctx context.Context,
	instance *models.Instance,
	step *models.StepInstance,
	rule *models.SLARule,
	status StepSLA,
) (bool, error) {
	last, err := m.persistence.Events().LastForStep(ctx, instance.ID, step.StepKey, models.EventSLAWarning)
	if err != nil {
		return false, fmt.Errorf("failed to check warning history: %w", err)
	}

	if last != nil && !last.OccurredAt.Before(step.StartedAt) {
		return false, nil
	}

	m.appendLog(ctx, instance.ID, step.StepKey, models.EventSLAWarning, map[string]any{
		"step_instance_id": step.ID,
		"rule_id":          rule.ID,
		"elapsed_minutes":  status.ElapsedMinutes,
		"warning_minutes":  rule.WarningAfterMinutes,
	})
	m.publish(ctx, instance.ID, events.SLAWarning{
		BaseEvent:      events.NewBaseEvent(events.SLAWarningEvent, instance.ID),
		StepInstanceID: step.ID,
		StepKey:        step.StepKey,
		RuleID:         rule.ID,
		ElapsedMinutes: status.ElapsedMinutes,
		WarningMinutes: rule.WarningAfterMinutes,
		AssignedTo:     step.AssignedToUserID,
	})

	return true, nil
}

// recordCritical appends at most one sla.critical per step instance.
func (m *Monitor) recordCritical(
	ctx context.Context,
	instance *models.Instance,
	step *models.StepInstance,
	rule *models.SLARule,
	status StepSLA,
) (bool, error) {
	last, err := m.persistence.Events().LastForStep(ctx, instance.ID, step.StepKey, models.EventSLACritical)
	if err != nil {
		return false, fmt.Errorf("failed to check critical history: %w", err)
	}

	if last != nil && !last.OccurredAt.Before(step.StartedAt) {
		return false, nil
	}

	m.appendLog(ctx, instance.ID, step.StepKey, models.EventSLACritical, map[string]any{
		"step_instance_id": step.ID,
		"rule_id":          rule.ID,
		"elapsed_minutes":  status.ElapsedMinutes,
		"critical_minutes": rule.CriticalAfterMinutes,
	})
	m.publish(ctx, instance.ID, events.SLACritical{
		BaseEvent:       events.NewBaseEvent(events.SLACriticalEvent, instance.ID),
		StepInstanceID:  step.ID,
		StepKey:         step.StepKey,
		RuleID:          rule.ID,
		ElapsedMinutes:  status.ElapsedMinutes,
		CriticalMinutes: rule.CriticalAfterMinutes,
		AssignedTo:      step.AssignedToUserID,
	})

	return true, nil
}

// escalate notifies the rule's escalation target. The first escalation fires
// as soon as the step goes critical; repeats only fire after the rule's
// repeat interval has elapsed since the previous escalation event.
func (m *Monitor) escalate(
	ctx context.Context,
	instance *models.Instance,
	step *models.StepInstance,
	rule *models.SLARule,
	status StepSLA,
) (bool, error) {
	if rule.EscalateToUserID == "" {
		return false, nil
	}

	last, err := m.persistence.Events().LastForStep(ctx, instance.ID, step.StepKey, models.EventSLAEscalated)
	if err != nil {
		return false, fmt.Errorf("failed to check escalation history: %w", err)
	}

	if last != nil && !last.OccurredAt.Before(step.StartedAt) {
		if rule.RepeatAfterMinutes <= 0 {
			return false, nil
		}

		sinceLast := m.now().Sub(last.OccurredAt)
		if sinceLast < time.Duration(rule.RepeatAfterMinutes)*time.Minute {
			return false, nil
		}
	}

	overdue := status.ElapsedMinutes - rule.CriticalAfterMinutes

	m.appendLog(ctx, instance.ID, step.StepKey, models.EventSLAEscalated, map[string]any{
		"step_instance_id": step.ID,
		"rule_id":          rule.ID,
		"escalated_to":     rule.EscalateToUserID,
		"elapsed_minutes":  status.ElapsedMinutes,
		"overdue_minutes":  overdue,
	})
	m.publish(ctx, instance.ID, events.SLAEscalated{
		BaseEvent:      events.NewBaseEvent(events.SLAEscalatedEvent, instance.ID),
		StepInstanceID: step.ID,
		StepKey:        step.StepKey,
		RuleID:         rule.ID,
		EscalatedTo:    rule.EscalateToUserID,
		OverdueMinutes: overdue,
	})

	err = m.dispatcher.Notify(ctx, notify.Notification{
		RecipientUserID: rule.EscalateToUserID,
		Subject:         fmt.Sprintf("SLA breached on step %q", step.StepKey),
		Message: fmt.Sprintf(
			"Step %q of process %s has been active for %d minutes, %d minutes past its SLA of %d minutes.",
			step.StepKey, instance.ID, status.ElapsedMinutes, overdue, rule.CriticalAfterMinutes,
		),
		InstanceID: instance.ID,
		StepKey:    step.StepKey,
	})
	if err != nil {
		m.logger.ErrorContext(ctx, "escalation notification failed",
			"instance_id", instance.ID, "step_key", step.StepKey,
			"escalate_to", rule.EscalateToUserID, "error", err)
	}

	return true, nil
}

func (m *Monitor) appendLog(ctx context.Context, instanceID, stepKey string, eventType models.EventType, payload map[string]any) {
	err := m.persistence.Events().Append(ctx, &models.Event{
		InstanceID: instanceID,
		StepKey:    stepKey,
		Type:       eventType,
		Payload:    payload,
		OccurredAt: m.now().UTC(),
	})
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to append sla event",
			"instance_id", instanceID, "event_type", eventType, "error", err)
	}
}

func (m *Monitor) publish(ctx context.Context, key string, event eventbus.Event) {
	if m.publisher == nil {
		return
	}

	err := m.publisher.Publish(ctx, key, event)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to publish sla event", "error", err)
	}
}

func worseThan(a, b models.SLAStatus) bool {
	return rank(a) > rank(b)
}

func rank(status models.SLAStatus) int {
	switch status {
	case models.SLAStatusCritical:
		return 2
	case models.SLAStatusWarning:
		return 1
	case models.SLAStatusOK:
	}

	return 0
}
