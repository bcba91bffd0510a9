package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RuleTrigger names the engine event an automation rule reacts to.
type RuleTrigger string

const (
	TriggerStepEntered    RuleTrigger = "step_entered"
	TriggerStepCompleted  RuleTrigger = "step_completed"
	TriggerGatewayCrossed RuleTrigger = "gateway_crossed"
	TriggerScheduled      RuleTrigger = "scheduled"
)

// ConditionOperator is the closed set of comparison operators a rule
// condition may use against the process context.
type ConditionOperator string

const (
	OpEquals      ConditionOperator = "equals"
	OpNotEquals   ConditionOperator = "not_equals"
	OpGreaterThan ConditionOperator = "greater_than"
	OpLessThan    ConditionOperator = "less_than"
	OpContains    ConditionOperator = "contains"
	OpNotEmpty    ConditionOperator = "not_empty"
	OpIsEmpty     ConditionOperator = "is_empty"
)

// Condition compares one field of the process context against a value. All
// conditions on a rule must hold for the rule to fire.
type Condition struct {
	Field    string            `json:"field"    validate:"required"`
	Operator ConditionOperator `json:"operator" validate:"required"`
	Value    any               `json:"value,omitempty"`
}

// ActionType is the closed set of actions the automation engine can run.
// Unknown action types are a configuration error, not a plugin hook.
type ActionType string

const (
	ActionSendNotification ActionType = "send_notification"
	ActionCreateTask       ActionType = "create_task"
	ActionScheduleReminder ActionType = "schedule_reminder"
	ActionCallWebhook      ActionType = "call_webhook"
	ActionAdvanceGateway   ActionType = "advance_gateway"
)

// RuleCategory groups rules for the per-category enable switches.
type RuleCategory string

const (
	CategoryNotification RuleCategory = "notification"
	CategoryTask         RuleCategory = "task"
	CategoryReminder     RuleCategory = "reminder"
	CategoryIntegration  RuleCategory = "integration"
	CategoryRouting      RuleCategory = "routing"
)

var (
	ErrUnknownTrigger  = errors.New("unknown rule trigger")
	ErrUnknownOperator = errors.New("unknown condition operator")
	ErrUnknownAction   = errors.New("unknown action type")
	ErrRuleNoActions   = errors.New("rule has no actions")
)

// RuleAction is one action a rule runs when it fires. Config is validated
// against the action type's JSON schema at the storage boundary.
type RuleAction struct {
	Type   ActionType     `json:"type"   validate:"required"`
	Config map[string]any `json:"config,omitempty"`
}

// AutomationRule binds a trigger plus conditions to a list of actions.
// Rules fire in ascending priority order; equal priorities fire in creation
// order.
type AutomationRule struct {
	ID          string       `json:"id"`
	Name        string       `json:"name" validate:"required,min=3"`
	Description string       `json:"description,omitempty"`
	Trigger     RuleTrigger  `json:"trigger" validate:"required"`
	Category    RuleCategory `json:"category,omitempty"`
	// StepKeys limits the rule to specific steps. Empty means any step.
	StepKeys []string `json:"step_keys,omitempty"`
	// LaneKeys limits the rule to steps in specific lanes. Empty means any lane.
	LaneKeys   []string    `json:"lane_keys,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`
	// Expression is an optional expr program evaluated against the process
	// context, combined with Conditions by logical AND.
	Expression string       `json:"expression,omitempty"`
	Actions    []RuleAction `json:"actions" validate:"required,min=1,dive"`
	Priority   int          `json:"priority"`
	Enabled    bool         `json:"enabled"`
	// IsSystem marks built-in rules that cannot be deleted through the API.
	IsSystem  bool      `json:"is_system,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the closed enums and action list beyond what struct tags
// cover.
func (r *AutomationRule) Validate() error {
	switch r.Trigger {
	case TriggerStepEntered, TriggerStepCompleted, TriggerGatewayCrossed, TriggerScheduled:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTrigger, r.Trigger)
	}

	for _, c := range r.Conditions {
		switch c.Operator {
		case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpContains, OpNotEmpty, OpIsEmpty:
		default:
			return fmt.Errorf("%w: %q", ErrUnknownOperator, c.Operator)
		}
	}

	if len(r.Actions) == 0 {
		return ErrRuleNoActions
	}

	for _, a := range r.Actions {
		switch a.Type {
		case ActionSendNotification, ActionCreateTask, ActionScheduleReminder, ActionCallWebhook, ActionAdvanceGateway:
		default:
			return fmt.Errorf("%w: %q", ErrUnknownAction, a.Type)
		}
	}

	return nil
}

// AppliesToStep reports whether the rule's step and lane filters admit the
// given step.
func (r *AutomationRule) AppliesToStep(step *Step) bool {
	if len(r.StepKeys) > 0 && !containsString(r.StepKeys, step.Key) {
		return false
	}

	if len(r.LaneKeys) > 0 && !containsString(r.LaneKeys, step.LaneKey) {
		return false
	}

	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}

	return false
}
