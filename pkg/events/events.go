// Package events defines the bus event types published by the process engine,
// the automation engine and the SLA monitor.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Kafka topics.
const Topic = "stepflow.events"               // Process lifecycle and step events
const AutomationTopic = "stepflow.automation" // Automation execution events
const SLATopic = "stepflow.sla"               // SLA breach and escalation events

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Process lifecycle events.
	ProcessStartedEvent   EventType = "process.started"
	ProcessCompletedEvent EventType = "process.completed"
	ProcessCanceledEvent  EventType = "process.canceled"

	// Step events.
	StepEnteredEvent    EventType = "step.entered"
	StepCompletedEvent  EventType = "step.completed"
	StepSkippedEvent    EventType = "step.skipped"
	StepAssignedEvent   EventType = "step.assigned"
	StepReassignedEvent EventType = "step.reassigned"
	GatewayCrossedEvent EventType = "gateway.crossed"

	// Automation events.
	AutomationExecutedEvent EventType = "automation.executed"
	AutomationFailedEvent   EventType = "automation.failed"

	// SLA monitor events.
	SLAWarningEvent   EventType = "sla.warning"
	SLACriticalEvent  EventType = "sla.critical"
	SLAEscalatedEvent EventType = "sla.escalation_triggered"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	InstanceID string         `json:"instance_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type ProcessStarted struct {
	BaseEvent

	DefinitionKey     string         `json:"definition_key"`
	DefinitionVersion int            `json:"definition_version"`
	BusinessRefKind   string         `json:"business_ref_kind,omitempty"`
	BusinessRefID     string         `json:"business_ref_id,omitempty"`
	StartedBy         string         `json:"started_by,omitempty"`
	Context           map[string]any `json:"context,omitempty"`
}

func (e ProcessStarted) GetType() EventType {
	return ProcessStartedEvent
}

type ProcessCompleted struct {
	BaseEvent

	DefinitionKey  string `json:"definition_key"`
	DurationMs     int64  `json:"duration_ms"`
	StepsCompleted int    `json:"steps_completed"`
}

func (e ProcessCompleted) GetType() EventType {
	return ProcessCompletedEvent
}

type ProcessCanceled struct {
	BaseEvent

	Reason     string `json:"reason"`
	CanceledBy string `json:"canceled_by,omitempty"`
	AtStepKey  string `json:"at_step_key,omitempty"`
}

func (e ProcessCanceled) GetType() EventType {
	return ProcessCanceledEvent
}

type StepEntered struct {
	BaseEvent

	StepInstanceID string `json:"step_instance_id"`
	StepKey        string `json:"step_key"`
	LaneKey        string `json:"lane_key"`
	IsManual       bool   `json:"is_manual"`
	AssignedTo     string `json:"assigned_to,omitempty"`
}

func (e StepEntered) GetType() EventType {
	return StepEnteredEvent
}

type StepCompleted struct {
	BaseEvent

	StepInstanceID string         `json:"step_instance_id"`
	StepKey        string         `json:"step_key"`
	CompletedBy    string         `json:"completed_by,omitempty"`
	DurationMs     int64          `json:"duration_ms"`
	Output         map[string]any `json:"output,omitempty"`
}

func (e StepCompleted) GetType() EventType {
	return StepCompletedEvent
}

type StepSkipped struct {
	BaseEvent

	StepInstanceID string `json:"step_instance_id"`
	StepKey        string `json:"step_key"`
	SkippedBy      string `json:"skipped_by,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

func (e StepSkipped) GetType() EventType {
	return StepSkippedEvent
}

type StepAssigned struct {
	BaseEvent

	StepInstanceID string  `json:"step_instance_id"`
	StepKey        string  `json:"step_key"`
	AssigneeID     string  `json:"assignee_id"`
	Score          float64 `json:"score,omitempty"`
	Automatic      bool    `json:"automatic"`
}

func (e StepAssigned) GetType() EventType {
	return StepAssignedEvent
}

type StepReassigned struct {
	BaseEvent

	StepInstanceID string `json:"step_instance_id"`
	StepKey        string `json:"step_key"`
	FromUserID     string `json:"from_user_id,omitempty"`
	ToUserID       string `json:"to_user_id"`
	Reason         string `json:"reason,omitempty"`
	ReassignedBy   string `json:"reassigned_by,omitempty"`
}

func (e StepReassigned) GetType() EventType {
	return StepReassignedEvent
}

type GatewayCrossed struct {
	BaseEvent

	StepInstanceID string `json:"step_instance_id"`
	GatewayKey     string `json:"gateway_key"`
	Decision       string `json:"decision"`
	TargetStepKey  string `json:"target_step_key"`
	DecidedBy      string `json:"decided_by,omitempty"`
}

func (e GatewayCrossed) GetType() EventType {
	return GatewayCrossedEvent
}

type AutomationExecuted struct {
	BaseEvent

	RuleID     string `json:"rule_id"`
	RuleName   string `json:"rule_name"`
	StepKey    string `json:"step_key,omitempty"`
	ActionType string `json:"action_type"`
	DurationMs int64  `json:"duration_ms"`
	DryRun     bool   `json:"dry_run,omitempty"`
}

func (e AutomationExecuted) GetType() EventType {
	return AutomationExecutedEvent
}

type AutomationFailed struct {
	BaseEvent

	RuleID     string `json:"rule_id"`
	RuleName   string `json:"rule_name"`
	StepKey    string `json:"step_key,omitempty"`
	ActionType string `json:"action_type"`
	Error      string `json:"error"`
}

func (e AutomationFailed) GetType() EventType {
	return AutomationFailedEvent
}

type SLAWarning struct {
	BaseEvent

	StepInstanceID string `json:"step_instance_id"`
	StepKey        string `json:"step_key"`
	RuleID         string `json:"rule_id"`
	ElapsedMinutes int    `json:"elapsed_minutes"`
	WarningMinutes int    `json:"warning_minutes"`
	AssignedTo     string `json:"assigned_to,omitempty"`
}

func (e SLAWarning) GetType() EventType {
	return SLAWarningEvent
}

type SLACritical struct {
	BaseEvent

	StepInstanceID  string `json:"step_instance_id"`
	StepKey         string `json:"step_key"`
	RuleID          string `json:"rule_id"`
	ElapsedMinutes  int    `json:"elapsed_minutes"`
	CriticalMinutes int    `json:"critical_minutes"`
	AssignedTo      string `json:"assigned_to,omitempty"`
}

func (e SLACritical) GetType() EventType {
	return SLACriticalEvent
}

type SLAEscalated struct {
	BaseEvent

	StepInstanceID string `json:"step_instance_id"`
	StepKey        string `json:"step_key"`
	RuleID         string `json:"rule_id"`
	EscalatedTo    string `json:"escalated_to"`
	OverdueMinutes int    `json:"overdue_minutes"`
}

func (e SLAEscalated) GetType() EventType {
	return SLAEscalatedEvent
}

func NewBaseEvent(eventType EventType, instanceID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		InstanceID: instanceID,
		Metadata:   make(map[string]any),
	}
}
