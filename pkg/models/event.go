package models

import "time"

// EventType classifies an entry in the append-only process event log.
type EventType string

const (
	EventProcessStarted    EventType = "process.started"
	EventProcessCompleted  EventType = "process.completed"
	EventProcessCanceled   EventType = "process.canceled"
	EventStepEntered       EventType = "step.entered"
	EventStepCompleted     EventType = "step.completed"
	EventStepSkipped       EventType = "step.skipped"
	EventStepAssigned      EventType = "step.assigned"
	EventStepReassigned    EventType = "step.reassigned"
	EventGatewayCrossed    EventType = "gateway.crossed"
	EventAutomationExecuted EventType = "automation.executed"
	EventAutomationFailed   EventType = "automation.failed"
	EventSLAWarning        EventType = "sla.warning"
	EventSLACritical       EventType = "sla.critical"
	EventSLAEscalated      EventType = "sla.escalation_triggered"
)

// Event is one immutable entry in the process event log. The log is the
// source of truth for analytics and SLA escalation dedup.
type Event struct {
	ID         string         `json:"id"`
	InstanceID string         `json:"instance_id"`
	StepKey    string         `json:"step_key,omitempty"`
	Type       EventType      `json:"type"`
	ActorID    string         `json:"actor_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}
