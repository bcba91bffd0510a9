package models

import "time"

// InstanceStatus is the lifecycle state of a process instance. An instance is
// terminal once its status leaves running.
type InstanceStatus string

const (
	InstanceStatusRunning   InstanceStatus = "running"
	InstanceStatusCompleted InstanceStatus = "completed"
	InstanceStatusCanceled  InstanceStatus = "canceled"
)

// BusinessRef points at the business entity a process instance was started
// for (a lead, a project, an invoice). The engine treats it as opaque.
type BusinessRef struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// ProcessContext carries the free-form business data a process accumulates as
// it advances. Parsed from JSON once at the storage boundary; automation rule
// conditions evaluate against it.
type ProcessContext map[string]any

// Instance is one execution of a definition for a specific business entity.
// Mutated only by the execution engine.
type Instance struct {
	ID                string         `json:"id"`
	DefinitionID      string         `json:"definition_id"`
	DefinitionKey     string         `json:"definition_key"`
	DefinitionVersion int            `json:"definition_version"`
	BusinessRef       *BusinessRef   `json:"business_ref,omitempty"`
	Status            InstanceStatus `json:"status"`
	CurrentStepKey    string         `json:"current_step_key,omitempty"`
	Context           ProcessContext `json:"context,omitempty"`
	StartedByUserID   string         `json:"started_by_user_id,omitempty"`
	StartedAt         time.Time      `json:"started_at"`
	EndedAt           *time.Time     `json:"ended_at,omitempty"`
	CancelReason      string         `json:"cancel_reason,omitempty"`
}

// IsRunning reports whether the instance still accepts transitions.
func (i *Instance) IsRunning() bool {
	return i.Status == InstanceStatusRunning
}

// StepInstanceStatus is the lifecycle state of one step within one instance.
type StepInstanceStatus string

const (
	StepStatusPending   StepInstanceStatus = "pending"
	StepStatusActive    StepInstanceStatus = "active"
	StepStatusCompleted StepInstanceStatus = "completed"
	StepStatusFailed    StepInstanceStatus = "failed"
	StepStatusSkipped   StepInstanceStatus = "skipped"
)

// StepInstance records one step's execution within one process instance.
// At most one step instance per process instance is active at a time.
type StepInstance struct {
	ID               string             `json:"id"`
	InstanceID       string             `json:"instance_id"`
	StepKey          string             `json:"step_key"`
	Status           StepInstanceStatus `json:"status"`
	AssignedToUserID string             `json:"assigned_to_user_id,omitempty"`
	CompletedByUserID string            `json:"completed_by_user_id,omitempty"`
	GatewayDecision  string             `json:"gateway_decision,omitempty"`
	Output           map[string]any     `json:"output,omitempty"`
	Notes            string             `json:"notes,omitempty"`
	StartedAt        time.Time          `json:"started_at"`
	CompletedAt      *time.Time         `json:"completed_at,omitempty"`
}

// DurationMinutes returns the step's completed wall-clock duration in whole
// minutes, or false if the step has not completed.
func (si *StepInstance) DurationMinutes() (int, bool) {
	if si.CompletedAt == nil {
		return 0, false
	}

	return int(si.CompletedAt.Sub(si.StartedAt).Minutes()), true
}
