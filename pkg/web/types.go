// Package web provides the HTTP API for process definitions, instances,
// automation rules, SLA rules, assignments and analytics.
package web

import "github.com/megicode/stepflow/pkg/models"

// StartInstanceRequest starts a process for a business entity. Version zero
// pins the latest active definition version.
type StartInstanceRequest struct {
	DefinitionKey   string                `json:"definition_key" validate:"required"`
	Version         int                   `json:"version,omitempty"`
	BusinessRefKind string                `json:"business_ref_kind,omitempty"`
	BusinessRefID   string                `json:"business_ref_id,omitempty"`
	Context         models.ProcessContext `json:"context,omitempty"`
	StartedBy       string                `json:"started_by,omitempty"`
}

// ExecuteStepRequest completes the instance's active step. StepKey guards
// against completing a step the caller is no longer looking at; Decision is
// required for gateway steps.
type ExecuteStepRequest struct {
	StepKey  string         `json:"step_key,omitempty"`
	UserID   string         `json:"user_id,omitempty"`
	Decision string         `json:"decision,omitempty"`
	Output   map[string]any `json:"output,omitempty"`
	Notes    string         `json:"notes,omitempty"`
}

// SkipStepRequest skips the active step with an audit reason.
type SkipStepRequest struct {
	UserID string `json:"user_id,omitempty"`
	Reason string `json:"reason" validate:"required"`
}

// CancelInstanceRequest cancels a running instance.
type CancelInstanceRequest struct {
	UserID string `json:"user_id,omitempty"`
	Reason string `json:"reason" validate:"required"`
}

// AssignRequest assigns the active step to a user.
type AssignRequest struct {
	UserID        string `json:"user_id" validate:"required"`
	AssignedBy    string `json:"assigned_by,omitempty"`
	AdminOverride bool   `json:"admin_override,omitempty"`
}

// ReassignRequest moves the active step to another user. A reason is always
// required.
type ReassignRequest struct {
	ToUserID      string `json:"to_user_id" validate:"required"`
	Reason        string `json:"reason"     validate:"required"`
	ReassignedBy  string `json:"reassigned_by,omitempty"`
	AdminOverride bool   `json:"admin_override,omitempty"`
}

// CreateDefinitionRequest creates a definition at version 1. Key is derived
// from Name when empty.
type CreateDefinitionRequest struct {
	Key         string         `json:"key,omitempty"`
	Name        string         `json:"name" validate:"required,min=3"`
	Description string         `json:"description,omitempty"`
	Category    string         `json:"category,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Lanes       []models.Lane  `json:"lanes" validate:"required,min=1"`
	Steps       []*models.Step `json:"steps" validate:"required,min=2"`
}

// CloneDefinitionRequest copies an existing definition under a new key.
type CloneDefinitionRequest struct {
	Name        string   `json:"name" validate:"required,min=3"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// DefinitionVersionRequest stores a changed definition shape as a new
// version. Empty metadata fields inherit from the current version.
type DefinitionVersionRequest struct {
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Category    string         `json:"category,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Lanes       []models.Lane  `json:"lanes" validate:"required,min=1"`
	Steps       []*models.Step `json:"steps" validate:"required,min=2"`
}

// ToggleRuleRequest enables or disables a rule.
type ToggleRuleRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// TestRuleRequest points a dry run of a rule at a live instance. StepKey
// defaults to the instance's current step.
type TestRuleRequest struct {
	InstanceID string `json:"instance_id" validate:"required"`
	StepKey    string `json:"step_key,omitempty"`
	Decision   string `json:"decision,omitempty"`
}
