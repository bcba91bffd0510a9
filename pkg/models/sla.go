package models

import "time"

// SLAStatus is the monitor's verdict for one active step instance.
type SLAStatus string

const (
	SLAStatusOK       SLAStatus = "ok"
	SLAStatusWarning  SLAStatus = "warning"
	SLAStatusCritical SLAStatus = "critical"
)

// SLARule sets the warning and critical thresholds for a step. A rule binds
// to a definition key plus step key; StepKey "*" applies to every step of
// the definition that has no more specific rule.
type SLARule struct {
	ID            string `json:"id"`
	DefinitionKey string `json:"definition_key" validate:"required"`
	StepKey       string `json:"step_key"       validate:"required"`
	// WarningAfterMinutes and CriticalAfterMinutes measure from the step's
	// StartedAt. Critical must be strictly greater than warning.
	WarningAfterMinutes  int `json:"warning_after_minutes"  validate:"required,min=1"`
	CriticalAfterMinutes int `json:"critical_after_minutes" validate:"required,min=1"`
	// EscalateToUserID receives the escalation notification on critical
	// breach. Empty disables escalation for this rule.
	EscalateToUserID string `json:"escalate_to_user_id,omitempty"`
	// RepeatAfterMinutes re-fires the escalation if the step is still
	// breached that long after the previous escalation. Zero means fire once.
	RepeatAfterMinutes int       `json:"repeat_after_minutes,omitempty"`
	Enabled            bool      `json:"enabled"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// WildcardStepKey matches every step of a definition.
const WildcardStepKey = "*"

// SLABreach is one breached active step as reported by a monitor sweep.
type SLABreach struct {
	Rule            *SLARule      `json:"rule"`
	Instance        *Instance     `json:"instance"`
	StepInstance    *StepInstance `json:"step_instance"`
	Status          SLAStatus     `json:"status"`
	ElapsedMinutes  int           `json:"elapsed_minutes"`
	OverdueMinutes  int           `json:"overdue_minutes"`
}
