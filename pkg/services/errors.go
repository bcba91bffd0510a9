// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"
)

// Business logic errors. These indicate client errors (4xx responses).
var (
	// Validation errors (400 Bad Request).
	ErrInvalidRequest       = errors.New("invalid request")
	ErrDefinitionNil        = errors.New("definition cannot be nil")
	ErrStepNotActive        = errors.New("step is not the active step")
	ErrDecisionRequired     = errors.New("gateway requires an explicit decision")
	ErrUnknownDecision      = errors.New("decision does not match any gateway condition")
	ErrDecisionNotAllowed   = errors.New("decision only applies to gateway steps")
	ErrAssigneeRoleMismatch = errors.New("assignee role does not match the lane participant")
	ErrAssigneeUnavailable  = errors.New("assignee is not available")
	ErrNoEligibleAssignee   = errors.New("no eligible assignee for step")
	ErrTemplateInactive     = errors.New("definition version is deactivated")
	ErrDefaultTemplate      = errors.New("default definitions cannot be deactivated")
	ErrInvalidSLAThresholds = errors.New("critical threshold must exceed warning threshold")

	// Business logic conflicts (409 Conflict). A terminal instance or an
	// already-completed step means the caller's view is stale: refresh and
	// retry, rather than change the request.
	ErrInstanceNotRunning   = errors.New("process instance is not running")
	ErrStepAlreadyCompleted = errors.New("step was already completed")
	ErrSystemRuleImmutable  = errors.New("system rules cannot be deleted")
	ErrTemplateInUse        = errors.New("definition version is referenced by instances")

	// Configuration errors (422 Unprocessable Entity).
	ErrInvalidActionConfig = errors.New("invalid action configuration")
	ErrAutomationDisabled  = errors.New("automation is disabled")
)

// ActionExecutionError reports a failed automation action. Action failures
// never fail the step transition that triggered them.
type ActionExecutionError struct {
	RuleID     string
	ActionType string
	Err        error
}

func (e *ActionExecutionError) Error() string {
	return fmt.Sprintf("action %s of rule %s failed: %v", e.ActionType, e.RuleID, e.Err)
}

func (e *ActionExecutionError) Unwrap() error {
	return e.Err
}

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrDefinitionNil) ||
		errors.Is(err, ErrStepNotActive) ||
		errors.Is(err, ErrDecisionRequired) ||
		errors.Is(err, ErrUnknownDecision) ||
		errors.Is(err, ErrDecisionNotAllowed) ||
		errors.Is(err, ErrAssigneeRoleMismatch) ||
		errors.Is(err, ErrAssigneeUnavailable) ||
		errors.Is(err, ErrNoEligibleAssignee) ||
		errors.Is(err, ErrTemplateInactive) ||
		errors.Is(err, ErrDefaultTemplate) ||
		errors.Is(err, ErrInvalidSLAThresholds)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrInstanceNotRunning) ||
		errors.Is(err, ErrStepAlreadyCompleted) ||
		errors.Is(err, ErrSystemRuleImmutable) ||
		errors.Is(err, ErrTemplateInUse)
}

// IsConfigurationError checks if an error indicates a misconfigured rule or action.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidActionConfig) ||
		errors.Is(err, ErrAutomationDisabled)
}

// NewValidationError creates a request-level validation error.
func NewValidationError(message string) *ServiceError {
	return &ServiceError{
		Op:      "validate",
		Code:    "invalid_request",
		Message: message,
		Err:     ErrInvalidRequest,
	}
}
