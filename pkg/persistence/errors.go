package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrDefinitionNotFound indicates no definition matches the identifier.
	ErrDefinitionNotFound = errors.New("definition not found")

	// ErrDefinitionExists indicates a definition with the same key and
	// version already exists.
	ErrDefinitionExists = errors.New("definition already exists")

	// ErrInstanceNotFound indicates no process instance matches the identifier.
	ErrInstanceNotFound = errors.New("process instance not found")

	// ErrStepInstanceNotFound indicates no step instance matches the identifier.
	ErrStepInstanceNotFound = errors.New("step instance not found")

	// ErrRuleNotFound indicates no automation rule matches the identifier.
	ErrRuleNotFound = errors.New("automation rule not found")

	// ErrSLARuleNotFound indicates no SLA rule matches the identifier.
	ErrSLARuleNotFound = errors.New("sla rule not found")
)

// InstanceError wraps instance-related errors with operation context.
type InstanceError struct {
	Op         string // Operation being performed (e.g. "GetByID", "Save")
	InstanceID string
	Err        error
}

func (e *InstanceError) Error() string {
	return fmt.Sprintf("%s operation failed for instance %s: %v", e.Op, e.InstanceID, e.Err)
}

func (e *InstanceError) Unwrap() error {
	return e.Err
}

func (e *InstanceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewInstanceError creates an instance error with context.
func NewInstanceError(op, instanceID string, err error) *InstanceError {
	return &InstanceError{
		Op:         op,
		InstanceID: instanceID,
		Err:        err,
	}
}

// DefinitionError wraps definition-related errors with operation context.
type DefinitionError struct {
	Op           string
	DefinitionID string
	Key          string
	Err          error
}

func (e *DefinitionError) Error() string {
	target := e.DefinitionID
	if e.Key != "" {
		target = fmt.Sprintf("key %s", e.Key)
	}

	return fmt.Sprintf("%s operation failed for definition %s: %v", e.Op, target, e.Err)
}

func (e *DefinitionError) Unwrap() error {
	return e.Err
}

func (e *DefinitionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewDefinitionError creates a definition error with context.
func NewDefinitionError(op, definitionID string, err error) *DefinitionError {
	return &DefinitionError{
		Op:           op,
		DefinitionID: definitionID,
		Err:          err,
	}
}

// IsDefinitionNotFound checks if an error indicates a definition was not found.
func IsDefinitionNotFound(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound)
}

// IsInstanceNotFound checks if an error indicates an instance was not found.
func IsInstanceNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}

// IsStepInstanceNotFound checks if an error indicates a step instance was not found.
func IsStepInstanceNotFound(err error) bool {
	return errors.Is(err, ErrStepInstanceNotFound)
}

// IsRuleNotFound checks if an error indicates an automation rule was not found.
func IsRuleNotFound(err error) bool {
	return errors.Is(err, ErrRuleNotFound)
}

// IsSLARuleNotFound checks if an error indicates an SLA rule was not found.
func IsSLARuleNotFound(err error) bool {
	return errors.Is(err, ErrSLARuleNotFound)
}
