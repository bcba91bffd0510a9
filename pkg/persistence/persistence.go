// Package persistence provides the data storage abstraction layer for process
// definitions, instances, the event log and automation rules.
package persistence

import (
	"context"
	"time"

	"github.com/megicode/stepflow/pkg/models"
)

// DefinitionQuery filters definition listings for the template catalog.
type DefinitionQuery struct {
	Category string
	Tag      string
	// Text matches name and description, case-insensitive substring.
	Text string
	// ActiveOnly excludes deactivated definitions.
	ActiveOnly bool
}

type DefinitionRepository interface {
	List(ctx context.Context, query DefinitionQuery) ([]*models.Definition, error)
	GetByID(ctx context.Context, id string) (*models.Definition, error)
	// GetByKeyVersion returns one pinned version of a definition.
	GetByKeyVersion(ctx context.Context, key string, version int) (*models.Definition, error)
	// GetLatest returns the highest active version for a key.
	GetLatest(ctx context.Context, key string) (*models.Definition, error)
	Save(ctx context.Context, definition *models.Definition) error
	// IncrementUsage bumps the usage counter when an instance starts from
	// the definition.
	IncrementUsage(ctx context.Context, id string) error
}

// StepCompletion is the atomic state change applied when a step finishes.
// The update only applies while the step instance is still active; a false
// return means another caller completed it first.
type StepCompletion struct {
	Status            models.StepInstanceStatus
	CompletedByUserID string
	GatewayDecision   string
	Output            map[string]any
	Notes             string
	CompletedAt       time.Time
}

type InstanceRepository interface {
	Create(ctx context.Context, instance *models.Instance) error
	GetByID(ctx context.Context, id string) (*models.Instance, error)
	ListByStatus(ctx context.Context, status models.InstanceStatus) ([]*models.Instance, error)
	ListByBusinessRef(ctx context.Context, kind, id string) ([]*models.Instance, error)
	// Save persists status, current step, context and end timestamps.
	Save(ctx context.Context, instance *models.Instance) error

	CreateStepInstance(ctx context.Context, step *models.StepInstance) error
	StepInstanceByID(ctx context.Context, id string) (*models.StepInstance, error)
	// ActiveStepInstance returns the single active step of an instance, or
	// ErrStepInstanceNotFound when the instance has none.
	ActiveStepInstance(ctx context.Context, instanceID string) (*models.StepInstance, error)
	StepInstances(ctx context.Context, instanceID string) ([]*models.StepInstance, error)
	// ListActiveStepInstances returns every active step across running
	// instances, for the SLA sweep.
	ListActiveStepInstances(ctx context.Context) ([]*models.StepInstance, error)
	// ListCompletedSince returns step instances completed at or after the
	// cutoff, for analytics aggregation.
	ListCompletedSince(ctx context.Context, since time.Time) ([]*models.StepInstance, error)
	// CompleteStepInstance applies the completion atomically, guarded on the
	// step still being active. Returns false without error when the guard
	// fails.
	CompleteStepInstance(ctx context.Context, stepInstanceID string, completion StepCompletion) (bool, error)
	// UpdateAssignment sets or clears the step's assignee.
	UpdateAssignment(ctx context.Context, stepInstanceID, userID string) error
	// CountActiveByAssignee returns active step counts keyed by user ID.
	CountActiveByAssignee(ctx context.Context) (map[string]int, error)
}

type EventRepository interface {
	Append(ctx context.Context, event *models.Event) error
	ListByInstance(ctx context.Context, instanceID string) ([]*models.Event, error)
	// ListByTypeSince returns events of the given types at or after the
	// cutoff, newest first.
	ListByTypeSince(ctx context.Context, types []models.EventType, since time.Time) ([]*models.Event, error)
	// LastForStep returns the newest event of a type for one step of one
	// instance, or nil when none exists.
	LastForStep(ctx context.Context, instanceID, stepKey string, eventType models.EventType) (*models.Event, error)
}

type RuleRepository interface {
	List(ctx context.Context) ([]*models.AutomationRule, error)
	ListEnabledByTrigger(ctx context.Context, trigger models.RuleTrigger) ([]*models.AutomationRule, error)
	GetByID(ctx context.Context, id string) (*models.AutomationRule, error)
	Save(ctx context.Context, rule *models.AutomationRule) error
	Delete(ctx context.Context, id string) error
}

type SLARuleRepository interface {
	List(ctx context.Context) ([]*models.SLARule, error)
	ListEnabled(ctx context.Context) ([]*models.SLARule, error)
	GetByID(ctx context.Context, id string) (*models.SLARule, error)
	Save(ctx context.Context, rule *models.SLARule) error
	Delete(ctx context.Context, id string) error
}

type Persistence interface {
	Definitions() DefinitionRepository
	Instances() InstanceRepository
	Events() EventRepository
	Rules() RuleRepository
	SLARules() SLARuleRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
