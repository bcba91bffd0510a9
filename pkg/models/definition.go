// Package models defines the core domain models for the business-process engine.
package models

import (
	"errors"
	"fmt"
	"time"
)

// StepType is the closed set of step kinds a definition may contain.
type StepType string

const (
	StepTypeStart   StepType = "start"
	StepTypeTask    StepType = "task"
	StepTypeGateway StepType = "gateway"
	StepTypeEnd     StepType = "end"
)

// ParticipantAutomation marks a step executed by the system rather than a person.
const ParticipantAutomation = "automation"

// Definition validation errors. Definitions failing validation must never be
// stored or executed.
var (
	ErrNoStartStep         = errors.New("definition has no start step")
	ErrNoEndStep           = errors.New("definition has no end step")
	ErrDuplicateStepKey    = errors.New("duplicate step key")
	ErrUnknownNextStep     = errors.New("transition targets unknown step")
	ErrMissingSuccessor    = errors.New("non-end step has no successor")
	ErrGatewayNoConditions = errors.New("gateway step has no conditions")
	ErrGatewayNoDefault    = errors.New("gateway step has no default condition")
	ErrGatewayManyDefaults = errors.New("gateway step has multiple default conditions")
	ErrUnknownLane         = errors.New("step references unknown lane")
)

// Lane groups steps by the participant class responsible for them.
type Lane struct {
	Key         string `json:"key"         validate:"required"`
	DisplayName string `json:"display_name" validate:"required"`
	Participant string `json:"participant"`
}

// GatewayCondition is one labeled outgoing branch of a gateway step.
type GatewayCondition struct {
	Label         string `json:"label"           validate:"required"`
	TargetStepKey string `json:"target_step_key" validate:"required"`
	IsDefault     bool   `json:"is_default"`
}

// Step is one node of a process definition. The Type field determines which
// transition fields are meaningful: linear steps use Next, gateway steps use
// GatewayConditions, end steps have neither.
type Step struct {
	Key                     string             `json:"key"   validate:"required"`
	Title                   string             `json:"title" validate:"required"`
	Type                    StepType           `json:"type"  validate:"required"`
	LaneKey                 string             `json:"lane_key"`
	Participant             string             `json:"participant"`
	IsManual                bool               `json:"is_manual"`
	AutomationAction        string             `json:"automation_action,omitempty"`
	ExpectedDurationMinutes int                `json:"expected_duration_minutes,omitempty"`
	RequiredSkills          []string           `json:"required_skills,omitempty"`
	Next                    string             `json:"next,omitempty"`
	GatewayConditions       []GatewayCondition `json:"gateway_conditions,omitempty"`
}

// IsGateway reports whether the step requires an explicit decision to advance.
func (s *Step) IsGateway() bool {
	return s.Type == StepTypeGateway
}

// IsTerminal reports whether the step ends the process.
func (s *Step) IsTerminal() bool {
	return s.Type == StepTypeEnd
}

// Condition returns the gateway condition with the given label, nil when the
// step declares no such branch.
func (s *Step) Condition(label string) *GatewayCondition {
	for i := range s.GatewayConditions {
		if s.GatewayConditions[i].Label == label {
			return &s.GatewayConditions[i]
		}
	}

	return nil
}

// DefaultCondition returns the single condition marked default. Validated
// gateway steps always have one.
func (s *Step) DefaultCondition() *GatewayCondition {
	for i := range s.GatewayConditions {
		if s.GatewayConditions[i].IsDefault {
			return &s.GatewayConditions[i]
		}
	}

	return nil
}

// DecisionLabels lists the labels a caller may supply as a gateway decision.
func (s *Step) DecisionLabels() []string {
	labels := make([]string, 0, len(s.GatewayConditions))
	for _, c := range s.GatewayConditions {
		labels = append(labels, c.Label)
	}

	return labels
}

// Definition is an immutable, versioned description of one process type.
// Once an instance references a definition, edits must create a new version.
type Definition struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"     validate:"required"`
	Name        string    `json:"name"    validate:"required,min=3"`
	Description string    `json:"description"`
	Version     int       `json:"version" validate:"required,min=1"`
	Category    string    `json:"category,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	IsActive    bool      `json:"is_active"`
	IsDefault   bool      `json:"is_default"`
	UsageCount  int       `json:"usage_count"`
	Lanes       []Lane    `json:"lanes"`
	Steps       []*Step   `json:"steps" validate:"required,min=2"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StepByKey returns the step with the given key, nil when absent.
func (d *Definition) StepByKey(key string) *Step {
	for _, s := range d.Steps {
		if s.Key == key {
			return s
		}
	}

	return nil
}

// LaneByKey returns the lane with the given key, nil when absent.
func (d *Definition) LaneByKey(key string) *Lane {
	for i := range d.Lanes {
		if d.Lanes[i].Key == key {
			return &d.Lanes[i]
		}
	}

	return nil
}

// StartStep returns the definition's start step.
func (d *Definition) StartStep() *Step {
	for _, s := range d.Steps {
		if s.Type == StepTypeStart {
			return s
		}
	}

	return nil
}

// StepsByLane returns the steps owned by the given lane, in definition order.
func (d *Definition) StepsByLane(laneKey string) []*Step {
	steps := make([]*Step, 0)

	for _, s := range d.Steps {
		if s.LaneKey == laneKey {
			steps = append(steps, s)
		}
	}

	return steps
}

// Validate checks the structural invariants of the definition graph: unique
// step keys, known lanes, a start and an end step, every non-end step with a
// reachable successor, and gateways with exactly one default condition.
// Ambiguous gateways fail here rather than at execution time.
func (d *Definition) Validate() error {
	seen := make(map[string]bool, len(d.Steps))
	lanes := make(map[string]bool, len(d.Lanes))

	for _, l := range d.Lanes {
		lanes[l.Key] = true
	}

	var hasStart, hasEnd bool

	for _, s := range d.Steps {
		if seen[s.Key] {
			return fmt.Errorf("step %q: %w", s.Key, ErrDuplicateStepKey)
		}

		seen[s.Key] = true

		if s.LaneKey != "" && !lanes[s.LaneKey] {
			return fmt.Errorf("step %q lane %q: %w", s.Key, s.LaneKey, ErrUnknownLane)
		}

		switch s.Type {
		case StepTypeStart:
			hasStart = true
		case StepTypeEnd:
			hasEnd = true
		case StepTypeTask, StepTypeGateway:
		}
	}

	if !hasStart {
		return ErrNoStartStep
	}

	if !hasEnd {
		return ErrNoEndStep
	}

	for _, s := range d.Steps {
		if err := d.validateTransitions(s, seen); err != nil {
			return err
		}
	}

	return nil
}

func (d *Definition) validateTransitions(s *Step, known map[string]bool) error {
	if s.IsTerminal() {
		return nil
	}

	if s.IsGateway() {
		if len(s.GatewayConditions) == 0 {
			return fmt.Errorf("step %q: %w", s.Key, ErrGatewayNoConditions)
		}

		defaults := 0

		for _, c := range s.GatewayConditions {
			if !known[c.TargetStepKey] {
				return fmt.Errorf("step %q condition %q targets %q: %w", s.Key, c.Label, c.TargetStepKey, ErrUnknownNextStep)
			}

			if c.IsDefault {
				defaults++
			}
		}

		if defaults == 0 {
			return fmt.Errorf("step %q: %w", s.Key, ErrGatewayNoDefault)
		}

		if defaults > 1 {
			return fmt.Errorf("step %q: %w", s.Key, ErrGatewayManyDefaults)
		}

		return nil
	}

	if s.Next == "" {
		return fmt.Errorf("step %q: %w", s.Key, ErrMissingSuccessor)
	}

	if !known[s.Next] {
		return fmt.Errorf("step %q next %q: %w", s.Key, s.Next, ErrUnknownNextStep)
	}

	return nil
}
