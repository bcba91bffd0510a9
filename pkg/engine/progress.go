package engine

import (
	"context"

	"github.com/megicode/stepflow/pkg/models"
)

// StepProgress is the per-step view of an instance's history.
type StepProgress struct {
	StepKey         string                    `json:"step_key"`
	Title           string                    `json:"title"`
	LaneKey         string                    `json:"lane_key"`
	Status          models.StepInstanceStatus `json:"status"`
	AssignedTo      string                    `json:"assigned_to,omitempty"`
	DurationMinutes int                       `json:"duration_minutes,omitempty"`
}

// ProcessProgress summarizes how far an instance has moved through its
// definition.
type ProcessProgress struct {
	InstanceID      string                `json:"instance_id"`
	Status          models.InstanceStatus `json:"status"`
	CurrentStepKey  string                `json:"current_step_key,omitempty"`
	TotalSteps      int                   `json:"total_steps"`
	CompletedSteps  int                   `json:"completed_steps"`
	PercentComplete int                   `json:"percent_complete"`
	Steps           []StepProgress        `json:"steps"`
}

// Progress reports step-by-step progress for one instance. Start and end
// steps are excluded from the percentage; they never need human work.
func (e *Engine) Progress(ctx context.Context, instanceID string) (*ProcessProgress, error) {
	instance, err := e.persistence.Instances().GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	definition, err := e.persistence.Definitions().GetByKeyVersion(ctx, instance.DefinitionKey, instance.DefinitionVersion)
	if err != nil {
		return nil, err
	}

	stepInstances, err := e.persistence.Instances().StepInstances(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]*models.StepInstance, len(stepInstances))
	for _, si := range stepInstances {
		byKey[si.StepKey] = si
	}

	progress := &ProcessProgress{
		InstanceID:     instance.ID,
		Status:         instance.Status,
		CurrentStepKey: instance.CurrentStepKey,
	}

	for _, step := range definition.Steps {

		entry := StepProgress{
			StepKey: step.Key,
			Title:   step.Title,
			LaneKey: step.LaneKey,
			Status:  models.StepStatusPending,
		}

		if si, ok := byKey[step.Key]; ok {
			entry.Status = si.Status
			entry.AssignedTo = si.AssignedToUserID

			if minutes, ok := si.DurationMinutes(); ok {
				entry.DurationMinutes = minutes
			}
		}

		if step.Type == models.StepTypeTask || step.IsGateway() {
			progress.TotalSteps++

			if entry.Status == models.StepStatusCompleted || entry.Status == models.StepStatusSkipped {
				progress.CompletedSteps++
			}
		}

		progress.Steps = append(progress.Steps, entry)
	}

	if progress.TotalSteps > 0 {
		progress.PercentComplete = progress.CompletedSteps * 100 / progress.TotalSteps
	}

	if instance.Status == models.InstanceStatusCompleted {
		progress.PercentComplete = 100
	}

	return progress, nil
}
