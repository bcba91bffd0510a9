// Package assignment picks assignees for manual steps. Role match against
// the step's participant is a hard filter; among eligible members the score
// balances current workload against skill overlap and continuity with the
// process so far.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/megicode/stepflow/pkg/eventbus"
	"github.com/megicode/stepflow/pkg/events"
	"github.com/megicode/stepflow/pkg/models"
	"github.com/megicode/stepflow/pkg/persistence"
	"github.com/megicode/stepflow/pkg/roster"
	"github.com/megicode/stepflow/pkg/services"
)

const (
	// skillBonusPerMatch is added once per declared skill the step requires
	// and the member lists.
	skillBonusPerMatch = 1.0
	// continuityBonus favors the previous assignee on this instance and the
	// user who started the process.
	continuityBonus = 2.0
)

// Service scores and records step assignments. It implements engine.Assigner.
type Service struct {
	persistence persistence.Persistence
	roster      roster.Provider
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
}

func NewService(
	store persistence.Persistence,
	provider roster.Provider,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Service {
	return &Service{
		persistence: store,
		roster:      provider,
		publisher:   publisher,
		logger:      logger.With("module", "assignment"),
	}
}

// RequiredRole resolves the participant role a step demands: the step's own
// participant, falling back to its lane's.
func RequiredRole(definition *models.Definition, step *models.Step) string {
	if step.Participant != "" {
		return step.Participant
	}

	if lane := definition.LaneByKey(step.LaneKey); lane != nil {
		return lane.Participant
	}

	return ""
}

// FindBestAssignee returns every eligible candidate ranked best-first.
// Returns services.ErrNoEligibleAssignee when nobody passes the hard
// filters.
func (s *Service) FindBestAssignee(
	ctx context.Context,
	definition *models.Definition,
	step *models.Step,
	instance *models.Instance,
) ([]*models.Candidate, error) {
	role := RequiredRole(definition, step)
	if role == models.ParticipantAutomation {
		return nil, fmt.Errorf("%w: step %q is automated", services.ErrNoEligibleAssignee, step.Key)
	}

	members, err := s.roster.ListMembers(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("failed to list team members: %w", err)
	}

	counts, err := s.persistence.Instances().CountActiveByAssignee(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load workload: %w", err)
	}

	previousAssignee := s.previousAssignee(ctx, instance)

	candidates := make([]*models.Candidate, 0, len(members))

	for _, member := range members {
		if !member.Available {
			continue
		}

		active := counts[member.UserID]
		if member.CapacityLimit > 0 && active >= member.CapacityLimit {
			continue
		}

		candidate := &models.Candidate{
			Member:          member,
			ActiveSteps:     active,
			WorkloadPenalty: -float64(active),
		}

		for _, skill := range step.RequiredSkills {
			if member.HasSkill(skill) {
				candidate.SkillBonus += skillBonusPerMatch
			}
		}

		if member.UserID == previousAssignee || member.UserID == instance.StartedByUserID {
			candidate.ContinuityBonus = continuityBonus
		}

		candidate.Score = candidate.WorkloadPenalty + candidate.SkillBonus + candidate.ContinuityBonus
		candidates = append(candidates, candidate)
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: role %q", services.ErrNoEligibleAssignee, role)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}

		if a.ActiveSteps != b.ActiveSteps {
			return a.ActiveSteps < b.ActiveSteps
		}

		return a.Member.UserID < b.Member.UserID
	})

	return candidates, nil
}

// PickAssignee returns the top-ranked candidate for a step on entry.
func (s *Service) PickAssignee(
	ctx context.Context,
	definition *models.Definition,
	step *models.Step,
	instance *models.Instance,
) (*models.Candidate, error) {
	candidates, err := s.FindBestAssignee(ctx, definition, step, instance)
	if err != nil {
		return nil, err
	}

	return candidates[0], nil
}

// AutoAssign scores candidates for the instance's active step and records
// the winner on it.
func (s *Service) AutoAssign(ctx context.Context, instanceID string) (*models.Candidate, error) {
	instance, active, step, definition, err := s.loadActiveStep(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	candidates, err := s.FindBestAssignee(ctx, definition, step, instance)
	if err != nil {
		return nil, err
	}

	winner := candidates[0]

	err = s.persistence.Instances().UpdateAssignment(ctx, active.ID, winner.Member.UserID)
	if err != nil {
		return nil, err
	}

	s.recordAssigned(ctx, instance, active, winner.Member.UserID, winner.Score, true)

	return winner, nil
}

// ManualAssignRequest assigns a specific user to the instance's active step.
// AdminOverride skips the role filter, never the availability check.
type ManualAssignRequest struct {
	InstanceID    string `validate:"required"`
	UserID        string `validate:"required"`
	AssignedBy    string
	AdminOverride bool
}

func (s *Service) ManualAssign(ctx context.Context, req ManualAssignRequest) error {
	if req.InstanceID == "" || req.UserID == "" {
		return services.NewValidationError("instance id and user id are required")
	}

	instance, active, step, definition, err := s.loadActiveStep(ctx, req.InstanceID)
	if err != nil {
		return err
	}

	member, err := s.eligibleMember(ctx, definition, step, req.UserID, req.AdminOverride)
	if err != nil {
		return err
	}

	err = s.persistence.Instances().UpdateAssignment(ctx, active.ID, member.UserID)
	if err != nil {
		return err
	}

	s.recordAssigned(ctx, instance, active, member.UserID, 0, false)

	return nil
}

// ReassignRequest moves the instance's active step to another user. A reason
// is mandatory for the audit trail.
type ReassignRequest struct {
	InstanceID    string `validate:"required"`
	ToUserID      string `validate:"required"`
	Reason        string `validate:"required"`
	ReassignedBy  string
	AdminOverride bool
}

func (s *Service) Reassign(ctx context.Context, req ReassignRequest) error {
	if req.InstanceID == "" || req.ToUserID == "" {
		return services.NewValidationError("instance id and target user id are required")
	}

	if strings.TrimSpace(req.Reason) == "" {
		return services.NewValidationError("reassignment requires a reason")
	}

	instance, active, step, definition, err := s.loadActiveStep(ctx, req.InstanceID)
	if err != nil {
		return err
	}

	member, err := s.eligibleMember(ctx, definition, step, req.ToUserID, req.AdminOverride)
	if err != nil {
		return err
	}

	fromUserID := active.AssignedToUserID

	err = s.persistence.Instances().UpdateAssignment(ctx, active.ID, member.UserID)
	if err != nil {
		return err
	}

	s.appendLog(ctx, instance, active.StepKey, models.EventStepReassigned, req.ReassignedBy, map[string]any{
		"step_instance_id": active.ID,
		"from_user_id":     fromUserID,
		"to_user_id":       member.UserID,
		"reason":           req.Reason,
	})
	s.publish(ctx, instance.ID, events.StepReassigned{
		BaseEvent:      events.NewBaseEvent(events.StepReassignedEvent, instance.ID),
		StepInstanceID: active.ID,
		StepKey:        active.StepKey,
		FromUserID:     fromUserID,
		ToUserID:       member.UserID,
		Reason:         req.Reason,
		ReassignedBy:   req.ReassignedBy,
	})

	return nil
}

// MemberWorkload is one row of the team workload overview.
type MemberWorkload struct {
	Member             *models.TeamMember `json:"member"`
	ActiveSteps        int                `json:"active_steps"`
	UtilizationPercent int                `json:"utilization_percent"`
}

// TeamWorkload reports each member's live active-step load. Utilization is
// relative to the member's capacity limit, zero when no limit is set.
func (s *Service) TeamWorkload(ctx context.Context, role string) ([]*MemberWorkload, error) {
	members, err := s.roster.ListMembers(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("failed to list team members: %w", err)
	}

	counts, err := s.persistence.Instances().CountActiveByAssignee(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load workload: %w", err)
	}

	overview := make([]*MemberWorkload, 0, len(members))

	for _, member := range members {
		row := &MemberWorkload{
			Member:      member,
			ActiveSteps: counts[member.UserID],
		}

		if member.CapacityLimit > 0 {
			row.UtilizationPercent = row.ActiveSteps * 100 / member.CapacityLimit
		}

		overview = append(overview, row)
	}

	sort.Slice(overview, func(i, j int) bool {
		if overview[i].ActiveSteps != overview[j].ActiveSteps {
			return overview[i].ActiveSteps > overview[j].ActiveSteps
		}

		return overview[i].Member.UserID < overview[j].Member.UserID
	})

	return overview, nil
}

func (s *Service) loadActiveStep(ctx context.Context, instanceID string) (
	*models.Instance, *models.StepInstance, *models.Step, *models.Definition, error,
) {
	instance, err := s.persistence.Instances().GetByID(ctx, instanceID)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	if !instance.IsRunning() {
		return nil, nil, nil, nil, fmt.Errorf("%w: instance %s is %s",
			services.ErrInstanceNotRunning, instance.ID, instance.Status)
	}

	active, err := s.persistence.Instances().ActiveStepInstance(ctx, instanceID)
	if err != nil {
		if persistence.IsStepInstanceNotFound(err) {
			return nil, nil, nil, nil, fmt.Errorf("%w: no active step on instance %s",
				services.ErrStepNotActive, instanceID)
		}

		return nil, nil, nil, nil, err
	}

	definition, err := s.persistence.Definitions().GetByKeyVersion(ctx,
		instance.DefinitionKey, instance.DefinitionVersion)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	step := definition.StepByKey(active.StepKey)
	if step == nil {
		return nil, nil, nil, nil, fmt.Errorf("active step %q missing from definition %s",
			active.StepKey, definition.ID)
	}

	return instance, active, step, definition, nil
}

// eligibleMember enforces the hard filters for targeted assignment: the user
// must exist, be available, and match the step's role unless overridden.
func (s *Service) eligibleMember(
	ctx context.Context,
	definition *models.Definition,
	step *models.Step,
	userID string,
	adminOverride bool,
) (*models.TeamMember, error) {
	member, err := s.roster.GetMember(ctx, userID)
	if err != nil {
		if errors.Is(err, roster.ErrMemberNotFound) {
			return nil, services.NewValidationError(fmt.Sprintf("unknown team member %q", userID))
		}

		return nil, err
	}

	if !member.Available {
		return nil, fmt.Errorf("%w: %s", services.ErrAssigneeUnavailable, member.UserID)
	}

	role := RequiredRole(definition, step)
	if !adminOverride && role != "" && !strings.EqualFold(member.Role, role) {
		return nil, fmt.Errorf("%w: step %q needs role %q, %s has %q",
			services.ErrAssigneeRoleMismatch, step.Key, role, member.UserID, member.Role)
	}

	return member, nil
}

// previousAssignee is the user who last worked a completed step of this
// instance.
func (s *Service) previousAssignee(ctx context.Context, instance *models.Instance) string {
	steps, err := s.persistence.Instances().StepInstances(ctx, instance.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to load step history for continuity scoring",
			"instance_id", instance.ID, "error", err)

		return ""
	}

	previous := ""

	for _, step := range steps {
		if step.Status != models.StepStatusCompleted {
			continue
		}

		if step.CompletedByUserID != "" {
			previous = step.CompletedByUserID
		} else if step.AssignedToUserID != "" {
			previous = step.AssignedToUserID
		}
	}

	return previous
}

func (s *Service) recordAssigned(
	ctx context.Context,
	instance *models.Instance,
	active *models.StepInstance,
	userID string,
	score float64,
	automatic bool,
) {
	s.appendLog(ctx, instance, active.StepKey, models.EventStepAssigned, userID, map[string]any{
		"step_instance_id": active.ID,
		"assignee_id":      userID,
		"automatic":        automatic,
	})
	s.publish(ctx, instance.ID, events.StepAssigned{
		BaseEvent:      events.NewBaseEvent(events.StepAssignedEvent, instance.ID),
		StepInstanceID: active.ID,
		StepKey:        active.StepKey,
		AssigneeID:     userID,
		Score:          score,
		Automatic:      automatic,
	})
}

func (s *Service) appendLog(ctx context.Context, instance *models.Instance, stepKey string, eventType models.EventType, actorID string, payload map[string]any) {
	err := s.persistence.Events().Append(ctx, &models.Event{
		InstanceID: instance.ID,
		StepKey:    stepKey,
		Type:       eventType,
		ActorID:    actorID,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to append assignment event",
			"instance_id", instance.ID, "event_type", eventType, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, key string, event eventbus.Event) {
	if s.publisher == nil {
		return
	}

	err := s.publisher.Publish(ctx, key, event)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to publish assignment event", "error", err)
	}
}
