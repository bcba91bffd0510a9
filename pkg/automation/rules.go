package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/megicode/stepflow/pkg/models"
	"github.com/megicode/stepflow/pkg/persistence"
	"github.com/megicode/stepflow/pkg/services"
)

// RuleService manages the automation rule catalog. Rules are validated
// structurally and against the per-action JSON schemas before they reach
// storage, so the engine never loads a malformed rule.
type RuleService struct {
	repository persistence.RuleRepository
	validator  *validator.Validate
}

func NewRuleService(repository persistence.RuleRepository) *RuleService {
	return &RuleService{
		repository: repository,
		validator:  validator.New(),
	}
}

func (s *RuleService) List(ctx context.Context) ([]*models.AutomationRule, error) {
	return s.repository.List(ctx)
}

func (s *RuleService) GetByID(ctx context.Context, id string) (*models.AutomationRule, error) {
	return s.repository.GetByID(ctx, id)
}

// Save validates and persists a rule. New rules get an ID assigned. The
// IsSystem flag of stored rules cannot be changed through this service.
func (s *RuleService) Save(ctx context.Context, rule *models.AutomationRule) error {
	if rule == nil {
		return services.NewValidationError("automation rule is required")
	}

	if err := s.validator.Struct(rule); err != nil {
		return fmt.Errorf("%w: %w", services.ErrInvalidRequest, err)
	}

	if err := rule.Validate(); err != nil {
		return fmt.Errorf("%w: %w", services.ErrInvalidRequest, err)
	}

	if err := ValidateRuleActions(rule); err != nil {
		return err
	}

	now := time.Now().UTC()

	if rule.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate rule id: %w", err)
		}

		rule.ID = id.String()
		rule.CreatedAt = now
	} else if existing, err := s.repository.GetByID(ctx, rule.ID); err == nil {
		rule.IsSystem = existing.IsSystem
		rule.CreatedAt = existing.CreatedAt
	}

	rule.UpdatedAt = now

	return s.repository.Save(ctx, rule)
}

// Delete removes a rule. System rules can be disabled but never deleted.
func (s *RuleService) Delete(ctx context.Context, id string) error {
	rule, err := s.repository.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if rule.IsSystem {
		return fmt.Errorf("rule %s: %w", id, services.ErrSystemRuleImmutable)
	}

	return s.repository.Delete(ctx, id)
}

// SetEnabled toggles a rule without touching the rest of its shape.
func (s *RuleService) SetEnabled(ctx context.Context, id string, enabled bool) error {
	rule, err := s.repository.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if rule.Enabled == enabled {
		return nil
	}

	rule.Enabled = enabled
	rule.UpdatedAt = time.Now().UTC()

	return s.repository.Save(ctx, rule)
}

// EnsureDefaults stores each seed rule whose ID is not present yet. Safe to
// call on every startup.
func (s *RuleService) EnsureDefaults(ctx context.Context, seeds ...*models.AutomationRule) error {
	for _, seed := range seeds {
		_, err := s.repository.GetByID(ctx, seed.ID)
		if err == nil {
			continue
		}

		if !persistence.IsRuleNotFound(err) {
			return err
		}

		if err := s.Save(ctx, seed); err != nil {
			return fmt.Errorf("failed to seed rule %s: %w", seed.ID, err)
		}
	}

	return nil
}

// SeedRules returns fresh copies of the built-in rules for the default
// client delivery process.
func SeedRules() []*models.AutomationRule {
	now := time.Now().UTC()

	return []*models.AutomationRule{
		{
			ID:          "seed-notify-review",
			Name:        "Notify PM on new request",
			Description: "Tells the project-management role when a request reaches review.",
			Trigger:     models.TriggerStepEntered,
			Category:    models.CategoryNotification,
			StepKeys:    []string{"review_request"},
			Actions: []models.RuleAction{
				{
					Type: models.ActionSendNotification,
					Config: map[string]any{
						"recipient_role": "pm",
						"subject":        "New client request",
						"message":        "A new client request is waiting for review.",
					},
				},
			},
			Priority:  10,
			Enabled:   true,
			IsSystem:  true,
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:          "seed-feedback-reminder",
			Name:        "Remind client about feedback",
			Description: "Schedules a reminder when delivery waits on client feedback.",
			Trigger:     models.TriggerStepEntered,
			Category:    models.CategoryReminder,
			StepKeys:    []string{"client_feedback"},
			Actions: []models.RuleAction{
				{
					Type: models.ActionScheduleReminder,
					Config: map[string]any{
						"message":       "Your delivery is waiting for feedback.",
						"delay_minutes": 1440,
					},
				},
			},
			Priority:  20,
			Enabled:   true,
			IsSystem:  true,
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:          "seed-auto-approve-small",
			Name:        "Auto-approve small requests",
			Description: "Crosses the approval gateway automatically for small engagements.",
			Trigger:     models.TriggerStepEntered,
			Category:    models.CategoryRouting,
			StepKeys:    []string{"approval"},
			Expression:  "deal_size != nil && deal_size < 1000",
			Actions: []models.RuleAction{
				{
					Type: models.ActionAdvanceGateway,
					Config: map[string]any{
						"decision": "approved",
					},
				},
			},
			Priority:  30,
			Enabled:   false,
			IsSystem:  true,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}
