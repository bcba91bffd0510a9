package sla

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

// RuleService manages the SLA rule catalog.
type RuleService struct {
	repository persistence.SLARuleRepository
	validator  *validator.Validate
}

func NewRuleService(repository persistence.SLARuleRepository) *RuleService {
	return &RuleService{
		repository: repository,
		validator:  validator.New(),
	}
}

func (s *RuleService) List(ctx context.Context) ([]*models.SLARule, error) {
	return s.repository.List(ctx)
}

func (s *RuleService) GetByID(ctx context.Context, id string) (*models.SLARule, error) {
	return s.repository.GetByID(ctx, id)
}

// Save validates and persists a rule. New rules get an ID assigned.
func (s *RuleService) Save(ctx context.Context, rule *models.SLARule) error {
	if rule == nil {
		return services.NewValidationError("sla rule is required")
	}

	err := s.validator.Struct(rule)
	if err != nil {
		return fmt.Errorf("%w: %w", services.ErrInvalidRequest, err)
	}

	if rule.CriticalAfterMinutes <= rule.WarningAfterMinutes {
		return fmt.Errorf("%w: warning=%d critical=%d",
			services.ErrInvalidSLAThresholds, rule.WarningAfterMinutes, rule.CriticalAfterMinutes)
	}

	now := time.Now().UTC()

	if rule.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate rule id: %w", err)
		}

		rule.ID = id.String()
		rule.CreatedAt = now
	}

	rule.UpdatedAt = now

	return s.repository.Save(ctx, rule)
}

func (s *RuleService) Delete(ctx context.Context, id string) error {
	return s.repository.Delete(ctx, id)
}

// EnsureDefaults stores each seed rule whose ID is not present yet. Safe to
// call on every startup.
func (s *RuleService) EnsureDefaults(ctx context.Context, seeds ...*models.SLARule) error {
	for _, seed := range seeds {
		_, err := s.repository.GetByID(ctx, seed.ID)
		if err == nil {
			continue
		}

		if !persistence.IsSLARuleNotFound(err) {
			return err
		}

		if err := s.Save(ctx, seed); err != nil {
			return fmt.Errorf("failed to seed sla rule %s: %w", seed.ID, err)
		}
	}

	return nil
}

// SeedRules returns fresh copies of the built-in thresholds for the default
// client delivery process.
func SeedRules() []*models.SLARule {
	now := time.Now().UTC()

	return []*models.SLARule{
		{
			ID:                   "seed-sla-review",
			DefinitionKey:        "client_delivery",
			StepKey:              "review_request",
			WarningAfterMinutes:  240,
			CriticalAfterMinutes: 1440,
			RepeatAfterMinutes:   720,
			Enabled:              true,
			CreatedAt:            now,
			UpdatedAt:            now,
		},
		{
			ID:                   "seed-sla-development",
			DefinitionKey:        "client_delivery",
			StepKey:              "development",
			WarningAfterMinutes:  2400,
			CriticalAfterMinutes: 4800,
			Enabled:              true,
			CreatedAt:            now,
			UpdatedAt:            now,
		},
		{
			ID:                   "seed-sla-default",
			DefinitionKey:        "client_delivery",
			StepKey:              models.WildcardStepKey,
			WarningAfterMinutes:  1440,
			CriticalAfterMinutes: 2880,
			Enabled:              true,
			CreatedAt:            now,
			UpdatedAt:            now,
		},
	}
}
