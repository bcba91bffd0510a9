package automation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megicode/stepflow/pkg/models"
	"github.com/megicode/stepflow/pkg/persistence"
	"github.com/megicode/stepflow/pkg/persistence/memory"
	"github.com/megicode/stepflow/pkg/services"
)

func newRuleService(t *testing.T) *RuleService {
	t.Helper()

	return NewRuleService(memory.NewPersistence().Rules())
}

func notifyRule() *models.AutomationRule {
	return &models.AutomationRule{
		Name:    "Notify on proposal",
		Trigger: models.TriggerStepEntered,
		Actions: []models.RuleAction{
			{
				Type: models.ActionSendNotification,
				Config: map[string]any{
					"recipient_role": "partner",
					"message":        "A proposal needs attention.",
				},
			},
		},
		Enabled: true,
	}
}

func TestRuleServiceSaveAssignsID(t *testing.T) {
	svc := newRuleService(t)
	ctx := context.Background()

	rule := notifyRule()
	require.NoError(t, svc.Save(ctx, rule))
	assert.NotEmpty(t, rule.ID)
	assert.False(t, rule.CreatedAt.IsZero())

	stored, err := svc.GetByID(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "Notify on proposal", stored.Name)
}

func TestRuleServiceSaveRejectsBadActionConfig(t *testing.T) {
	svc := newRuleService(t)

	rule := notifyRule()
	rule.Actions[0].Config = map[string]any{"message": "no recipient"}

	err := svc.Save(context.Background(), rule)
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrInvalidActionConfig)
	assert.True(t, services.IsConfigurationError(err))
}

func TestRuleServiceSaveRejectsUnknownTrigger(t *testing.T) {
	svc := newRuleService(t)

	rule := notifyRule()
	rule.Trigger = "on_full_moon"

	err := svc.Save(context.Background(), rule)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUnknownTrigger)
	assert.True(t, services.IsValidationError(err))
}

func TestRuleServiceDeleteProtectsSystemRules(t *testing.T) {
	svc := newRuleService(t)
	ctx := context.Background()

	require.NoError(t, svc.EnsureDefaults(ctx, SeedRules()...))

	err := svc.Delete(ctx, "seed-notify-review")
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrSystemRuleImmutable)

	// Disabling a system rule is allowed.
	require.NoError(t, svc.SetEnabled(ctx, "seed-notify-review", false))

	stored, err := svc.GetByID(ctx, "seed-notify-review")
	require.NoError(t, err)
	assert.False(t, stored.Enabled)

	rule := notifyRule()
	require.NoError(t, svc.Save(ctx, rule))
	require.NoError(t, svc.Delete(ctx, rule.ID))

	_, err = svc.GetByID(ctx, rule.ID)
	assert.True(t, persistence.IsRuleNotFound(err))
}

func TestRuleServiceSavePreservesSystemFlag(t *testing.T) {
	svc := newRuleService(t)
	ctx := context.Background()

	require.NoError(t, svc.EnsureDefaults(ctx, SeedRules()...))

	edited, err := svc.GetByID(ctx, "seed-notify-review")
	require.NoError(t, err)

	edited.IsSystem = false
	edited.Priority = 99
	require.NoError(t, svc.Save(ctx, edited))

	stored, err := svc.GetByID(ctx, "seed-notify-review")
	require.NoError(t, err)
	assert.True(t, stored.IsSystem)
	assert.Equal(t, 99, stored.Priority)
}

func TestSeedRulesAreValid(t *testing.T) {
	svc := newRuleService(t)
	ctx := context.Background()

	require.NoError(t, svc.EnsureDefaults(ctx, SeedRules()...))
	require.NoError(t, svc.EnsureDefaults(ctx, SeedRules()...))

	rules, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, 3)
}
