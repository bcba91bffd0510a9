package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()

	ts, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)

	return ts
}

func TestAutomationRuleValidate(t *testing.T) {
	base := func() *AutomationRule {
		return &AutomationRule{
			ID:      "rule-1",
			Name:    "Notify on entry",
			Trigger: TriggerStepEntered,
			Conditions: []Condition{
				{Field: "deal_size", Operator: OpGreaterThan, Value: 100000},
			},
			Actions: []RuleAction{
				{Type: ActionSendNotification, Config: map[string]any{"recipient_role": "partner"}},
			},
			Enabled: true,
		}
	}

	t.Run("valid rule", func(t *testing.T) {
		require.NoError(t, base().Validate())
	})

	t.Run("unknown trigger", func(t *testing.T) {
		rule := base()
		rule.Trigger = "on_fire"
		assert.ErrorIs(t, rule.Validate(), ErrUnknownTrigger)
	})

	t.Run("unknown operator", func(t *testing.T) {
		rule := base()
		rule.Conditions[0].Operator = "matches"
		assert.ErrorIs(t, rule.Validate(), ErrUnknownOperator)
	})

	t.Run("no actions", func(t *testing.T) {
		rule := base()
		rule.Actions = nil
		assert.ErrorIs(t, rule.Validate(), ErrRuleNoActions)
	})

	t.Run("unknown action type", func(t *testing.T) {
		rule := base()
		rule.Actions[0].Type = "launch_rocket"
		assert.ErrorIs(t, rule.Validate(), ErrUnknownAction)
	})
}

func TestAutomationRuleAppliesToStep(t *testing.T) {
	step := &Step{Key: "screening", LaneKey: "analyst"}

	tests := []struct {
		name     string
		stepKeys []string
		laneKeys []string
		want     bool
	}{
		{name: "no filters matches everything", want: true},
		{name: "step filter matches", stepKeys: []string{"screening"}, want: true},
		{name: "step filter rejects", stepKeys: []string{"proposal"}, want: false},
		{name: "lane filter matches", laneKeys: []string{"analyst"}, want: true},
		{name: "lane filter rejects", laneKeys: []string{"partner"}, want: false},
		{name: "both filters must match", stepKeys: []string{"screening"}, laneKeys: []string{"partner"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := &AutomationRule{StepKeys: tt.stepKeys, LaneKeys: tt.laneKeys}
			assert.Equal(t, tt.want, rule.AppliesToStep(step))
		})
	}
}
