package automation

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megicode/stepflow/pkg/models"
)

func TestEvaluateConditions(t *testing.T) {
	processContext := models.ProcessContext{
		"deal_size":  float64(250000),
		"stage":      "discovery",
		"tags":       []any{"inbound", "priority"},
		"notes":      "",
		"account_id": "acc-1",
	}

	tests := []struct {
		name      string
		condition models.Condition
		want      bool
	}{
		{"equals matches string", models.Condition{Field: "stage", Operator: models.OpEquals, Value: "discovery"}, true},
		{"equals rejects mismatch", models.Condition{Field: "stage", Operator: models.OpEquals, Value: "closed"}, false},
		{"equals matches across numeric types", models.Condition{Field: "deal_size", Operator: models.OpEquals, Value: 250000}, true},
		{"not_equals", models.Condition{Field: "stage", Operator: models.OpNotEquals, Value: "closed"}, true},
		{"not_equals on missing field", models.Condition{Field: "ghost", Operator: models.OpNotEquals, Value: "x"}, true},
		{"greater_than", models.Condition{Field: "deal_size", Operator: models.OpGreaterThan, Value: 100000}, true},
		{"greater_than rejects equal", models.Condition{Field: "deal_size", Operator: models.OpGreaterThan, Value: float64(250000)}, false},
		{"less_than", models.Condition{Field: "deal_size", Operator: models.OpLessThan, Value: 500000}, true},
		{"greater_than rejects non-numeric", models.Condition{Field: "stage", Operator: models.OpGreaterThan, Value: 1}, false},
		{"contains in string", models.Condition{Field: "stage", Operator: models.OpContains, Value: "disc"}, true},
		{"contains in list", models.Condition{Field: "tags", Operator: models.OpContains, Value: "priority"}, true},
		{"contains rejects absent item", models.Condition{Field: "tags", Operator: models.OpContains, Value: "outbound"}, false},
		{"not_empty", models.Condition{Field: "account_id", Operator: models.OpNotEmpty}, true},
		{"not_empty rejects empty string", models.Condition{Field: "notes", Operator: models.OpNotEmpty}, false},
		{"is_empty on empty string", models.Condition{Field: "notes", Operator: models.OpIsEmpty}, true},
		{"is_empty on missing field", models.Condition{Field: "ghost", Operator: models.OpIsEmpty}, true},
		{"missing field fails equals", models.Condition{Field: "ghost", Operator: models.OpEquals, Value: "x"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateConditions([]models.Condition{tt.condition}, processContext, slog.Default())
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("all conditions must hold", func(t *testing.T) {
		conditions := []models.Condition{
			{Field: "stage", Operator: models.OpEquals, Value: "discovery"},
			{Field: "deal_size", Operator: models.OpGreaterThan, Value: 999999999},
		}
		assert.False(t, EvaluateConditions(conditions, processContext, slog.Default()))
	})

	t.Run("empty condition list matches", func(t *testing.T) {
		assert.True(t, EvaluateConditions(nil, processContext, slog.Default()))
	})

	t.Run("unknown operator warns and rejects", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))

		conditions := []models.Condition{{Field: "stage", Operator: "sounds_like", Value: "discovery"}}
		assert.False(t, EvaluateConditions(conditions, processContext, logger))
		assert.Contains(t, buf.String(), "unknown condition operator")
		assert.Contains(t, buf.String(), "sounds_like")
	})
}

func TestExpressionEvaluator(t *testing.T) {
	evaluator := NewExpressionEvaluator()

	processContext := models.ProcessContext{
		"deal_size": float64(250000),
		"stage":     "discovery",
	}

	t.Run("boolean expression", func(t *testing.T) {
		result, err := evaluator.Evaluate(`deal_size > 100000 && stage == "discovery"`, processContext)
		require.NoError(t, err)
		assert.True(t, result)
	})

	t.Run("false expression", func(t *testing.T) {
		result, err := evaluator.Evaluate(`deal_size > 1000000`, processContext)
		require.NoError(t, err)
		assert.False(t, result)
	})

	t.Run("empty expression matches", func(t *testing.T) {
		result, err := evaluator.Evaluate("", processContext)
		require.NoError(t, err)
		assert.True(t, result)
	})

	t.Run("non-boolean result rejected", func(t *testing.T) {
		_, err := evaluator.Evaluate(`deal_size + 1`, processContext)
		require.Error(t, err)
	})

	t.Run("compile error surfaces", func(t *testing.T) {
		_, err := evaluator.Evaluate(`deal_size >`, processContext)
		require.Error(t, err)
	})
}

func TestValidateActionConfig(t *testing.T) {
	tests := []struct {
		name    string
		action  models.RuleAction
		wantErr bool
	}{
		{
			name: "valid notification",
			action: models.RuleAction{Type: models.ActionSendNotification, Config: map[string]any{
				"recipient_role": "partner", "message": "deal needs review",
			}},
		},
		{
			name:    "notification without recipient",
			action:  models.RuleAction{Type: models.ActionSendNotification, Config: map[string]any{"message": "hi"}},
			wantErr: true,
		},
		{
			name:    "task without title",
			action:  models.RuleAction{Type: models.ActionCreateTask, Config: map[string]any{"description": "x"}},
			wantErr: true,
		},
		{
			name: "valid reminder",
			action: models.RuleAction{Type: models.ActionScheduleReminder, Config: map[string]any{
				"message": "follow up", "delay_minutes": 30,
			}},
		},
		{
			name:    "reminder with zero delay",
			action:  models.RuleAction{Type: models.ActionScheduleReminder, Config: map[string]any{"message": "x", "delay_minutes": 0}},
			wantErr: true,
		},
		{
			name:    "webhook with bad method",
			action:  models.RuleAction{Type: models.ActionCallWebhook, Config: map[string]any{"url": "https://example.com", "method": "YEET"}},
			wantErr: true,
		},
		{
			name:   "gateway with no config",
			action: models.RuleAction{Type: models.ActionAdvanceGateway},
		},
		{
			name:    "unknown action type",
			action:  models.RuleAction{Type: "launch_rocket"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateActionConfig(tt.action)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
