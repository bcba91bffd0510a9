package automation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megicode/stepflow/pkg/models"
)

func renderInvocation() Invocation {
	return Invocation{
		Rule: &models.AutomationRule{ID: "r1", Name: "notify partner"},
		Instance: &models.Instance{
			ID:            "inst-1",
			DefinitionKey: "deal_flow",
			BusinessRef:   &models.BusinessRef{Kind: "deal", ID: "deal-42"},
			Context: models.ProcessContext{
				"client_name": "Acme",
				"amount":      float64(250000),
			},
		},
		Step: &models.Step{Key: "discovery", Title: "Discovery", LaneKey: "analyst"},
	}
}

func TestRenderTemplate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "no placeholders",
			input:    "plain text",
			expected: "plain text",
		},
		{
			name:     "execution fields",
			input:    "{{step_title}} on {{instance_id}} ({{definition_key}})",
			expected: "Discovery on inst-1 (deal_flow)",
		},
		{
			name:     "business ref",
			input:    "{{business_ref_kind}}/{{business_ref_id}}",
			expected: "deal/deal-42",
		},
		{
			name:     "process context",
			input:    "Review {{client_name}} worth {{amount}}",
			expected: "Review Acme worth 250000",
		},
		{
			name:     "unknown placeholder stays",
			input:    "hello {{nobody}}",
			expected: "hello {{nobody}}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, renderTemplate(tt.input, renderInvocation()))
		})
	}
}

func TestRenderTemplateContextShadowsExecutionFields(t *testing.T) {
	invocation := renderInvocation()
	invocation.Instance.Context["step_title"] = "Custom Title"

	assert.Equal(t, "Custom Title", renderTemplate("{{step_title}}", invocation))
}

func TestRenderTemplateNilValueIsEmpty(t *testing.T) {
	invocation := renderInvocation()
	invocation.Instance.Context["client_name"] = nil

	assert.Equal(t, "client ", renderTemplate("client {{client_name}}", invocation))
}

func TestNotificationHandlerRendersConfig(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	handler := NewNotificationHandler(dispatcher)

	err := handler.Execute(context.Background(), renderInvocation(), map[string]any{
		"recipient_role": "partner",
		"subject":        "{{rule_name}}",
		"message":        "Review {{step_title}} for {{client_name}}",
	})
	require.NoError(t, err)

	require.Len(t, dispatcher.notifications, 1)
	assert.Equal(t, "notify partner", dispatcher.notifications[0].Subject)
	assert.Equal(t, "Review Discovery for Acme", dispatcher.notifications[0].Message)
}
