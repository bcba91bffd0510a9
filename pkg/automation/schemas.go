package automation

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/megicode/stepflow/pkg/models"
	"github.com/megicode/stepflow/pkg/services"
)

// actionSchemas validates action configs at the storage boundary so a
// misconfigured rule is rejected on save, not at fire time.
var actionSchemas = map[models.ActionType]string{
	models.ActionSendNotification: `{
		"type": "object",
		"properties": {
			"recipient_user_id": {"type": "string"},
			"recipient_role": {"type": "string"},
			"subject": {"type": "string"},
			"message": {"type": "string", "minLength": 1}
		},
		"required": ["message"],
		"anyOf": [
			{"required": ["recipient_user_id"]},
			{"required": ["recipient_role"]}
		],
		"additionalProperties": false
	}`,
	models.ActionCreateTask: `{
		"type": "object",
		"properties": {
			"title": {"type": "string", "minLength": 1},
			"description": {"type": "string"},
			"assignee_user_id": {"type": "string"},
			"assignee_role": {"type": "string"},
			"due_in_minutes": {"type": "integer", "minimum": 1}
		},
		"required": ["title"],
		"additionalProperties": false
	}`,
	models.ActionScheduleReminder: `{
		"type": "object",
		"properties": {
			"remind_user_id": {"type": "string"},
			"message": {"type": "string", "minLength": 1},
			"delay_minutes": {"type": "integer", "minimum": 1}
		},
		"required": ["message", "delay_minutes"],
		"additionalProperties": false
	}`,
	models.ActionCallWebhook: `{
		"type": "object",
		"properties": {
			"url": {"type": "string", "minLength": 1},
			"method": {"type": "string", "enum": ["GET", "POST", "PUT", "PATCH", "DELETE"]},
			"headers": {"type": "object", "additionalProperties": {"type": "string"}},
			"retry_attempts": {"type": "integer", "minimum": 1, "maximum": 10},
			"retry_delay_seconds": {"type": "integer", "minimum": 0}
		},
		"required": ["url"],
		"additionalProperties": false
	}`,
	models.ActionAdvanceGateway: `{
		"type": "object",
		"properties": {
			"decision": {"type": "string"}
		},
		"additionalProperties": false
	}`,
}

// ValidateActionConfig checks an action's config against its schema.
func ValidateActionConfig(action models.RuleAction) error {
	schema, ok := actionSchemas[action.Type]
	if !ok {
		return fmt.Errorf("%w: unknown action type %q", services.ErrInvalidActionConfig, action.Type)
	}

	config := action.Config
	if config == nil {
		config = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewGoLoader(config),
	)
	if err != nil {
		return fmt.Errorf("failed to validate action config: %w", err)
	}

	if !result.Valid() {
		detail := ""
		for _, issue := range result.Errors() {
			if detail != "" {
				detail += "; "
			}

			detail += issue.String()
		}

		return fmt.Errorf("%w: %s: %s", services.ErrInvalidActionConfig, action.Type, detail)
	}

	return nil
}

// ValidateRuleActions validates every action on a rule.
func ValidateRuleActions(rule *models.AutomationRule) error {
	for _, action := range rule.Actions {
		err := ValidateActionConfig(action)
		if err != nil {
			return err
		}
	}

	return nil
}
