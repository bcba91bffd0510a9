package automation

import (
	"fmt"
	"strings"
	"time"
)

// renderConfig renders every string value of an action config, producing the
// payload the action handler would receive. Non-string values pass through.
func renderConfig(config map[string]any, invocation Invocation) map[string]any {
	rendered := make(map[string]any, len(config))

	for key, value := range config {
		if text, ok := value.(string); ok {
			rendered[key] = renderTemplate(text, invocation)

			continue
		}

		rendered[key] = value
	}

	return rendered
}

// renderTemplate substitutes {{field}} placeholders in action config strings.
// Execution fields come first, then the process context, so business data can
// shadow a built-in of the same name. Unknown placeholders stay untouched.
func renderTemplate(input string, invocation Invocation) string {
	if !strings.Contains(input, "{{") {
		return input
	}

	result := input
	for key, value := range renderData(invocation) {
		result = strings.ReplaceAll(result, "{{"+key+"}}", formatValue(value))
	}

	return result
}

func renderData(invocation Invocation) map[string]any {
	data := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if invocation.Rule != nil {
		data["rule_name"] = invocation.Rule.Name
	}

	if invocation.Instance != nil {
		data["instance_id"] = invocation.Instance.ID
		data["definition_key"] = invocation.Instance.DefinitionKey

		if ref := invocation.Instance.BusinessRef; ref != nil {
			data["business_ref_kind"] = ref.Kind
			data["business_ref_id"] = ref.ID
		}
	}

	if invocation.Step != nil {
		data["step_key"] = invocation.Step.Key
		data["step_title"] = invocation.Step.Title
		data["lane_key"] = invocation.Step.LaneKey
	}

	if invocation.Decision != "" {
		data["decision"] = invocation.Decision
	}

	if invocation.Instance != nil {
		for key, value := range invocation.Instance.Context {
			data[key] = value
		}
	}

	return data
}

func formatValue(value any) string {
	if value == nil {
		return ""
	}

	return fmt.Sprintf("%v", value)
}
