package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/megicode/stepflow/pkg/engine"
	"github.com/megicode/stepflow/pkg/models"
	"github.com/megicode/stepflow/pkg/notify"
	"github.com/megicode/stepflow/pkg/services"
)

// ProcessAdvancer completes a step on behalf of an automation rule. The
// execution engine satisfies it.
type ProcessAdvancer interface {
	ExecuteStep(ctx context.Context, req engine.ExecuteRequest) (*models.Instance, error)
}

// NotificationHandler dispatches send_notification actions.
type NotificationHandler struct {
	dispatcher notify.Dispatcher
}

func NewNotificationHandler(dispatcher notify.Dispatcher) *NotificationHandler {
	return &NotificationHandler{dispatcher: dispatcher}
}

func (h *NotificationHandler) Execute(ctx context.Context, invocation Invocation, config map[string]any) error {
	message, _ := config["message"].(string)
	if message == "" {
		return fmt.Errorf("%w: send_notification requires a message", services.ErrInvalidActionConfig)
	}

	notification := notify.Notification{
		RecipientUserID: stringValue(config, "recipient_user_id"),
		RecipientRole:   stringValue(config, "recipient_role"),
		Subject:         renderTemplate(stringValue(config, "subject"), invocation),
		Message:         renderTemplate(message, invocation),
		InstanceID:      invocation.Instance.ID,
		StepKey:         stepKey(invocation),
	}

	if notification.RecipientUserID == "" && notification.RecipientRole == "" {
		return fmt.Errorf("%w: send_notification requires a recipient", services.ErrInvalidActionConfig)
	}

	return h.dispatcher.Notify(ctx, notification)
}

// TaskHandler dispatches create_task actions.
type TaskHandler struct {
	creator notify.TaskCreator
}

func NewTaskHandler(creator notify.TaskCreator) *TaskHandler {
	return &TaskHandler{creator: creator}
}

func (h *TaskHandler) Execute(ctx context.Context, invocation Invocation, config map[string]any) error {
	title, _ := config["title"].(string)
	if title == "" {
		return fmt.Errorf("%w: create_task requires a title", services.ErrInvalidActionConfig)
	}

	task := notify.Task{
		Title:          renderTemplate(title, invocation),
		Description:    renderTemplate(stringValue(config, "description"), invocation),
		AssigneeUserID: stringValue(config, "assignee_user_id"),
		AssigneeRole:   stringValue(config, "assignee_role"),
		InstanceID:     invocation.Instance.ID,
		StepKey:        stepKey(invocation),
	}

	if minutes, ok := intValue(config, "due_in_minutes"); ok {
		due := time.Now().UTC().Add(time.Duration(minutes) * time.Minute)
		task.DueAt = &due
	}

	return h.creator.CreateTask(ctx, task)
}

// ReminderHandler dispatches schedule_reminder actions onto the delay queue.
type ReminderHandler struct {
	scheduler notify.ReminderScheduler
}

func NewReminderHandler(scheduler notify.ReminderScheduler) *ReminderHandler {
	return &ReminderHandler{scheduler: scheduler}
}

func (h *ReminderHandler) Execute(ctx context.Context, invocation Invocation, config map[string]any) error {
	message, _ := config["message"].(string)
	if message == "" {
		return fmt.Errorf("%w: schedule_reminder requires a message", services.ErrInvalidActionConfig)
	}

	minutes, ok := intValue(config, "delay_minutes")
	if !ok || minutes <= 0 {
		return fmt.Errorf("%w: schedule_reminder requires a positive delay_minutes", services.ErrInvalidActionConfig)
	}

	reminder := notify.Reminder{
		UserID:     stringValue(config, "remind_user_id"),
		Message:    renderTemplate(message, invocation),
		InstanceID: invocation.Instance.ID,
		StepKey:    stepKey(invocation),
		DueAt:      time.Now().UTC().Add(time.Duration(minutes) * time.Minute),
	}

	return h.scheduler.ScheduleReminder(ctx, reminder)
}

// WebhookHandler dispatches call_webhook actions.
type WebhookHandler struct {
	caller notify.WebhookCaller
}

func NewWebhookHandler(caller notify.WebhookCaller) *WebhookHandler {
	return &WebhookHandler{caller: caller}
}

func (h *WebhookHandler) Execute(ctx context.Context, invocation Invocation, config map[string]any) error {
	url, _ := config["url"].(string)
	if url == "" {
		return fmt.Errorf("%w: call_webhook requires a url", services.ErrInvalidActionConfig)
	}

	headers := make(map[string]string)

	if headersConfig, ok := config["headers"].(map[string]any); ok {
		for key, value := range headersConfig {
			if str, ok := value.(string); ok {
				headers[key] = str
			}
		}
	}

	payload := map[string]any{
		"instance_id":    invocation.Instance.ID,
		"definition_key": invocation.Instance.DefinitionKey,
		"step_key":       stepKey(invocation),
		"trigger":        string(invocation.Trigger),
		"rule_id":        invocation.Rule.ID,
		"context":        map[string]any(invocation.Instance.Context),
	}

	call := notify.WebhookCall{
		URL:     renderTemplate(url, invocation),
		Method:  stringValue(config, "method"),
		Headers: headers,
		Payload: payload,
	}

	if attempts, ok := intValue(config, "retry_attempts"); ok {
		call.RetryAttempts = attempts
	}

	if delay, ok := intValue(config, "retry_delay_seconds"); ok {
		call.RetryDelay = time.Duration(delay) * time.Second
	}

	return h.caller.CallWebhook(ctx, call)
}

// GatewayHandler dispatches advance_gateway actions: it completes the
// instance's active gateway with the configured decision, or the default
// condition when none is configured.
type GatewayHandler struct {
	advancer ProcessAdvancer
}

func NewGatewayHandler(advancer ProcessAdvancer) *GatewayHandler {
	return &GatewayHandler{advancer: advancer}
}

func (h *GatewayHandler) Execute(ctx context.Context, invocation Invocation, config map[string]any) error {
	if invocation.Step == nil || !invocation.Step.IsGateway() {
		return fmt.Errorf("%w: advance_gateway fired outside a gateway step", services.ErrInvalidActionConfig)
	}

	decision := stringValue(config, "decision")
	if decision == "" {
		fallback := invocation.Step.DefaultCondition()
		if fallback == nil {
			return fmt.Errorf("%w: advance_gateway has no decision and the gateway has no default", services.ErrInvalidActionConfig)
		}

		decision = fallback.Label
	}

	_, err := h.advancer.ExecuteStep(ctx, engine.ExecuteRequest{
		InstanceID: invocation.Instance.ID,
		StepKey:    invocation.Step.Key,
		Decision:   decision,
	})

	return err
}

func stringValue(config map[string]any, key string) string {
	value, _ := config[key].(string)

	return value
}

// intValue reads a numeric config value across the representations JSON
// decoding produces.
func intValue(config map[string]any, key string) (int, bool) {
	switch v := config[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func stepKey(invocation Invocation) string {
	if invocation.Step == nil {
		return ""
	}

	return invocation.Step.Key
}
