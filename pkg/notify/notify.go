// Package notify carries the outbound side effects of automation and SLA
// escalation: notifications, follow-up tasks, delayed reminders and webhooks.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// Notification is one message to a user or a role.
type Notification struct {
	RecipientUserID string `json:"recipient_user_id,omitempty"`
	RecipientRole   string `json:"recipient_role,omitempty"`
	Subject         string `json:"subject,omitempty"`
	Message         string `json:"message"`
	InstanceID      string `json:"instance_id,omitempty"`
	StepKey         string `json:"step_key,omitempty"`
}

// Task is a follow-up work item created by a create_task action.
type Task struct {
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	AssigneeUserID string     `json:"assignee_user_id,omitempty"`
	AssigneeRole   string     `json:"assignee_role,omitempty"`
	InstanceID     string     `json:"instance_id,omitempty"`
	StepKey        string     `json:"step_key,omitempty"`
	DueAt          *time.Time `json:"due_at,omitempty"`
}

// Reminder is a delayed notification.
type Reminder struct {
	UserID     string    `json:"user_id,omitempty"`
	Message    string    `json:"message"`
	InstanceID string    `json:"instance_id,omitempty"`
	StepKey    string    `json:"step_key,omitempty"`
	DueAt      time.Time `json:"due_at"`
}

type Dispatcher interface {
	Notify(ctx context.Context, notification Notification) error
}

type TaskCreator interface {
	CreateTask(ctx context.Context, task Task) error
}

type ReminderScheduler interface {
	ScheduleReminder(ctx context.Context, reminder Reminder) error
}

// LogDispatcher writes notifications and tasks to the log. It is the default
// sink when no delivery channel is configured.
type LogDispatcher struct {
	logger *slog.Logger
}

func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Notify(ctx context.Context, notification Notification) error {
	d.logger.InfoContext(ctx, "notification dispatched",
		"recipient_user_id", notification.RecipientUserID,
		"recipient_role", notification.RecipientRole,
		"subject", notification.Subject,
		"instance_id", notification.InstanceID,
		"step_key", notification.StepKey,
	)

	return nil
}

func (d *LogDispatcher) CreateTask(ctx context.Context, task Task) error {
	d.logger.InfoContext(ctx, "task created",
		"title", task.Title,
		"assignee_user_id", task.AssigneeUserID,
		"assignee_role", task.AssigneeRole,
		"instance_id", task.InstanceID,
		"step_key", task.StepKey,
	)

	return nil
}

// ScheduleReminder logs the reminder immediately. Delayed delivery needs the
// Redis queue.
func (d *LogDispatcher) ScheduleReminder(ctx context.Context, reminder Reminder) error {
	d.logger.InfoContext(ctx, "reminder scheduled",
		"user_id", reminder.UserID,
		"due_at", reminder.DueAt,
		"instance_id", reminder.InstanceID,
		"step_key", reminder.StepKey,
	)

	return nil
}
