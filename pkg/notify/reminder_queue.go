package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const reminderQueueKey = "stepflow:reminders"

// RedisReminderQueue stores reminders in a sorted set scored by due time.
// Poll drains everything due at the poll instant and hands it to the
// dispatcher.
type RedisReminderQueue struct {
	client     redis.UniversalClient
	dispatcher Dispatcher
	logger     *slog.Logger
}

func NewRedisReminderQueue(client redis.UniversalClient, dispatcher Dispatcher, logger *slog.Logger) *RedisReminderQueue {
	return &RedisReminderQueue{
		client:     client,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

func (q *RedisReminderQueue) ScheduleReminder(ctx context.Context, reminder Reminder) error {
	payload, err := json.Marshal(reminder)
	if err != nil {
		return fmt.Errorf("failed to marshal reminder: %w", err)
	}

	err = q.client.ZAdd(ctx, reminderQueueKey, redis.Z{
		Score:  float64(reminder.DueAt.Unix()),
		Member: payload,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue reminder: %w", err)
	}

	q.logger.DebugContext(ctx, "reminder scheduled",
		"user_id", reminder.UserID, "due_at", reminder.DueAt, "instance_id", reminder.InstanceID)

	return nil
}

// Poll dispatches every reminder due by now and removes it from the queue.
// Returns the number of reminders delivered.
func (q *RedisReminderQueue) Poll(ctx context.Context, now time.Time) (int, error) {
	max := strconv.FormatInt(now.Unix(), 10)

	members, err := q.client.ZRangeByScore(ctx, reminderQueueKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: max,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read due reminders: %w", err)
	}

	delivered := 0

	for _, member := range members {
		var reminder Reminder

		err = json.Unmarshal([]byte(member), &reminder)
		if err != nil {
			q.logger.ErrorContext(ctx, "dropping malformed reminder", "error", err)
			_ = q.client.ZRem(ctx, reminderQueueKey, member).Err()

			continue
		}

		err = q.dispatcher.Notify(ctx, Notification{
			RecipientUserID: reminder.UserID,
			Subject:         "Reminder",
			Message:         reminder.Message,
			InstanceID:      reminder.InstanceID,
			StepKey:         reminder.StepKey,
		})
		if err != nil {
			// Leave it queued so the next poll retries.
			q.logger.ErrorContext(ctx, "failed to dispatch reminder", "error", err)

			continue
		}

		err = q.client.ZRem(ctx, reminderQueueKey, member).Err()
		if err != nil {
			q.logger.ErrorContext(ctx, "failed to dequeue reminder", "error", err)

			continue
		}

		delivered++
	}

	return delivered, nil
}

// Run polls on the given interval until the context ends.
func (q *RedisReminderQueue) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := q.Poll(ctx, time.Now().UTC())
			if err != nil {
				q.logger.ErrorContext(ctx, "reminder poll failed", "error", err)
			}
		}
	}
}
