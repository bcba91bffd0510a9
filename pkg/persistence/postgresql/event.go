package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/megicode/stepflow/pkg/models"
)

// EventRepository handles the append-only process event log.
type EventRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewEventRepository(db *sql.DB, logger *slog.Logger) *EventRepository {
	return &EventRepository{db: db, logger: logger}
}

const eventColumns = `
		id
	  , instance_id
	  , step_key
	  , type
	  , actor_id
	  , payload
	  , occurred_at
`

func (r *EventRepository) Append(ctx context.Context, event *models.Event) error {
	if event.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate event ID: %w", err)
		}

		event.ID = id.String()
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	query := `
		INSERT INTO process_events (id, instance_id, step_key, type, actor_id, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.db.ExecContext(ctx, query,
		event.ID, event.InstanceID, nullString(event.StepKey), event.Type,
		nullString(event.ActorID), payload, event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

func (r *EventRepository) ListByInstance(ctx context.Context, instanceID string) ([]*models.Event, error) {
	return r.list(ctx,
		`SELECT`+eventColumns+`FROM process_events WHERE instance_id = $1 ORDER BY occurred_at`, instanceID)
}

func (r *EventRepository) ListByTypeSince(ctx context.Context, types []models.EventType, since time.Time) ([]*models.Event, error) {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}

	return r.list(ctx,
		`SELECT`+eventColumns+`FROM process_events WHERE type = ANY($1) AND occurred_at >= $2 ORDER BY occurred_at DESC`,
		pq.Array(names), since)
}

func (r *EventRepository) LastForStep(ctx context.Context, instanceID, stepKey string, eventType models.EventType) (*models.Event, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT`+eventColumns+`FROM process_events
		WHERE instance_id = $1 AND step_key = $2 AND type = $3
		ORDER BY occurred_at DESC LIMIT 1`,
		instanceID, stepKey, eventType)

	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	return event, nil
}

func (r *EventRepository) list(ctx context.Context, query string, args ...any) ([]*models.Event, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	events := make([]*models.Event, 0)

	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		events = append(events, event)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

func scanEvent(row rowScanner) (*models.Event, error) {
	var (
		event   models.Event
		stepKey sql.NullString
		actorID sql.NullString
		payload []byte
	)

	err := row.Scan(&event.ID, &event.InstanceID, &stepKey, &event.Type, &actorID, &payload, &event.OccurredAt)
	if err != nil {
		return nil, err
	}

	event.StepKey = stepKey.String
	event.ActorID = actorID.String

	if len(payload) > 0 {
		err = json.Unmarshal(payload, &event.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal event payload: %w", err)
		}
	}

	return &event, nil
}
