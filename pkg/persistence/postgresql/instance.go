package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/megicode/stepflow/pkg/models"
	"github.com/megicode/stepflow/pkg/persistence"
)

// InstanceRepository handles process instance and step instance operations.
// CompleteStepInstance is the conflict guard: the UPDATE is conditioned on
// the row still being active.
type InstanceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewInstanceRepository(db *sql.DB, logger *slog.Logger) *InstanceRepository {
	return &InstanceRepository{db: db, logger: logger}
}

const instanceColumns = `
		id
	  , definition_id
	  , definition_key
	  , definition_version
	  , business_ref_kind
	  , business_ref_id
	  , status
	  , current_step_key
	  , context
	  , started_by_user_id
	  , started_at
	  , ended_at
	  , cancel_reason
`

func (r *InstanceRepository) Create(ctx context.Context, instance *models.Instance) error {
	contextJSON, err := marshalContext(instance.Context)
	if err != nil {
		return err
	}

	refKind, refID := "", ""
	if instance.BusinessRef != nil {
		refKind, refID = instance.BusinessRef.Kind, instance.BusinessRef.ID
	}

	query := `
		INSERT INTO instances (
			id, definition_id, definition_key, definition_version,
			business_ref_kind, business_ref_id, status, current_step_key,
			context, started_by_user_id, started_at, ended_at, cancel_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = r.db.ExecContext(ctx, query,
		instance.ID, instance.DefinitionID, instance.DefinitionKey, instance.DefinitionVersion,
		nullString(refKind), nullString(refID), instance.Status,
		nullString(instance.CurrentStepKey), contextJSON,
		nullString(instance.StartedByUserID), instance.StartedAt,
		instance.EndedAt, nullString(instance.CancelReason),
	)
	if err != nil {
		return persistence.NewInstanceError("Create", instance.ID, err)
	}

	return nil
}

func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.Instance, error) {
	row := r.db.QueryRowContext(ctx, `SELECT`+instanceColumns+`FROM instances WHERE id = $1`, id)

	instance, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewInstanceError("GetByID", id, persistence.ErrInstanceNotFound)
		}

		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}

	return instance, nil
}

func (r *InstanceRepository) ListByStatus(ctx context.Context, status models.InstanceStatus) ([]*models.Instance, error) {
	return r.list(ctx, `SELECT`+instanceColumns+`FROM instances WHERE status = $1 ORDER BY started_at DESC`, status)
}

func (r *InstanceRepository) ListByBusinessRef(ctx context.Context, kind, id string) ([]*models.Instance, error) {
	return r.list(ctx,
		`SELECT`+instanceColumns+`FROM instances WHERE business_ref_kind = $1 AND business_ref_id = $2 ORDER BY started_at DESC`,
		kind, id)
}

func (r *InstanceRepository) list(ctx context.Context, query string, args ...any) ([]*models.Instance, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}

	defer r.closeRows(ctx, rows)

	instances := make([]*models.Instance, 0)

	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}

		instances = append(instances, instance)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}

	return instances, nil
}

func (r *InstanceRepository) Save(ctx context.Context, instance *models.Instance) error {
	contextJSON, err := marshalContext(instance.Context)
	if err != nil {
		return err
	}

	query := `
		UPDATE instances SET
			status = $2,
			current_step_key = $3,
			context = $4,
			ended_at = $5,
			cancel_reason = $6
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		instance.ID, instance.Status, nullString(instance.CurrentStepKey),
		contextJSON, instance.EndedAt, nullString(instance.CancelReason),
	)
	if err != nil {
		return persistence.NewInstanceError("Save", instance.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.NewInstanceError("Save", instance.ID, persistence.ErrInstanceNotFound)
	}

	return nil
}

const stepInstanceColumns = `
		id
	  , instance_id
	  , step_key
	  , status
	  , assigned_to_user_id
	  , completed_by_user_id
	  , gateway_decision
	  , output
	  , notes
	  , started_at
	  , completed_at
`

func (r *InstanceRepository) CreateStepInstance(ctx context.Context, step *models.StepInstance) error {
	output, err := json.Marshal(step.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal step output: %w", err)
	}

	query := `
		INSERT INTO step_instances (
			id, instance_id, step_key, status, assigned_to_user_id,
			completed_by_user_id, gateway_decision, output, notes,
			started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.db.ExecContext(ctx, query,
		step.ID, step.InstanceID, step.StepKey, step.Status,
		nullString(step.AssignedToUserID), nullString(step.CompletedByUserID),
		nullString(step.GatewayDecision), output, nullString(step.Notes),
		step.StartedAt, step.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create step instance: %w", err)
	}

	return nil
}

func (r *InstanceRepository) StepInstanceByID(ctx context.Context, id string) (*models.StepInstance, error) {
	row := r.db.QueryRowContext(ctx, `SELECT`+stepInstanceColumns+`FROM step_instances WHERE id = $1`, id)

	step, err := scanStepInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrStepInstanceNotFound
		}

		return nil, fmt.Errorf("failed to scan step instance: %w", err)
	}

	return step, nil
}

func (r *InstanceRepository) ActiveStepInstance(ctx context.Context, instanceID string) (*models.StepInstance, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT`+stepInstanceColumns+`FROM step_instances WHERE instance_id = $1 AND status = 'active'`, instanceID)

	step, err := scanStepInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrStepInstanceNotFound
		}

		return nil, fmt.Errorf("failed to scan step instance: %w", err)
	}

	return step, nil
}

func (r *InstanceRepository) StepInstances(ctx context.Context, instanceID string) ([]*models.StepInstance, error) {
	return r.listSteps(ctx,
		`SELECT`+stepInstanceColumns+`FROM step_instances WHERE instance_id = $1 ORDER BY started_at`, instanceID)
}

func (r *InstanceRepository) ListActiveStepInstances(ctx context.Context) ([]*models.StepInstance, error) {
	return r.listSteps(ctx,
		`SELECT`+stepInstanceColumns+`FROM step_instances WHERE status = 'active' ORDER BY started_at`)
}

func (r *InstanceRepository) ListCompletedSince(ctx context.Context, since time.Time) ([]*models.StepInstance, error) {
	return r.listSteps(ctx,
		`SELECT`+stepInstanceColumns+`FROM step_instances WHERE status = 'completed' AND completed_at >= $1 ORDER BY completed_at`,
		since)
}

func (r *InstanceRepository) listSteps(ctx context.Context, query string, args ...any) ([]*models.StepInstance, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query step instances: %w", err)
	}

	defer r.closeRows(ctx, rows)

	steps := make([]*models.StepInstance, 0)

	for rows.Next() {
		step, err := scanStepInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step instance: %w", err)
		}

		steps = append(steps, step)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating step instances: %w", err)
	}

	return steps, nil
}

func (r *InstanceRepository) CompleteStepInstance(ctx context.Context, stepInstanceID string, completion persistence.StepCompletion) (bool, error) {
	output, err := json.Marshal(completion.Output)
	if err != nil {
		return false, fmt.Errorf("failed to marshal step output: %w", err)
	}

	query := `
		UPDATE step_instances SET
			status = $2,
			completed_by_user_id = $3,
			gateway_decision = $4,
			output = $5,
			notes = $6,
			completed_at = $7
		WHERE id = $1 AND status = 'active'
	`

	result, err := r.db.ExecContext(ctx, query,
		stepInstanceID, completion.Status, nullString(completion.CompletedByUserID),
		nullString(completion.GatewayDecision), output, nullString(completion.Notes),
		completion.CompletedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to complete step instance: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return affected == 1, nil
}

func (r *InstanceRepository) UpdateAssignment(ctx context.Context, stepInstanceID, userID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE step_instances SET assigned_to_user_id = $2 WHERE id = $1`,
		stepInstanceID, nullString(userID))
	if err != nil {
		return fmt.Errorf("failed to update assignment: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.ErrStepInstanceNotFound
	}

	return nil
}

func (r *InstanceRepository) CountActiveByAssignee(ctx context.Context) (map[string]int, error) {
	query := `
		SELECT assigned_to_user_id, COUNT(*)
		FROM step_instances
		WHERE status = 'active' AND assigned_to_user_id IS NOT NULL
		GROUP BY assigned_to_user_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query workload: %w", err)
	}

	defer r.closeRows(ctx, rows)

	counts := make(map[string]int)

	for rows.Next() {
		var (
			userID string
			count  int
		)

		err = rows.Scan(&userID, &count)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workload row: %w", err)
		}

		counts[userID] = count
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workload rows: %w", err)
	}

	return counts, nil
}

func (r *InstanceRepository) closeRows(ctx context.Context, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

func scanInstance(row rowScanner) (*models.Instance, error) {
	var (
		instance       models.Instance
		refKind        sql.NullString
		refID          sql.NullString
		currentStepKey sql.NullString
		contextJSON    []byte
		startedBy      sql.NullString
		endedAt        sql.NullTime
		cancelReason   sql.NullString
	)

	err := row.Scan(
		&instance.ID, &instance.DefinitionID, &instance.DefinitionKey,
		&instance.DefinitionVersion, &refKind, &refID, &instance.Status,
		&currentStepKey, &contextJSON, &startedBy, &instance.StartedAt,
		&endedAt, &cancelReason,
	)
	if err != nil {
		return nil, err
	}

	if refKind.Valid {
		instance.BusinessRef = &models.BusinessRef{Kind: refKind.String, ID: refID.String}
	}

	instance.CurrentStepKey = currentStepKey.String
	instance.StartedByUserID = startedBy.String
	instance.CancelReason = cancelReason.String

	if endedAt.Valid {
		instance.EndedAt = &endedAt.Time
	}

	if len(contextJSON) > 0 {
		err = json.Unmarshal(contextJSON, &instance.Context)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal context: %w", err)
		}
	}

	return &instance, nil
}

func scanStepInstance(row rowScanner) (*models.StepInstance, error) {
	var (
		step        models.StepInstance
		assignedTo  sql.NullString
		completedBy sql.NullString
		decision    sql.NullString
		output      []byte
		notes       sql.NullString
		completedAt sql.NullTime
	)

	err := row.Scan(
		&step.ID, &step.InstanceID, &step.StepKey, &step.Status,
		&assignedTo, &completedBy, &decision, &output, &notes,
		&step.StartedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	step.AssignedToUserID = assignedTo.String
	step.CompletedByUserID = completedBy.String
	step.GatewayDecision = decision.String
	step.Notes = notes.String

	if completedAt.Valid {
		step.CompletedAt = &completedAt.Time
	}

	if len(output) > 0 {
		err = json.Unmarshal(output, &step.Output)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal step output: %w", err)
		}
	}

	return &step, nil
}

func marshalContext(processContext models.ProcessContext) ([]byte, error) {
	if processContext == nil {
		return nil, nil
	}

	data, err := json.Marshal(processContext)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal context: %w", err)
	}

	return data, nil
}
