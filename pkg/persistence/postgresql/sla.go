package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/megicode/stepflow/pkg/models"
	"github.com/megicode/stepflow/pkg/persistence"
)

// SLARuleRepository handles SLA threshold storage.
type SLARuleRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSLARuleRepository(db *sql.DB, logger *slog.Logger) *SLARuleRepository {
	return &SLARuleRepository{db: db, logger: logger}
}

const slaRuleColumns = `
		id
	  , definition_key
	  , step_key
	  , warning_after_minutes
	  , critical_after_minutes
	  , escalate_to_user_id
	  , repeat_after_minutes
	  , enabled
	  , created_at
	  , updated_at
`

func (r *SLARuleRepository) List(ctx context.Context) ([]*models.SLARule, error) {
	return r.list(ctx, `SELECT`+slaRuleColumns+`FROM sla_rules ORDER BY definition_key, step_key`)
}

func (r *SLARuleRepository) ListEnabled(ctx context.Context) ([]*models.SLARule, error) {
	return r.list(ctx, `SELECT`+slaRuleColumns+`FROM sla_rules WHERE enabled ORDER BY definition_key, step_key`)
}

func (r *SLARuleRepository) GetByID(ctx context.Context, id string) (*models.SLARule, error) {
	row := r.db.QueryRowContext(ctx, `SELECT`+slaRuleColumns+`FROM sla_rules WHERE id = $1`, id)

	rule, err := scanSLARule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrSLARuleNotFound
		}

		return nil, fmt.Errorf("failed to scan sla rule: %w", err)
	}

	return rule, nil
}

func (r *SLARuleRepository) Save(ctx context.Context, rule *models.SLARule) error {
	now := time.Now().UTC()

	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}

	rule.UpdatedAt = now

	if rule.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate sla rule ID: %w", err)
		}

		rule.ID = id.String()
	}

	query := `
		INSERT INTO sla_rules (
			id, definition_key, step_key, warning_after_minutes,
			critical_after_minutes, escalate_to_user_id, repeat_after_minutes,
			enabled, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (definition_key, step_key) DO UPDATE SET
			warning_after_minutes = EXCLUDED.warning_after_minutes,
			critical_after_minutes = EXCLUDED.critical_after_minutes,
			escalate_to_user_id = EXCLUDED.escalate_to_user_id,
			repeat_after_minutes = EXCLUDED.repeat_after_minutes,
			enabled = EXCLUDED.enabled,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		rule.ID, rule.DefinitionKey, rule.StepKey, rule.WarningAfterMinutes,
		rule.CriticalAfterMinutes, nullString(rule.EscalateToUserID),
		rule.RepeatAfterMinutes, rule.Enabled, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save sla rule: %w", err)
	}

	return nil
}

func (r *SLARuleRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sla_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete sla rule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.ErrSLARuleNotFound
	}

	return nil
}

func (r *SLARuleRepository) list(ctx context.Context, query string, args ...any) ([]*models.SLARule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sla rules: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	rules := make([]*models.SLARule, 0)

	for rows.Next() {
		rule, err := scanSLARule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sla rule: %w", err)
		}

		rules = append(rules, rule)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating sla rules: %w", err)
	}

	return rules, nil
}

func scanSLARule(row rowScanner) (*models.SLARule, error) {
	var (
		rule       models.SLARule
		escalateTo sql.NullString
	)

	err := row.Scan(
		&rule.ID, &rule.DefinitionKey, &rule.StepKey,
		&rule.WarningAfterMinutes, &rule.CriticalAfterMinutes, &escalateTo,
		&rule.RepeatAfterMinutes, &rule.Enabled, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.EscalateToUserID = escalateTo.String

	return &rule, nil
}
