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

	"github.com/megicode/stepflow/pkg/models"
	"github.com/megicode/stepflow/pkg/persistence"
)

// RuleRepository handles automation rule storage. Filters, conditions and
// actions are JSONB documents.
type RuleRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewRuleRepository(db *sql.DB, logger *slog.Logger) *RuleRepository {
	return &RuleRepository{db: db, logger: logger}
}

const ruleColumns = `
		id
	  , name
	  , description
	  , trigger
	  , category
	  , step_keys
	  , lane_keys
	  , conditions
	  , expression
	  , actions
	  , priority
	  , enabled
	  , is_system
	  , created_at
	  , updated_at
`

func (r *RuleRepository) List(ctx context.Context) ([]*models.AutomationRule, error) {
	return r.list(ctx, `SELECT`+ruleColumns+`FROM automation_rules ORDER BY priority, id`)
}

func (r *RuleRepository) ListEnabledByTrigger(ctx context.Context, trigger models.RuleTrigger) ([]*models.AutomationRule, error) {
	return r.list(ctx,
		`SELECT`+ruleColumns+`FROM automation_rules WHERE enabled AND trigger = $1 ORDER BY priority, id`,
		trigger)
}

func (r *RuleRepository) GetByID(ctx context.Context, id string) (*models.AutomationRule, error) {
	row := r.db.QueryRowContext(ctx, `SELECT`+ruleColumns+`FROM automation_rules WHERE id = $1`, id)

	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrRuleNotFound
		}

		return nil, fmt.Errorf("failed to scan rule: %w", err)
	}

	return rule, nil
}

func (r *RuleRepository) Save(ctx context.Context, rule *models.AutomationRule) error {
	now := time.Now().UTC()

	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}

	rule.UpdatedAt = now

	if rule.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate rule ID: %w", err)
		}

		rule.ID = id.String()
	}

	stepKeys, err := json.Marshal(rule.StepKeys)
	if err != nil {
		return fmt.Errorf("failed to marshal step keys: %w", err)
	}

	laneKeys, err := json.Marshal(rule.LaneKeys)
	if err != nil {
		return fmt.Errorf("failed to marshal lane keys: %w", err)
	}

	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}

	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}

	query := `
		INSERT INTO automation_rules (
			id, name, description, trigger, category, step_keys, lane_keys,
			conditions, expression, actions, priority, enabled, is_system,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			trigger = EXCLUDED.trigger,
			category = EXCLUDED.category,
			step_keys = EXCLUDED.step_keys,
			lane_keys = EXCLUDED.lane_keys,
			conditions = EXCLUDED.conditions,
			expression = EXCLUDED.expression,
			actions = EXCLUDED.actions,
			priority = EXCLUDED.priority,
			enabled = EXCLUDED.enabled,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.Description, rule.Trigger,
		nullString(string(rule.Category)), stepKeys, laneKeys, conditions,
		nullString(rule.Expression), actions, rule.Priority, rule.Enabled,
		rule.IsSystem, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}

	return nil
}

func (r *RuleRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM automation_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.ErrRuleNotFound
	}

	return nil
}

func (r *RuleRepository) list(ctx context.Context, query string, args ...any) ([]*models.AutomationRule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	rules := make([]*models.AutomationRule, 0)

	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}

		rules = append(rules, rule)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return rules, nil
}

func scanRule(row rowScanner) (*models.AutomationRule, error) {
	var (
		rule       models.AutomationRule
		category   sql.NullString
		stepKeys   []byte
		laneKeys   []byte
		conditions []byte
		expression sql.NullString
		actions    []byte
	)

	err := row.Scan(
		&rule.ID, &rule.Name, &rule.Description, &rule.Trigger, &category,
		&stepKeys, &laneKeys, &conditions, &expression, &actions,
		&rule.Priority, &rule.Enabled, &rule.IsSystem,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Category = models.RuleCategory(category.String)
	rule.Expression = expression.String

	for _, field := range []struct {
		data []byte
		dest any
	}{
		{stepKeys, &rule.StepKeys},
		{laneKeys, &rule.LaneKeys},
		{conditions, &rule.Conditions},
		{actions, &rule.Actions},
	} {
		if len(field.data) == 0 {
			continue
		}

		err = json.Unmarshal(field.data, field.dest)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal rule field: %w", err)
		}
	}

	return &rule, nil
}
