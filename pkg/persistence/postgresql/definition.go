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
	"github.com/megicode/stepflow/pkg/persistence"
)

// DefinitionRepository handles definition-related database operations. Lanes
// and steps are stored as JSONB documents; the definition is the unit of
// versioning.
type DefinitionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewDefinitionRepository(db *sql.DB, logger *slog.Logger) *DefinitionRepository {
	return &DefinitionRepository{db: db, logger: logger}
}

const definitionColumns = `
		id
	  , key
	  , name
	  , description
	  , version
	  , category
	  , tags
	  , is_active
	  , is_default
	  , usage_count
	  , lanes
	  , steps
	  , created_at
	  , updated_at
`

func (r *DefinitionRepository) List(ctx context.Context, query persistence.DefinitionQuery) ([]*models.Definition, error) {
	sqlQuery := `SELECT` + definitionColumns + `FROM definitions WHERE 1=1`

	args := make([]any, 0, 4)

	if query.ActiveOnly {
		sqlQuery += ` AND is_active`
	}

	if query.Category != "" {
		args = append(args, query.Category)
		sqlQuery += fmt.Sprintf(` AND LOWER(category) = LOWER($%d)`, len(args))
	}

	if query.Tag != "" {
		args = append(args, query.Tag)
		sqlQuery += fmt.Sprintf(` AND tags @> to_jsonb(ARRAY[$%d::text])`, len(args))
	}

	if query.Text != "" {
		args = append(args, "%"+query.Text+"%")
		sqlQuery += fmt.Sprintf(` AND (name ILIKE $%d OR description ILIKE $%d)`, len(args), len(args))
	}

	sqlQuery += ` ORDER BY key, version`

	rows, err := r.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query definitions: %w", err)
	}

	defer r.closeRows(ctx, rows)

	definitions := make([]*models.Definition, 0)

	for rows.Next() {
		definition, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}

		definitions = append(definitions, definition)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating definitions: %w", err)
	}

	return definitions, nil
}

func (r *DefinitionRepository) GetByID(ctx context.Context, id string) (*models.Definition, error) {
	row := r.db.QueryRowContext(ctx, `SELECT`+definitionColumns+`FROM definitions WHERE id = $1`, id)

	definition, err := scanDefinition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewDefinitionError("GetByID", id, persistence.ErrDefinitionNotFound)
		}

		return nil, fmt.Errorf("failed to scan definition: %w", err)
	}

	return definition, nil
}

func (r *DefinitionRepository) GetByKeyVersion(ctx context.Context, key string, version int) (*models.Definition, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT`+definitionColumns+`FROM definitions WHERE key = $1 AND version = $2`, key, version)

	definition, err := scanDefinition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.DefinitionError{Op: "GetByKeyVersion", Key: key, Err: persistence.ErrDefinitionNotFound}
		}

		return nil, fmt.Errorf("failed to scan definition: %w", err)
	}

	return definition, nil
}

func (r *DefinitionRepository) GetLatest(ctx context.Context, key string) (*models.Definition, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT`+definitionColumns+`FROM definitions WHERE key = $1 AND is_active ORDER BY version DESC LIMIT 1`, key)

	definition, err := scanDefinition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.DefinitionError{Op: "GetLatest", Key: key, Err: persistence.ErrDefinitionNotFound}
		}

		return nil, fmt.Errorf("failed to scan definition: %w", err)
	}

	return definition, nil
}

func (r *DefinitionRepository) Save(ctx context.Context, definition *models.Definition) error {
	now := time.Now().UTC()

	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	definition.UpdatedAt = now

	if definition.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate definition ID: %w", err)
		}

		definition.ID = id.String()
	}

	tags, err := json.Marshal(definition.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	lanes, err := json.Marshal(definition.Lanes)
	if err != nil {
		return fmt.Errorf("failed to marshal lanes: %w", err)
	}

	steps, err := json.Marshal(definition.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	query := `
		INSERT INTO definitions (
			id, key, name, description, version, category, tags,
			is_active, is_default, usage_count, lanes, steps, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			tags = EXCLUDED.tags,
			is_active = EXCLUDED.is_active,
			is_default = EXCLUDED.is_default,
			lanes = EXCLUDED.lanes,
			steps = EXCLUDED.steps,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		definition.ID, definition.Key, definition.Name, definition.Description,
		definition.Version, nullString(definition.Category), tags,
		definition.IsActive, definition.IsDefault, definition.UsageCount,
		lanes, steps, definition.CreatedAt, definition.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return &persistence.DefinitionError{Op: "Save", Key: definition.Key, Err: persistence.ErrDefinitionExists}
		}

		return fmt.Errorf("failed to save definition: %w", err)
	}

	return nil
}

func (r *DefinitionRepository) IncrementUsage(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE definitions SET usage_count = usage_count + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to increment usage: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.NewDefinitionError("IncrementUsage", id, persistence.ErrDefinitionNotFound)
	}

	return nil
}

func (r *DefinitionRepository) closeRows(ctx context.Context, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*models.Definition, error) {
	var (
		definition models.Definition
		category   sql.NullString
		tags       []byte
		lanes      []byte
		steps      []byte
	)

	err := row.Scan(
		&definition.ID, &definition.Key, &definition.Name, &definition.Description,
		&definition.Version, &category, &tags, &definition.IsActive,
		&definition.IsDefault, &definition.UsageCount, &lanes, &steps,
		&definition.CreatedAt, &definition.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	definition.Category = category.String

	if len(tags) > 0 {
		err = json.Unmarshal(tags, &definition.Tags)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}

	err = json.Unmarshal(lanes, &definition.Lanes)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal lanes: %w", err)
	}

	err = json.Unmarshal(steps, &definition.Steps)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}

	return &definition, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
