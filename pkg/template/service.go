// Package template manages the process definition catalog: listing, creation,
// cloning, versioning and deactivation. Stored definitions are never edited
// in place; every change produces a new version so running instances keep the
// graph they started on.
package template

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/megicode/stepflow/pkg/models"
	"github.com/megicode/stepflow/pkg/persistence"
	"github.com/megicode/stepflow/pkg/services"
)

// Service exposes the definition catalog.
type Service struct {
	repository persistence.DefinitionRepository
	validator  *validator.Validate
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(repository persistence.DefinitionRepository, logger *slog.Logger) *Service {
	return &Service{
		repository: repository,
		validator:  validator.New(),
		logger:     logger.With("module", "template"),
		now:        time.Now,
	}
}

// Query filters the catalog listing.
type Query struct {
	Category        string
	Tag             string
	Text            string
	IncludeInactive bool
}

// List returns the latest version of each definition matching the query,
// sorted by key.
func (s *Service) List(ctx context.Context, query Query) ([]*models.Definition, error) {
	all, err := s.repository.List(ctx, persistence.DefinitionQuery{
		Category:   query.Category,
		Tag:        query.Tag,
		Text:       query.Text,
		ActiveOnly: !query.IncludeInactive,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}

	latest := make(map[string]*models.Definition, len(all))

	for _, def := range all {
		if current, ok := latest[def.Key]; !ok || def.Version > current.Version {
			latest[def.Key] = def
		}
	}

	out := make([]*models.Definition, 0, len(latest))
	for _, def := range latest {
		out = append(out, def)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })

	return out, nil
}

// Get returns the latest active version of a definition.
func (s *Service) Get(ctx context.Context, key string) (*models.Definition, error) {
	return s.repository.GetLatest(ctx, key)
}

// GetVersion returns one specific stored version.
func (s *Service) GetVersion(ctx context.Context, key string, version int) (*models.Definition, error) {
	return s.repository.GetByKeyVersion(ctx, key, version)
}

// Search matches name and description text across active definitions.
func (s *Service) Search(ctx context.Context, text string) ([]*models.Definition, error) {
	return s.List(ctx, Query{Text: text})
}

// CategoryCounts returns how many active definitions each category holds.
func (s *Service) CategoryCounts(ctx context.Context) (map[string]int, error) {
	definitions, err := s.List(ctx, Query{})
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)

	for _, def := range definitions {
		category := def.Category
		if category == "" {
			category = "custom"
		}

		counts[category]++
	}

	return counts, nil
}

// UsageCounts reports how many process instances have been started per
// definition key, across every status.
func UsageCounts(ctx context.Context, instances persistence.InstanceRepository) (map[string]int, error) {
	counts := make(map[string]int)

	for _, status := range []models.InstanceStatus{
		models.InstanceStatusRunning,
		models.InstanceStatusCompleted,
		models.InstanceStatusCanceled,
	} {
		list, err := instances.ListByStatus(ctx, status)
		if err != nil {
			return nil, err
		}

		for _, instance := range list {
			counts[instance.DefinitionKey]++
		}
	}

	return counts, nil
}

// CreateRequest describes a new definition. Key is derived from Name when
// left empty.
type CreateRequest struct {
	Key         string         `validate:"omitempty,min=2"`
	Name        string         `validate:"required,min=3"`
	Description string
	Category    string
	Tags        []string
	Lanes       []models.Lane  `validate:"required,min=1"`
	Steps       []*models.Step `validate:"required,min=2"`
}

// Create validates and stores a new definition at version 1.
func (s *Service) Create(ctx context.Context, request CreateRequest) (*models.Definition, error) {
	if err := s.validator.Struct(request); err != nil {
		return nil, fmt.Errorf("%w: %w", services.ErrInvalidRequest, err)
	}

	key := request.Key
	if key == "" {
		key = Slugify(request.Name)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate definition id: %w", err)
	}

	now := s.now().UTC()
	definition := &models.Definition{
		ID:          id.String(),
		Key:         key,
		Name:        request.Name,
		Description: request.Description,
		Version:     1,
		Category:    request.Category,
		Tags:        append([]string(nil), request.Tags...),
		IsActive:    true,
		Lanes:       request.Lanes,
		Steps:       request.Steps,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := definition.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", services.ErrInvalidRequest, err)
	}

	if err := s.repository.Save(ctx, definition); err != nil {
		return nil, fmt.Errorf("failed to save definition %s: %w", key, err)
	}

	s.logger.InfoContext(ctx, "Definition created",
		"definition_key", key, "version", definition.Version)

	return definition, nil
}

// CloneRequest customizes a cloned definition. Zero fields inherit from the
// source.
type CloneRequest struct {
	Name        string `validate:"required,min=3"`
	Description string
	Category    string
	Tags        []string
}

// Clone copies the latest version of sourceKey into a fresh definition at
// version 1 under a new key.
func (s *Service) Clone(ctx context.Context, sourceKey string, request CloneRequest) (*models.Definition, error) {
	if err := s.validator.Struct(request); err != nil {
		return nil, fmt.Errorf("%w: %w", services.ErrInvalidRequest, err)
	}

	source, err := s.repository.GetLatest(ctx, sourceKey)
	if err != nil {
		return nil, err
	}

	create := CreateRequest{
		Name:        request.Name,
		Description: request.Description,
		Category:    request.Category,
		Tags:        request.Tags,
		Lanes:       source.Lanes,
		Steps:       source.Steps,
	}

	if create.Description == "" {
		create.Description = source.Description
	}

	if create.Category == "" {
		create.Category = source.Category
	}

	if len(create.Tags) == 0 {
		create.Tags = append(append([]string(nil), source.Tags...), "cloned")
	}

	return s.Create(ctx, create)
}

// VersionRequest carries the changed shape of a definition. Zero metadata
// fields inherit from the current version.
type VersionRequest struct {
	Name        string
	Description string
	Category    string
	Tags        []string
	Lanes       []models.Lane  `validate:"required,min=1"`
	Steps       []*models.Step `validate:"required,min=2"`
}

// CreateVersion stores the changed definition as version N+1 and deactivates
// every prior version. Instances already running keep executing the version
// they were started on.
func (s *Service) CreateVersion(ctx context.Context, key string, request VersionRequest) (*models.Definition, error) {
	if err := s.validator.Struct(request); err != nil {
		return nil, fmt.Errorf("%w: %w", services.ErrInvalidRequest, err)
	}

	current, err := s.repository.GetLatest(ctx, key)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate definition id: %w", err)
	}

	now := s.now().UTC()
	next := &models.Definition{
		ID:          id.String(),
		Key:         key,
		Name:        request.Name,
		Description: request.Description,
		Version:     current.Version + 1,
		Category:    request.Category,
		Tags:        request.Tags,
		IsActive:    true,
		IsDefault:   current.IsDefault,
		Lanes:       request.Lanes,
		Steps:       request.Steps,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if next.Name == "" {
		next.Name = current.Name
	}

	if next.Description == "" {
		next.Description = current.Description
	}

	if next.Category == "" {
		next.Category = current.Category
	}

	if len(next.Tags) == 0 {
		next.Tags = append([]string(nil), current.Tags...)
	}

	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", services.ErrInvalidRequest, err)
	}

	if err := s.deactivateVersions(ctx, key); err != nil {
		return nil, err
	}

	if err := s.repository.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to save definition %s v%d: %w", key, next.Version, err)
	}

	s.logger.InfoContext(ctx, "Definition version created",
		"definition_key", key, "version", next.Version)

	return next, nil
}

// Deactivate soft-deletes a definition by deactivating all of its versions.
// The default definition cannot be deactivated.
func (s *Service) Deactivate(ctx context.Context, key string) error {
	current, err := s.repository.GetLatest(ctx, key)
	if err != nil {
		return err
	}

	if current.IsDefault {
		return fmt.Errorf("definition %s: %w", key, services.ErrDefaultTemplate)
	}

	if err := s.deactivateVersions(ctx, key); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Definition deactivated", "definition_key", key)

	return nil
}

// SetDefault marks one definition as the default and clears the flag on every
// other definition.
func (s *Service) SetDefault(ctx context.Context, key string) error {
	target, err := s.repository.GetLatest(ctx, key)
	if err != nil {
		return err
	}

	all, err := s.repository.List(ctx, persistence.DefinitionQuery{})
	if err != nil {
		return fmt.Errorf("failed to list definitions: %w", err)
	}

	for _, def := range all {
		isDefault := def.Key == target.Key

		if def.IsDefault == isDefault {
			continue
		}

		def.IsDefault = isDefault
		def.UpdatedAt = s.now().UTC()

		if err := s.repository.Save(ctx, def); err != nil {
			return fmt.Errorf("failed to update definition %s: %w", def.Key, err)
		}
	}

	return nil
}

// EnsureDefaults stores each seed definition whose key is not present yet.
// Safe to call on every startup.
func (s *Service) EnsureDefaults(ctx context.Context, seeds ...*models.Definition) error {
	for _, seed := range seeds {
		_, err := s.repository.GetLatest(ctx, seed.Key)
		if err == nil {
			continue
		}

		if !persistence.IsDefinitionNotFound(err) {
			return err
		}

		if err := seed.Validate(); err != nil {
			return fmt.Errorf("seed definition %s: %w", seed.Key, err)
		}

		if err := s.repository.Save(ctx, seed); err != nil {
			return fmt.Errorf("failed to seed definition %s: %w", seed.Key, err)
		}

		s.logger.InfoContext(ctx, "Seeded default definition", "definition_key", seed.Key)
	}

	return nil
}

func (s *Service) deactivateVersions(ctx context.Context, key string) error {
	all, err := s.repository.List(ctx, persistence.DefinitionQuery{})
	if err != nil {
		return fmt.Errorf("failed to list definitions: %w", err)
	}

	for _, def := range all {
		if def.Key != key || !def.IsActive {
			continue
		}

		def.IsActive = false
		def.UpdatedAt = s.now().UTC()

		if err := s.repository.Save(ctx, def); err != nil {
			return fmt.Errorf("failed to deactivate definition %s v%d: %w", def.Key, def.Version, err)
		}
	}

	return nil
}

// Slugify turns a display name into a definition key.
func Slugify(name string) string {
	var b strings.Builder

	previousUnderscore := true

	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)

			previousUnderscore = false
		default:
			if !previousUnderscore {
				b.WriteByte('_')
			}

			previousUnderscore = true
		}
	}

	return strings.TrimSuffix(b.String(), "_")
}
