// Package memory provides an in-memory persistence implementation for tests
// and single-process development setups.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/megicode/stepflow/pkg/models"
	"github.com/megicode/stepflow/pkg/persistence"
)

// Persistence keeps all state in process memory behind one mutex. Safe for
// concurrent use.
type Persistence struct {
	mu sync.RWMutex

	definitions   map[string]*models.Definition
	instances     map[string]*models.Instance
	stepInstances map[string]*models.StepInstance
	events        []*models.Event
	rules         map[string]*models.AutomationRule
	slaRules      map[string]*models.SLARule
}

func NewPersistence() *Persistence {
	return &Persistence{
		definitions:   make(map[string]*models.Definition),
		instances:     make(map[string]*models.Instance),
		stepInstances: make(map[string]*models.StepInstance),
		rules:         make(map[string]*models.AutomationRule),
		slaRules:      make(map[string]*models.SLARule),
	}
}

func (p *Persistence) Definitions() persistence.DefinitionRepository { return (*definitionRepo)(p) }
func (p *Persistence) Instances() persistence.InstanceRepository     { return (*instanceRepo)(p) }
func (p *Persistence) Events() persistence.EventRepository           { return (*eventRepo)(p) }
func (p *Persistence) Rules() persistence.RuleRepository             { return (*ruleRepo)(p) }
func (p *Persistence) SLARules() persistence.SLARuleRepository       { return (*slaRuleRepo)(p) }

func (p *Persistence) HealthCheck(ctx context.Context) error { return nil }

func (p *Persistence) Close(ctx context.Context) error { return nil }

// definitions

type definitionRepo Persistence

func (r *definitionRepo) List(ctx context.Context, query persistence.DefinitionQuery) ([]*models.Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Definition, 0)

	for _, def := range r.definitions {
		if !matchesQuery(def, query) {
			continue
		}

		out = append(out, copyDefinition(def))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}

		return out[i].Version < out[j].Version
	})

	return out, nil
}

func matchesQuery(def *models.Definition, query persistence.DefinitionQuery) bool {
	if query.ActiveOnly && !def.IsActive {
		return false
	}

	if query.Category != "" && !strings.EqualFold(def.Category, query.Category) {
		return false
	}

	if query.Tag != "" {
		found := false

		for _, tag := range def.Tags {
			if strings.EqualFold(tag, query.Tag) {
				found = true

				break
			}
		}

		if !found {
			return false
		}
	}

	if query.Text != "" {
		text := strings.ToLower(query.Text)
		if !strings.Contains(strings.ToLower(def.Name), text) &&
			!strings.Contains(strings.ToLower(def.Description), text) {
			return false
		}
	}

	return true
}

func (r *definitionRepo) GetByID(ctx context.Context, id string) (*models.Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.definitions[id]
	if !ok {
		return nil, persistence.NewDefinitionError("GetByID", id, persistence.ErrDefinitionNotFound)
	}

	return copyDefinition(def), nil
}

func (r *definitionRepo) GetByKeyVersion(ctx context.Context, key string, version int) (*models.Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, def := range r.definitions {
		if def.Key == key && def.Version == version {
			return copyDefinition(def), nil
		}
	}

	return nil, &persistence.DefinitionError{Op: "GetByKeyVersion", Key: key, Err: persistence.ErrDefinitionNotFound}
}

func (r *definitionRepo) GetLatest(ctx context.Context, key string) (*models.Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *models.Definition

	for _, def := range r.definitions {
		if def.Key != key || !def.IsActive {
			continue
		}

		if latest == nil || def.Version > latest.Version {
			latest = def
		}
	}

	if latest == nil {
		return nil, &persistence.DefinitionError{Op: "GetLatest", Key: key, Err: persistence.ErrDefinitionNotFound}
	}

	return copyDefinition(latest), nil
}

func (r *definitionRepo) Save(ctx context.Context, definition *models.Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.definitions {
		if existing.ID != definition.ID && existing.Key == definition.Key && existing.Version == definition.Version {
			return &persistence.DefinitionError{Op: "Save", Key: definition.Key, Err: persistence.ErrDefinitionExists}
		}
	}

	r.definitions[definition.ID] = copyDefinition(definition)

	return nil
}

func (r *definitionRepo) IncrementUsage(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	def, ok := r.definitions[id]
	if !ok {
		return persistence.NewDefinitionError("IncrementUsage", id, persistence.ErrDefinitionNotFound)
	}

	def.UsageCount++

	return nil
}

// instances

type instanceRepo Persistence

func (r *instanceRepo) Create(ctx context.Context, instance *models.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.instances[instance.ID] = copyInstance(instance)

	return nil
}

func (r *instanceRepo) GetByID(ctx context.Context, id string) (*models.Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instance, ok := r.instances[id]
	if !ok {
		return nil, persistence.NewInstanceError("GetByID", id, persistence.ErrInstanceNotFound)
	}

	return copyInstance(instance), nil
}

func (r *instanceRepo) ListByStatus(ctx context.Context, status models.InstanceStatus) ([]*models.Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Instance, 0)

	for _, instance := range r.instances {
		if instance.Status == status {
			out = append(out, copyInstance(instance))
		}
	}

	sortInstances(out)

	return out, nil
}

func (r *instanceRepo) ListByBusinessRef(ctx context.Context, kind, id string) ([]*models.Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Instance, 0)

	for _, instance := range r.instances {
		if instance.BusinessRef != nil && instance.BusinessRef.Kind == kind && instance.BusinessRef.ID == id {
			out = append(out, copyInstance(instance))
		}
	}

	sortInstances(out)

	return out, nil
}

func (r *instanceRepo) Save(ctx context.Context, instance *models.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.instances[instance.ID]; !ok {
		return persistence.NewInstanceError("Save", instance.ID, persistence.ErrInstanceNotFound)
	}

	r.instances[instance.ID] = copyInstance(instance)

	return nil
}

func (r *instanceRepo) CreateStepInstance(ctx context.Context, step *models.StepInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stepInstances[step.ID] = copyStepInstance(step)

	return nil
}

func (r *instanceRepo) StepInstanceByID(ctx context.Context, id string) (*models.StepInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	step, ok := r.stepInstances[id]
	if !ok {
		return nil, persistence.ErrStepInstanceNotFound
	}

	return copyStepInstance(step), nil
}

func (r *instanceRepo) ActiveStepInstance(ctx context.Context, instanceID string) (*models.StepInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, step := range r.stepInstances {
		if step.InstanceID == instanceID && step.Status == models.StepStatusActive {
			return copyStepInstance(step), nil
		}
	}

	return nil, persistence.ErrStepInstanceNotFound
}

func (r *instanceRepo) StepInstances(ctx context.Context, instanceID string) ([]*models.StepInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.StepInstance, 0)

	for _, step := range r.stepInstances {
		if step.InstanceID == instanceID {
			out = append(out, copyStepInstance(step))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })

	return out, nil
}

func (r *instanceRepo) ListActiveStepInstances(ctx context.Context) ([]*models.StepInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.StepInstance, 0)

	for _, step := range r.stepInstances {
		if step.Status == models.StepStatusActive {
			out = append(out, copyStepInstance(step))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })

	return out, nil
}

func (r *instanceRepo) ListCompletedSince(ctx context.Context, since time.Time) ([]*models.StepInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.StepInstance, 0)

	for _, step := range r.stepInstances {
		if step.Status != models.StepStatusCompleted || step.CompletedAt == nil {
			continue
		}

		if step.CompletedAt.Before(since) {
			continue
		}

		out = append(out, copyStepInstance(step))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.Before(*out[j].CompletedAt) })

	return out, nil
}

func (r *instanceRepo) CompleteStepInstance(ctx context.Context, stepInstanceID string, completion persistence.StepCompletion) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	step, ok := r.stepInstances[stepInstanceID]
	if !ok {
		return false, persistence.ErrStepInstanceNotFound
	}

	if step.Status != models.StepStatusActive {
		return false, nil
	}

	completedAt := completion.CompletedAt

	step.Status = completion.Status
	step.CompletedByUserID = completion.CompletedByUserID
	step.GatewayDecision = completion.GatewayDecision
	step.Output = completion.Output
	step.Notes = completion.Notes
	step.CompletedAt = &completedAt

	return true, nil
}

func (r *instanceRepo) UpdateAssignment(ctx context.Context, stepInstanceID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	step, ok := r.stepInstances[stepInstanceID]
	if !ok {
		return persistence.ErrStepInstanceNotFound
	}

	step.AssignedToUserID = userID

	return nil
}

func (r *instanceRepo) CountActiveByAssignee(ctx context.Context) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int)

	for _, step := range r.stepInstances {
		if step.Status == models.StepStatusActive && step.AssignedToUserID != "" {
			counts[step.AssignedToUserID]++
		}
	}

	return counts, nil
}

// events

type eventRepo Persistence

func (r *eventRepo) Append(ctx context.Context, event *models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *event
	r.events = append(r.events, &stored)

	return nil
}

func (r *eventRepo) ListByInstance(ctx context.Context, instanceID string) ([]*models.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Event, 0)

	for _, event := range r.events {
		if event.InstanceID == instanceID {
			copied := *event
			out = append(out, &copied)
		}
	}

	return out, nil
}

func (r *eventRepo) ListByTypeSince(ctx context.Context, types []models.EventType, since time.Time) ([]*models.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wanted := make(map[models.EventType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}

	out := make([]*models.Event, 0)

	for _, event := range r.events {
		if !wanted[event.Type] || event.OccurredAt.Before(since) {
			continue
		}

		copied := *event
		out = append(out, &copied)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })

	return out, nil
}

func (r *eventRepo) LastForStep(ctx context.Context, instanceID, stepKey string, eventType models.EventType) (*models.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var last *models.Event

	for _, event := range r.events {
		if event.InstanceID != instanceID || event.StepKey != stepKey || event.Type != eventType {
			continue
		}

		if last == nil || event.OccurredAt.After(last.OccurredAt) {
			last = event
		}
	}

	if last == nil {
		return nil, nil
	}

	copied := *last

	return &copied, nil
}

// automation rules

type ruleRepo Persistence

func (r *ruleRepo) List(ctx context.Context) ([]*models.AutomationRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.AutomationRule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, copyRule(rule))
	}

	sortRules(out)

	return out, nil
}

func (r *ruleRepo) ListEnabledByTrigger(ctx context.Context, trigger models.RuleTrigger) ([]*models.AutomationRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.AutomationRule, 0)

	for _, rule := range r.rules {
		if rule.Enabled && rule.Trigger == trigger {
			out = append(out, copyRule(rule))
		}
	}

	sortRules(out)

	return out, nil
}

func (r *ruleRepo) GetByID(ctx context.Context, id string) (*models.AutomationRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[id]
	if !ok {
		return nil, persistence.ErrRuleNotFound
	}

	return copyRule(rule), nil
}

func (r *ruleRepo) Save(ctx context.Context, rule *models.AutomationRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rules[rule.ID] = copyRule(rule)

	return nil
}

func (r *ruleRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rules[id]; !ok {
		return persistence.ErrRuleNotFound
	}

	delete(r.rules, id)

	return nil
}

// sla rules

type slaRuleRepo Persistence

func (r *slaRuleRepo) List(ctx context.Context) ([]*models.SLARule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.SLARule, 0, len(r.slaRules))
	for _, rule := range r.slaRules {
		copied := *rule
		out = append(out, &copied)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

func (r *slaRuleRepo) ListEnabled(ctx context.Context) ([]*models.SLARule, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*models.SLARule, 0, len(all))

	for _, rule := range all {
		if rule.Enabled {
			out = append(out, rule)
		}
	}

	return out, nil
}

func (r *slaRuleRepo) GetByID(ctx context.Context, id string) (*models.SLARule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.slaRules[id]
	if !ok {
		return nil, persistence.ErrSLARuleNotFound
	}

	copied := *rule

	return &copied, nil
}

func (r *slaRuleRepo) Save(ctx context.Context, rule *models.SLARule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *rule
	r.slaRules[rule.ID] = &copied

	return nil
}

func (r *slaRuleRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.slaRules[id]; !ok {
		return persistence.ErrSLARuleNotFound
	}

	delete(r.slaRules, id)

	return nil
}

// copy helpers keep callers from mutating stored state through returned
// pointers.

func copyDefinition(def *models.Definition) *models.Definition {
	copied := *def
	copied.Lanes = append([]models.Lane(nil), def.Lanes...)
	copied.Steps = make([]*models.Step, len(def.Steps))

	for i, step := range def.Steps {
		s := *step
		s.RequiredSkills = append([]string(nil), step.RequiredSkills...)
		s.GatewayConditions = append([]models.GatewayCondition(nil), step.GatewayConditions...)
		copied.Steps[i] = &s
	}

	copied.Tags = append([]string(nil), def.Tags...)

	return &copied
}

func copyInstance(instance *models.Instance) *models.Instance {
	copied := *instance

	if instance.BusinessRef != nil {
		ref := *instance.BusinessRef
		copied.BusinessRef = &ref
	}

	if instance.Context != nil {
		copied.Context = make(models.ProcessContext, len(instance.Context))
		for k, v := range instance.Context {
			copied.Context[k] = v
		}
	}

	return &copied
}

func copyStepInstance(step *models.StepInstance) *models.StepInstance {
	copied := *step

	if step.CompletedAt != nil {
		at := *step.CompletedAt
		copied.CompletedAt = &at
	}

	return &copied
}

func copyRule(rule *models.AutomationRule) *models.AutomationRule {
	copied := *rule
	copied.StepKeys = append([]string(nil), rule.StepKeys...)
	copied.LaneKeys = append([]string(nil), rule.LaneKeys...)
	copied.Conditions = append([]models.Condition(nil), rule.Conditions...)
	copied.Actions = append([]models.RuleAction(nil), rule.Actions...)

	return &copied
}

func sortInstances(instances []*models.Instance) {
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].StartedAt.After(instances[j].StartedAt)
	})
}

// sortRules orders by priority, then rule ID. Seeded rules share one
// creation timestamp, so the ID keeps equal priorities deterministic.
func sortRules(rules []*models.AutomationRule) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}

		return rules[i].ID < rules[j].ID
	})
}
