package automation

import (
	"context"
	"fmt"

	"github.com/megicode/stepflow/pkg/models"
)

// Invocation carries everything an action handler may need about the rule
// firing.
type Invocation struct {
	Rule       *models.AutomationRule
	Trigger    models.RuleTrigger
	Instance   *models.Instance
	Definition *models.Definition
	Step       *models.Step
	// Decision is set for gateway_crossed invocations.
	Decision string
}

// ActionHandler executes one action type. The action set is closed: handlers
// are registered at startup and unknown types are configuration errors.
type ActionHandler interface {
	Execute(ctx context.Context, invocation Invocation, config map[string]any) error
}

// Registry maps action types to their handlers.
type Registry struct {
	handlers map[models.ActionType]ActionHandler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[models.ActionType]ActionHandler)}
}

func (r *Registry) Register(actionType models.ActionType, handler ActionHandler) {
	r.handlers[actionType] = handler
}

func (r *Registry) Handler(actionType models.ActionType) (ActionHandler, error) {
	handler, ok := r.handlers[actionType]
	if !ok {
		return nil, fmt.Errorf("no handler registered for action type %q", actionType)
	}

	return handler, nil
}
