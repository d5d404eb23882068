// Package registry holds the runner and trigger factories known to the
// engine and validates node configs against their declared schemas.
package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weblisite/synthralos-engine/pkg/protocol"
)

type Registry struct {
	logger           *slog.Logger
	runnerFactories  map[string]protocol.RunnerFactory
	triggerFactories map[string]protocol.TriggerFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:           logger.With("module", "registry"),
		runnerFactories:  make(map[string]protocol.RunnerFactory),
		triggerFactories: make(map[string]protocol.TriggerFactory),
	}
}

func (r *Registry) RegisterRunner(factory protocol.RunnerFactory) {
	r.runnerFactories[factory.ID()] = factory
}

func (r *Registry) RegisterTrigger(factory protocol.TriggerFactory) {
	r.triggerFactories[factory.ID()] = factory
}

// HasRunner reports whether a runner type is registered.
func (r *Registry) HasRunner(nodeType string) bool {
	_, ok := r.runnerFactories[nodeType]

	return ok
}

// CreateRunner builds a runner for a node after validating its config
// against the factory's schema.
func (r *Registry) CreateRunner(ctx context.Context, nodeType, nodeID string, config map[string]any) (protocol.Runner, error) {
	factory, ok := r.runnerFactories[nodeType]
	if !ok {
		return nil, fmt.Errorf("runner type %q not registered", nodeType)
	}

	if err := r.ValidateConfig(nodeType, config); err != nil {
		return nil, err
	}

	return factory.Create(ctx, nodeID, config)
}

func (r *Registry) CreateTrigger(ctx context.Context, triggerID string, config map[string]any, logger *slog.Logger) (protocol.Trigger, error) {
	factory, ok := r.triggerFactories[triggerID]
	if !ok {
		return nil, fmt.Errorf("trigger type %q not registered", triggerID)
	}

	return factory.Create(ctx, config, logger)
}

// RunnerTypes returns the registered runner type ids.
func (r *Registry) RunnerTypes() []string {
	types := make([]string, 0, len(r.runnerFactories))
	for id := range r.runnerFactories {
		types = append(types, id)
	}

	return types
}

// Schema returns the JSON schema for a registered runner type.
func (r *Registry) Schema(nodeType string) (map[string]any, bool) {
	factory, ok := r.runnerFactories[nodeType]
	if !ok {
		return nil, false
	}

	return factory.Schema(), true
}
