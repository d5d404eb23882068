// Package protocol defines the contracts between the execution engine and
// its external collaborators: node runners and trigger front doors.
package protocol

import (
	"context"

	"github.com/weblisite/synthralos-engine/pkg/models"
)

// RunnerInput is everything a runner may read for one dispatch. The engine
// owns the execution; runners get a read-only view.
type RunnerInput struct {
	ExecutionID string
	WorkflowID  string
	Node        *models.WorkflowNode

	// Input is the output of the upstream node feeding this dispatch.
	Input map[string]any

	// Variables is the merged read view of all active variable scopes.
	Variables map[string]any

	// TriggerData is the payload the execution was started with.
	TriggerData map[string]any

	// Results exposes prior node outputs for personalization references.
	Results map[string]models.NodeResult
}

// RunnerResult is a successful node outcome.
type RunnerResult struct {
	Output map[string]any

	// SetVariables are workflow-scope variable writes requested by the node.
	SetVariables map[string]any
}

// Runner executes one node. Implementations own the node's business logic;
// the engine only knows run-or-fail. Failures must be *models.Failure so the
// retry controller can classify them; the context carries cancellation from
// terminate and the per-node timeout.
type Runner interface {
	Run(ctx context.Context, input RunnerInput) (*RunnerResult, error)
}

// RunnerFactory creates runner instances for one node type and describes the
// type's config schema for save-time validation.
type RunnerFactory interface {
	// Create builds a runner bound to the given node config.
	Create(ctx context.Context, nodeID string, config map[string]any) (Runner, error)

	// ID returns the node type this factory serves.
	ID() string

	// Name returns the human-readable name for this node type.
	Name() string

	// Description returns what this node type does.
	Description() string

	// Schema returns the JSON schema for this node type's config.
	Schema() map[string]any
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, input RunnerInput) (*RunnerResult, error)

func (f RunnerFunc) Run(ctx context.Context, input RunnerInput) (*RunnerResult, error) {
	return f(ctx, input)
}
