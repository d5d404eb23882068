package setvariable

import (
	"context"

	"github.com/weblisite/synthralos-engine/pkg/protocol"
)

type RunnerFactory struct{}

func NewRunnerFactory() *RunnerFactory {
	return &RunnerFactory{}
}

func (*RunnerFactory) ID() string {
	return "set_variable"
}

func (*RunnerFactory) Name() string {
	return "Set Variable"
}

func (*RunnerFactory) Description() string {
	return "Writes a workflow-scope variable. The value supports templating."
}

func (*RunnerFactory) Create(_ context.Context, nodeID string, config map[string]any) (protocol.Runner, error) {
	return NewRunner(nodeID, config)
}

func (*RunnerFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{
				"type":        "string",
				"description": "Variable name to set in the workflow scope",
			},
			"value": map[string]any{
				"description": "Value to store. String values support templating.",
			},
		},
		"required": []string{"name"},
	}
}
