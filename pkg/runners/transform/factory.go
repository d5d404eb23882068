package transform

import (
	"context"

	"github.com/weblisite/synthralos-engine/pkg/protocol"
)

type RunnerFactory struct{}

func NewRunnerFactory() *RunnerFactory {
	return &RunnerFactory{}
}

func (*RunnerFactory) ID() string {
	return "transform"
}

func (*RunnerFactory) Name() string {
	return "Transform"
}

func (*RunnerFactory) Description() string {
	return "Renders a template expression against execution state and emits the result."
}

func (*RunnerFactory) Create(_ context.Context, nodeID string, config map[string]any) (protocol.Runner, error) {
	return NewRunner(nodeID, config)
}

func (*RunnerFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"description": "Template expression producing the node output. JSON-shaped results become structured output.",
			},
		},
		"required": []string{"expression"},
	}
}
