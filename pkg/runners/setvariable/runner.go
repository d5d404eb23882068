// Package setvariable provides the set_variable node runner, the only node
// type besides loops that writes to variable scopes.
package setvariable

import (
	"context"
	"errors"

	"github.com/weblisite/synthralos-engine/pkg/protocol"
	"github.com/weblisite/synthralos-engine/pkg/template"
)

// ErrMissingName is returned when the node config has no variable name.
var ErrMissingName = errors.New("missing or invalid 'name' in configuration")

type Runner struct {
	nodeID string
	name   string
	value  any
}

func NewRunner(nodeID string, config map[string]any) (*Runner, error) {
	name, ok := config["name"].(string)
	if !ok || name == "" {
		return nil, ErrMissingName
	}

	return &Runner{nodeID: nodeID, name: name, value: config["value"]}, nil
}

func (r *Runner) Run(_ context.Context, input protocol.RunnerInput) (*protocol.RunnerResult, error) {
	value := r.value

	if str, ok := value.(string); ok && template.NeedsTemplating(str) {
		rendered, err := template.Render(str, map[string]any{
			"variables":    input.Variables,
			"vars":         input.Variables,
			"trigger_data": input.TriggerData,
			"input":        input.Input,
		})
		if err != nil {
			return nil, err
		}

		value = rendered
	}

	return &protocol.RunnerResult{
		Output:       map[string]any{"name": r.name, "value": value},
		SetVariables: map[string]any{r.name: value},
	}, nil
}
