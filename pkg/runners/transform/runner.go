// Package transform provides the data transform node runner.
package transform

import (
	"context"
	"errors"
	"fmt"

	"github.com/weblisite/synthralos-engine/pkg/models"
	"github.com/weblisite/synthralos-engine/pkg/protocol"
	"github.com/weblisite/synthralos-engine/pkg/template"
)

// ErrMissingExpression is returned when the node config has no expression.
var ErrMissingExpression = errors.New("missing or invalid 'expression' in configuration")

// Runner renders a template expression against the execution state and
// emits the result as the node output.
type Runner struct {
	nodeID     string
	expression string
}

func NewRunner(nodeID string, config map[string]any) (*Runner, error) {
	expression, ok := config["expression"].(string)
	if !ok || expression == "" {
		return nil, ErrMissingExpression
	}

	return &Runner{nodeID: nodeID, expression: expression}, nil
}

func (r *Runner) Run(_ context.Context, input protocol.RunnerInput) (*protocol.RunnerResult, error) {
	outputs := make(map[string]any, len(input.Results))
	for id, res := range input.Results {
		outputs[id] = res.Output
	}

	rendered, err := template.Render(r.expression, map[string]any{
		"variables":    input.Variables,
		"vars":         input.Variables,
		"trigger_data": input.TriggerData,
		"input":        input.Input,
		"results":      outputs,
	})
	if err != nil {
		return nil, models.NewValidationFailure(r.nodeID, fmt.Sprintf("transform failed: %v", err))
	}

	output, ok := rendered.(map[string]any)
	if !ok {
		output = map[string]any{"result": rendered}
	}

	return &protocol.RunnerResult{Output: output}, nil
}
