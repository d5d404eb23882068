// Package log provides the log node runner.
package log

import (
	"context"
	"log/slog"

	"github.com/weblisite/synthralos-engine/pkg/protocol"
	"github.com/weblisite/synthralos-engine/pkg/template"
)

// Runner logs a templated message at a configured level and passes its
// input through unchanged.
type Runner struct {
	nodeID  string
	message string
	level   string
	logger  *slog.Logger
}

func NewRunner(nodeID string, config map[string]any, logger *slog.Logger) *Runner {
	message, _ := config["message"].(string)

	level, _ := config["level"].(string)
	if level == "" {
		level = "info"
	}

	return &Runner{
		nodeID:  nodeID,
		message: message,
		level:   level,
		logger:  logger.With("module", "log_runner", "node_id", nodeID),
	}
}

func (r *Runner) Run(ctx context.Context, input protocol.RunnerInput) (*protocol.RunnerResult, error) {
	message := r.message

	if template.NeedsTemplating(message) {
		rendered, err := template.Render(message, map[string]any{
			"variables":    input.Variables,
			"vars":         input.Variables,
			"trigger_data": input.TriggerData,
			"input":        input.Input,
		})
		if err != nil {
			return nil, err
		}

		if str, ok := rendered.(string); ok {
			message = str
		}
	}

	switch r.level {
	case "debug":
		r.logger.DebugContext(ctx, message)
	case "warn", "warning":
		r.logger.WarnContext(ctx, message)
	case "error":
		r.logger.ErrorContext(ctx, message)
	default:
		r.logger.InfoContext(ctx, message)
	}

	output := map[string]any{"message": message, "level": r.level}
	for k, v := range input.Input {
		output[k] = v
	}

	return &protocol.RunnerResult{Output: output}, nil
}
