package log

import (
	"context"
	"log/slog"

	"github.com/weblisite/synthralos-engine/pkg/protocol"
)

type RunnerFactory struct {
	logger *slog.Logger
}

func NewRunnerFactory(logger *slog.Logger) *RunnerFactory {
	return &RunnerFactory{logger: logger}
}

func (*RunnerFactory) ID() string {
	return "log"
}

func (*RunnerFactory) Name() string {
	return "Log"
}

func (*RunnerFactory) Description() string {
	return "Logs a templated message at a configured level and passes input through."
}

func (f *RunnerFactory) Create(_ context.Context, nodeID string, config map[string]any) (protocol.Runner, error) {
	if config == nil {
		config = map[string]any{}
	}

	return NewRunner(nodeID, config, f.logger), nil
}

func (*RunnerFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "Message to log. Supports templating against variables, trigger data and input.",
			},
			"level": map[string]any{
				"type":        "string",
				"description": "Log level for the message",
				"default":     "info",
				"enum":        []string{"debug", "info", "warn", "warning", "error"},
			},
		},
		"required": []string{"message"},
	}
}
