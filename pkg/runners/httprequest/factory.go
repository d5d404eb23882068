package httprequest

import (
	"context"

	"github.com/weblisite/synthralos-engine/pkg/protocol"
)

type RunnerFactory struct{}

func NewRunnerFactory() *RunnerFactory {
	return &RunnerFactory{}
}

func (*RunnerFactory) ID() string {
	return "http_request"
}

func (*RunnerFactory) Name() string {
	return "HTTP Request"
}

func (*RunnerFactory) Description() string {
	return "Performs an HTTP request. 5xx and network errors are retryable; 4xx are permanent failures."
}

func (*RunnerFactory) Create(_ context.Context, nodeID string, config map[string]any) (protocol.Runner, error) {
	return NewRunner(nodeID, config)
}

func (*RunnerFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Request URL. Supports templating.",
			},
			"method": map[string]any{
				"type":    "string",
				"default": "GET",
				"enum":    []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"},
			},
			"headers": map[string]any{
				"type":        "object",
				"description": "Request headers as string key/value pairs",
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Request body. Supports templating.",
			},
			"timeout_seconds": map[string]any{
				"type":    "number",
				"default": 30,
			},
		},
		"required": []string{"url"},
	}
}
