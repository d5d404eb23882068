package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/weblisite/synthralos-engine/pkg/protocol"
)

type TriggerFactory struct {
	manager *ServerManager
}

// NewTriggerFactory builds webhook triggers bound to the given shared
// listener.
func NewTriggerFactory(manager *ServerManager) *TriggerFactory {
	return &TriggerFactory{manager: manager}
}

func (*TriggerFactory) ID() string {
	return "webhook"
}

func (*TriggerFactory) Name() string {
	return "Webhook"
}

func (*TriggerFactory) Description() string {
	return "Starts executions from HTTP requests to a registered path."
}

func (f *TriggerFactory) Create(ctx context.Context, config map[string]any, logger *slog.Logger) (protocol.Trigger, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}

	trigger, err := NewTrigger(ctx, config, f.manager, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook trigger: %w", err)
	}

	return trigger, nil
}
