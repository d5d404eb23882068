package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/weblisite/synthralos-engine/pkg/protocol"
)

var ErrConfigNil = errors.New("config cannot be nil")

type TriggerFactory struct{}

func NewTriggerFactory() *TriggerFactory {
	return &TriggerFactory{}
}

func (*TriggerFactory) ID() string {
	return "schedule"
}

func (*TriggerFactory) Name() string {
	return "Schedule"
}

func (*TriggerFactory) Description() string {
	return "Starts executions on a cron schedule."
}

func (*TriggerFactory) Create(ctx context.Context, config map[string]any, logger *slog.Logger) (protocol.Trigger, error) {
	if config == nil {
		return nil, ErrConfigNil
	}

	trigger, err := NewTrigger(ctx, config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create schedule trigger: %w", err)
	}

	return trigger, nil
}
