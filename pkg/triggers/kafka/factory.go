package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/weblisite/synthralos-engine/pkg/protocol"
)

type TriggerFactory struct{}

func NewTriggerFactory() *TriggerFactory {
	return &TriggerFactory{}
}

func (*TriggerFactory) ID() string {
	return "kafka"
}

func (*TriggerFactory) Name() string {
	return "Kafka"
}

func (*TriggerFactory) Description() string {
	return "Starts executions from messages on a Kafka topic."
}

func (*TriggerFactory) Create(ctx context.Context, config map[string]any, logger *slog.Logger) (protocol.Trigger, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}

	trigger, err := NewTrigger(ctx, config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka trigger: %w", err)
	}

	return trigger, nil
}
