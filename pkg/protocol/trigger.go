package protocol

import (
	"context"
	"log/slog"

	"github.com/weblisite/synthralos-engine/pkg/models"
)

// TriggerCallback hands a trigger firing to the engine. The front door must
// supply the workflow id and trigger type; the engine pins the published
// graph version and creates the Execution.
type TriggerCallback func(ctx context.Context, workflowID string, triggerType models.TriggerType, triggerData map[string]any) (executionID string, err error)

// Trigger is a running front door instance (webhook listener, cron schedule)
// that converts external events into execution starts.
type Trigger interface {
	// Start begins watching for events, invoking the callback for each one.
	// It blocks until the context is cancelled or a fatal error occurs.
	Start(ctx context.Context, callback TriggerCallback) error

	// Stop gracefully shuts the trigger down.
	Stop(ctx context.Context) error

	// Validate checks the trigger configuration.
	Validate(ctx context.Context) error
}

// TriggerFactory creates trigger instances from config.
type TriggerFactory interface {
	Create(ctx context.Context, config map[string]any, logger *slog.Logger) (Trigger, error)
	ID() string
	Name() string
	Description() string
}
