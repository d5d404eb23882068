// Package webhook provides the HTTP webhook front door. All webhook triggers
// share one listener managed by ServerManager.
package webhook

import (
	"context"
	"errors"
	"log/slog"

	"github.com/weblisite/synthralos-engine/pkg/protocol"
)

type Trigger struct {
	Path       string
	WorkflowID string
	Enabled    bool
	manager    *ServerManager
	logger     *slog.Logger
}

func NewTrigger(ctx context.Context, config map[string]any, manager *ServerManager, logger *slog.Logger) (*Trigger, error) {
	path, ok := config["path"].(string)
	if !ok || path == "" {
		path = "/webhooks/" + asString(config["workflow_id"])
	}

	enabled := true
	if enabledVal, ok := config["enabled"].(bool); ok {
		enabled = enabledVal
	}

	trigger := &Trigger{
		Path:       path,
		WorkflowID: asString(config["workflow_id"]),
		Enabled:    enabled,
		manager:    manager,
		logger: logger.With(
			"module", "webhook_trigger",
			"path", path,
			"workflow_id", config["workflow_id"],
		),
	}

	if err := trigger.Validate(ctx); err != nil {
		return nil, err
	}

	return trigger, nil
}

func (t *Trigger) Validate(_ context.Context) error {
	if t.Path == "" || t.Path[0] != '/' {
		return errors.New("webhook trigger path must start with '/'")
	}

	if t.WorkflowID == "" {
		return errors.New("webhook trigger workflow_id is required")
	}

	return nil
}

// Start registers the path on the shared listener and blocks until the
// context is cancelled or the listener shuts down.
func (t *Trigger) Start(ctx context.Context, callback protocol.TriggerCallback) error {
	if !t.Enabled {
		t.logger.InfoContext(ctx, "Webhook trigger is disabled")

		return nil
	}

	if t.manager == nil {
		return errors.New("webhook server manager not configured")
	}

	handler := &Handler{
		WorkflowID: t.WorkflowID,
		Callback:   callback,
		Logger:     t.logger,
	}

	if err := t.manager.Register(t.Path, handler); err != nil {
		return err
	}

	if err := t.manager.Start(ctx); err != nil {
		return err
	}

	t.logger.InfoContext(ctx, "Webhook trigger started")

	select {
	case <-ctx.Done():
	case <-t.manager.Done():
	}

	return nil
}

func (t *Trigger) Stop(ctx context.Context) error {
	t.logger.InfoContext(ctx, "Stopping webhook trigger")

	if t.manager != nil {
		t.manager.Unregister(t.Path)
	}

	return nil
}

func asString(v any) string {
	s, _ := v.(string)

	return s
}
