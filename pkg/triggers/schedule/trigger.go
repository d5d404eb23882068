// Package schedule provides the cron front door.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/weblisite/synthralos-engine/pkg/models"
	"github.com/weblisite/synthralos-engine/pkg/protocol"
)

type Trigger struct {
	CronExpr   string
	WorkflowID string
	Enabled    bool
	cron       *cron.Cron
	callback   protocol.TriggerCallback
	logger     *slog.Logger
}

func NewTrigger(ctx context.Context, config map[string]any, logger *slog.Logger) (*Trigger, error) {
	cronExpr, _ := config["cron"].(string)
	workflowID, _ := config["workflow_id"].(string)

	enabled := true
	if enabledVal, ok := config["enabled"].(bool); ok {
		enabled = enabledVal
	}

	trigger := &Trigger{
		CronExpr:   cronExpr,
		WorkflowID: workflowID,
		Enabled:    enabled,
		logger: logger.With(
			"module", "schedule_trigger",
			"cron", cronExpr,
			"workflow_id", workflowID,
		),
	}

	if err := trigger.Validate(ctx); err != nil {
		return nil, err
	}

	return trigger, nil
}

func (t *Trigger) Validate(_ context.Context) error {
	if t.WorkflowID == "" {
		return errors.New("schedule trigger workflow_id is required")
	}

	if t.CronExpr == "" {
		return errors.New("schedule trigger cron expression is required")
	}

	if _, err := cron.ParseStandard(t.CronExpr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	return nil
}

// Start schedules the cron job and blocks until the context is cancelled.
func (t *Trigger) Start(ctx context.Context, callback protocol.TriggerCallback) error {
	if !t.Enabled {
		t.logger.InfoContext(ctx, "Schedule trigger is disabled")

		return nil
	}

	t.logger.InfoContext(ctx, "Starting schedule trigger")
	t.callback = callback

	t.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	if _, err := t.cron.AddFunc(t.CronExpr, t.fire); err != nil {
		return fmt.Errorf("failed to add cron job for workflow %s: %w", t.WorkflowID, err)
	}

	t.cron.Start()

	<-ctx.Done()

	return t.Stop(context.Background())
}

func (t *Trigger) fire() {
	triggerData := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"cron":      t.CronExpr,
	}

	executionID, err := t.callback(context.Background(), t.WorkflowID, models.TriggerTypeSchedule, triggerData)
	if err != nil {
		t.logger.Error("Failed to start execution for schedule", "error", err)

		return
	}

	t.logger.Info("Schedule fired", "execution_id", executionID)
}

func (t *Trigger) Stop(ctx context.Context) error {
	t.logger.InfoContext(ctx, "Stopping schedule trigger")

	if t.cron != nil {
		t.cron.Stop()
	}

	return nil
}
