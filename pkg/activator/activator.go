// Package activator is the durable timer of the engine: it periodically
// scans for executions whose retry or wake deadline has passed and requeues
// them for the workers. No goroutine ever sleeps on behalf of a parked
// execution; this tick is the only clock.
package activator

import (
	"context"
	"log/slog"
	"time"

	"github.com/weblisite/synthralos-engine/pkg/eventbus"
	"github.com/weblisite/synthralos-engine/pkg/events"
	"github.com/weblisite/synthralos-engine/pkg/models"
	"github.com/weblisite/synthralos-engine/pkg/persistence"
)

const DefaultInterval = 5 * time.Second

type Activator struct {
	logger   *slog.Logger
	persist  persistence.Persistence
	bus      eventbus.EventBus
	interval time.Duration
}

func New(logger *slog.Logger, persist persistence.Persistence, bus eventbus.EventBus, interval time.Duration) *Activator {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Activator{
		logger:   logger.With("module", "activator"),
		persist:  persist,
		bus:      bus,
		interval: interval,
	}
}

// Run ticks until the context is cancelled.
func (a *Activator) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "Activator started", "interval", a.interval.String())

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.InfoContext(ctx, "Activator stopped")

			return nil
		case <-ticker.C:
			a.Tick(ctx)
		}
	}
}

// Tick runs one scan. Exported so tests and the CLI can trigger it directly.
func (a *Activator) Tick(ctx context.Context) {
	now := time.Now().UTC()

	a.requeueDueRetries(ctx, now)
	a.requeueDueWakeups(ctx, now)
}

func (a *Activator) requeueDueRetries(ctx context.Context, now time.Time) {
	due, err := a.persist.ExecutionRepository().ListDueRetries(ctx, now)
	if err != nil {
		a.logger.ErrorContext(ctx, "Failed to scan due retries", "error", err)

		return
	}

	for _, exec := range due {
		a.requeue(ctx, exec, "retry", "")
	}
}

func (a *Activator) requeueDueWakeups(ctx context.Context, now time.Time) {
	due, err := a.persist.ExecutionRepository().ListDueWakeups(ctx, now)
	if err != nil {
		a.logger.ErrorContext(ctx, "Failed to scan due wakeups", "error", err)

		return
	}

	for _, exec := range due {
		a.requeue(ctx, exec, "wakeup", exec.SignalNodeID)
	}
}

func (a *Activator) requeue(ctx context.Context, exec *models.Execution, reason, signalNodeID string) {
	// Clear the deadline before requeueing so the next tick does not
	// double-publish while a worker is still picking the execution up.
	switch reason {
	case "retry":
		exec.NextRetryAt = nil
	case "wakeup":
		exec.WakeAt = nil
	}

	if err := a.persist.ExecutionRepository().Save(ctx, exec); err != nil {
		a.logger.ErrorContext(ctx, "Failed to clear deadline", "execution_id", exec.ID, "error", err)

		return
	}

	event := events.ExecutionResumed{
		BaseEvent:    events.NewBaseEvent(events.ExecutionResumedEvent, exec.WorkflowID, exec.ID),
		Reason:       reason,
		SignalNodeID: signalNodeID,
	}

	if err := a.bus.Publish(ctx, exec.ID, event); err != nil {
		a.logger.ErrorContext(ctx, "Failed to requeue execution", "execution_id", exec.ID, "error", err)

		return
	}

	a.logger.InfoContext(ctx, "Execution requeued", "execution_id", exec.ID, "reason", reason)
}
