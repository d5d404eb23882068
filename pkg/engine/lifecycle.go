package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/weblisite/synthralos-engine/pkg/events"
	"github.com/weblisite/synthralos-engine/pkg/models"
)

// Pause requests a cooperative pause. The running actor honors it at the
// next node boundary; in-flight node work is never interrupted. Pausing an
// already paused execution is a no-op.
func (e *Engine) Pause(ctx context.Context, executionID string) (*models.Execution, error) {
	unlock := e.lockExecution(executionID)
	defer unlock()

	exec, err := e.persist.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	switch exec.Status {
	case models.ExecutionStatusPaused:
		return exec, nil

	case models.ExecutionStatusRunning, models.ExecutionStatusWaitingForSignal:
		// Waiting executions pause too; their signal stays pending until
		// resumed.

	default:
		return nil, models.NewInvalidTransition("pause", exec.Status)
	}

	exec.Status = models.ExecutionStatusPaused

	event := &models.TimelineEvent{
		ID:          uuid.New().String(),
		ExecutionID: exec.ID,
		Type:        models.TimelineWorkflowPaused,
		Timestamp:   time.Now().UTC(),
		NodeID:      exec.CurrentNodeID,
	}

	if err := e.persist.ExecutionRepository().SaveTransition(ctx, exec, []*models.TimelineEvent{event}); err != nil {
		return nil, err
	}

	e.publish(ctx, exec, events.ExecutionPaused{
		BaseEvent:    e.baseEvent(events.ExecutionPausedEvent, exec),
		PausedAtNode: exec.CurrentNodeID,
	})

	return exec, nil
}

// Resume moves a paused execution back to running and requeues it. A paused
// execution that was waiting before the pause goes back to waiting.
func (e *Engine) Resume(ctx context.Context, executionID string) (*models.Execution, error) {
	unlock := e.lockExecution(executionID)

	exec, err := e.persist.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		unlock()
		return nil, err
	}

	if exec.Status != models.ExecutionStatusPaused {
		unlock()
		return nil, models.NewInvalidTransition("resume", exec.Status)
	}

	if exec.SignalNodeID != "" {
		exec.Status = models.ExecutionStatusWaitingForSignal
	} else {
		exec.Status = models.ExecutionStatusRunning
	}

	event := &models.TimelineEvent{
		ID:          uuid.New().String(),
		ExecutionID: exec.ID,
		Type:        models.TimelineWorkflowResumed,
		Timestamp:   time.Now().UTC(),
	}

	if err := e.persist.ExecutionRepository().SaveTransition(ctx, exec, []*models.TimelineEvent{event}); err != nil {
		unlock()
		return nil, err
	}

	// Unlock before requeue: the inline path runs the actor, which takes the
	// same lock at every persist boundary.
	unlock()

	if exec.Status == models.ExecutionStatusRunning {
		if err := e.requeue(ctx, exec, "resume", "", nil); err != nil {
			return nil, err
		}
	}

	return exec, nil
}

// Terminate cancels a non-terminal execution. The failure surfaces as a
// cancelled_error with no other detail.
func (e *Engine) Terminate(ctx context.Context, executionID string) (*models.Execution, error) {
	unlock := e.lockExecution(executionID)
	defer unlock()

	exec, err := e.persist.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if exec.Status.IsTerminal() {
		return nil, models.NewInvalidTransition("terminate", exec.Status)
	}

	failure := models.NewCancelledFailure("")

	now := time.Now().UTC()
	exec.Status = models.ExecutionStatusFailed
	exec.ErrorMessage = failure.Error()
	exec.CompletedAt = &now
	exec.WakeAt = nil
	exec.SignalNodeID = ""
	exec.NextRetryAt = nil

	event := &models.TimelineEvent{
		ID:          uuid.New().String(),
		ExecutionID: exec.ID,
		Type:        models.TimelineWorkflowFailed,
		Timestamp:   now,
		Message:     failure.Message,
		Metadata:    map[string]any{"kind": string(failure.Kind)},
	}

	if err := e.persist.ExecutionRepository().SaveTransition(ctx, exec, []*models.TimelineEvent{event}); err != nil {
		return nil, err
	}

	// Interrupt the actor if one is mid-node; the cancelled context stops
	// the node attempt instead of letting it run to completion.
	if cancel, ok := e.execCancels.Load(executionID); ok {
		cancel.(context.CancelFunc)()
	}

	e.publish(ctx, exec, events.ExecutionTerminated{
		BaseEvent: e.baseEvent(events.ExecutionTerminatedEvent, exec),
	})

	return exec, nil
}

// Signal delivers a payload to the node the execution is waiting on. The
// payload is stored for exactly-once consumption by the worker that picks
// the execution back up.
func (e *Engine) Signal(ctx context.Context, executionID, nodeID string, data map[string]any) (*models.Execution, error) {
	unlock := e.lockExecution(executionID)

	exec, err := e.persist.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		unlock()
		return nil, err
	}

	if exec.Status != models.ExecutionStatusWaitingForSignal {
		unlock()
		return nil, models.NewInvalidTransition("signal", exec.Status)
	}

	if nodeID == "" {
		nodeID = exec.SignalNodeID
	}

	if nodeID != exec.SignalNodeID {
		unlock()
		return nil, models.NewValidationFailure(nodeID, "execution is not waiting on this node")
	}

	if err := e.signals.Put(ctx, executionID, nodeID, data); err != nil {
		unlock()
		return nil, err
	}

	unlock()

	if err := e.requeue(ctx, exec, "signal", nodeID, data); err != nil {
		return nil, err
	}

	return exec, nil
}

// Replay starts a fresh execution of the same pinned graph version with the
// same trigger data as a failed execution.
func (e *Engine) Replay(ctx context.Context, executionID string) (*models.Execution, error) {
	source, err := e.persist.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if source.Status != models.ExecutionStatusFailed {
		return nil, models.NewInvalidTransition("replay", source.Status)
	}

	wf, err := e.persist.WorkflowRepository().GetVersion(ctx, source.WorkflowID, source.GraphVersion)
	if err != nil {
		return nil, err
	}

	replay := models.NewExecution(uuid.New().String(), wf, models.TriggerTypeReplay, source.TriggerData)
	replay.ReplayOf = source.ID

	// Seed the recorded outputs of the failed run's successful prefix so
	// replay re-runs only from the first failed node. Nodes that completed
	// more than once belong to a loop body and are executed again, since a
	// single pinned output would freeze every iteration.
	runs := map[string]int{}
	for _, id := range source.CompletedNodeIDs {
		runs[id]++
	}

	replay.MockOutputs = make(map[string]map[string]any)
	for id, result := range source.NodeResults {
		if runs[id] != 1 || result.Status != models.NodeRunCompleted {
			continue
		}

		output := result.Output
		if output == nil {
			output = map[string]any{}
		}

		replay.MockOutputs[id] = output
	}

	event := &models.TimelineEvent{
		ID:          uuid.New().String(),
		ExecutionID: replay.ID,
		Type:        models.TimelineWorkflowStarted,
		Timestamp:   time.Now().UTC(),
		Message:     "replay of execution " + source.ID,
		Metadata:    map[string]any{"replay_of": source.ID},
	}

	if err := e.persist.ExecutionRepository().SaveTransition(ctx, replay, []*models.TimelineEvent{event}); err != nil {
		return nil, err
	}

	if e.bus != nil {
		err = e.bus.Publish(ctx, replay.ID, events.ExecutionQueued{
			BaseEvent:   e.baseEvent(events.ExecutionQueuedEvent, replay),
			TriggerType: models.TriggerTypeReplay,
			TriggerData: replay.TriggerData,
		})
		if err != nil {
			return nil, err
		}

		return replay, nil
	}

	if err := e.runByID(ctx, replay.ID, nil); err != nil {
		return nil, err
	}

	return e.persist.ExecutionRepository().GetByID(ctx, replay.ID)
}

// requeue publishes an execution.resumed work event, or advances inline when
// there is no bus.
func (e *Engine) requeue(ctx context.Context, exec *models.Execution, reason, signalNodeID string, signalData map[string]any) error {
	resumed := &events.ExecutionResumed{
		BaseEvent:    e.baseEvent(events.ExecutionResumedEvent, exec),
		Reason:       reason,
		SignalNodeID: signalNodeID,
		SignalData:   signalData,
	}

	if e.bus != nil {
		return e.bus.Publish(ctx, exec.ID, *resumed)
	}

	return e.runByID(ctx, exec.ID, resumed)
}
