// Package engine implements the workflow execution engine: the graph
// scheduler, retry controller, debug controller and lifecycle operations.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weblisite/synthralos-engine/pkg/eventbus"
	"github.com/weblisite/synthralos-engine/pkg/events"
	"github.com/weblisite/synthralos-engine/pkg/expression"
	"github.com/weblisite/synthralos-engine/pkg/models"
	"github.com/weblisite/synthralos-engine/pkg/persistence"
	"github.com/weblisite/synthralos-engine/pkg/protocol"
	"github.com/weblisite/synthralos-engine/pkg/registry"
	"github.com/weblisite/synthralos-engine/pkg/signals"
)

// Engine drives workflow executions. One Engine instance serves one process;
// an execution is only ever advanced by one engine at a time (the bus keys
// work by execution id). Control APIs write concurrently with the actor, so
// every read-modify-write of an execution record goes through its lock.
type Engine struct {
	logger   *slog.Logger
	persist  persistence.Persistence
	registry *registry.Registry
	bus      eventbus.EventBus
	signals  signals.Store
	eval     *expression.Evaluator
	workerID string

	execLocks   sync.Map // execution id -> *sync.Mutex
	execCancels sync.Map // execution id -> context.CancelFunc
}

// lockExecution takes the per-execution mutex and returns its unlock func.
// The mutex is not reentrant; callers must release it before requeueing.
func (e *Engine) lockExecution(executionID string) func() {
	mu, _ := e.execLocks.LoadOrStore(executionID, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()

	return mu.(*sync.Mutex).Unlock
}

// New creates an engine. The bus may be nil, in which case executions run
// inline in the calling process (development and tests).
func New(logger *slog.Logger, persist persistence.Persistence, reg *registry.Registry, bus eventbus.EventBus, signalStore signals.Store) *Engine {
	if signalStore == nil {
		signalStore = signals.NewMemoryStore()
	}

	return &Engine{
		logger:   logger.With("module", "engine"),
		persist:  persist,
		registry: reg,
		bus:      bus,
		signals:  signalStore,
		eval:     expression.NewEvaluator(),
		workerID: "worker-" + uuid.New().String()[:8],
	}
}

// WorkerID identifies this engine instance in emitted events.
func (e *Engine) WorkerID() string {
	return e.workerID
}

// RegisterHandlers subscribes the engine to the work events and starts
// consuming. Called by the worker process.
func (e *Engine) RegisterHandlers(ctx context.Context) error {
	if e.bus == nil {
		return errors.New("engine has no event bus to consume from")
	}

	err := e.bus.Handle(events.ExecutionQueuedEvent, func(ctx context.Context, event any) error {
		queued, ok := event.(*events.ExecutionQueued)
		if !ok {
			return errors.New("unexpected payload for execution.queued")
		}

		return e.runByID(ctx, queued.ExecutionID, nil)
	})
	if err != nil {
		return err
	}

	err = e.bus.Handle(events.ExecutionResumedEvent, func(ctx context.Context, event any) error {
		resumed, ok := event.(*events.ExecutionResumed)
		if !ok {
			return errors.New("unexpected payload for execution.resumed")
		}

		return e.runByID(ctx, resumed.ExecutionID, resumed)
	})
	if err != nil {
		return err
	}

	return e.bus.Subscribe(ctx)
}

// Start validates the workflow, creates a fresh execution and queues it for
// a worker.
func (e *Engine) Start(ctx context.Context, workflowID string, triggerType models.TriggerType, triggerData map[string]any) (*models.Execution, error) {
	wf, err := e.persist.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if wf.Status != models.WorkflowStatusPublished {
		return nil, models.NewValidationFailure("", fmt.Sprintf("workflow %s is not published", workflowID))
	}

	if err := wf.ValidateGraph(); err != nil {
		return nil, models.NewValidationFailure("", err.Error())
	}

	if e.registry != nil {
		if err := e.registry.ValidateWorkflowConfigs(wf); err != nil {
			return nil, models.NewValidationFailure("", err.Error())
		}
	}

	exec := models.NewExecution(uuid.New().String(), wf, triggerType, triggerData)

	started := &models.TimelineEvent{
		ExecutionID: exec.ID,
		Type:        models.TimelineWorkflowStarted,
		Timestamp:   time.Now().UTC(),
		Message:     fmt.Sprintf("execution started by %s trigger", triggerType),
	}

	if err := e.persist.ExecutionRepository().SaveTransition(ctx, exec, []*models.TimelineEvent{started}); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Execution created",
		"execution_id", exec.ID, "workflow_id", wf.ID, "trigger_type", triggerType)

	e.publish(ctx, exec, events.ExecutionStarted{
		BaseEvent:    e.baseEvent(events.ExecutionStartedEvent, exec),
		WorkflowName: wf.Name,
		TriggerType:  triggerType,
	})

	if e.bus != nil {
		err = e.bus.Publish(ctx, exec.ID, events.ExecutionQueued{
			BaseEvent:   e.baseEvent(events.ExecutionQueuedEvent, exec),
			TriggerType: triggerType,
			TriggerData: triggerData,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to queue execution %s: %w", exec.ID, err)
		}

		return exec, nil
	}

	// No bus: advance inline until the execution parks or finishes.
	if err := e.runByID(ctx, exec.ID, nil); err != nil {
		return nil, err
	}

	return e.persist.ExecutionRepository().GetByID(ctx, exec.ID)
}

// runByID loads the execution and advances it until it finishes or parks.
// The run gets its own cancel so Terminate can interrupt in-flight node work.
func (e *Engine) runByID(ctx context.Context, executionID string, resume *events.ExecutionResumed) error {
	ctx, cancel := context.WithCancel(ctx)
	e.execCancels.Store(executionID, cancel)

	defer func() {
		e.execCancels.Delete(executionID)
		cancel()
	}()

	exec, err := e.persist.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return err
	}

	if exec.Status.IsTerminal() {
		return nil
	}

	wf, err := e.persist.WorkflowRepository().GetVersion(ctx, exec.WorkflowID, exec.GraphVersion)
	if err != nil {
		return err
	}

	s := newScheduler(wf, exec, e.eval)

	if resume != nil {
		if err := e.applyResume(ctx, s, resume); err != nil {
			return err
		}
	}

	if exec.Status != models.ExecutionStatusRunning {
		// Paused or still waiting; nothing to advance.
		return nil
	}

	return e.advance(ctx, s)
}

// applyResume folds the resume reason into the execution: satisfying the
// waiting node for signals and wakeups, clearing the retry timer for due
// retries.
func (e *Engine) applyResume(ctx context.Context, s *scheduler, resume *events.ExecutionResumed) error {
	exec := s.exec

	switch resume.Reason {
	case "signal", "wakeup":
		if exec.Status != models.ExecutionStatusWaitingForSignal || exec.SignalNodeID == "" {
			return nil
		}

		nodeID := exec.SignalNodeID

		data, found, err := e.signals.Take(ctx, exec.ID, nodeID)
		if err != nil {
			return err
		}

		if !found {
			data = resume.SignalData
		}

		if data == nil {
			data = map[string]any{}
		}

		node := s.wf.NodeByID(nodeID)
		s.markDone(nodeID, data)

		if node != nil && node.Type == models.NodeTypeHumanApproval {
			label := models.EdgeLabelFalse
			if expression.Truthy(data["approved"]) {
				label = models.EdgeLabelTrue
			}

			if s.enableEdges(nodeID, label) == 0 {
				// Approval without branch edges continues on any label.
				for _, edge := range s.wf.Outgoing(nodeID) {
					exec.EnabledEdges[models.EdgeKey(edge)] = true
				}
			}
		}

		exec.Status = models.ExecutionStatusRunning
		exec.WakeAt = nil
		exec.SignalNodeID = ""

		s.record(models.TimelineWorkflowResumed, nodeID, "signal received", data)
		s.record(models.TimelineNodeCompleted, nodeID, "", nil)

	case "retry":
		exec.NextRetryAt = nil

	case "resume", "step":
		// Status transitions were already written by the control API.
	}

	return nil
}

// advance is the actor loop: one node boundary per iteration, persisting the
// transition after every step.
func (e *Engine) advance(ctx context.Context, s *scheduler) error {
	for {
		parked, err := e.syncControl(ctx, s)
		if err != nil {
			return err
		}

		if parked {
			return nil
		}

		ready := s.Ready()
		if len(ready) == 0 {
			progressed, failure := s.AdvanceControl()
			if failure != nil {
				return e.failExecution(ctx, s, failure)
			}

			if progressed {
				if err := e.persistStep(ctx, s); err != nil {
					return err
				}

				continue
			}

			return e.completeExecution(ctx, s)
		}

		node := ready[0]

		suspended, err := e.debugGate(ctx, s, node)
		if err != nil {
			return err
		}

		if suspended {
			return nil
		}

		parked, err = e.dispatch(ctx, s, node)
		if err != nil {
			return err
		}

		if parked {
			return nil
		}

		if s.exec.DebugMode && s.exec.DebugState == models.DebugStepping {
			// One node per step command.
			s.exec.DebugState = models.DebugSuspended
			s.exec.CurrentNodeID = ""

			if err := e.persistStep(ctx, s); err != nil {
				return err
			}

			return nil
		}

		if err := e.persistStep(ctx, s); err != nil {
			return err
		}
	}
}

// syncControl folds externally written control fields into the actor's copy
// at a node boundary. Pause and terminate take effect here.
func (e *Engine) syncControl(ctx context.Context, s *scheduler) (bool, error) {
	stored, err := e.persist.ExecutionRepository().GetByID(ctx, s.exec.ID)
	if err != nil {
		return false, err
	}

	s.exec.DebugMode = stored.DebugMode
	s.exec.Breakpoints = stored.Breakpoints

	if stored.DebugState != "" {
		s.exec.DebugState = stored.DebugState
	}

	switch stored.Status {
	case models.ExecutionStatusFailed, models.ExecutionStatusCompleted:
		// Terminated behind our back; drop the in-memory state.
		return true, nil

	case models.ExecutionStatusPaused:
		s.exec.Status = models.ExecutionStatusPaused

		return true, e.persistStep(ctx, s)
	}

	return false, nil
}

// debugGate suspends the execution before dispatching a node with a
// breakpoint. In stepping state the node is allowed through; the advance
// loop re-suspends after it.
func (e *Engine) debugGate(ctx context.Context, s *scheduler, node *models.WorkflowNode) (bool, error) {
	exec := s.exec

	if !exec.DebugMode {
		return false, nil
	}

	if exec.DebugState == models.DebugStepping {
		return false, nil
	}

	if exec.Breakpoints[node.ID] || exec.DebugState == models.DebugSuspended {
		exec.DebugState = models.DebugSuspended
		exec.CurrentNodeID = node.ID

		s.record(models.TimelineWorkflowPaused, node.ID, "suspended at breakpoint", nil)

		if err := e.persistStep(ctx, s); err != nil {
			return false, err
		}

		return true, nil
	}

	return false, nil
}

// dispatch executes one ready node. It returns parked=true when the
// execution stopped at a wait or approval node.
func (e *Engine) dispatch(ctx context.Context, s *scheduler, node *models.WorkflowNode) (bool, error) {
	exec := s.exec
	exec.CurrentNodeID = node.ID

	switch {
	case models.IsBranchNode(node.Type):
		return false, e.applyControlResult(ctx, s, node, s.runBranch(node))

	case models.IsLoopNode(node.Type):
		return false, e.applyControlResult(ctx, s, node, s.runLoop(node))
	}

	switch node.Type {
	case models.NodeTypeTry:
		return false, e.applyControlResult(ctx, s, node, s.runTry(node))

	case models.NodeTypeBreak:
		s.markDone(node.ID, nil)
		s.FinishLoop()

		return false, nil

	case models.NodeTypeContinue:
		s.markDone(node.ID, nil)
		s.EndIteration()

		return false, nil

	case models.NodeTypeSplit, models.NodeTypeMerge, models.NodeTypeCatch, models.NodeTypeFinally, models.NodeTypeTrigger:
		s.markDone(node.ID, s.nodeInput(node.ID))

		return false, nil

	case models.NodeTypeGetVariable:
		name, _ := node.Config["name"].(string)
		s.markDone(node.ID, map[string]any{"name": name, "value": exec.ScopedVariables()[name]})

		return false, nil

	case models.NodeTypeWait, models.NodeTypeHumanApproval:
		return e.parkForSignal(ctx, s, node)
	}

	return e.dispatchRunner(ctx, s, node)
}

// applyControlResult routes a control node failure (always a validation
// failure) through try/catch before giving up on the execution.
func (e *Engine) applyControlResult(ctx context.Context, s *scheduler, node *models.WorkflowNode, err error) error {
	if err == nil {
		return nil
	}

	failure := models.AsFailure(node.ID, err)

	return e.finalizeNodeFailure(ctx, s, node, failure, nil, 1)
}

// parkForSignal puts the execution into waiting_for_signal. Timed waits get
// a wake time for the activator; approvals wait for the signal API. Test mode
// and mocked nodes complete immediately instead of waiting.
func (e *Engine) parkForSignal(ctx context.Context, s *scheduler, node *models.WorkflowNode) (bool, error) {
	exec := s.exec

	mock, mocked := exec.MockOutputs[node.ID]
	if mocked || exec.TriggerType == models.TriggerTypeTest {
		output := map[string]any{"skipped_wait": true}
		if mocked {
			output = mock
		}

		s.markDone(node.ID, output)

		if node.Type == models.NodeTypeHumanApproval {
			label := models.EdgeLabelTrue
			if !expression.Truthy(valueOr(output, "approved", true)) {
				label = models.EdgeLabelFalse
			}

			if s.enableEdges(node.ID, label) == 0 {
				for _, edge := range s.wf.Outgoing(node.ID) {
					exec.EnabledEdges[models.EdgeKey(edge)] = true
				}
			}
		}

		return false, nil
	}

	exec.Status = models.ExecutionStatusWaitingForSignal
	exec.SignalNodeID = node.ID
	exec.WakeAt = nil

	if node.Type == models.NodeTypeWait {
		wakeAt, err := waitDeadline(node)
		if err != nil {
			return false, e.finalizeNodeFailure(ctx, s, node, models.AsFailure(node.ID, err), nil, 1)
		}

		exec.WakeAt = &wakeAt
	}

	s.record(models.TimelineWorkflowWaiting, node.ID, "waiting for signal", nil)
	s.record(models.TimelineNodeStarted, node.ID, "", nil)

	if err := e.persistStep(ctx, s); err != nil {
		return false, err
	}

	e.publish(ctx, exec, events.ExecutionWaiting{
		BaseEvent: e.baseEvent(events.ExecutionWaitingEvent, exec),
		NodeID:    node.ID,
		WakeAt:    exec.WakeAt,
	})

	return true, nil
}

// waitDeadline resolves the wake time from the wait node config.
func waitDeadline(node *models.WorkflowNode) (time.Time, error) {
	if until, ok := node.Config["until"].(string); ok && until != "" {
		deadline, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return time.Time{}, models.NewValidationFailure(node.ID, fmt.Sprintf("invalid until timestamp: %v", err))
		}

		return deadline.UTC(), nil
	}

	seconds := configInt(node.Config, "duration_seconds", 0)
	if seconds <= 0 {
		return time.Time{}, models.NewValidationFailure(node.ID, "wait node requires duration_seconds or until")
	}

	return time.Now().UTC().Add(time.Duration(seconds) * time.Second), nil
}

// dispatchRunner runs a runner-backed node with the retry policy. Each
// attempt gets a deadline; short backoffs are slept in place, long ones park
// the execution with a retry timer for the activator. It returns parked=true
// when the execution was handed off mid-retry.
func (e *Engine) dispatchRunner(ctx context.Context, s *scheduler, node *models.WorkflowNode) (bool, error) {
	exec := s.exec

	s.record(models.TimelineNodeStarted, node.ID, "", nil)

	if mock, ok := exec.MockOutputs[node.ID]; ok {
		s.markDone(node.ID, mock)
		s.record(models.TimelineNodeCompleted, node.ID, "mocked", nil)

		return false, nil
	}

	if e.registry == nil || !e.registry.HasRunner(node.Type) {
		failure := models.NewValidationFailure(node.ID, fmt.Sprintf("no runner registered for node type %q", node.Type))

		return false, e.finalizeNodeFailure(ctx, s, node, failure, nil, 1)
	}

	input := s.nodeInput(node.ID)
	policy := retryPolicyFor(node)
	timeout := attemptTimeout(node)
	bo := policy.backOff()
	attempts := make([]models.Attempt, 0, policy.MaxAttempts)

	// An execution resumed by the activator mid-retry carries its earlier
	// attempts in NodeResults; rehydrate them so the policy keeps counting
	// where it left off.
	startAttempt := 1
	if prior, ok := exec.NodeResults[node.ID]; ok && prior.Status == models.NodeRunFailed && exec.RetryCount > 0 {
		attempts = append(attempts, prior.Attempts...)
		startAttempt = exec.RetryCount + 1

		for i := 1; i < startAttempt; i++ {
			bo.NextBackOff()
		}
	}

	for attempt := startAttempt; ; attempt++ {
		runner, err := e.registry.CreateRunner(ctx, node.Type, node.ID, node.Config)
		if err != nil {
			failure := models.NewValidationFailure(node.ID, err.Error())

			return false, e.finalizeNodeFailure(ctx, s, node, failure, attempts, attempt)
		}

		startedAt := time.Now().UTC()

		attemptCtx, cancelAttempt := context.WithTimeout(ctx, timeout)

		result, err := runner.Run(attemptCtx, protocol.RunnerInput{
			ExecutionID: exec.ID,
			WorkflowID:  exec.WorkflowID,
			Node:        node,
			Input:       input,
			Variables:   exec.ScopedVariables(),
			TriggerData: exec.TriggerData,
			Results:     exec.NodeResults,
		})

		cancelAttempt()

		durationMs := time.Since(startedAt).Milliseconds()

		if err == nil {
			attempts = append(attempts, models.Attempt{
				Number: attempt, StartedAt: startedAt, DurationMs: durationMs,
			})

			e.applyRunnerResult(s, node, result, attempts, durationMs)
			exec.RetryCount = 0
			exec.NextRetryAt = nil

			e.publish(ctx, exec, events.NodeCompleted{
				BaseEvent:  e.baseEvent(events.NodeCompletedEvent, exec),
				NodeID:     node.ID,
				Output:     result.Output,
				DurationMs: durationMs,
				Attempts:   attempt,
			})

			return false, nil
		}

		failure := models.AsFailure(node.ID, err)

		switch {
		case ctx.Err() != nil:
			failure = models.NewCancelledFailure(node.ID)

		case errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
			message := fmt.Sprintf("node timed out after %s", timeout)
			if timeoutIsFatal(node) {
				failure = models.NewPermanentFailure(node.ID, message)
			} else {
				failure = models.NewTransientFailure(node.ID, message)
			}
		}

		attempts = append(attempts, models.Attempt{
			Number: attempt, StartedAt: startedAt, DurationMs: durationMs, Error: failure.Message,
		})

		if !failure.Retryable || attempt >= policy.MaxAttempts {
			exec.RetryCount = 0
			exec.NextRetryAt = nil

			return false, e.finalizeNodeFailure(ctx, s, node, failure, attempts, attempt)
		}

		delay := bo.NextBackOff()
		nextRetryAt := time.Now().UTC().Add(delay)
		exec.RetryCount = attempt
		exec.NextRetryAt = &nextRetryAt

		// The failed attempts go into NodeResults before the save so a
		// handed-off retry can rehydrate them.
		exec.NodeResults[node.ID] = models.NodeResult{
			NodeID:       node.ID,
			Status:       models.NodeRunFailed,
			Error:        failure.Error(),
			AttemptCount: attempt,
			Attempts:     attempts,
		}

		s.record(models.TimelineNodeRetrying, node.ID, failure.Message, map[string]any{
			"attempt":       attempt,
			"next_retry_at": nextRetryAt.Format(time.RFC3339),
		})

		if err := e.persistStep(ctx, s); err != nil {
			return false, err
		}

		if e.bus != nil && delay >= retryHandoffDelay {
			return true, nil
		}

		if err := sleepContext(ctx, delay); err != nil {
			return false, e.finalizeNodeFailure(ctx, s, node, models.NewCancelledFailure(node.ID), attempts, attempt)
		}
	}
}

// applyRunnerResult folds a successful runner result into the execution.
func (e *Engine) applyRunnerResult(s *scheduler, node *models.WorkflowNode, result *protocol.RunnerResult, attempts []models.Attempt, durationMs int64) {
	exec := s.exec

	output := map[string]any{}
	if result != nil && result.Output != nil {
		output = result.Output
	}

	if result != nil {
		for name, value := range result.SetVariables {
			if frame := exec.InnermostLoop(); frame != nil {
				frame.Vars[name] = value
			} else {
				exec.Variables.Workflow[name] = value
			}
		}
	}

	exec.MarkCompleted(node.ID, models.NodeResult{
		NodeID:       node.ID,
		Status:       models.NodeRunCompleted,
		Output:       output,
		DurationMs:   durationMs,
		AttemptCount: len(attempts),
		Attempts:     attempts,
	})

	s.record(models.TimelineNodeCompleted, node.ID, "", nil)
}

// finalizeNodeFailure records the failed node and routes the failure through
// try/catch; when nothing catches it the execution fails.
func (e *Engine) finalizeNodeFailure(ctx context.Context, s *scheduler, node *models.WorkflowNode, failure *models.Failure, attempts []models.Attempt, attemptCount int) error {
	exec := s.exec

	exec.NodeResults[node.ID] = models.NodeResult{
		NodeID:       node.ID,
		Status:       models.NodeRunFailed,
		Error:        failure.Error(),
		AttemptCount: attemptCount,
		Attempts:     attempts,
	}

	s.record(models.TimelineNodeFailed, node.ID, failure.Message, map[string]any{
		"kind":     string(failure.Kind),
		"attempts": attemptCount,
	})

	e.publish(ctx, exec, events.NodeFailed{
		BaseEvent:   e.baseEvent(events.NodeFailedEvent, exec),
		NodeID:      node.ID,
		Error:       failure.Message,
		FailureKind: string(failure.Kind),
		Attempts:    attemptCount,
	})

	if s.RouteFailure(node.ID, failure) {
		return e.persistStep(ctx, s)
	}

	return e.failExecution(ctx, s, failure)
}

func (e *Engine) failExecution(ctx context.Context, s *scheduler, failure *models.Failure) error {
	exec := s.exec

	now := time.Now().UTC()
	exec.Status = models.ExecutionStatusFailed
	exec.ErrorMessage = failure.Error()
	exec.CompletedAt = &now
	exec.CurrentNodeID = ""

	s.record(models.TimelineWorkflowFailed, failure.NodeID, failure.Message, map[string]any{
		"kind": string(failure.Kind),
	})

	if err := e.persistStep(ctx, s); err != nil {
		return err
	}

	e.publish(ctx, exec, events.ExecutionFailed{
		BaseEvent:     e.baseEvent(events.ExecutionFailedEvent, exec),
		NodeID:        failure.NodeID,
		Error:         failure.Message,
		FailureKind:   string(failure.Kind),
		DurationMs:    now.Sub(exec.CreatedAt).Milliseconds(),
		NodesExecuted: len(exec.CompletedNodeIDs),
	})

	e.logger.InfoContext(ctx, "Execution failed",
		"execution_id", exec.ID, "kind", failure.Kind, "error", failure.Message)

	return nil
}

func (e *Engine) completeExecution(ctx context.Context, s *scheduler) error {
	exec := s.exec

	now := time.Now().UTC()
	exec.Status = models.ExecutionStatusCompleted
	exec.CompletedAt = &now
	exec.CurrentNodeID = ""
	exec.DebugState = ""

	s.record(models.TimelineWorkflowCompleted, "", "", nil)

	if err := e.persistStep(ctx, s); err != nil {
		return err
	}

	var finalOutput map[string]any
	if last := exec.LastResult(); last != nil {
		finalOutput = last.Output
	}

	e.publish(ctx, exec, events.ExecutionCompleted{
		BaseEvent:     e.baseEvent(events.ExecutionCompletedEvent, exec),
		DurationMs:    now.Sub(exec.CreatedAt).Milliseconds(),
		NodesExecuted: len(exec.CompletedNodeIDs),
		FinalOutput:   finalOutput,
	})

	e.logger.InfoContext(ctx, "Execution completed",
		"execution_id", exec.ID, "nodes_executed", len(exec.CompletedNodeIDs))

	return nil
}

// persistStep writes the actor's state at a node boundary. Control APIs save
// under the same per-execution lock while a node is in flight, so their
// fields are folded into the actor's copy here instead of being overwritten.
// The write itself survives a cancelled run context.
func (e *Engine) persistStep(ctx context.Context, s *scheduler) error {
	unlock := e.lockExecution(s.exec.ID)
	defer unlock()

	ctx = context.WithoutCancel(ctx)

	stored, err := e.persist.ExecutionRepository().GetByID(ctx, s.exec.ID)
	if err == nil {
		s.exec.DebugMode = stored.DebugMode
		s.exec.Breakpoints = stored.Breakpoints

		if s.exec.DebugState == "" && !s.exec.Status.IsTerminal() {
			s.exec.DebugState = stored.DebugState
		}

		if stored.Status.IsTerminal() && !s.exec.Status.IsTerminal() {
			// Terminated while the node ran; the terminal record stands and
			// the actor stops at the next control sync.
			return nil
		}

		if stored.Status == models.ExecutionStatusPaused && s.exec.Status == models.ExecutionStatusRunning {
			s.exec.Status = models.ExecutionStatusPaused
		}
	}

	return e.persist.ExecutionRepository().SaveTransition(ctx, s.exec, s.drainEvents())
}

func (e *Engine) baseEvent(eventType events.EventType, exec *models.Execution) events.BaseEvent {
	base := events.NewBaseEvent(eventType, exec.WorkflowID, exec.ID)
	base.WorkerID = e.workerID

	return base
}

func (e *Engine) publish(ctx context.Context, exec *models.Execution, event eventbus.Event) {
	if e.bus == nil {
		return
	}

	if err := e.bus.Publish(ctx, exec.ID, event); err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish event",
			"execution_id", exec.ID, "event_type", event.GetType(), "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func valueOr(m map[string]any, key string, fallback any) any {
	if v, ok := m[key]; ok {
		return v
	}

	return fallback
}
