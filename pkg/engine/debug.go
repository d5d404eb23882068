package engine

import (
	"context"

	"github.com/weblisite/synthralos-engine/pkg/models"
)

// EnableDebug arms the debug controller on a live execution. The next node
// carrying a breakpoint suspends the run.
func (e *Engine) EnableDebug(ctx context.Context, executionID string) (*models.Execution, error) {
	unlock := e.lockExecution(executionID)
	defer unlock()

	exec, err := e.persist.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if exec.Status.IsTerminal() {
		return nil, models.NewInvalidTransition("enable debug", exec.Status)
	}

	exec.DebugMode = true
	exec.DebugState = models.DebugArmed

	if err := e.persist.ExecutionRepository().Save(ctx, exec); err != nil {
		return nil, err
	}

	return exec, nil
}

// DisableDebug detaches the debug controller. A suspended execution resumes
// normal running.
func (e *Engine) DisableDebug(ctx context.Context, executionID string) (*models.Execution, error) {
	unlock := e.lockExecution(executionID)

	exec, err := e.persist.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		unlock()
		return nil, err
	}

	wasSuspended := exec.DebugState == models.DebugSuspended

	exec.DebugMode = false
	exec.DebugState = models.DebugDetached

	if err := e.persist.ExecutionRepository().Save(ctx, exec); err != nil {
		unlock()
		return nil, err
	}

	unlock()

	if wasSuspended && exec.Status == models.ExecutionStatusRunning {
		if err := e.requeue(ctx, exec, "resume", "", nil); err != nil {
			return nil, err
		}
	}

	return exec, nil
}

// Step executes exactly one node of a suspended execution, then suspends
// again.
func (e *Engine) Step(ctx context.Context, executionID string) (*models.Execution, error) {
	unlock := e.lockExecution(executionID)

	exec, err := e.persist.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		unlock()
		return nil, err
	}

	if !exec.DebugMode || exec.DebugState != models.DebugSuspended {
		unlock()
		return nil, models.NewInvalidTransition("step", exec.Status)
	}

	exec.DebugState = models.DebugStepping

	if err := e.persist.ExecutionRepository().Save(ctx, exec); err != nil {
		unlock()
		return nil, err
	}

	unlock()

	if err := e.requeue(ctx, exec, "step", "", nil); err != nil {
		return nil, err
	}

	return e.persist.ExecutionRepository().GetByID(ctx, executionID)
}

// ToggleBreakpoint flips the breakpoint on a node and reports the new state.
func (e *Engine) ToggleBreakpoint(ctx context.Context, executionID, nodeID string) (bool, error) {
	unlock := e.lockExecution(executionID)
	defer unlock()

	exec, err := e.persist.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return false, err
	}

	if exec.Status.IsTerminal() {
		return false, models.NewInvalidTransition("toggle breakpoint", exec.Status)
	}

	if exec.Breakpoints == nil {
		exec.Breakpoints = make(map[string]bool)
	}

	enabled := !exec.Breakpoints[nodeID]
	if enabled {
		exec.Breakpoints[nodeID] = true
	} else {
		delete(exec.Breakpoints, nodeID)
	}

	if err := e.persist.ExecutionRepository().Save(ctx, exec); err != nil {
		return false, err
	}

	return enabled, nil
}

// VariablesView is the debug inspector's snapshot of all variable scopes.
type VariablesView struct {
	Workflow  map[string]any            `json:"workflow"`
	Merged    map[string]any            `json:"merged"`
	NodeLocal map[string]map[string]any `json:"node_local,omitempty"`
	Loops     []models.LoopFrame        `json:"loops,omitempty"`
}

// Variables returns the current variable scopes of an execution.
func (e *Engine) Variables(ctx context.Context, executionID string) (*VariablesView, error) {
	exec, err := e.persist.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	return &VariablesView{
		Workflow:  exec.Variables.Workflow,
		Merged:    exec.ScopedVariables(),
		NodeLocal: exec.Variables.NodeLocal,
		Loops:     exec.LoopFrames,
	}, nil
}
