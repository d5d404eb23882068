package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/weblisite/synthralos-engine/pkg/models"
)

// TestRunOptions configures one test-mode run.
type TestRunOptions struct {
	TriggerData map[string]any
	// MockOutputs substitutes canned outputs for the listed nodes; their
	// runners are never called.
	MockOutputs map[string]map[string]any
}

// TestRunResult is the outcome of a test-mode run: validation findings plus
// the full execution record when the graph was runnable.
type TestRunResult struct {
	Valid     bool                    `json:"valid"`
	Errors    []string                `json:"errors,omitempty"`
	Execution *models.Execution       `json:"execution,omitempty"`
	Timeline  []*models.TimelineEvent `json:"timeline,omitempty"`
}

// RunTest validates the workflow and, when valid, executes it synchronously
// with mocks applied and waits skipped. Drafts are runnable in test mode.
func (e *Engine) RunTest(ctx context.Context, workflowID string, opts TestRunOptions) (*TestRunResult, error) {
	wf, err := e.persist.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	result := &TestRunResult{Valid: true}

	if err := wf.ValidateGraph(); err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, err.Error())
	}

	if e.registry != nil {
		if err := e.registry.ValidateWorkflowConfigs(wf); err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, err.Error())
		}
	}

	if !result.Valid {
		return result, nil
	}

	exec := models.NewExecution(uuid.New().String(), wf, models.TriggerTypeTest, opts.TriggerData)
	exec.MockOutputs = opts.MockOutputs

	started := &models.TimelineEvent{
		ID:          uuid.New().String(),
		ExecutionID: exec.ID,
		Type:        models.TimelineWorkflowStarted,
		Timestamp:   time.Now().UTC(),
		Message:     "test-mode run",
	}

	if err := e.persist.ExecutionRepository().SaveTransition(ctx, exec, []*models.TimelineEvent{started}); err != nil {
		return nil, err
	}

	// Test runs bypass the bus and advance inline so the caller gets the
	// finished execution back.
	if err := e.runByID(ctx, exec.ID, nil); err != nil {
		return nil, err
	}

	finished, err := e.persist.ExecutionRepository().GetByID(ctx, exec.ID)
	if err != nil {
		return nil, err
	}

	timeline, err := e.persist.TimelineRepository().ListByExecution(ctx, exec.ID)
	if err != nil {
		return nil, err
	}

	result.Execution = finished
	result.Timeline = timeline

	return result, nil
}
