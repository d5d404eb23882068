package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/weblisite/synthralos-engine/pkg/models"
	"github.com/weblisite/synthralos-engine/pkg/persistence"
)

// ExecutionRepository handles execution state file operations. One JSON
// document per execution; the engine's single-writer rule means no file
// locking is needed.
type ExecutionRepository struct {
	root     string
	timeline *TimelineRepository
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(root string, timeline *TimelineRepository) *ExecutionRepository {
	return &ExecutionRepository{root: root, timeline: timeline}
}

// Save persists the full execution state document.
func (er *ExecutionRepository) Save(_ context.Context, execution *models.Execution) error {
	err := os.MkdirAll(path.Join(er.root, "executions"), 0750)
	if err != nil {
		return fmt.Errorf("failed to create executions directory: %w", err)
	}

	execution.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(execution, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", execution.ID, err)
	}

	filePath := path.Join(er.root, "executions", execution.ID+".json")
	if err := writeFileAtomic(filePath, data); err != nil {
		return fmt.Errorf("failed to write execution %s: %w", execution.ID, err)
	}

	return nil
}

// GetByID retrieves an execution by its ID from the file system.
func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.Execution, error) {
	filePath := filepath.Clean(path.Join(er.root, "executions", id+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to fetch execution %s: %w", id, err)
	}

	var execution models.Execution

	err = json.Unmarshal(body, &execution)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution %s: %w", id, err)
	}

	return &execution, nil
}

// ListByWorkflow returns every execution of one workflow, oldest first.
func (er *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	return er.list(ctx, func(e *models.Execution) bool {
		return e.WorkflowID == workflowID
	})
}

// ListByStatus returns every execution in the given status, oldest first.
func (er *ExecutionRepository) ListByStatus(ctx context.Context, status models.ExecutionStatus) ([]*models.Execution, error) {
	return er.list(ctx, func(e *models.Execution) bool {
		return e.Status == status
	})
}

// ListDueRetries returns running executions whose next retry time has passed.
func (er *ExecutionRepository) ListDueRetries(ctx context.Context, now time.Time) ([]*models.Execution, error) {
	return er.list(ctx, func(e *models.Execution) bool {
		return e.Status == models.ExecutionStatusRunning &&
			e.NextRetryAt != nil && !e.NextRetryAt.After(now)
	})
}

// ListDueWakeups returns waiting executions whose wake time has passed.
func (er *ExecutionRepository) ListDueWakeups(ctx context.Context, now time.Time) ([]*models.Execution, error) {
	return er.list(ctx, func(e *models.Execution) bool {
		return e.Status == models.ExecutionStatusWaitingForSignal &&
			e.WakeAt != nil && !e.WakeAt.After(now)
	})
}

// SaveTransition persists the execution and appends its timeline events.
// The file store cannot make the pair atomic; the execution document is
// written first so a crash between the two writes loses events, never state.
func (er *ExecutionRepository) SaveTransition(ctx context.Context, execution *models.Execution, events []*models.TimelineEvent) error {
	if err := er.Save(ctx, execution); err != nil {
		return err
	}

	if len(events) == 0 {
		return nil
	}

	return er.timeline.Append(ctx, events...)
}

func (er *ExecutionRepository) list(ctx context.Context, keep func(*models.Execution) bool) ([]*models.Execution, error) {
	root := os.DirFS(path.Join(er.root, "executions"))

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list execution files: %w", err)
	}

	executions := make([]*models.Execution, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		executionID := file[:len(file)-5]

		execution, err := er.GetByID(ctx, executionID)
		if err != nil {
			if persistence.IsExecutionNotFound(err) {
				continue
			}

			return nil, err
		}

		if keep(execution) {
			executions = append(executions, execution)
		}
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].CreatedAt.Before(executions[j].CreatedAt)
	})

	return executions, nil
}
