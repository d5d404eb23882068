package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/weblisite/synthralos-engine/pkg/models"
	"github.com/weblisite/synthralos-engine/pkg/persistence"
)

// ExecutionRepository handles execution database operations. The full
// scheduler state lives in the document column; the indexed columns are
// kept in sync for activator and list queries.
type ExecutionRepository struct {
	db       *sql.DB
	logger   *slog.Logger
	timeline *TimelineRepository
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger, timeline *TimelineRepository) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger, timeline: timeline}
}

// Save upserts the execution state document.
func (er *ExecutionRepository) Save(ctx context.Context, execution *models.Execution) error {
	return er.save(ctx, er.db, execution)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (er *ExecutionRepository) save(ctx context.Context, db execer, execution *models.Execution) error {
	execution.UpdatedAt = time.Now().UTC()

	document, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", execution.ID, err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO executions (
			id, workflow_id, graph_version, status, trigger_type, document,
			next_retry_at, wake_at, created_at, updated_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			document = EXCLUDED.document,
			next_retry_at = EXCLUDED.next_retry_at,
			wake_at = EXCLUDED.wake_at,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at`,
		execution.ID, execution.WorkflowID, execution.GraphVersion,
		execution.Status, execution.TriggerType, document,
		execution.NextRetryAt, execution.WakeAt,
		execution.CreatedAt, execution.UpdatedAt, execution.CompletedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	return nil
}

// GetByID retrieves an execution by its ID.
func (er *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	var document []byte

	err := er.db.QueryRowContext(ctx, "SELECT document FROM executions WHERE id = $1", id).Scan(&document)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to fetch execution %s: %w", id, err)
	}

	var execution models.Execution

	err = json.Unmarshal(document, &execution)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution %s: %w", id, err)
	}

	return &execution, nil
}

// ListByWorkflow returns every execution of one workflow, oldest first.
func (er *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	return er.list(ctx,
		"SELECT document FROM executions WHERE workflow_id = $1 ORDER BY created_at",
		workflowID,
	)
}

// ListByStatus returns every execution in the given status, oldest first.
func (er *ExecutionRepository) ListByStatus(ctx context.Context, status models.ExecutionStatus) ([]*models.Execution, error) {
	return er.list(ctx,
		"SELECT document FROM executions WHERE status = $1 ORDER BY created_at",
		status,
	)
}

// ListDueRetries returns running executions whose next retry time has passed.
func (er *ExecutionRepository) ListDueRetries(ctx context.Context, now time.Time) ([]*models.Execution, error) {
	return er.list(ctx, `
		SELECT document FROM executions
		WHERE status = $1 AND next_retry_at IS NOT NULL AND next_retry_at <= $2
		ORDER BY next_retry_at`,
		models.ExecutionStatusRunning, now,
	)
}

// ListDueWakeups returns waiting executions whose wake time has passed.
// Approval waits carry no wake time and are excluded.
func (er *ExecutionRepository) ListDueWakeups(ctx context.Context, now time.Time) ([]*models.Execution, error) {
	return er.list(ctx, `
		SELECT document FROM executions
		WHERE status = $1 AND wake_at IS NOT NULL AND wake_at <= $2
		ORDER BY wake_at`,
		models.ExecutionStatusWaitingForSignal, now,
	)
}

// SaveTransition persists the execution and its timeline events in one
// transaction.
func (er *ExecutionRepository) SaveTransition(ctx context.Context, execution *models.Execution, events []*models.TimelineEvent) error {
	tx, err := er.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := er.save(ctx, tx, execution); err != nil {
		_ = tx.Rollback()

		return err
	}

	if err := er.timeline.appendTx(ctx, tx, events); err != nil {
		_ = tx.Rollback()

		return persistence.NewExecutionError("SaveTransition", execution.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition for execution %s: %w", execution.ID, err)
	}

	return nil
}

func (er *ExecutionRepository) list(ctx context.Context, query string, args ...any) ([]*models.Execution, error) {
	rows, err := er.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var executions []*models.Execution

	for rows.Next() {
		var document []byte

		if err := rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		var execution models.Execution
		if err := json.Unmarshal(document, &execution); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
		}

		executions = append(executions, &execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate executions: %w", err)
	}

	return executions, nil
}
