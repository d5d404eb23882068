package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/weblisite/synthralos-engine/pkg/models"
)

// TimelineRepository handles timeline event database operations.
type TimelineRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTimelineRepository creates a new timeline repository.
func NewTimelineRepository(db *sql.DB, logger *slog.Logger) *TimelineRepository {
	return &TimelineRepository{db: db, logger: logger}
}

type queryExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Append adds events to the execution's timeline inside its own transaction.
func (tr *TimelineRepository) Append(ctx context.Context, events ...*models.TimelineEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := tr.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := tr.appendTx(ctx, tx, events); err != nil {
		_ = tx.Rollback()

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit timeline append: %w", err)
	}

	return nil
}

// appendTx writes events within the caller's transaction, assigning sequence
// numbers following the stored tail.
func (tr *TimelineRepository) appendTx(ctx context.Context, tx queryExecer, events []*models.TimelineEvent) error {
	if len(events) == 0 {
		return nil
	}

	executionID := events[0].ExecutionID

	var tail int64

	err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(sequence), 0) FROM timeline_events WHERE execution_id = $1",
		executionID,
	).Scan(&tail)
	if err != nil {
		return fmt.Errorf("failed to query timeline tail for %s: %w", executionID, err)
	}

	for _, event := range events {
		if event.ExecutionID != executionID {
			return fmt.Errorf("timeline append spans executions %s and %s", executionID, event.ExecutionID)
		}

		if event.ID == "" {
			event.ID = uuid.New().String()
		}

		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now().UTC()
		}

		tail++
		event.Sequence = tail

		metadata, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal event metadata: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO timeline_events (
				id, execution_id, sequence, type, timestamp,
				node_id, duration_ms, message, metadata
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			event.ID, event.ExecutionID, event.Sequence, event.Type,
			event.Timestamp, event.NodeID, event.DurationMs, event.Message, metadata,
		)
		if err != nil {
			return fmt.Errorf("failed to insert timeline event for %s: %w", executionID, err)
		}
	}

	return nil
}

// ListByExecution returns the execution's events in sequence order.
func (tr *TimelineRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.TimelineEvent, error) {
	rows, err := tr.db.QueryContext(ctx, `
		SELECT id, execution_id, sequence, type, timestamp,
			node_id, duration_ms, message, metadata
		FROM timeline_events
		WHERE execution_id = $1
		ORDER BY sequence`,
		executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list timeline events for %s: %w", executionID, err)
	}
	defer func() { _ = rows.Close() }()

	events := make([]*models.TimelineEvent, 0)

	for rows.Next() {
		var (
			event      models.TimelineEvent
			nodeID     sql.NullString
			durationMs sql.NullInt64
			message    sql.NullString
			metadata   []byte
		)

		err := rows.Scan(
			&event.ID, &event.ExecutionID, &event.Sequence, &event.Type,
			&event.Timestamp, &nodeID, &durationMs, &message, &metadata,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan timeline event: %w", err)
		}

		event.NodeID = nodeID.String
		event.DurationMs = durationMs.Int64
		event.Message = message.String

		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event metadata: %w", err)
			}
		}

		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate timeline events: %w", err)
	}

	return events, nil
}
