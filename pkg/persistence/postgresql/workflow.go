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

// WorkflowRepository handles workflow database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

const workflowColumns = `id, name, description, status, graph_version, entry_node_id,
	nodes, edges, variables, metadata, owner, created_at, updated_at, published_at`

// Save upserts the workflow row and, for published workflows, snapshots the
// graph version into workflow_versions.
func (wr *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	nodes, err := json.Marshal(workflow.Nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal nodes for workflow %s: %w", workflow.ID, err)
	}

	edges, err := json.Marshal(workflow.Edges)
	if err != nil {
		return fmt.Errorf("failed to marshal edges for workflow %s: %w", workflow.ID, err)
	}

	variables, err := json.Marshal(workflow.Variables)
	if err != nil {
		return fmt.Errorf("failed to marshal variables for workflow %s: %w", workflow.ID, err)
	}

	metadata, err := json.Marshal(workflow.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata for workflow %s: %w", workflow.ID, err)
	}

	tx, err := wr.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflows (`+workflowColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			graph_version = EXCLUDED.graph_version,
			entry_node_id = EXCLUDED.entry_node_id,
			nodes = EXCLUDED.nodes,
			edges = EXCLUDED.edges,
			variables = EXCLUDED.variables,
			metadata = EXCLUDED.metadata,
			owner = EXCLUDED.owner,
			updated_at = EXCLUDED.updated_at,
			published_at = EXCLUDED.published_at`,
		workflow.ID, workflow.Name, workflow.Description, workflow.Status,
		workflow.GraphVersion, workflow.EntryNodeID, nodes, edges,
		variables, metadata, workflow.Owner,
		workflow.CreatedAt, workflow.UpdatedAt, workflow.PublishedAt,
	)
	if err != nil {
		_ = tx.Rollback()

		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	if workflow.Status == models.WorkflowStatusPublished {
		document, err := json.Marshal(workflow)
		if err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("failed to marshal workflow %s: %w", workflow.ID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflow_versions (workflow_id, graph_version, document)
			VALUES ($1, $2, $3)
			ON CONFLICT (workflow_id, graph_version) DO NOTHING`,
			workflow.ID, workflow.GraphVersion, document,
		)
		if err != nil {
			_ = tx.Rollback()

			return persistence.NewWorkflowError("Save", workflow.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit workflow %s: %w", workflow.ID, err)
	}

	return nil
}

// GetByID retrieves the current workflow by its ID.
func (wr *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	row := wr.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id)

	workflow, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to fetch workflow %s: %w", id, err)
	}

	return workflow, nil
}

// GetVersion retrieves the pinned snapshot of a published graph version,
// falling back to the current row when its version matches.
func (wr *WorkflowRepository) GetVersion(ctx context.Context, id string, graphVersion int) (*models.Workflow, error) {
	var document []byte

	err := wr.db.QueryRowContext(ctx, `
		SELECT document FROM workflow_versions
		WHERE workflow_id = $1 AND graph_version = $2`,
		id, graphVersion,
	).Scan(&document)

	if err == nil {
		var workflow models.Workflow
		if err := json.Unmarshal(document, &workflow); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workflow %s v%d: %w", id, graphVersion, err)
		}

		return &workflow, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to fetch workflow %s v%d: %w", id, graphVersion, err)
	}

	current, err := wr.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if current.GraphVersion != graphVersion {
		return nil, persistence.NewWorkflowError("GetVersion", id, persistence.ErrWorkflowVersionNotFound)
	}

	return current, nil
}

// List returns paginated and filtered workflows.
func (wr *WorkflowRepository) List(ctx context.Context, opts persistence.ListWorkflowsOptions) (*persistence.WorkflowListResult, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	if opts.SortBy == "" {
		opts.SortBy = "created_at"
	}

	if opts.SortOrder != "asc" {
		opts.SortOrder = "desc"
	}

	// Sort column comes from an allowlist, never from the caller's string.
	orderColumns := map[string]string{
		"created_at": "created_at",
		"updated_at": "updated_at",
		"name":       "name",
	}

	orderColumn, ok := orderColumns[opts.SortBy]
	if !ok {
		return nil, fmt.Errorf("invalid sort field: %s", opts.SortBy)
	}

	where := "WHERE 1=1"
	args := []any{}

	if opts.OwnerID != "" {
		args = append(args, opts.OwnerID)
		where += fmt.Sprintf(" AND owner = $%d", len(args))
	}

	if opts.Status != nil {
		args = append(args, *opts.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var totalCount int64
	if err := wr.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflows "+where, args...).Scan(&totalCount); err != nil {
		return nil, fmt.Errorf("failed to count workflows: %w", err)
	}

	args = append(args, opts.Limit, opts.Offset)
	query := fmt.Sprintf(
		"SELECT %s FROM workflows %s ORDER BY %s %s LIMIT $%d OFFSET $%d",
		workflowColumns, where, orderColumn, opts.SortOrder, len(args)-1, len(args),
	)

	rows, err := wr.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	workflows := make([]*models.Workflow, 0, opts.Limit)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate workflows: %w", err)
	}

	return &persistence.WorkflowListResult{
		Workflows:   workflows,
		TotalCount:  totalCount,
		HasNextPage: int64(opts.Offset+len(workflows)) < totalCount,
	}, nil
}

// Delete removes the workflow row. Version snapshots are kept so existing
// executions stay replayable.
func (wr *WorkflowRepository) Delete(ctx context.Context, id string) error {
	_, err := wr.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = $1", id)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*models.Workflow, error) {
	var (
		workflow  models.Workflow
		nodes     []byte
		edges     []byte
		variables []byte
		metadata  []byte
		owner     sql.NullString
	)

	err := row.Scan(
		&workflow.ID, &workflow.Name, &workflow.Description, &workflow.Status,
		&workflow.GraphVersion, &workflow.EntryNodeID, &nodes, &edges,
		&variables, &metadata, &owner,
		&workflow.CreatedAt, &workflow.UpdatedAt, &workflow.PublishedAt,
	)
	if err != nil {
		return nil, err
	}

	workflow.Owner = owner.String

	if err := json.Unmarshal(nodes, &workflow.Nodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}

	if err := json.Unmarshal(edges, &workflow.Edges); err != nil {
		return nil, fmt.Errorf("failed to unmarshal edges: %w", err)
	}

	if len(variables) > 0 {
		if err := json.Unmarshal(variables, &workflow.Variables); err != nil {
			return nil, fmt.Errorf("failed to unmarshal variables: %w", err)
		}
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &workflow.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &workflow, nil
}
