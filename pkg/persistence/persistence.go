// Package persistence provides the storage abstraction for workflows,
// executions and timeline events.
package persistence

import (
	"context"
	"time"

	"github.com/weblisite/synthralos-engine/pkg/models"
)

// Persistence aggregates the repositories backed by one store.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	TimelineRepository() TimelineRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ListWorkflowsOptions filters and paginates workflow listings.
type ListWorkflowsOptions struct {
	OwnerID   string
	Status    *models.WorkflowStatus
	Limit     int
	Offset    int
	SortBy    string // created_at, updated_at, name
	SortOrder string // asc, desc
}

// WorkflowListResult is one page of workflows plus paging metadata.
type WorkflowListResult struct {
	Workflows   []*models.Workflow
	TotalCount  int64
	HasNextPage bool
}

// WorkflowRepository stores workflow definitions. Published graph versions
// are snapshotted so running executions keep a stable copy of the graph
// they started on.
type WorkflowRepository interface {
	Save(ctx context.Context, workflow *models.Workflow) error
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	// GetVersion returns the pinned snapshot of a published graph version.
	GetVersion(ctx context.Context, id string, graphVersion int) (*models.Workflow, error)
	List(ctx context.Context, opts ListWorkflowsOptions) (*WorkflowListResult, error)
	Delete(ctx context.Context, id string) error
}

// ExecutionRepository stores execution state. The engine enforces a single
// writer per execution, so implementations need no per-row locking beyond
// transactional writes.
type ExecutionRepository interface {
	Save(ctx context.Context, execution *models.Execution) error
	GetByID(ctx context.Context, id string) (*models.Execution, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error)
	ListByStatus(ctx context.Context, status models.ExecutionStatus) ([]*models.Execution, error)

	// ListDueRetries returns running executions whose next retry time has
	// passed; the activator requeues them.
	ListDueRetries(ctx context.Context, now time.Time) ([]*models.Execution, error)

	// ListDueWakeups returns waiting executions whose wake time has passed.
	ListDueWakeups(ctx context.Context, now time.Time) ([]*models.Execution, error)

	// SaveTransition persists an execution state change together with the
	// timeline events it produced. Implementations make the pair atomic
	// where the backing store allows it.
	SaveTransition(ctx context.Context, execution *models.Execution, events []*models.TimelineEvent) error
}

// TimelineRepository stores the append-only event history of executions.
// Implementations assign Sequence, monotonically increasing per execution.
type TimelineRepository interface {
	Append(ctx context.Context, events ...*models.TimelineEvent) error
	ListByExecution(ctx context.Context, executionID string) ([]*models.TimelineEvent, error)
}
