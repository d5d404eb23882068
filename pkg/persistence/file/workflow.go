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

// WorkflowRepository handles workflow-related file operations. Published
// graph versions are snapshotted under versions/ so running executions can
// pin the graph they started on.
type WorkflowRepository struct {
	root string
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(root string) *WorkflowRepository {
	return &WorkflowRepository{root: root}
}

// GetByID retrieves the current workflow by its ID from the file system.
func (wr *WorkflowRepository) GetByID(_ context.Context, workflowID string) (*models.Workflow, error) {
	filePath := filepath.Clean(path.Join(wr.root, "workflows", workflowID+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewWorkflowError("GetByID", workflowID, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to fetch workflow %s: %w", workflowID, err)
	}

	var workflow models.Workflow

	err = json.Unmarshal(body, &workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow %s: %w", workflowID, err)
	}

	return &workflow, nil
}

// GetVersion retrieves the pinned snapshot of a published graph version. It
// falls back to the current file when its version matches, so drafts that
// were never published can still be executed in test mode.
func (wr *WorkflowRepository) GetVersion(ctx context.Context, workflowID string, graphVersion int) (*models.Workflow, error) {
	filePath := filepath.Clean(path.Join(wr.root, "versions", fmt.Sprintf("%s-v%d.json", workflowID, graphVersion)))

	body, err := os.ReadFile(filePath)
	if err == nil {
		var workflow models.Workflow
		if err := json.Unmarshal(body, &workflow); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workflow %s v%d: %w", workflowID, graphVersion, err)
		}

		return &workflow, nil
	}

	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to fetch workflow %s v%d: %w", workflowID, graphVersion, err)
	}

	current, err := wr.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if current.GraphVersion != graphVersion {
		return nil, persistence.NewWorkflowError("GetVersion", workflowID, persistence.ErrWorkflowVersionNotFound)
	}

	return current, nil
}

// Save writes the current workflow file and, for published workflows,
// snapshots the graph version.
func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	err := os.MkdirAll(path.Join(wr.root, "workflows"), 0750)
	if err != nil {
		return fmt.Errorf("failed to create workflows directory: %w", err)
	}

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	data, err := json.MarshalIndent(workflow, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workflow %s: %w", workflow.ID, err)
	}

	filePath := path.Join(wr.root, "workflows", workflow.ID+".json")
	if err := writeFileAtomic(filePath, data); err != nil {
		return fmt.Errorf("failed to write workflow %s: %w", workflow.ID, err)
	}

	if workflow.Status == models.WorkflowStatusPublished {
		if err := os.MkdirAll(path.Join(wr.root, "versions"), 0750); err != nil {
			return fmt.Errorf("failed to create versions directory: %w", err)
		}

		versionPath := path.Join(wr.root, "versions", fmt.Sprintf("%s-v%d.json", workflow.ID, workflow.GraphVersion))
		if err := writeFileAtomic(versionPath, data); err != nil {
			return fmt.Errorf("failed to snapshot workflow %s v%d: %w", workflow.ID, workflow.GraphVersion, err)
		}
	}

	return nil
}

// Delete removes a workflow by its ID. Version snapshots are kept so
// existing executions stay replayable.
func (wr *WorkflowRepository) Delete(_ context.Context, id string) error {
	filePath := path.Join(wr.root, "workflows", id+".json")

	err := os.Remove(filePath)

	if err != nil && os.IsNotExist(err) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	return nil
}

// List returns paginated and filtered workflows with in-memory operations.
func (wr *WorkflowRepository) List(ctx context.Context, opts persistence.ListWorkflowsOptions) (*persistence.WorkflowListResult, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	if opts.SortBy == "" {
		opts.SortBy = "created_at"
	}

	if opts.SortOrder == "" {
		opts.SortOrder = "desc"
	}

	allowedSorts := map[string]bool{
		"created_at": true,
		"updated_at": true,
		"name":       true,
	}
	if !allowedSorts[opts.SortBy] {
		return nil, fmt.Errorf("invalid sort field: %s", opts.SortBy)
	}

	root := os.DirFS(path.Join(wr.root, "workflows"))

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow files: %w", err)
	}

	if len(jsonFiles) == 0 {
		return &persistence.WorkflowListResult{
			Workflows:   make([]*models.Workflow, 0),
			TotalCount:  0,
			HasNextPage: false,
		}, nil
	}

	filtered := make([]*models.Workflow, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		workflowID := file[:len(file)-5] // Remove .json extension

		workflow, err := wr.GetByID(ctx, workflowID)
		if err != nil {
			if persistence.IsWorkflowNotFound(err) {
				continue
			}

			return nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
		}

		if opts.OwnerID != "" && workflow.Owner != opts.OwnerID {
			continue
		}

		if opts.Status != nil && workflow.Status != *opts.Status {
			continue
		}

		filtered = append(filtered, workflow)
	}

	wr.sortWorkflows(filtered, opts.SortBy, opts.SortOrder)

	totalCount := int64(len(filtered))
	startIdx := opts.Offset
	endIdx := opts.Offset + opts.Limit

	if startIdx >= len(filtered) {
		return &persistence.WorkflowListResult{
			Workflows:   make([]*models.Workflow, 0),
			TotalCount:  totalCount,
			HasNextPage: false,
		}, nil
	}

	if endIdx > len(filtered) {
		endIdx = len(filtered)
	}

	return &persistence.WorkflowListResult{
		Workflows:   filtered[startIdx:endIdx],
		TotalCount:  totalCount,
		HasNextPage: endIdx < len(filtered),
	}, nil
}

// sortWorkflows sorts workflows in-place based on the specified field and order.
func (wr *WorkflowRepository) sortWorkflows(workflows []*models.Workflow, sortBy, sortOrder string) {
	sort.Slice(workflows, func(i, j int) bool {
		var less bool

		switch sortBy {
		case "updated_at":
			less = workflows[i].UpdatedAt.Before(workflows[j].UpdatedAt)
		case "name":
			less = workflows[i].Name < workflows[j].Name
		default:
			less = workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
		}

		if sortOrder == "desc" {
			return !less
		}

		return less
	})
}

// writeFileAtomic writes via a temp file and rename so readers never see a
// partially written JSON document.
func writeFileAtomic(filePath string, data []byte) error {
	tmp := filePath + ".tmp"

	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}

	return os.Rename(tmp, filePath)
}
