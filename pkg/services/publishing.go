package services

import (
	"context"
	"fmt"
	"time"

	"github.com/weblisite/synthralos-engine/pkg/models"
	"github.com/weblisite/synthralos-engine/pkg/persistence"
	"github.com/weblisite/synthralos-engine/pkg/registry"
)

// Publishing handles workflow publishing and version lifecycle. Publishing
// validates the graph, bumps the graph version and snapshots it so running
// executions keep a stable copy.
type Publishing struct {
	persistence persistence.Persistence
	registry    *registry.Registry
}

func NewPublishing(persistence persistence.Persistence, registry *registry.Registry) *Publishing {
	return &Publishing{persistence: persistence, registry: registry}
}

// Publish validates and publishes a workflow, assigning the next graph
// version.
func (p *Publishing) Publish(ctx context.Context, workflowID string) (*models.Workflow, error) {
	workflow, err := p.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.Status == models.WorkflowStatusPublished {
		return nil, ErrAlreadyPublished
	}

	if err := p.validateForPublishing(workflow); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	workflow.Status = models.WorkflowStatusPublished
	workflow.GraphVersion++
	workflow.PublishedAt = &now
	workflow.UpdatedAt = now

	if err := p.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to publish workflow: %w", err)
	}

	return workflow, nil
}

// Unpublish retires the published version. New executions can no longer
// start; running executions keep their pinned snapshots.
func (p *Publishing) Unpublish(ctx context.Context, workflowID string) (*models.Workflow, error) {
	workflow, err := p.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.Status != models.WorkflowStatusPublished {
		return nil, ErrNotPublished
	}

	workflow.Status = models.WorkflowStatusUnpublished
	workflow.UpdatedAt = time.Now().UTC()

	if err := p.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to unpublish workflow: %w", err)
	}

	return workflow, nil
}

// CreateDraft reopens an unpublished workflow for editing.
func (p *Publishing) CreateDraft(ctx context.Context, workflowID string) (*models.Workflow, error) {
	workflow, err := p.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.Status == models.WorkflowStatusPublished {
		return nil, ErrCannotModifyPublished
	}

	workflow.Status = models.WorkflowStatusDraft
	workflow.UpdatedAt = time.Now().UTC()

	if err := p.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to create draft: %w", err)
	}

	return workflow, nil
}

func (p *Publishing) validateForPublishing(workflow *models.Workflow) error {
	if workflow == nil {
		return ErrWorkflowNil
	}

	if workflow.Name == "" {
		return ErrWorkflowNameRequired
	}

	if len(workflow.Nodes) == 0 {
		return ErrNodesRequired
	}

	if workflow.EntryNodeID == "" {
		return ErrEntryNodeRequired
	}

	if err := workflow.ValidateGraph(); err != nil {
		return NewValidationError("Publish", "INVALID_GRAPH", err.Error(), ErrInvalidRequest)
	}

	if p.registry != nil {
		if err := p.registry.ValidateWorkflowConfigs(workflow); err != nil {
			return NewValidationError("Publish", "INVALID_NODE_CONFIG", err.Error(), ErrInvalidRequest)
		}
	}

	return nil
}
