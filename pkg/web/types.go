// Package web provides the HTTP API over workflow management and execution
// control.
package web

import "github.com/weblisite/synthralos-engine/pkg/models"

// CreateWorkflowRequest is the request body for creating a workflow draft.
type CreateWorkflowRequest struct {
	Name        string                 `json:"name"        validate:"required,min=3"`
	Description string                 `json:"description"`
	EntryNodeID string                 `json:"entry_node_id"`
	Nodes       []*models.WorkflowNode `json:"nodes"`
	Edges       []*models.Edge         `json:"edges"`
	Variables   map[string]any         `json:"variables"`
	Metadata    map[string]any         `json:"metadata,omitempty"`
	Owner       string                 `json:"owner"`
}

// UpdateWorkflowRequest replaces the editable fields of a draft workflow.
type UpdateWorkflowRequest struct {
	Name        string                 `json:"name"        validate:"required,min=3"`
	Description string                 `json:"description"`
	EntryNodeID string                 `json:"entry_node_id"`
	Nodes       []*models.WorkflowNode `json:"nodes"`
	Edges       []*models.Edge         `json:"edges"`
	Variables   map[string]any         `json:"variables"`
	Metadata    map[string]any         `json:"metadata,omitempty"`
}

// StartExecutionRequest starts an execution of a published workflow.
type StartExecutionRequest struct {
	TriggerData map[string]any `json:"trigger_data"`
}

// SignalRequest delivers a payload to a waiting execution. NodeID may be
// empty to target the node the execution is waiting on.
type SignalRequest struct {
	NodeID string         `json:"node_id"`
	Data   map[string]any `json:"data"`
}

// TestRunRequest runs a workflow in test mode with optional mocks.
type TestRunRequest struct {
	TriggerData map[string]any            `json:"trigger_data"`
	MockOutputs map[string]map[string]any `json:"mock_outputs"`
}

// BreakpointResponse reports the state of a breakpoint after a toggle.
type BreakpointResponse struct {
	NodeID  string `json:"node_id"`
	Enabled bool   `json:"enabled"`
}

func (r *CreateWorkflowRequest) toModel() *models.Workflow {
	return &models.Workflow{
		Name:        r.Name,
		Description: r.Description,
		EntryNodeID: r.EntryNodeID,
		Nodes:       r.Nodes,
		Edges:       r.Edges,
		Variables:   r.Variables,
		Metadata:    r.Metadata,
		Owner:       r.Owner,
	}
}

func (r *UpdateWorkflowRequest) toModel() *models.Workflow {
	return &models.Workflow{
		Name:        r.Name,
		Description: r.Description,
		EntryNodeID: r.EntryNodeID,
		Nodes:       r.Nodes,
		Edges:       r.Edges,
		Variables:   r.Variables,
		Metadata:    r.Metadata,
	}
}
