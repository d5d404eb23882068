// Package models defines the core domain models for node-based workflow execution.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusDraft       WorkflowStatus = "draft"       // Editable, not executable
	WorkflowStatusPublished   WorkflowStatus = "published"   // Current active, executable
	WorkflowStatusUnpublished WorkflowStatus = "unpublished" // Historical, not executable
)

// Node type identifiers understood by the scheduler. Any other type is
// dispatched through the runner registry as a plain action node.
const (
	NodeTypeTrigger = "trigger"

	NodeTypeCondition = "condition"
	NodeTypeSwitch    = "switch"
	NodeTypeRAGSwitch = "rag_switch"
	NodeTypeOCRSwitch = "ocr_switch"

	NodeTypeLoop   = "loop"
	NodeTypeFor    = "for"
	NodeTypeWhile  = "while"
	NodeTypeRepeat = "repeat"

	NodeTypeBreak    = "break"
	NodeTypeContinue = "continue"

	NodeTypeTry     = "try"
	NodeTypeCatch   = "catch"
	NodeTypeFinally = "finally"

	NodeTypeSplit = "split"
	NodeTypeMerge = "merge"

	NodeTypeWait          = "wait"
	NodeTypeHumanApproval = "human_approval"

	NodeTypeSetVariable = "set_variable"
	NodeTypeGetVariable = "get_variable"
)

// Edge labels with scheduler meaning on control-flow nodes.
const (
	EdgeLabelBody    = "body"
	EdgeLabelDone    = "done"
	EdgeLabelCatch   = "catch"
	EdgeLabelFinally = "finally"
	EdgeLabelTrue    = "true"
	EdgeLabelFalse   = "false"
	EdgeLabelDefault = "default"
	EdgeLabelNext    = "next"
)

// WorkflowNode is one node instance inside a workflow graph.
type WorkflowNode struct {
	ID        string         `json:"id"        validate:"required"`
	Type      string         `json:"type"      validate:"required"`
	Name      string         `json:"name"      validate:"required,min=1"`
	Config    map[string]any `json:"config"`
	Enabled   bool           `json:"enabled"`
	PositionX int            `json:"position_x"`
	PositionY int            `json:"position_y"`
}

// UnmarshalJSON defaults Enabled to true when the field is absent, so a
// graph authored without it runs its nodes instead of skipping all of them.
func (n *WorkflowNode) UnmarshalJSON(data []byte) error {
	type plain WorkflowNode

	aux := struct {
		Enabled *bool `json:"enabled"`
		*plain
	}{plain: (*plain)(n)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	n.Enabled = aux.Enabled == nil || *aux.Enabled

	return nil
}

// Edge is a directed connection between two nodes. Label carries branch
// semantics on control-flow nodes ("true"/"false", "body"/"done", case values).
type Edge struct {
	ID    string `json:"id"`
	From  string `json:"from"  validate:"required"`
	To    string `json:"to"    validate:"required"`
	Label string `json:"label,omitempty"`
}

// Workflow is a versioned node graph. Executions pin a (workflow_id,
// graph_version) pair; a published version is immutable.
type Workflow struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"          validate:"required,min=3"`
	Description  string          `json:"description"`
	Status       WorkflowStatus  `json:"status"        validate:"required"`
	GraphVersion int             `json:"graph_version"`
	EntryNodeID  string          `json:"entry_node_id" validate:"required"`
	Nodes        []*WorkflowNode `json:"nodes"`
	Edges        []*Edge         `json:"edges"`
	Variables    map[string]any  `json:"variables"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	Owner        string          `json:"owner"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	PublishedAt  *time.Time      `json:"published_at,omitempty"`
}

// Graph validation errors.
var (
	ErrNoEntryNode      = errors.New("workflow has no entry node")
	ErrUnknownEntryNode = errors.New("entry node does not exist in graph")
	ErrDanglingEdge     = errors.New("edge references unknown node")
	ErrDuplicateNodeID  = errors.New("duplicate node id")
	ErrGraphCycle       = errors.New("graph contains a cycle outside a loop construct")
)

// NodeByID returns the node with the given id, or nil.
func (w *Workflow) NodeByID(id string) *WorkflowNode {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n
		}
	}

	return nil
}

// Outgoing returns all edges leaving the given node, in definition order.
func (w *Workflow) Outgoing(nodeID string) []*Edge {
	var out []*Edge

	for _, e := range w.Edges {
		if e.From == nodeID {
			out = append(out, e)
		}
	}

	return out
}

// Incoming returns all edges entering the given node, in definition order.
func (w *Workflow) Incoming(nodeID string) []*Edge {
	var in []*Edge

	for _, e := range w.Edges {
		if e.To == nodeID {
			in = append(in, e)
		}
	}

	return in
}

// IsLoopNode reports whether the node type is one of the loop constructs,
// the only nodes allowed to be the target of a back-edge.
func IsLoopNode(nodeType string) bool {
	switch nodeType {
	case NodeTypeLoop, NodeTypeFor, NodeTypeWhile, NodeTypeRepeat:
		return true
	}

	return false
}

// IsBranchNode reports whether the node selects exactly one outgoing edge.
func IsBranchNode(nodeType string) bool {
	switch nodeType {
	case NodeTypeCondition, NodeTypeSwitch, NodeTypeRAGSwitch, NodeTypeOCRSwitch:
		return true
	}

	return false
}

// ValidateGraph checks structural invariants: node ids unique, edges
// reference existing nodes, the entry node exists, and the graph is acyclic
// except for back-edges that target a loop construct.
func (w *Workflow) ValidateGraph() error {
	if w.EntryNodeID == "" {
		return ErrNoEntryNode
	}

	byID := make(map[string]*WorkflowNode, len(w.Nodes))

	for _, n := range w.Nodes {
		if _, dup := byID[n.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateNodeID, n.ID)
		}

		byID[n.ID] = n
	}

	if _, ok := byID[w.EntryNodeID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntryNode, w.EntryNodeID)
	}

	for _, e := range w.Edges {
		if _, ok := byID[e.From]; !ok {
			return fmt.Errorf("%w: %s -> %s", ErrDanglingEdge, e.From, e.To)
		}

		if _, ok := byID[e.To]; !ok {
			return fmt.Errorf("%w: %s -> %s", ErrDanglingEdge, e.From, e.To)
		}
	}

	return w.checkAcyclic(byID)
}

// checkAcyclic runs a coloured depth-first search, ignoring edges whose
// target is a loop construct (the sanctioned back-edges).
func (w *Workflow) checkAcyclic(byID map[string]*WorkflowNode) error {
	const (
		white = 0
		grey  = 1
		black = 2
	)

	colour := make(map[string]int, len(w.Nodes))

	var visit func(id string) error

	visit = func(id string) error {
		colour[id] = grey

		for _, e := range w.Outgoing(id) {
			if target := byID[e.To]; target != nil && IsLoopNode(target.Type) {
				continue
			}

			switch colour[e.To] {
			case grey:
				return fmt.Errorf("%w: via %s -> %s", ErrGraphCycle, e.From, e.To)
			case white:
				if err := visit(e.To); err != nil {
					return err
				}
			}
		}

		colour[id] = black

		return nil
	}

	for _, n := range w.Nodes {
		if colour[n.ID] == white {
			if err := visit(n.ID); err != nil {
				return err
			}
		}
	}

	return nil
}
