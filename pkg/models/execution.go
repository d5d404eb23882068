package models

import (
	"time"
)

// ExecutionStatus is the lifecycle state of one execution.
type ExecutionStatus string

const (
	ExecutionStatusRunning          ExecutionStatus = "running"
	ExecutionStatusPaused           ExecutionStatus = "paused"
	ExecutionStatusWaitingForSignal ExecutionStatus = "waiting_for_signal"
	ExecutionStatusCompleted        ExecutionStatus = "completed"
	ExecutionStatusFailed           ExecutionStatus = "failed"
)

// IsTerminal reports whether the status admits no further transitions.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// TriggerType records how an execution was started, for audit.
type TriggerType string

const (
	TriggerTypeManual   TriggerType = "manual"
	TriggerTypeWebhook  TriggerType = "webhook"
	TriggerTypeSchedule TriggerType = "schedule"
	TriggerTypeKafka    TriggerType = "kafka"
	TriggerTypeReplay   TriggerType = "replay"
	TriggerTypeTest     TriggerType = "test"
)

// NodeRunStatus is the outcome of one node inside node_results.
type NodeRunStatus string

const (
	NodeRunCompleted NodeRunStatus = "completed"
	NodeRunFailed    NodeRunStatus = "failed"
)

// Attempt records one invocation of a node, kept even when retried so the
// attempt history stays visible.
type Attempt struct {
	Number     int       `json:"number"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// NodeResult is the latest outcome of a node plus its attempt history.
type NodeResult struct {
	NodeID       string         `json:"node_id"`
	Status       NodeRunStatus  `json:"status"`
	Output       map[string]any `json:"output,omitempty"`
	Error        string         `json:"error,omitempty"`
	DurationMs   int64          `json:"duration_ms"`
	AttemptCount int            `json:"attempt_count"`
	Attempts     []Attempt      `json:"attempts,omitempty"`
}

// LoopFrame is one active loop iteration scope. Frames stack innermost-last;
// Vars is discarded when the loop terminates.
type LoopFrame struct {
	LoopNodeID string         `json:"loop_node_id"`
	Variable   string         `json:"variable,omitempty"`
	Items      []any          `json:"items,omitempty"`
	Index      int            `json:"index"`
	Iteration  int            `json:"iteration"`
	Vars       map[string]any `json:"vars"`
	BodyNodes  []string       `json:"body_nodes,omitempty"`
}

// TryFrame is one active try/catch/finally region.
type TryFrame struct {
	TryNodeID    string   `json:"try_node_id"`
	BodyNodes    []string `json:"body_nodes,omitempty"`
	CatchNodes   []string `json:"catch_nodes,omitempty"`
	ActiveCatch  string   `json:"active_catch,omitempty"`
	CatchNodesIn []string `json:"catch_body_nodes,omitempty"`
	FinallyRun   bool     `json:"finally_run"`
	// PendingError holds an uncaught body failure that must resurface after
	// the finally branch has run.
	PendingError string `json:"pending_error,omitempty"`
}

// Variables holds the nested variable scopes readable by nodes. Loop scopes
// live on Execution.LoopFrames; NodeLocal is keyed by node id. The maps stay
// in the serialized form even when empty so a reloaded execution is writable.
type Variables struct {
	Workflow  map[string]any            `json:"workflow"`
	NodeLocal map[string]map[string]any `json:"node_local"`
}

// DebugState is the debug controller sub-state machine over one execution.
type DebugState string

const (
	DebugDetached  DebugState = "detached"
	DebugArmed     DebugState = "armed"
	DebugSuspended DebugState = "suspended"
	DebugStepping  DebugState = "stepping"
)

// Execution is one run instance of a workflow graph. It is mutated only by
// the engine controllers under the single-writer-per-execution rule.
type Execution struct {
	ID           string      `json:"id"            validate:"required"`
	WorkflowID   string      `json:"workflow_id"   validate:"required"`
	GraphVersion int         `json:"graph_version"`
	TriggerType  TriggerType `json:"trigger_type"`

	Status        ExecutionStatus `json:"status"`
	CurrentNodeID string          `json:"current_node_id,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`

	// CompletedNodeIDs is append-only completion order; loop iterations may
	// repeat a node id. Timeline replay depends on this ordering.
	CompletedNodeIDs []string              `json:"completed_node_ids"`
	NodeResults      map[string]NodeResult `json:"node_results"`

	// Scheduling frontier. Done marks nodes satisfied in the current control
	// epoch (loop re-entry clears body nodes); Skipped marks unchosen
	// branches; EnabledEdges gates edges leaving control-flow nodes.
	Done         map[string]bool `json:"done_nodes"`
	Skipped      map[string]bool `json:"skipped_nodes"`
	EnabledEdges map[string]bool `json:"enabled_edges"`

	Variables  Variables   `json:"variables"`
	LoopFrames []LoopFrame `json:"loop_frames,omitempty"`
	TryFrames  []TryFrame  `json:"try_frames,omitempty"`

	TriggerData map[string]any `json:"trigger_data,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	// Retry mirror of the current node's attempt counter.
	RetryCount  int        `json:"retry_count"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	// Signal wait state. WakeAt is set for timed waits and nil for approvals;
	// SignalNodeID is the wait/approval node to satisfy.
	WakeAt       *time.Time `json:"wake_at,omitempty"`
	SignalNodeID string     `json:"signal_node_id,omitempty"`

	DebugMode   bool            `json:"debug_mode"`
	DebugState  DebugState      `json:"debug_state,omitempty"`
	Breakpoints map[string]bool `json:"breakpoints"`

	// MockOutputs substitutes canned outputs for listed nodes (test mode and
	// replay seeding).
	MockOutputs map[string]map[string]any `json:"mock_outputs,omitempty"`

	// ReplayOf links a replay execution to its failed source.
	ReplayOf string `json:"replay_of,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// EdgeKey identifies an edge inside EnabledEdges.
func EdgeKey(e *Edge) string {
	return e.From + "->" + e.To + ":" + e.Label
}

// NewExecution builds a fresh running execution for a pinned graph version.
func NewExecution(id string, wf *Workflow, triggerType TriggerType, triggerData map[string]any) *Execution {
	now := time.Now().UTC()

	vars := make(map[string]any, len(wf.Variables))
	for k, v := range wf.Variables {
		vars[k] = v
	}

	return &Execution{
		ID:               id,
		WorkflowID:       wf.ID,
		GraphVersion:     wf.GraphVersion,
		TriggerType:      triggerType,
		Status:           ExecutionStatusRunning,
		CompletedNodeIDs: []string{},
		NodeResults:      make(map[string]NodeResult),
		Done:             make(map[string]bool),
		Skipped:          make(map[string]bool),
		EnabledEdges:     make(map[string]bool),
		Variables: Variables{
			Workflow:  vars,
			NodeLocal: make(map[string]map[string]any),
		},
		TriggerData: triggerData,
		Breakpoints: make(map[string]bool),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// MarkCompleted appends a node to the completion order and records its result.
func (e *Execution) MarkCompleted(nodeID string, result NodeResult) {
	e.CompletedNodeIDs = append(e.CompletedNodeIDs, nodeID)
	e.NodeResults[nodeID] = result
	e.Done[nodeID] = true
	e.UpdatedAt = time.Now().UTC()
}

// LastResult returns the most recently completed node's result, or nil.
func (e *Execution) LastResult() *NodeResult {
	for i := len(e.CompletedNodeIDs) - 1; i >= 0; i-- {
		if r, ok := e.NodeResults[e.CompletedNodeIDs[i]]; ok {
			return &r
		}
	}

	return nil
}

// InnermostLoop returns a pointer to the innermost active loop frame, or nil.
func (e *Execution) InnermostLoop() *LoopFrame {
	if len(e.LoopFrames) == 0 {
		return nil
	}

	return &e.LoopFrames[len(e.LoopFrames)-1]
}

// InnermostTry returns a pointer to the innermost active try frame, or nil.
func (e *Execution) InnermostTry() *TryFrame {
	if len(e.TryFrames) == 0 {
		return nil
	}

	return &e.TryFrames[len(e.TryFrames)-1]
}

// ScopedVariables resolves the read view of all active scopes, innermost loop
// frames shadowing workflow variables.
func (e *Execution) ScopedVariables() map[string]any {
	merged := make(map[string]any, len(e.Variables.Workflow))

	for k, v := range e.Variables.Workflow {
		merged[k] = v
	}

	for i := range e.LoopFrames {
		frame := &e.LoopFrames[i]
		for k, v := range frame.Vars {
			merged[k] = v
		}

		if frame.Variable != "" && frame.Index < len(frame.Items) {
			merged[frame.Variable] = frame.Items[frame.Index]
		}
	}

	return merged
}
