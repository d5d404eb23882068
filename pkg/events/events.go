// Package events defines the event types exchanged between the API, the
// workers and the activator.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/weblisite/synthralos-engine/pkg/models"
)

type EventType string

// Topic is the Kafka topic carrying all engine events. Messages are keyed
// by execution id so one execution is always handled in order by one
// consumer in the group.
const Topic = "synthralos.engine.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Work events consumed by workers.
	ExecutionQueuedEvent  EventType = "execution.queued"
	ExecutionResumedEvent EventType = "execution.resumed"

	// Notification events emitted by workers.
	ExecutionStartedEvent    EventType = "execution.started"
	ExecutionCompletedEvent  EventType = "execution.completed"
	ExecutionFailedEvent     EventType = "execution.failed"
	ExecutionPausedEvent     EventType = "execution.paused"
	ExecutionWaitingEvent    EventType = "execution.waiting"
	ExecutionTerminatedEvent EventType = "execution.terminated"
	NodeCompletedEvent       EventType = "node.completed"
	NodeFailedEvent          EventType = "node.failed"
)

type BaseEvent struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	WorkflowID  string         `json:"workflow_id"`
	ExecutionID string         `json:"execution_id"`
	WorkerID    string         `json:"worker_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, workflowID, executionID string) BaseEvent {
	return BaseEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		WorkflowID:  workflowID,
		ExecutionID: executionID,
		Metadata:    make(map[string]any),
	}
}

// ExecutionQueued asks a worker to pick up a freshly created execution.
type ExecutionQueued struct {
	BaseEvent

	TriggerType models.TriggerType `json:"trigger_type"`
	TriggerData map[string]any     `json:"trigger_data,omitempty"`
}

func (e ExecutionQueued) GetType() EventType {
	return ExecutionQueuedEvent
}

// ExecutionResumed asks a worker to re-enter a persisted execution: after a
// resume, a delivered signal, a due retry or a due wakeup.
type ExecutionResumed struct {
	BaseEvent

	// Reason is resume, signal, retry or wakeup.
	Reason string `json:"reason"`
	// SignalNodeID is set when a signal satisfied a waiting node.
	SignalNodeID string         `json:"signal_node_id,omitempty"`
	SignalData   map[string]any `json:"signal_data,omitempty"`
}

func (e ExecutionResumed) GetType() EventType {
	return ExecutionResumedEvent
}

type ExecutionStarted struct {
	BaseEvent

	WorkflowName string             `json:"workflow_name"`
	TriggerType  models.TriggerType `json:"trigger_type"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	DurationMs    int64          `json:"duration_ms"`
	NodesExecuted int            `json:"nodes_executed"`
	FinalOutput   map[string]any `json:"final_output,omitempty"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	NodeID        string `json:"node_id,omitempty"`
	Error         string `json:"error"`
	FailureKind   string `json:"failure_kind,omitempty"`
	DurationMs    int64  `json:"duration_ms"`
	NodesExecuted int    `json:"nodes_executed"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionPaused struct {
	BaseEvent

	PausedAtNode string `json:"paused_at_node,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

func (e ExecutionPaused) GetType() EventType {
	return ExecutionPausedEvent
}

// ExecutionWaiting signals the execution parked on a wait or approval node.
type ExecutionWaiting struct {
	BaseEvent

	NodeID string     `json:"node_id"`
	WakeAt *time.Time `json:"wake_at,omitempty"`
}

func (e ExecutionWaiting) GetType() EventType {
	return ExecutionWaitingEvent
}

type ExecutionTerminated struct {
	BaseEvent

	TerminatedBy string `json:"terminated_by,omitempty"`
}

func (e ExecutionTerminated) GetType() EventType {
	return ExecutionTerminatedEvent
}

type NodeCompleted struct {
	BaseEvent

	NodeID     string         `json:"node_id"`
	Output     map[string]any `json:"output,omitempty"`
	DurationMs int64          `json:"duration_ms"`
	Attempts   int            `json:"attempts"`
}

func (e NodeCompleted) GetType() EventType {
	return NodeCompletedEvent
}

type NodeFailed struct {
	BaseEvent

	NodeID      string `json:"node_id"`
	Error       string `json:"error"`
	FailureKind string `json:"failure_kind,omitempty"`
	Attempts    int    `json:"attempts"`
}

func (e NodeFailed) GetType() EventType {
	return NodeFailedEvent
}
