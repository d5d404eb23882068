package models

import "time"

// TimelineEventType enumerates the audit record kinds emitted by the
// scheduler. Events for one execution are strictly ordered and never
// rewritten.
type TimelineEventType string

const (
	TimelineWorkflowStarted   TimelineEventType = "workflow_started"
	TimelineWorkflowCompleted TimelineEventType = "workflow_completed"
	TimelineWorkflowFailed    TimelineEventType = "workflow_failed"
	TimelineWorkflowPaused    TimelineEventType = "workflow_paused"
	TimelineWorkflowResumed   TimelineEventType = "workflow_resumed"
	TimelineWorkflowWaiting   TimelineEventType = "workflow_waiting"
	TimelineNodeStarted       TimelineEventType = "node_started"
	TimelineNodeCompleted     TimelineEventType = "node_completed"
	TimelineNodeFailed        TimelineEventType = "node_failed"
	TimelineNodeSkipped       TimelineEventType = "node_skipped"
	TimelineNodeRetrying      TimelineEventType = "node_retrying"
)

// LogLevel is the flat log view severity derived from an event.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// TimelineEvent is one immutable audit record of a scheduler transition.
type TimelineEvent struct {
	ID          string            `json:"id"`
	ExecutionID string            `json:"execution_id" validate:"required"`
	Type        TimelineEventType `json:"type"         validate:"required"`
	Timestamp   time.Time         `json:"timestamp"`
	Sequence    int64             `json:"sequence"`
	NodeID      string            `json:"node_id,omitempty"`
	DurationMs  int64             `json:"duration_ms,omitempty"`
	Message     string            `json:"message,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
}

// Level maps the event type onto the flat log view severity.
func (t *TimelineEvent) Level() LogLevel {
	switch t.Type {
	case TimelineWorkflowFailed, TimelineNodeFailed:
		return LogLevelError
	case TimelineNodeRetrying, TimelineWorkflowWaiting:
		return LogLevelWarning
	case TimelineNodeSkipped:
		return LogLevelDebug
	default:
		return LogLevelInfo
	}
}
