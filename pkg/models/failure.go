package models

import "fmt"

// FailureKind classifies node and lifecycle failures. The kind decides both
// retry behaviour and how the failure surfaces on the execution.
type FailureKind string

const (
	// FailureValidation is a bad graph or node config. Fails fast, never retried.
	FailureValidation FailureKind = "validation_error"

	// FailureTransient is a network/timeout style runner failure, retryable
	// up to the node's max attempts.
	FailureTransient FailureKind = "transient_runner_error"

	// FailurePermanent is a node-reported business failure, not retried.
	FailurePermanent FailureKind = "permanent_runner_error"

	// FailureCancelled comes from terminate. Not retried, surfaced only as
	// "terminated by user".
	FailureCancelled FailureKind = "cancelled_error"

	// FailureInvalidTransition is a lifecycle or debug operation requested
	// from an incompatible status. Rejected synchronously.
	FailureInvalidTransition FailureKind = "invalid_transition"
)

// Failure is the typed error returned across the runner boundary and used by
// the retry controller to decide whether another attempt is worthwhile.
type Failure struct {
	Kind      FailureKind `json:"kind"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable"`
	NodeID    string      `json:"node_id,omitempty"`
}

func (f *Failure) Error() string {
	if f.NodeID != "" {
		return fmt.Sprintf("%s: node %s: %s", f.Kind, f.NodeID, f.Message)
	}

	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// NewValidationFailure builds a non-retryable config/graph failure.
func NewValidationFailure(nodeID, message string) *Failure {
	return &Failure{Kind: FailureValidation, Message: message, NodeID: nodeID}
}

// NewTransientFailure builds a retryable runner failure.
func NewTransientFailure(nodeID, message string) *Failure {
	return &Failure{Kind: FailureTransient, Message: message, Retryable: true, NodeID: nodeID}
}

// NewPermanentFailure builds a non-retryable runner failure.
func NewPermanentFailure(nodeID, message string) *Failure {
	return &Failure{Kind: FailurePermanent, Message: message, NodeID: nodeID}
}

// NewCancelledFailure marks a node interrupted by terminate.
func NewCancelledFailure(nodeID string) *Failure {
	return &Failure{Kind: FailureCancelled, Message: "terminated by user", NodeID: nodeID}
}

// NewInvalidTransition reports a lifecycle/debug call that is not legal from
// the execution's current status. The execution state is left untouched.
func NewInvalidTransition(op string, status ExecutionStatus) *Failure {
	return &Failure{
		Kind:    FailureInvalidTransition,
		Message: fmt.Sprintf("cannot %s execution in status %q", op, status),
	}
}

// AsFailure normalizes an arbitrary error into a Failure. Unclassified errors
// become permanent runner failures so they are never silently retried.
func AsFailure(nodeID string, err error) *Failure {
	if err == nil {
		return nil
	}

	if f, ok := err.(*Failure); ok {
		if f.NodeID == "" {
			f.NodeID = nodeID
		}

		return f
	}

	return NewPermanentFailure(nodeID, err.Error())
}
