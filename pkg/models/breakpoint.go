package models

import "time"

// Breakpoint marks a node id at which a debug-mode execution suspends before
// dispatch. The live set is carried on Execution.Breakpoints; this shape is
// the API/persistence record.
type Breakpoint struct {
	ExecutionID string    `json:"execution_id" validate:"required"`
	NodeID      string    `json:"node_id"      validate:"required"`
	CreatedAt   time.Time `json:"created_at"`
}
