package api

import (
	"encoding/json"
	"time"
)

// Status represents the lifecycle state of a workflow instance.
type Status string

const (
	StatusRunning    Status = "RUNNING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusTerminated Status = "TERMINATED"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTerminated:
		return true
	}
	return false
}

// Instance holds the externally visible state of one workflow execution.
//
// The instance row is a projection; the authoritative record is the
// instance's history. CustomStatus is a free-text progress marker set by
// the workflow program; it is overwritable and not replay-significant.
type Instance struct {
	ID       string `json:"instanceId"`
	Workflow string `json:"workflow"`
	Status   Status `json:"runtimeStatus"`

	CustomStatus string `json:"customStatus,omitempty"`

	Input  json.RawMessage `json:"input,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// InstanceListOptions controls how instances are listed.
// Zero values mean "no filter" for that field.
type InstanceListOptions struct {
	// Workflow, if non-empty, limits results to instances of the given workflow.
	Workflow string

	// Status, if non-empty, limits results to instances with the given status.
	Status Status
}
