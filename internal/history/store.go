// Package history persists workflow instances and their append-only
// histories. The history is the authoritative record: replay
// reconstructs an instance's progress from it, so stores must preserve
// per-instance append order and never rewrite recorded facts.
package history

import (
	"context"

	"github.com/docflowio/docflow/pkg/api"
)

// InstanceFilter is used to select instances from the store.
// Empty string / zero status mean "no filter" for that field.
type InstanceFilter struct {
	Workflow string
	Status   api.Status
}

// Store handles storage of instance rows and history facts.
type Store interface {
	SaveInstance(ctx context.Context, inst *api.Instance) error
	UpdateInstance(ctx context.Context, inst *api.Instance) error
	GetInstance(ctx context.Context, id string) (*api.Instance, error)
	ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.Instance, error)

	// AppendEvent appends a fact to the instance's history and returns
	// the assigned sequence. A zero At is stamped with the current time.
	AppendEvent(ctx context.Context, ev api.HistoryEvent) (int64, error)

	// AppendCompletion appends an ActivityCompleted or TimerFired fact.
	// At most one completion is recorded per (instance, task id);
	// a redundant append returns api.ErrDuplicateCompletion and leaves
	// history untouched.
	AppendCompletion(ctx context.Context, ev api.HistoryEvent) error

	// ListEvents returns the instance's history in append order.
	ListEvents(ctx context.Context, instanceID string) ([]api.HistoryEvent, error)

	// PurgeInstance removes the instance row and its entire history,
	// regardless of lifecycle status.
	PurgeInstance(ctx context.Context, instanceID string) error
}
