package engine

import (
	"github.com/qmuntal/stateless"

	"github.com/docflowio/docflow/pkg/api"
)

const (
	triggerComplete  = "complete"
	triggerFail      = "fail"
	triggerTerminate = "terminate"
)

// newLifecycle builds the instance lifecycle machine positioned at the
// given status. Terminal states are deliberately left unconfigured:
// firing anything from them errors, which is how invalid transitions
// (terminate-after-complete and the like) are caught in one place.
func newLifecycle(current api.Status) *stateless.StateMachine {
	sm := stateless.NewStateMachine(current)
	sm.Configure(api.StatusRunning).
		Permit(triggerComplete, api.StatusCompleted).
		Permit(triggerFail, api.StatusFailed).
		Permit(triggerTerminate, api.StatusTerminated)
	return sm
}

// transition fires trigger against inst's lifecycle and writes the new
// status back. An illegal transition reports api.ErrInstanceCompleted.
func transition(inst *api.Instance, trigger string) error {
	sm := newLifecycle(inst.Status)
	if err := sm.Fire(trigger); err != nil {
		return api.ErrInstanceCompleted
	}
	inst.Status = sm.MustState().(api.Status)
	return nil
}
