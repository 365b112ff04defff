package orchestration

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/docflowio/docflow/pkg/api"
)

// ErrNonDeterministic is returned by Execute when the program's
// schedule-type calls diverge from the recorded history. The owning
// instance must be failed; its history can no longer drive this program.
var ErrNonDeterministic = errors.New("non-deterministic workflow program")

// Request describes one replay turn.
type Request struct {
	InstanceID string

	// History is the instance's full ordered history, beginning with
	// the ExecutionStarted fact.
	History []api.HistoryEvent
}

// ActivityTask is an activity call that must be handed to the
// dispatcher after the turn's new facts are persisted.
type ActivityTask struct {
	InstanceID string
	TaskID     int64
	Name       string
	Input      json.RawMessage
}

// TimerRequest is a timer that must be armed after the turn's new facts
// are persisted.
type TimerRequest struct {
	InstanceID string
	TaskID     int64
	FireAt     time.Time
}

// TurnResult is the outcome of one replay turn. Exactly one of
// Suspended, Completed, Failed is true.
type TurnResult struct {
	// NewEvents are scheduling and terminal facts emitted this turn, in
	// program order. They must be appended to history before any task in
	// Activities or Timers is acted on.
	NewEvents []api.HistoryEvent

	Activities      []ActivityTask
	Timers          []TimerRequest
	CancelledTimers []int64

	// CustomStatus is non-nil when the program set a progress marker.
	CustomStatus *string

	Suspended bool
	Completed bool
	Failed    bool

	// Output is set when Completed; FailureMessage when Failed.
	Output         json.RawMessage
	FailureMessage string
}

// Execute replays the program from the top against the given history
// and returns the decisions of this turn. It performs no I/O: appending
// facts, dispatching activities, and arming timers are the caller's
// responsibility.
//
// A returned error means the turn itself is invalid (malformed history
// or ErrNonDeterministic), not that the program failed; program
// failures come back as a TurnResult with Failed set.
func Execute(program Program, req Request) (*TurnResult, error) {
	c, err := newContext(req)
	if err != nil {
		return nil, err
	}

	var (
		output  any
		perr    error
		nonDet  *nonDetError
		settled bool
	)

	func() {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if _, ok := r.(suspendSignal); ok && c.suspended {
				return
			}
			if nd, ok := r.(*nonDetError); ok {
				nonDet = nd
				return
			}
			panic(r)
		}()
		output, perr = program(c)
		settled = true
	}()

	if nonDet != nil {
		return nil, fmt.Errorf("%w: %s", ErrNonDeterministic, nonDet.msg)
	}

	res := &TurnResult{
		NewEvents:       c.newEvents,
		Activities:      c.activities,
		Timers:          c.timers,
		CancelledTimers: c.cancelled,
		CustomStatus:    c.customStatus,
	}

	if !settled {
		res.Suspended = true
		return res, nil
	}

	if perr != nil {
		res.Failed = true
		res.FailureMessage = perr.Error()
		res.NewEvents = append(res.NewEvents, api.HistoryEvent{
			InstanceID: req.InstanceID,
			Type:       api.EventExecutionFailed,
			TaskID:     api.NoTaskID,
			Error:      perr.Error(),
		})
		return res, nil
	}

	var out json.RawMessage
	if output != nil {
		out, err = json.Marshal(output)
		if err != nil {
			return nil, fmt.Errorf("marshal output of instance %s: %w", req.InstanceID, err)
		}
	}
	res.Completed = true
	res.Output = out
	res.NewEvents = append(res.NewEvents, api.HistoryEvent{
		InstanceID: req.InstanceID,
		Type:       api.EventExecutionCompleted,
		TaskID:     api.NoTaskID,
		Result:     out,
	})
	return res, nil
}
