package orchestration

import (
	"encoding/json"

	"github.com/docflowio/docflow/pkg/api"
)

// Awaitable is anything a program can wait on: a single future or a
// WhenAll/WhenAny aggregate.
type Awaitable interface {
	// ready returns the history sequence of the satisfying fact.
	ready() (int64, bool)
}

type futureKind int

const (
	futureActivity futureKind = iota
	futureTimer
	futureEvent
)

// Future is the pending result of a single asynchronous primitive.
type Future struct {
	ctx  *Context
	kind futureKind
	name string

	taskID     int64 // activity and timer futures
	occurrence int   // event futures: 0-based arrival index to consume

	err error // pre-resolved failure, e.g. input marshaling
}

var _ Awaitable = (*Future)(nil)

func (f *Future) ready() (int64, bool) {
	if f.err != nil {
		return 0, true
	}
	ev, ok := f.fact()
	if !ok {
		return 0, false
	}
	return ev.Seq, true
}

func (f *Future) fact() (*api.HistoryEvent, bool) {
	switch f.kind {
	case futureEvent:
		return f.ctx.externalEvent(f.name, f.occurrence)
	default:
		return f.ctx.completion(f.taskID)
	}
}

// Get blocks until the future's outcome is recorded, suspending the
// turn if it is not yet. A recorded activity failure is returned as
// *api.ActivityError. For event futures, v receives the event payload;
// for timers, v is ignored.
func (f *Future) Get(v any) error {
	if f.err != nil {
		return f.err
	}
	ev, ok := f.fact()
	if !ok {
		f.ctx.suspend()
	}
	if ev.Error != "" {
		return &api.ActivityError{Activity: f.name, Message: ev.Error}
	}
	if v == nil {
		return nil
	}
	payload := ev.Result
	if f.kind == futureEvent {
		payload = ev.Input
	}
	if len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, v)
}

// TimerFuture is the pending firing of a durable timer.
type TimerFuture struct {
	Future
}

// Cancel requests best-effort cancellation of the timer. Cancelling
// after the firing fact is already recorded is a no-op; the fact simply
// stays unconsumed.
func (t *TimerFuture) Cancel() {
	if _, fired := t.fact(); fired {
		return
	}
	t.ctx.cancelTimer(t.taskID)
}

// allFuture resolves once every child has a recorded outcome. Its
// sequence is the latest child's, so a WhenAny over an aggregate ranks
// it by the moment it actually finished.
type allFuture struct {
	children []Awaitable
}

var _ Awaitable = (*allFuture)(nil)

func (a *allFuture) ready() (int64, bool) {
	var max int64
	for _, ch := range a.children {
		seq, ok := ch.ready()
		if !ok {
			return 0, false
		}
		if seq > max {
			max = seq
		}
	}
	return max, true
}
