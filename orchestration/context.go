package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/docflowio/docflow/pkg/api"
)

// Program is a deterministic workflow function. The returned value, if
// any, becomes the instance output on completion.
type Program func(ctx *Context) (any, error)

// ActivityFunc is the implementation of a named activity. It runs
// out-of-band on a dispatcher worker with a plain context; anything
// non-deterministic belongs here, not in the Program.
type ActivityFunc func(ctx context.Context, input json.RawMessage) (any, error)

// suspendSignal unwinds the program at an await point with no recorded
// outcome. Caught in Execute.
type suspendSignal struct{}

type nonDetError struct {
	msg string
}

// Context is the workflow program's only handle onto the outside world.
// It is rebuilt for every replay turn from the instance's history and
// must not be retained across turns.
type Context struct {
	instanceID string
	startedAt  time.Time
	input      json.RawMessage

	history     []api.HistoryEvent
	scheduled   map[int64]*api.HistoryEvent
	completions map[int64]*api.HistoryEvent
	events      map[string][]*api.HistoryEvent

	nextTaskID int64
	waitCounts map[string]int

	newEvents    []api.HistoryEvent
	activities   []ActivityTask
	timers       []TimerRequest
	cancelled    []int64
	customStatus *string
	suspended    bool
}

func newContext(req Request) (*Context, error) {
	c := &Context{
		instanceID:  req.InstanceID,
		history:     req.History,
		scheduled:   make(map[int64]*api.HistoryEvent),
		completions: make(map[int64]*api.HistoryEvent),
		events:      make(map[string][]*api.HistoryEvent),
		waitCounts:  make(map[string]int),
	}

	started := false
	for i := range req.History {
		ev := &req.History[i]
		switch {
		case ev.Type == api.EventExecutionStarted:
			c.startedAt = ev.At
			c.input = ev.Input
			started = true
		case ev.Scheduling():
			c.scheduled[ev.TaskID] = ev
		case ev.Completion():
			c.completions[ev.TaskID] = ev
		case ev.Type == api.EventExternalRaised:
			c.events[ev.Name] = append(c.events[ev.Name], ev)
		}
	}
	if !started {
		return nil, fmt.Errorf("instance %s: history has no %s fact", req.InstanceID, api.EventExecutionStarted)
	}
	return c, nil
}

// InstanceID returns the opaque id of the executing instance.
func (c *Context) InstanceID() string { return c.instanceID }

// Now returns the recorded execution start time. It is stable across
// replays; programs must use it instead of time.Now.
func (c *Context) Now() time.Time { return c.startedAt }

// Input unmarshals the instance's start payload into v.
func (c *Context) Input(v any) error {
	if len(c.input) == 0 {
		return nil
	}
	return json.Unmarshal(c.input, v)
}

// SetCustomStatus records a free-text progress marker on the instance.
// It is a side channel: overwritable, not replay-significant, and safe
// to call anywhere in the program.
func (c *Context) SetCustomStatus(status string) {
	c.customStatus = &status
}

// CallActivity schedules the named activity with the given input, or
// consumes its recorded outcome when replaying past it. The call itself
// never blocks; Get on the returned future does.
func (c *Context) CallActivity(name string, input any) *Future {
	taskID := c.takeTaskID()
	f := &Future{ctx: c, kind: futureActivity, name: name, taskID: taskID}

	if prev, ok := c.scheduled[taskID]; ok {
		c.verifyScheduled(prev, api.EventActivityScheduled, name)
		return f
	}

	raw, err := json.Marshal(input)
	if err != nil {
		f.err = fmt.Errorf("marshal input for activity %s: %w", name, err)
		return f
	}
	c.newEvents = append(c.newEvents, api.HistoryEvent{
		InstanceID: c.instanceID,
		Type:       api.EventActivityScheduled,
		TaskID:     taskID,
		Name:       name,
		Input:      raw,
	})
	c.activities = append(c.activities, ActivityTask{
		InstanceID: c.instanceID,
		TaskID:     taskID,
		Name:       name,
		Input:      raw,
	})
	return f
}

// CreateTimer schedules a durable timer that fires at or after fireAt.
// When replaying, the recorded fire time wins over the argument.
func (c *Context) CreateTimer(fireAt time.Time) *TimerFuture {
	taskID := c.takeTaskID()
	f := &TimerFuture{Future{ctx: c, kind: futureTimer, name: "timer", taskID: taskID}}

	if prev, ok := c.scheduled[taskID]; ok {
		c.verifyScheduled(prev, api.EventTimerCreated, "")
		return f
	}

	c.newEvents = append(c.newEvents, api.HistoryEvent{
		InstanceID: c.instanceID,
		Type:       api.EventTimerCreated,
		TaskID:     taskID,
		FireAt:     fireAt,
	})
	c.timers = append(c.timers, TimerRequest{
		InstanceID: c.instanceID,
		TaskID:     taskID,
		FireAt:     fireAt,
	})
	return f
}

// WaitForEvent registers a wait for the next unconsumed external event
// with the given name. Each call consumes at most one arrival; events
// raised before anyone waits stay buffered in history.
func (c *Context) WaitForEvent(name string) *Future {
	occurrence := c.waitCounts[name]
	c.waitCounts[name]++
	return &Future{ctx: c, kind: futureEvent, name: name, occurrence: occurrence}
}

// WhenAny returns the first awaitable whose outcome is recorded,
// suspending if none is. The winner is the one whose satisfying fact
// has the lowest history sequence; ties go to the earliest registered.
func (c *Context) WhenAny(futures ...Awaitable) Awaitable {
	var winner Awaitable
	var best int64
	for _, f := range futures {
		seq, ok := f.ready()
		if !ok {
			continue
		}
		if winner == nil || seq < best {
			winner = f
			best = seq
		}
	}
	if winner == nil {
		c.suspend()
	}
	return winner
}

// WhenAll combines awaitables into one that resolves once every child
// has a recorded outcome. It does not suspend by itself; pass the
// result to WhenAny or Await.
func (c *Context) WhenAll(futures ...Awaitable) Awaitable {
	return &allFuture{children: futures}
}

// Await suspends until a is resolved.
func (c *Context) Await(a Awaitable) {
	if _, ok := a.ready(); !ok {
		c.suspend()
	}
}

func (c *Context) takeTaskID() int64 {
	id := c.nextTaskID
	c.nextTaskID++
	return id
}

func (c *Context) verifyScheduled(prev *api.HistoryEvent, typ api.EventType, name string) {
	if prev.Type != typ || prev.Name != name {
		panic(&nonDetError{msg: fmt.Sprintf(
			"task %d: recorded %s %q, program scheduled %s %q",
			prev.TaskID, prev.Type, prev.Name, typ, name,
		)})
	}
}

func (c *Context) completion(taskID int64) (*api.HistoryEvent, bool) {
	ev, ok := c.completions[taskID]
	return ev, ok
}

func (c *Context) externalEvent(name string, occurrence int) (*api.HistoryEvent, bool) {
	arrived := c.events[name]
	if occurrence >= len(arrived) {
		return nil, false
	}
	return arrived[occurrence], true
}

func (c *Context) cancelTimer(taskID int64) {
	c.cancelled = append(c.cancelled, taskID)
}

func (c *Context) suspend() {
	c.suspended = true
	panic(suspendSignal{})
}
