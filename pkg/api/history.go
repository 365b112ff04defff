package api

import (
	"encoding/json"
	"time"
)

// EventType identifies a history fact recorded for a workflow instance.
type EventType string

const (
	EventExecutionStarted    EventType = "execution.started"
	EventExecutionCompleted  EventType = "execution.completed"
	EventExecutionFailed     EventType = "execution.failed"
	EventExecutionTerminated EventType = "execution.terminated"

	EventActivityScheduled EventType = "activity.scheduled"
	EventActivityCompleted EventType = "activity.completed"

	EventTimerCreated EventType = "timer.created"
	EventTimerFired   EventType = "timer.fired"

	EventExternalRaised EventType = "event.received"
)

// NoTaskID is the TaskID value for facts that are not correlated to a
// scheduled operation (external events and execution lifecycle facts).
const NoTaskID int64 = -1

// HistoryEvent is one append-only fact in an instance's history.
//
// Histories are totally ordered per instance by Seq and are never
// rewritten. Replay reconstructs the instance's progress purely from
// this sequence: schedule-type facts (ActivityScheduled, TimerCreated)
// carry a TaskID assigned in program order, and their completions
// (ActivityCompleted, TimerFired) are matched back by the same TaskID.
// External events are matched by Name and arrival order instead.
type HistoryEvent struct {
	Seq        int64     `json:"seq"`
	InstanceID string    `json:"instanceId"`
	Type       EventType `json:"type"`

	// TaskID correlates a scheduled fact to its completion. NoTaskID
	// when the fact is not part of a scheduled/completed pair.
	TaskID int64 `json:"taskId"`

	// Name is the activity name for activity facts and the event name
	// for external events.
	Name string `json:"name,omitempty"`

	Input  json.RawMessage `json:"input,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`

	// FireAt is set on TimerCreated facts only.
	FireAt time.Time `json:"fireAt,omitzero"`

	At time.Time `json:"at"`
}

// Scheduling reports whether the fact is a schedule-type decision made
// by the workflow program (as opposed to an outcome arriving from
// outside the replay).
func (e HistoryEvent) Scheduling() bool {
	return e.Type == EventActivityScheduled || e.Type == EventTimerCreated
}

// Completion reports whether the fact resolves a previously scheduled
// operation.
func (e HistoryEvent) Completion() bool {
	return e.Type == EventActivityCompleted || e.Type == EventTimerFired
}
