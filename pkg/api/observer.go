package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the orchestration runtime for logging
// and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be
// done asynchronously so as not to delay instance turns.
type Observer interface {
	// OnInstanceStarted is called once when an instance is created,
	// before its first replay turn.
	OnInstanceStarted(ctx context.Context, inst *Instance)

	// OnInstanceSuspended is called when a replay turn ends at an
	// await point with no recorded outcome.
	OnInstanceSuspended(ctx context.Context, inst *Instance)

	// OnInstanceCompleted is called when an instance reaches
	// StatusCompleted.
	OnInstanceCompleted(ctx context.Context, inst *Instance)

	// OnInstanceFailed is called when an instance transitions to
	// StatusFailed.
	OnInstanceFailed(ctx context.Context, inst *Instance, err error)

	// OnActivityDispatched is called when an activity call is handed to
	// the dispatcher pool.
	OnActivityDispatched(ctx context.Context, instanceID, activity string)

	// OnActivityCompleted is called after an activity execution records
	// its completion fact, for both successes and permanent failures.
	OnActivityCompleted(ctx context.Context, instanceID, activity string, err error, duration time.Duration)

	// OnEventRaised is called when an external event is appended to an
	// instance's history.
	OnEventRaised(ctx context.Context, instanceID, event string)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnInstanceStarted(ctx context.Context, inst *Instance)              {}
func (NoopObserver) OnInstanceSuspended(ctx context.Context, inst *Instance)            {}
func (NoopObserver) OnInstanceCompleted(ctx context.Context, inst *Instance)            {}
func (NoopObserver) OnInstanceFailed(ctx context.Context, inst *Instance, err error)    {}
func (NoopObserver) OnActivityDispatched(ctx context.Context, instanceID, name string)  {}
func (NoopObserver) OnEventRaised(ctx context.Context, instanceID, name string)         {}
func (NoopObserver) OnActivityCompleted(ctx context.Context, instanceID, name string, err error, d time.Duration) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnInstanceStarted(ctx context.Context, inst *Instance) {
	for _, o := range c.observers {
		o.OnInstanceStarted(ctx, inst)
	}
}

func (c *CompositeObserver) OnInstanceSuspended(ctx context.Context, inst *Instance) {
	for _, o := range c.observers {
		o.OnInstanceSuspended(ctx, inst)
	}
}

func (c *CompositeObserver) OnInstanceCompleted(ctx context.Context, inst *Instance) {
	for _, o := range c.observers {
		o.OnInstanceCompleted(ctx, inst)
	}
}

func (c *CompositeObserver) OnInstanceFailed(ctx context.Context, inst *Instance, err error) {
	for _, o := range c.observers {
		o.OnInstanceFailed(ctx, inst, err)
	}
}

func (c *CompositeObserver) OnActivityDispatched(ctx context.Context, instanceID, name string) {
	for _, o := range c.observers {
		o.OnActivityDispatched(ctx, instanceID, name)
	}
}

func (c *CompositeObserver) OnActivityCompleted(ctx context.Context, instanceID, name string, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnActivityCompleted(ctx, instanceID, name, err, d)
	}
}

func (c *CompositeObserver) OnEventRaised(ctx context.Context, instanceID, name string) {
	for _, o := range c.observers {
		o.OnEventRaised(ctx, instanceID, name)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs instance and activity
// lifecycle events using the provided slog.Logger. If logger is nil,
// slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnInstanceStarted(ctx context.Context, inst *Instance) {
	o.Logger.InfoContext(ctx, "instance_started",
		slog.String("workflow", inst.Workflow),
		slog.String("instance_id", inst.ID),
	)
}

func (o *LoggingObserver) OnInstanceSuspended(ctx context.Context, inst *Instance) {
	o.Logger.DebugContext(ctx, "instance_suspended",
		slog.String("workflow", inst.Workflow),
		slog.String("instance_id", inst.ID),
		slog.String("custom_status", inst.CustomStatus),
	)
}

func (o *LoggingObserver) OnInstanceCompleted(ctx context.Context, inst *Instance) {
	o.Logger.InfoContext(ctx, "instance_completed",
		slog.String("workflow", inst.Workflow),
		slog.String("instance_id", inst.ID),
	)
}

func (o *LoggingObserver) OnInstanceFailed(ctx context.Context, inst *Instance, err error) {
	o.Logger.ErrorContext(ctx, "instance_failed",
		slog.String("workflow", inst.Workflow),
		slog.String("instance_id", inst.ID),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnActivityDispatched(ctx context.Context, instanceID, name string) {
	o.Logger.DebugContext(ctx, "activity_dispatched",
		slog.String("instance_id", instanceID),
		slog.String("activity", name),
	)
}

func (o *LoggingObserver) OnActivityCompleted(ctx context.Context, instanceID, name string, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "activity_completed",
		slog.String("instance_id", instanceID),
		slog.String("activity", name),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnEventRaised(ctx context.Context, instanceID, name string) {
	o.Logger.DebugContext(ctx, "event_raised",
		slog.String("instance_id", instanceID),
		slog.String("event", name),
	)
}

// BasicMetrics collects simple counters and aggregate activity durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	instancesStarted   atomic.Int64
	instancesCompleted atomic.Int64
	instancesFailed    atomic.Int64
	eventsRaised       atomic.Int64
	activitiesDone     atomic.Int64
	totalActivityNanos atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	InstancesStarted   int64
	InstancesCompleted int64
	InstancesFailed    int64
	PendingInstances   int64

	EventsRaised        int64
	ActivitiesCompleted int64
	AvgActivityDuration time.Duration
}

func (m *BasicMetrics) OnInstanceStarted(ctx context.Context, inst *Instance) {
	m.instancesStarted.Add(1)
}

func (m *BasicMetrics) OnInstanceCompleted(ctx context.Context, inst *Instance) {
	m.instancesCompleted.Add(1)
}

func (m *BasicMetrics) OnInstanceFailed(ctx context.Context, inst *Instance, err error) {
	m.instancesFailed.Add(1)
}

func (m *BasicMetrics) OnEventRaised(ctx context.Context, instanceID, name string) {
	m.eventsRaised.Add(1)
}

func (m *BasicMetrics) OnActivityCompleted(ctx context.Context, instanceID, name string, err error, d time.Duration) {
	// Only successful executions count toward the average duration.
	if err == nil {
		m.activitiesDone.Add(1)
		m.totalActivityNanos.Add(d.Nanoseconds())
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.instancesStarted.Load()
	completed := m.instancesCompleted.Load()
	failed := m.instancesFailed.Load()
	acts := m.activitiesDone.Load()
	totalNs := m.totalActivityNanos.Load()

	var avg time.Duration
	if acts > 0 {
		avg = time.Duration(totalNs / acts)
	}

	return BasicMetricsSnapshot{
		InstancesStarted:    started,
		InstancesCompleted:  completed,
		InstancesFailed:     failed,
		PendingInstances:    started - completed - failed,
		EventsRaised:        m.eventsRaised.Load(),
		ActivitiesCompleted: acts,
		AvgActivityDuration: avg,
	}
}
