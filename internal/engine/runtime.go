package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/docflowio/docflow/internal/history"
	"github.com/docflowio/docflow/orchestration"
	"github.com/docflowio/docflow/pkg/api"
)

// Options describes how to construct a Runtime.
type Options struct {
	Config   api.Config
	Observer api.Observer
	Logger   *slog.Logger
}

// Runtime owns workflow instances: it creates them, replays their
// programs when new history facts arrive, and routes activity results,
// timer firings, and external events back into their histories.
//
// Concurrency model: one logical single-threaded program per instance.
// A per-instance mutex serializes replay turns, so an instance's
// history is never mutated by two turns at once, while unboundedly many
// instances progress in parallel. Activities run on the dispatcher's
// pool, timers on the timer service; both only ever append facts and
// wake the owning instance.
type Runtime struct {
	store      history.Store
	reg        *Registry
	dispatcher *Dispatcher
	timers     *TimerService
	observer   api.Observer
	logger     *slog.Logger
	cfg        api.Config

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	cancel context.CancelFunc
}

// New creates a Runtime on top of the given history store.
func New(store history.Store, opts Options) *Runtime {
	cfg := opts.Config.WithDefaults()
	observer := opts.Observer
	if observer == nil {
		observer = api.NoopObserver{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runtime{
		store:    store,
		reg:      NewRegistry(),
		observer: observer,
		logger:   logger,
		cfg:      cfg,
		locks:    make(map[string]*sync.Mutex),
	}
	r.dispatcher = NewDispatcher(store, r.reg, cfg, r.notify, observer, logger)
	r.timers = NewTimerService(store, r.notify, logger)
	return r
}

// RegisterWorkflow registers a program under the given name.
func (r *Runtime) RegisterWorkflow(name string, program orchestration.Program) {
	r.reg.RegisterWorkflow(name, program)
}

// RegisterActivity registers an activity implementation under the given
// name.
func (r *Runtime) RegisterActivity(name string, fn orchestration.ActivityFunc) {
	r.reg.RegisterActivity(name, fn)
}

// Start launches the dispatcher pool. It returns immediately; call Stop
// to shut down.
func (r *Runtime) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.dispatcher.Start(ctx)
}

// Stop cancels workers and armed timers and waits for in-flight
// activity executions to finish.
func (r *Runtime) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.timers.Stop()
	r.dispatcher.Wait()
}

// StartInstance creates a new instance of the named workflow and runs
// its first replay turn.
func (r *Runtime) StartInstance(ctx context.Context, workflow string, input any) (*api.Instance, error) {
	if _, ok := r.reg.Program(workflow); !ok {
		return nil, fmt.Errorf("%w: %s", api.ErrWorkflowNotFound, workflow)
	}

	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow input: %w", err)
	}

	inst := &api.Instance{
		ID:       uuid.NewString(),
		Workflow: workflow,
		Status:   api.StatusRunning,
		Input:    raw,
	}
	if err := r.store.SaveInstance(ctx, inst); err != nil {
		return nil, err
	}
	if _, err := r.store.AppendEvent(ctx, api.HistoryEvent{
		InstanceID: inst.ID,
		Type:       api.EventExecutionStarted,
		TaskID:     api.NoTaskID,
		Name:       workflow,
		Input:      raw,
	}); err != nil {
		return nil, err
	}

	r.observer.OnInstanceStarted(ctx, inst)

	if err := r.runTurn(ctx, inst.ID); err != nil {
		return nil, err
	}
	return r.store.GetInstance(ctx, inst.ID)
}

// RaiseEvent appends a named external event to the instance's history
// and replays it. Raising against a missing or terminal instance is a
// reported no-op (api.ErrInstanceNotFound / api.ErrInstanceCompleted).
func (r *Runtime) RaiseEvent(ctx context.Context, instanceID, name string, payload any) error {
	inst, err := r.store.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	if inst.Status.Terminal() {
		return api.ErrInstanceCompleted
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if _, err := r.store.AppendEvent(ctx, api.HistoryEvent{
		InstanceID: instanceID,
		Type:       api.EventExternalRaised,
		TaskID:     api.NoTaskID,
		Name:       name,
		Input:      raw,
	}); err != nil {
		return err
	}

	r.observer.OnEventRaised(ctx, instanceID, name)
	return r.runTurn(ctx, instanceID)
}

// Terminate forces the instance into StatusTerminated with the given
// reason. Terminating a terminal instance reports
// api.ErrInstanceCompleted.
func (r *Runtime) Terminate(ctx context.Context, instanceID, reason string) error {
	lock := r.instanceLock(instanceID)
	lock.Lock()
	defer lock.Unlock()

	inst, err := r.store.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	if err := transition(inst, triggerTerminate); err != nil {
		return err
	}

	if _, err := r.store.AppendEvent(ctx, api.HistoryEvent{
		InstanceID: instanceID,
		Type:       api.EventExecutionTerminated,
		TaskID:     api.NoTaskID,
		Error:      reason,
	}); err != nil {
		return err
	}

	inst.Error = reason
	if err := r.store.UpdateInstance(ctx, inst); err != nil {
		return err
	}
	r.timers.CancelInstance(instanceID)
	return nil
}

// Purge removes the instance row and its entire history. Purging is
// independent of lifecycle status: a running instance simply ceases to
// exist.
func (r *Runtime) Purge(ctx context.Context, instanceID string) error {
	lock := r.instanceLock(instanceID)
	lock.Lock()
	defer lock.Unlock()

	if err := r.store.PurgeInstance(ctx, instanceID); err != nil {
		return err
	}
	r.timers.CancelInstance(instanceID)
	return nil
}

// GetInstance looks up an instance by id.
func (r *Runtime) GetInstance(ctx context.Context, id string) (*api.Instance, error) {
	return r.store.GetInstance(ctx, id)
}

// ListInstances returns instances matching the given options.
func (r *Runtime) ListInstances(ctx context.Context, opts api.InstanceListOptions) ([]*api.Instance, error) {
	return r.store.ListInstances(ctx, history.InstanceFilter{
		Workflow: opts.Workflow,
		Status:   opts.Status,
	})
}

// RecoverPending scans running instances after a restart and re-issues
// the in-flight work their histories prove was pending: activities
// scheduled but not completed are re-dispatched (at-least-once), and
// timers created but not fired are re-armed from their persisted fire
// times. It returns the number of instances touched.
//
// Call it on process startup before accepting new work.
func (r *Runtime) RecoverPending(ctx context.Context) (int, error) {
	running, err := r.store.ListInstances(ctx, history.InstanceFilter{Status: api.StatusRunning})
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, inst := range running {
		events, err := r.store.ListEvents(ctx, inst.ID)
		if err != nil {
			return recovered, err
		}

		done := make(map[int64]bool)
		for _, ev := range events {
			if ev.Completion() {
				done[ev.TaskID] = true
			}
		}

		touched := false
		for _, ev := range events {
			if !ev.Scheduling() || done[ev.TaskID] {
				continue
			}
			touched = true
			switch ev.Type {
			case api.EventActivityScheduled:
				r.dispatcher.Dispatch(orchestration.ActivityTask{
					InstanceID: inst.ID,
					TaskID:     ev.TaskID,
					Name:       ev.Name,
					Input:      ev.Input,
				})
				r.observer.OnActivityDispatched(ctx, inst.ID, ev.Name)
			case api.EventTimerCreated:
				r.timers.Arm(inst.ID, ev.TaskID, ev.FireAt)
			}
		}
		if touched {
			recovered++
			r.logger.Info("instance_recovered",
				slog.String("instance_id", inst.ID),
				slog.String("workflow", inst.Workflow),
			)
		}
	}
	return recovered, nil
}

// notify is the wake callback handed to the dispatcher and timer
// service. Append-then-notify ordering guarantees the next turn sees
// the new fact: a turn already holding the instance lock finishes
// first, then this turn replays with the full history.
func (r *Runtime) notify(instanceID string) {
	if err := r.runTurn(context.Background(), instanceID); err != nil {
		r.logger.Error("turn_failed",
			slog.String("instance_id", instanceID),
			slog.Any("error", err),
		)
	}
}

// runTurn replays the instance once and applies the turn's decisions:
// persist new facts, then dispatch activities, arm timers, and honor
// cancellations. Facts are persisted before any side effect so a crash
// in between is recovered by RecoverPending instead of re-deciding.
func (r *Runtime) runTurn(ctx context.Context, instanceID string) error {
	lock := r.instanceLock(instanceID)
	lock.Lock()
	defer lock.Unlock()

	inst, err := r.store.GetInstance(ctx, instanceID)
	if err != nil {
		// Purged while a wake was in flight; nothing to do.
		return nil
	}
	if inst.Status.Terminal() {
		return nil
	}

	program, ok := r.reg.Program(inst.Workflow)
	if !ok {
		return r.failInstance(ctx, inst, fmt.Errorf("%w: %s", api.ErrWorkflowNotFound, inst.Workflow))
	}

	events, err := r.store.ListEvents(ctx, instanceID)
	if err != nil {
		return err
	}

	res, err := orchestration.Execute(program, orchestration.Request{
		InstanceID: instanceID,
		History:    events,
	})
	if err != nil {
		// Non-deterministic program or corrupt history; the instance
		// cannot make progress anymore.
		return r.failInstance(ctx, inst, err)
	}

	for _, ev := range res.NewEvents {
		if _, err := r.store.AppendEvent(ctx, ev); err != nil {
			return err
		}
	}

	if res.CustomStatus != nil {
		inst.CustomStatus = *res.CustomStatus
	}
	switch {
	case res.Completed:
		if err := transition(inst, triggerComplete); err != nil {
			return err
		}
		inst.Output = res.Output
	case res.Failed:
		if err := transition(inst, triggerFail); err != nil {
			return err
		}
		inst.Error = res.FailureMessage
	}
	if err := r.store.UpdateInstance(ctx, inst); err != nil {
		return err
	}

	cancelled := make(map[int64]bool, len(res.CancelledTimers))
	for _, taskID := range res.CancelledTimers {
		cancelled[taskID] = true
		r.timers.Cancel(instanceID, taskID)
	}
	for _, t := range res.Timers {
		if !cancelled[t.TaskID] {
			r.timers.Arm(t.InstanceID, t.TaskID, t.FireAt)
		}
	}
	for _, t := range res.Activities {
		r.dispatcher.Dispatch(t)
		r.observer.OnActivityDispatched(ctx, t.InstanceID, t.Name)
	}

	switch {
	case res.Suspended:
		r.observer.OnInstanceSuspended(ctx, inst)
	case res.Completed:
		r.timers.CancelInstance(instanceID)
		r.observer.OnInstanceCompleted(ctx, inst)
	case res.Failed:
		r.timers.CancelInstance(instanceID)
		r.observer.OnInstanceFailed(ctx, inst, fmt.Errorf("%s", res.FailureMessage))
	}
	return nil
}

func (r *Runtime) failInstance(ctx context.Context, inst *api.Instance, cause error) error {
	if err := transition(inst, triggerFail); err != nil {
		return err
	}
	inst.Error = cause.Error()
	if _, err := r.store.AppendEvent(ctx, api.HistoryEvent{
		InstanceID: inst.ID,
		Type:       api.EventExecutionFailed,
		TaskID:     api.NoTaskID,
		Error:      cause.Error(),
	}); err != nil {
		return err
	}
	if err := r.store.UpdateInstance(ctx, inst); err != nil {
		return err
	}
	r.timers.CancelInstance(inst.ID)
	r.observer.OnInstanceFailed(ctx, inst, cause)
	return nil
}

func (r *Runtime) instanceLock(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[id] = lock
	}
	return lock
}
