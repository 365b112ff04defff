package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/docflowio/docflow/internal/history"
	"github.com/docflowio/docflow/orchestration"
	"github.com/docflowio/docflow/pkg/api"
)

// Dispatcher executes activity calls out-of-band on a bounded worker
// pool. Transient failures are retried with exponential backoff up to
// the configured attempt budget; the eventual outcome, success or
// permanent failure, is recorded as a single ActivityCompleted fact.
//
// Dispatch is at-least-once: a task may be handed over again after a
// restart. The idempotent completion append collapses duplicates, so
// the workflow observes each call exactly once.
type Dispatcher struct {
	store    history.Store
	reg      *Registry
	wake     func(instanceID string)
	observer api.Observer
	logger   *slog.Logger

	maxAttempts uint64
	baseBackoff time.Duration
	workers     int

	tasks chan orchestration.ActivityTask
	wg    sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. wake is invoked after each
// completion fact is recorded.
func NewDispatcher(store history.Store, reg *Registry, cfg api.Config, wake func(string), observer api.Observer, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:       store,
		reg:         reg,
		wake:        wake,
		observer:    observer,
		logger:      logger,
		maxAttempts: cfg.ActivityMaxAttempts,
		baseBackoff: cfg.ActivityBaseBackoff,
		workers:     cfg.WorkerCount,
		tasks:       make(chan orchestration.ActivityTask, 1024),
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case t := <-d.tasks:
					d.run(ctx, t)
				}
			}
		}()
	}
}

// Wait blocks until all workers have exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Dispatch hands a task to the pool. It never blocks the caller: a full
// queue spills into a goroutine so a worker completing one activity can
// safely trigger the dispatch of the next.
func (d *Dispatcher) Dispatch(t orchestration.ActivityTask) {
	select {
	case d.tasks <- t:
	default:
		go func() { d.tasks <- t }()
	}
}

func (d *Dispatcher) run(ctx context.Context, t orchestration.ActivityTask) {
	start := time.Now()

	var result any
	execErr := func() error {
		fn, ok := d.reg.Activity(t.Name)
		if !ok {
			return fmt.Errorf("%w: %s", api.ErrActivityNotFound, t.Name)
		}

		var backoff retry.Backoff = retry.NewExponential(d.baseBackoff)
		retries := uint64(0)
		if d.maxAttempts > 1 {
			retries = d.maxAttempts - 1
		}
		backoff = retry.WithMaxRetries(retries, backoff)

		return retry.Do(ctx, backoff, func(ctx context.Context) error {
			out, err := fn(ctx, t.Input)
			if err != nil {
				if api.IsTransient(err) {
					return retry.RetryableError(err)
				}
				return err
			}
			result = out
			return nil
		})
	}()

	ev := api.HistoryEvent{
		InstanceID: t.InstanceID,
		Type:       api.EventActivityCompleted,
		TaskID:     t.TaskID,
		Name:       t.Name,
	}
	if execErr != nil {
		ev.Error = execErr.Error()
	} else if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			execErr = fmt.Errorf("marshal result of activity %s: %w", t.Name, err)
			ev.Error = execErr.Error()
		} else {
			ev.Result = raw
		}
	}

	err := d.store.AppendCompletion(ctx, ev)
	if errors.Is(err, api.ErrDuplicateCompletion) {
		// A redundant dispatch lost the race; the recorded outcome stands.
		return
	}
	if err != nil {
		d.logger.Error("activity_completion_append_failed",
			slog.String("instance_id", t.InstanceID),
			slog.String("activity", t.Name),
			slog.Any("error", err),
		)
		return
	}

	d.observer.OnActivityCompleted(ctx, t.InstanceID, t.Name, execErr, time.Since(start))
	d.wake(t.InstanceID)
}
