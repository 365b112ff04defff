// Package translator turns polled task-list changes into correlated
// workflow events. It is the only bridge between out-of-band human
// actions (a user flipping a task to approved) and instance histories.
package translator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/docflowio/docflow/approval"
	"github.com/docflowio/docflow/docstore"
	"github.com/docflowio/docflow/pkg/api"
)

// Action is the closed set of task actions the translator understands.
type Action int

const (
	ActionUnknown Action = iota
	ActionOwnerApproval
	ActionStakeholderApproval
)

// ParseAction maps a task's action field to an Action.
func ParseAction(s string) Action {
	switch s {
	case docstore.TaskActionOwner:
		return ActionOwnerApproval
	case docstore.TaskActionStakeholder:
		return ActionStakeholderApproval
	default:
		return ActionUnknown
	}
}

// Router delivers a named event to a workflow instance.
type Router interface {
	RaiseEvent(ctx context.Context, instanceID, name string, payload any) error
}

// EventPayload accompanies every translated event.
type EventPayload struct {
	TaskID  string `json:"taskId"`
	ActorID string `json:"actorId"`
}

// Translator polls the task change feed and raises the matching
// workflow events. The change token advances only after a fully
// successful cycle, so a transient failure replays the whole batch on
// the next tick; idempotent per-task translation makes the replay
// harmless.
type Translator struct {
	store  docstore.Store
	router Router
	logger *slog.Logger
}

// New creates a Translator reading from store and raising into router.
func New(store docstore.Store, router Router, logger *slog.Logger) *Translator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Translator{store: store, router: router, logger: logger}
}

// PollOnce runs one poll cycle: read changes past the saved token,
// translate each, and advance the token. Malformed or irrelevant
// changes are skipped per-item; an infrastructure failure aborts the
// cycle without advancing the token.
func (t *Translator) PollOnce(ctx context.Context) error {
	tok, err := t.store.LoadChangeToken(ctx)
	if err != nil {
		return fmt.Errorf("load change token: %w", err)
	}
	changes, next, err := t.store.ChangesSince(ctx, tok)
	if err != nil {
		return fmt.Errorf("read change feed: %w", err)
	}

	for _, ch := range changes {
		if err := t.processChange(ctx, ch); err != nil {
			return err
		}
	}

	if next != tok {
		if err := t.store.SaveChangeToken(ctx, next); err != nil {
			return fmt.Errorf("save change token: %w", err)
		}
	}
	return nil
}

// RunLoop polls every interval until ctx is cancelled. Failed cycles
// are logged and retried on the next tick.
func (t *Translator) RunLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.PollOnce(ctx); err != nil {
				t.logger.Warn("poll_cycle_failed", slog.Any("error", err))
			}
		}
	}
}

func (t *Translator) processChange(ctx context.Context, ch docstore.Change) error {
	versions, task, err := t.store.TaskVersions(ctx, ch.ItemID)
	if errors.Is(err, docstore.ErrNotFound) {
		t.logger.Warn("changed_task_missing", slog.String("task_id", ch.ItemID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("task %s versions: %w", ch.ItemID, err)
	}

	// A single version means the change was the task's creation, not a
	// status update; nothing to translate.
	if len(versions) < 2 {
		return nil
	}
	latest := versions[len(versions)-1]
	previous := versions[len(versions)-2]
	if latest.Status == previous.Status {
		return nil
	}

	name, ok := t.eventName(task, latest)
	if !ok {
		return nil
	}

	err = t.router.RaiseEvent(ctx, task.WorkflowID, name, EventPayload{
		TaskID:  task.ID,
		ActorID: latest.ChangedBy,
	})
	switch {
	case errors.Is(err, api.ErrInstanceNotFound), errors.Is(err, api.ErrInstanceCompleted):
		// The workflow is gone or already decided; the change is stale.
		t.logger.Debug("event_dropped",
			slog.String("instance_id", task.WorkflowID),
			slog.String("event", name),
		)
		return nil
	case err != nil:
		return fmt.Errorf("raise %s on %s: %w", name, task.WorkflowID, err)
	}

	t.logger.Info("event_raised",
		slog.String("instance_id", task.WorkflowID),
		slog.String("event", name),
		slog.String("task_id", task.ID),
	)
	return nil
}

// eventName maps a task's action and new status to the workflow event
// to raise. Tasks with an action outside the closed set are logged and
// skipped rather than guessed at.
func (t *Translator) eventName(task *docstore.Task, latest docstore.TaskVersion) (string, bool) {
	approved := latest.Status == docstore.StatusApprove
	switch ParseAction(task.Action) {
	case ActionOwnerApproval:
		if approved {
			return approval.EventOwnerApproved, true
		}
		return approval.EventOwnerRejected, true
	case ActionStakeholderApproval:
		if approved {
			return approval.StakeholderApprovalEvent(task.AssignedTo), true
		}
		return approval.EventStakeholderRejection, true
	default:
		t.logger.Warn("unknown_task_action",
			slog.String("task_id", task.ID),
			slog.String("action", task.Action),
		)
		return "", false
	}
}
