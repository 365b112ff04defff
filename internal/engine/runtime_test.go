package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docflowio/docflow/internal/history"
	"github.com/docflowio/docflow/orchestration"
	"github.com/docflowio/docflow/pkg/api"
)

func newTestRuntime(t *testing.T, store history.Store) *Runtime {
	t.Helper()
	cfg := api.DefaultConfig()
	cfg.ActivityBaseBackoff = time.Millisecond
	rt := New(store, Options{Config: cfg})
	rt.Start(context.Background())
	t.Cleanup(rt.Stop)
	return rt
}

func waitForStatus(t *testing.T, rt *Runtime, id string, want api.Status) *api.Instance {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		inst, err := rt.GetInstance(context.Background(), id)
		if err != nil {
			t.Fatalf("GetInstance failed: %v", err)
		}
		if inst.Status == want {
			return inst
		}
		if time.Now().After(deadline) {
			t.Fatalf("instance %s stuck in %s, want %s (error: %q)", id, inst.Status, want, inst.Error)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRuntime_ActivityRoundTrip(t *testing.T) {
	rt := newTestRuntime(t, history.NewMemoryStore())

	rt.RegisterActivity("upper", func(ctx context.Context, input json.RawMessage) (any, error) {
		var s string
		if err := json.Unmarshal(input, &s); err != nil {
			return nil, err
		}
		return strings.ToUpper(s), nil
	})
	rt.RegisterWorkflow("shout", func(ctx *orchestration.Context) (any, error) {
		var in string
		if err := ctx.Input(&in); err != nil {
			return nil, err
		}
		var out string
		if err := ctx.CallActivity("upper", in).Get(&out); err != nil {
			return nil, err
		}
		return out, nil
	})

	inst, err := rt.StartInstance(context.Background(), "shout", "hello")
	if err != nil {
		t.Fatalf("StartInstance failed: %v", err)
	}

	done := waitForStatus(t, rt, inst.ID, api.StatusCompleted)
	if got := string(done.Output); got != `"HELLO"` {
		t.Fatalf("expected output %q, got %q", `"HELLO"`, got)
	}
}

func TestRuntime_ExternalEventDelivery(t *testing.T) {
	rt := newTestRuntime(t, history.NewMemoryStore())

	rt.RegisterWorkflow("wait", func(ctx *orchestration.Context) (any, error) {
		var decision string
		if err := ctx.WaitForEvent("decision").Get(&decision); err != nil {
			return nil, err
		}
		return decision, nil
	})

	ctx := context.Background()
	inst, err := rt.StartInstance(ctx, "wait", nil)
	if err != nil {
		t.Fatalf("StartInstance failed: %v", err)
	}
	if inst.Status != api.StatusRunning {
		t.Fatalf("expected running instance, got %s", inst.Status)
	}

	if err := rt.RaiseEvent(ctx, inst.ID, "decision", "approved"); err != nil {
		t.Fatalf("RaiseEvent failed: %v", err)
	}

	done := waitForStatus(t, rt, inst.ID, api.StatusCompleted)
	if got := string(done.Output); got != `"approved"` {
		t.Fatalf("expected output %q, got %q", `"approved"`, got)
	}

	// Raising into a completed instance is reported, not silently dropped.
	err = rt.RaiseEvent(ctx, inst.ID, "decision", "again")
	if !errors.Is(err, api.ErrInstanceCompleted) {
		t.Fatalf("expected ErrInstanceCompleted, got %v", err)
	}
	err = rt.RaiseEvent(ctx, "missing", "decision", nil)
	if !errors.Is(err, api.ErrInstanceNotFound) {
		t.Fatalf("expected ErrInstanceNotFound, got %v", err)
	}
}

func TestRuntime_TransientActivityFailureIsRetried(t *testing.T) {
	rt := newTestRuntime(t, history.NewMemoryStore())

	var attempts atomic.Int32
	rt.RegisterActivity("flaky", func(ctx context.Context, input json.RawMessage) (any, error) {
		if attempts.Add(1) < 3 {
			return nil, api.Transient(errors.New("connection reset"))
		}
		return "ok", nil
	})
	rt.RegisterWorkflow("retrying", func(ctx *orchestration.Context) (any, error) {
		var out string
		if err := ctx.CallActivity("flaky", nil).Get(&out); err != nil {
			return nil, err
		}
		return out, nil
	})

	inst, err := rt.StartInstance(context.Background(), "retrying", nil)
	if err != nil {
		t.Fatalf("StartInstance failed: %v", err)
	}

	waitForStatus(t, rt, inst.ID, api.StatusCompleted)
	if got := attempts.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestRuntime_PermanentActivityFailureFailsInstance(t *testing.T) {
	rt := newTestRuntime(t, history.NewMemoryStore())

	rt.RegisterActivity("doomed", func(ctx context.Context, input json.RawMessage) (any, error) {
		return nil, errors.New("item does not exist")
	})
	rt.RegisterWorkflow("failing", func(ctx *orchestration.Context) (any, error) {
		if err := ctx.CallActivity("doomed", nil).Get(nil); err != nil {
			return nil, err
		}
		return nil, nil
	})

	inst, err := rt.StartInstance(context.Background(), "failing", nil)
	if err != nil {
		t.Fatalf("StartInstance failed: %v", err)
	}

	done := waitForStatus(t, rt, inst.ID, api.StatusFailed)
	if !strings.Contains(done.Error, "item does not exist") {
		t.Fatalf("expected failure message to mention the cause, got %q", done.Error)
	}
}

func TestRuntime_TimerFires(t *testing.T) {
	rt := newTestRuntime(t, history.NewMemoryStore())

	rt.RegisterWorkflow("sleepy", func(ctx *orchestration.Context) (any, error) {
		timer := ctx.CreateTimer(ctx.Now().Add(20 * time.Millisecond))
		ctx.Await(timer)
		return "woke", nil
	})

	inst, err := rt.StartInstance(context.Background(), "sleepy", nil)
	if err != nil {
		t.Fatalf("StartInstance failed: %v", err)
	}
	waitForStatus(t, rt, inst.ID, api.StatusCompleted)
}

func TestRuntime_Terminate(t *testing.T) {
	rt := newTestRuntime(t, history.NewMemoryStore())

	rt.RegisterWorkflow("wait", func(ctx *orchestration.Context) (any, error) {
		ctx.Await(ctx.WaitForEvent("never"))
		return nil, nil
	})

	ctx := context.Background()
	inst, err := rt.StartInstance(ctx, "wait", nil)
	if err != nil {
		t.Fatalf("StartInstance failed: %v", err)
	}

	if err := rt.Terminate(ctx, inst.ID, "operator request"); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	done := waitForStatus(t, rt, inst.ID, api.StatusTerminated)
	if done.Error != "operator request" {
		t.Fatalf("expected termination reason recorded, got %q", done.Error)
	}

	// A second terminate hits a terminal instance.
	err = rt.Terminate(ctx, inst.ID, "again")
	if !errors.Is(err, api.ErrInstanceCompleted) {
		t.Fatalf("expected ErrInstanceCompleted, got %v", err)
	}
}

func TestRuntime_Purge(t *testing.T) {
	rt := newTestRuntime(t, history.NewMemoryStore())

	rt.RegisterWorkflow("wait", func(ctx *orchestration.Context) (any, error) {
		ctx.Await(ctx.WaitForEvent("never"))
		return nil, nil
	})

	ctx := context.Background()
	inst, err := rt.StartInstance(ctx, "wait", nil)
	if err != nil {
		t.Fatalf("StartInstance failed: %v", err)
	}

	if err := rt.Purge(ctx, inst.ID); err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if _, err := rt.GetInstance(ctx, inst.ID); !errors.Is(err, api.ErrInstanceNotFound) {
		t.Fatalf("expected ErrInstanceNotFound after purge, got %v", err)
	}
}

func TestRuntime_StartUnknownWorkflow(t *testing.T) {
	rt := newTestRuntime(t, history.NewMemoryStore())
	_, err := rt.StartInstance(context.Background(), "nope", nil)
	if !errors.Is(err, api.ErrWorkflowNotFound) {
		t.Fatalf("expected ErrWorkflowNotFound, got %v", err)
	}
}

func TestRuntime_NonDeterministicProgramFailsInstance(t *testing.T) {
	rt := newTestRuntime(t, history.NewMemoryStore())

	// The program schedules a differently named activity on every run,
	// which replay must reject.
	var runs atomic.Int32
	rt.RegisterActivity("a0", func(ctx context.Context, input json.RawMessage) (any, error) {
		return nil, nil
	})
	rt.RegisterWorkflow("shifty", func(ctx *orchestration.Context) (any, error) {
		name := fmt.Sprintf("a%d", runs.Add(1)-1)
		if err := ctx.CallActivity(name, nil).Get(nil); err != nil {
			return nil, err
		}
		return nil, nil
	})

	inst, err := rt.StartInstance(context.Background(), "shifty", nil)
	if err != nil {
		t.Fatalf("StartInstance failed: %v", err)
	}

	done := waitForStatus(t, rt, inst.ID, api.StatusFailed)
	if !strings.Contains(done.Error, "non-deterministic") {
		t.Fatalf("expected non-determinism failure, got %q", done.Error)
	}
}

func TestRuntime_RecoverPendingRedispatchesActivities(t *testing.T) {
	store := history.NewMemoryStore()
	ctx := context.Background()

	// Simulate a crash after the scheduling fact was persisted but before
	// the activity ran: history has the schedule, no completion.
	inst := &api.Instance{ID: "i-crash", Workflow: "shout", Status: api.StatusRunning}
	if err := store.SaveInstance(ctx, inst); err != nil {
		t.Fatal(err)
	}
	input, _ := json.Marshal("hello")
	if _, err := store.AppendEvent(ctx, api.HistoryEvent{
		InstanceID: inst.ID, Type: api.EventExecutionStarted, TaskID: api.NoTaskID, Name: "shout", Input: input,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AppendEvent(ctx, api.HistoryEvent{
		InstanceID: inst.ID, Type: api.EventActivityScheduled, TaskID: 0, Name: "upper", Input: input,
	}); err != nil {
		t.Fatal(err)
	}

	rt := newTestRuntime(t, store)
	rt.RegisterActivity("upper", func(ctx context.Context, input json.RawMessage) (any, error) {
		var s string
		if err := json.Unmarshal(input, &s); err != nil {
			return nil, err
		}
		return strings.ToUpper(s), nil
	})
	rt.RegisterWorkflow("shout", func(ctx *orchestration.Context) (any, error) {
		var in string
		if err := ctx.Input(&in); err != nil {
			return nil, err
		}
		var out string
		if err := ctx.CallActivity("upper", in).Get(&out); err != nil {
			return nil, err
		}
		return out, nil
	})

	n, err := rt.RecoverPending(ctx)
	if err != nil {
		t.Fatalf("RecoverPending failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 recovered instance, got %d", n)
	}

	done := waitForStatus(t, rt, inst.ID, api.StatusCompleted)
	if got := string(done.Output); got != `"HELLO"` {
		t.Fatalf("expected output %q, got %q", `"HELLO"`, got)
	}
}

func TestRuntime_RecoverPendingRearmsTimers(t *testing.T) {
	store := history.NewMemoryStore()
	ctx := context.Background()

	inst := &api.Instance{ID: "i-timer", Workflow: "sleepy", Status: api.StatusRunning}
	if err := store.SaveInstance(ctx, inst); err != nil {
		t.Fatal(err)
	}
	started := time.Now().Add(-time.Minute)
	if _, err := store.AppendEvent(ctx, api.HistoryEvent{
		InstanceID: inst.ID, Type: api.EventExecutionStarted, TaskID: api.NoTaskID, Name: "sleepy", At: started,
	}); err != nil {
		t.Fatal(err)
	}
	// The fire time is already in the past; recovery must fire it
	// immediately rather than drop it.
	if _, err := store.AppendEvent(ctx, api.HistoryEvent{
		InstanceID: inst.ID, Type: api.EventTimerCreated, TaskID: 0, FireAt: started.Add(time.Second),
	}); err != nil {
		t.Fatal(err)
	}

	rt := newTestRuntime(t, store)
	rt.RegisterWorkflow("sleepy", func(ctx *orchestration.Context) (any, error) {
		timer := ctx.CreateTimer(ctx.Now().Add(time.Second))
		ctx.Await(timer)
		return "woke", nil
	})

	if _, err := rt.RecoverPending(ctx); err != nil {
		t.Fatalf("RecoverPending failed: %v", err)
	}
	waitForStatus(t, rt, inst.ID, api.StatusCompleted)
}
