package docflow

import (
	"context"
	"sync"
	"time"

	"github.com/docflowio/docflow/approval"
	"github.com/docflowio/docflow/docstore"
	"github.com/docflowio/docflow/internal/translator"
)

// LocalRunner bundles an in-memory Runtime, an in-memory document
// store, the publish approval workflow, and the change-feed translator
// into a single process-local helper for development and tests.
//
// Typical usage:
//
//	runner := docflow.NewLocalRunner(docflow.DefaultConfig())
//	runner.Docs.PutItem(docstore.Item{ID: "doc-1", OwnerID: "owner", ...})
//	runner.Start(ctx)
//	inst, _ := runner.Runtime.StartInstance(ctx, approval.WorkflowPublish, approval.StartInfo{ItemID: "doc-1"})
//
//	// Simulate a user approving their task, then deliver the change:
//	runner.Docs.UpdateTaskStatus(taskID, docstore.StatusApprove, "owner")
//	runner.Poll(ctx)
//	...
//	runner.Stop()
type LocalRunner struct {
	// Runtime is the in-memory workflow runtime used by this runner.
	Runtime *Runtime

	// Docs is the in-memory document and task store the approval
	// activities run against.
	Docs *docstore.Memory

	// Translator watches Docs' change feed and raises workflow events.
	Translator *translator.Translator

	mu      sync.Mutex
	running bool
}

// NewLocalRunner constructs a LocalRunner with the publish workflow
// registered. cfg tunes the approval deadline and dispatcher behavior.
//
// This is intended for local development, tests, and simple
// single-process deployments.
func NewLocalRunner(cfg Config) *LocalRunner {
	cfg = cfg.WithDefaults()
	rt := NewInMemoryRuntime(RuntimeOptions{Config: cfg})
	docs := docstore.NewMemory()

	approval.Register(rt, approval.NewActivities(docs), cfg.ApprovalDeadline)

	return &LocalRunner{
		Runtime:    rt,
		Docs:       docs,
		Translator: translator.New(docs, rt, nil),
	}
}

// Start launches the runtime's dispatcher pool. Calling Start twice
// without Stop is a no-op.
func (r *LocalRunner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.Runtime.Start(ctx)
}

// Stop shuts the runtime down and waits for in-flight work.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.running = false
	r.Runtime.Stop()
}

// Poll runs one translator cycle, delivering any pending task changes
// as workflow events.
func (r *LocalRunner) Poll(ctx context.Context) error {
	return r.Translator.PollOnce(ctx)
}

// WaitForTerminal polls the instance until it reaches a terminal
// status or the timeout elapses. It exists for tests; production code
// should use the status query surface.
func (r *LocalRunner) WaitForTerminal(ctx context.Context, instanceID string, timeout time.Duration) (*Instance, error) {
	deadline := time.Now().Add(timeout)
	for {
		inst, err := r.Runtime.GetInstance(ctx, instanceID)
		if err != nil {
			return nil, err
		}
		if inst.Status.Terminal() || time.Now().After(deadline) {
			return inst, nil
		}
		select {
		case <-ctx.Done():
			return inst, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}
