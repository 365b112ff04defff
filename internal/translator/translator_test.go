package translator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docflowio/docflow/approval"
	"github.com/docflowio/docflow/docstore"
	"github.com/docflowio/docflow/pkg/api"
)

type raisedEvent struct {
	InstanceID string
	Name       string
}

// fakeRouter records raised events and can be programmed to fail.
type fakeRouter struct {
	raised []raisedEvent
	err    error
}

func (f *fakeRouter) RaiseEvent(ctx context.Context, instanceID, name string, payload any) error {
	if f.err != nil {
		return f.err
	}
	f.raised = append(f.raised, raisedEvent{InstanceID: instanceID, Name: name})
	return nil
}

func setup(t *testing.T) (*docstore.Memory, *fakeRouter, *Translator) {
	t.Helper()
	docs := docstore.NewMemory()
	router := &fakeRouter{}
	return docs, router, New(docs, router, nil)
}

func createTask(t *testing.T, docs *docstore.Memory, action, assignee, workflowID string) string {
	t.Helper()
	task, err := docs.CreateTask(context.Background(), docstore.Task{
		Title:      "Approve document",
		AssignedTo: assignee,
		WorkflowID: workflowID,
		Action:     action,
	})
	require.NoError(t, err)
	return task.ID
}

func TestParseAction(t *testing.T) {
	assert.Equal(t, ActionOwnerApproval, ParseAction(docstore.TaskActionOwner))
	assert.Equal(t, ActionStakeholderApproval, ParseAction(docstore.TaskActionStakeholder))
	assert.Equal(t, ActionUnknown, ParseAction("SomethingElse"))
}

func TestPollOnce_OwnerApproval(t *testing.T) {
	docs, router, tr := setup(t)
	ctx := context.Background()

	id := createTask(t, docs, docstore.TaskActionOwner, "owner-1", "wf-1")
	require.NoError(t, docs.UpdateTaskStatus(id, docstore.StatusApprove, "owner-1"))

	require.NoError(t, tr.PollOnce(ctx))
	require.Len(t, router.raised, 1)
	assert.Equal(t, "wf-1", router.raised[0].InstanceID)
	assert.Equal(t, approval.EventOwnerApproved, router.raised[0].Name)
}

func TestPollOnce_OwnerRejection(t *testing.T) {
	docs, router, tr := setup(t)
	ctx := context.Background()

	id := createTask(t, docs, docstore.TaskActionOwner, "owner-1", "wf-1")
	require.NoError(t, docs.UpdateTaskStatus(id, "Rejected", "owner-1"))

	require.NoError(t, tr.PollOnce(ctx))
	require.Len(t, router.raised, 1)
	assert.Equal(t, approval.EventOwnerRejected, router.raised[0].Name)
}

func TestPollOnce_StakeholderEventsCarryAssignee(t *testing.T) {
	docs, router, tr := setup(t)
	ctx := context.Background()

	approveID := createTask(t, docs, docstore.TaskActionStakeholder, "sh-1", "wf-1")
	rejectID := createTask(t, docs, docstore.TaskActionStakeholder, "sh-2", "wf-1")
	require.NoError(t, docs.UpdateTaskStatus(approveID, docstore.StatusApprove, "sh-1"))
	require.NoError(t, docs.UpdateTaskStatus(rejectID, "Rejected", "sh-2"))

	require.NoError(t, tr.PollOnce(ctx))
	require.Len(t, router.raised, 2)
	assert.Equal(t, approval.StakeholderApprovalEvent("sh-1"), router.raised[0].Name)
	assert.Equal(t, approval.EventStakeholderRejection, router.raised[1].Name)
}

func TestPollOnce_UnchangedStatusIsNotTranslated(t *testing.T) {
	docs, router, tr := setup(t)
	ctx := context.Background()

	id := createTask(t, docs, docstore.TaskActionOwner, "owner-1", "wf-1")
	require.NoError(t, docs.UpdateTaskStatus(id, docstore.StatusApprove, "owner-1"))
	// A second save with the same status produces a change entry but no
	// status transition.
	require.NoError(t, docs.UpdateTaskStatus(id, docstore.StatusApprove, "owner-1"))

	require.NoError(t, tr.PollOnce(ctx))
	assert.Len(t, router.raised, 1)
}

func TestPollOnce_UnknownActionSkipped(t *testing.T) {
	docs, router, tr := setup(t)
	ctx := context.Background()

	id := createTask(t, docs, "MysteryAction", "u-1", "wf-1")
	require.NoError(t, docs.UpdateTaskStatus(id, docstore.StatusApprove, "u-1"))

	require.NoError(t, tr.PollOnce(ctx))
	assert.Empty(t, router.raised)

	// The batch still counts as processed; the change is not replayed.
	require.NoError(t, tr.PollOnce(ctx))
	assert.Empty(t, router.raised)
}

func TestPollOnce_TokenAdvancesOnlyOnSuccess(t *testing.T) {
	docs, router, tr := setup(t)
	ctx := context.Background()

	id := createTask(t, docs, docstore.TaskActionOwner, "owner-1", "wf-1")
	require.NoError(t, docs.UpdateTaskStatus(id, docstore.StatusApprove, "owner-1"))

	// Infrastructure failure: the token must not move.
	router.err = errors.New("store unavailable")
	require.Error(t, tr.PollOnce(ctx))

	tok, err := docs.LoadChangeToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, docstore.ChangeToken(""), tok)

	// Next tick retries the same batch and succeeds.
	router.err = nil
	require.NoError(t, tr.PollOnce(ctx))
	require.Len(t, router.raised, 1)

	// Nothing new: a further poll raises nothing.
	require.NoError(t, tr.PollOnce(ctx))
	assert.Len(t, router.raised, 1)
}

func TestPollOnce_MissingInstanceTolerated(t *testing.T) {
	docs, router, tr := setup(t)
	ctx := context.Background()

	id := createTask(t, docs, docstore.TaskActionOwner, "owner-1", "wf-gone")
	require.NoError(t, docs.UpdateTaskStatus(id, docstore.StatusApprove, "owner-1"))

	router.err = api.ErrInstanceNotFound
	require.NoError(t, tr.PollOnce(ctx))

	// The stale change is consumed, not retried forever.
	tok, err := docs.LoadChangeToken(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, docstore.ChangeToken(""), tok)
}

func TestPollOnce_CompletedInstanceTolerated(t *testing.T) {
	docs, router, tr := setup(t)
	ctx := context.Background()

	id := createTask(t, docs, docstore.TaskActionStakeholder, "sh-1", "wf-done")
	require.NoError(t, docs.UpdateTaskStatus(id, docstore.StatusApprove, "sh-1"))

	router.err = api.ErrInstanceCompleted
	require.NoError(t, tr.PollOnce(ctx))
}
