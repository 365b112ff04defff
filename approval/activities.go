package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/docflowio/docflow/docstore"
	"github.com/docflowio/docflow/pkg/api"
)

type getListItemInput struct {
	ItemID string `json:"itemId"`
}

type scheduleApprovalInput struct {
	InstanceID string `json:"instanceId"`
	AssigneeID string `json:"assigneeId"`
	Title      string `json:"title"`
}

type copyFileInput struct {
	ItemID string `json:"itemId"`
}

type notifyInput struct {
	Email string `json:"email"`
}

// Activities implements the publish workflow's activity contracts
// against a document store. Store failures other than missing records
// are reported transient so the dispatcher retries them.
type Activities struct {
	store docstore.Store
}

// NewActivities creates Activities backed by store.
func NewActivities(store docstore.Store) *Activities {
	return &Activities{store: store}
}

// GetListItemData reads the document's title, owner, and stakeholders.
func (a *Activities) GetListItemData(ctx context.Context, input json.RawMessage) (any, error) {
	var in getListItemInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, err
	}
	item, err := a.store.GetItem(ctx, in.ItemID)
	if err != nil {
		return nil, storeErr(err)
	}
	return ListItemData{
		Title:          item.Title,
		OwnerID:        item.OwnerID,
		StakeholderIDs: item.StakeholderIDs,
	}, nil
}

// ScheduleDocOwnerApproval creates the owner's approval task.
func (a *Activities) ScheduleDocOwnerApproval(ctx context.Context, input json.RawMessage) (any, error) {
	return a.scheduleTask(ctx, input, docstore.TaskActionOwner, "Approve document")
}

// ScheduleStakeholderApproval creates one stakeholder's approval task.
func (a *Activities) ScheduleStakeholderApproval(ctx context.Context, input json.RawMessage) (any, error) {
	return a.scheduleTask(ctx, input, docstore.TaskActionStakeholder, "Review document")
}

func (a *Activities) scheduleTask(ctx context.Context, input json.RawMessage, action, prefix string) (any, error) {
	var in scheduleApprovalInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, err
	}
	t, err := a.store.CreateTask(ctx, docstore.Task{
		Title:      fmt.Sprintf("%s: %s", prefix, in.Title),
		AssignedTo: in.AssigneeID,
		WorkflowID: in.InstanceID,
		Action:     action,
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return t, nil
}

// CopyFile publishes the approved document.
func (a *Activities) CopyFile(ctx context.Context, input json.RawMessage) (any, error) {
	var in copyFileInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, err
	}
	if err := a.store.CopyFile(ctx, in.ItemID); err != nil {
		return nil, storeErr(err)
	}
	return nil, nil
}

// NotifyRejected mails the workflow initiator that publication was
// declined.
func (a *Activities) NotifyRejected(ctx context.Context, input json.RawMessage) (any, error) {
	var in notifyInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, err
	}
	err := a.store.SendEmail(ctx, in.Email,
		"Document approval rejected",
		"Your document publication request was rejected.",
	)
	if err != nil {
		return nil, storeErr(err)
	}
	return nil, nil
}

// storeErr classifies a store failure: missing records are permanent,
// everything else is worth a retry.
func storeErr(err error) error {
	if errors.Is(err, docstore.ErrNotFound) {
		return err
	}
	return api.Transient(err)
}
