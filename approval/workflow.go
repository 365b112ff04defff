package approval

import (
	"time"

	"github.com/docflowio/docflow/orchestration"
)

// Publish builds the publish approval program. The flow: fetch item
// metadata, ask the document owner first, then fan out to every
// stakeholder and race all-approved against a single rejection and the
// deadline. All-approved and deadline both publish; a rejection
// notifies the initiator and publishes nothing.
func Publish(deadline time.Duration) orchestration.Program {
	return func(ctx *orchestration.Context) (any, error) {
		var info StartInfo
		if err := ctx.Input(&info); err != nil {
			return nil, err
		}

		ctx.SetCustomStatus("fetching item")
		var item ListItemData
		if err := ctx.CallActivity(ActivityGetListItemData, getListItemInput{ItemID: info.ItemID}).Get(&item); err != nil {
			return nil, err
		}

		ctx.SetCustomStatus("awaiting owner approval")
		if err := ctx.CallActivity(ActivityScheduleDocOwnerApproval, scheduleApprovalInput{
			InstanceID: ctx.InstanceID(),
			AssigneeID: item.OwnerID,
			Title:      item.Title,
		}).Get(nil); err != nil {
			return nil, err
		}

		ownerApproved := ctx.WaitForEvent(EventOwnerApproved)
		ownerRejected := ctx.WaitForEvent(EventOwnerRejected)
		if ctx.WhenAny(ownerApproved, ownerRejected) == ownerRejected {
			ctx.SetCustomStatus("rejected by owner")
			if err := ctx.CallActivity(ActivityNotifyRejected, notifyInput{Email: info.StartedByEmail}).Get(nil); err != nil {
				return nil, err
			}
			return Result{Outcome: OutcomeOwnerRejected, ItemID: info.ItemID}, nil
		}

		ctx.SetCustomStatus("awaiting stakeholder approvals")
		approvals := make([]orchestration.Awaitable, 0, len(item.StakeholderIDs))
		for _, id := range item.StakeholderIDs {
			if err := ctx.CallActivity(ActivityScheduleStakeholderApproval, scheduleApprovalInput{
				InstanceID: ctx.InstanceID(),
				AssigneeID: id,
				Title:      item.Title,
			}).Get(nil); err != nil {
				return nil, err
			}
			approvals = append(approvals, ctx.WaitForEvent(StakeholderApprovalEvent(id)))
		}

		allApproved := ctx.WhenAll(approvals...)
		rejected := ctx.WaitForEvent(EventStakeholderRejection)
		timer := ctx.CreateTimer(ctx.Now().Add(deadline))

		outcome := OutcomePublished
		switch ctx.WhenAny(allApproved, rejected, timer) {
		case rejected:
			timer.Cancel()
			ctx.SetCustomStatus("rejected by stakeholder")
			if err := ctx.CallActivity(ActivityNotifyRejected, notifyInput{Email: info.StartedByEmail}).Get(nil); err != nil {
				return nil, err
			}
			return Result{Outcome: OutcomeRejected, ItemID: info.ItemID}, nil
		case timer:
			outcome = OutcomeDeadlineElapsed
		default:
			timer.Cancel()
		}

		ctx.SetCustomStatus("publishing")
		if err := ctx.CallActivity(ActivityCopyFile, copyFileInput{ItemID: info.ItemID}).Get(nil); err != nil {
			return nil, err
		}
		return Result{Outcome: outcome, ItemID: info.ItemID}, nil
	}
}
