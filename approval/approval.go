// Package approval contains the document publish approval workflow: the
// deterministic program orchestrating owner and stakeholder sign-off,
// and the activities it calls against the document store.
package approval

import (
	"time"

	"github.com/docflowio/docflow/orchestration"
)

// WorkflowPublish is the registered name of the publish approval
// workflow.
const WorkflowPublish = "Publish"

// Activity names, matching the contracts the workflow schedules.
const (
	ActivityGetListItemData             = "GetListItemData"
	ActivityScheduleDocOwnerApproval    = "ScheduleDocOwnerApproval"
	ActivityScheduleStakeholderApproval = "ScheduleStakeholderApproval"
	ActivityCopyFile                    = "CopyFile"
	ActivityNotifyRejected              = "NotifyRejected"
)

// External event names raised by the translator when a task status
// changes.
const (
	EventOwnerApproved        = "DocOwnerApproved"
	EventOwnerRejected        = "DocOwnerRejected"
	EventStakeholderRejection = "StakeHolderRejection"

	stakeholderApprovalPrefix = "StakeHolderApproval:"
)

// StakeholderApprovalEvent returns the per-stakeholder approval event
// name for the given stakeholder id.
func StakeholderApprovalEvent(stakeholderID string) string {
	return stakeholderApprovalPrefix + stakeholderID
}

// StartInfo is the start payload of the publish workflow.
type StartInfo struct {
	ItemID         string `json:"itemId"`
	StartedByEmail string `json:"startedByEmail"`
}

// ListItemData is the document metadata the workflow fans out over.
type ListItemData struct {
	Title          string   `json:"title"`
	OwnerID        string   `json:"ownerId"`
	StakeholderIDs []string `json:"stakeholderIds"`
}

// Result is the workflow output recorded on completion.
type Result struct {
	Outcome string `json:"outcome"`
	ItemID  string `json:"itemId"`
}

// Workflow outcomes.
const (
	OutcomePublished       = "published"
	OutcomeDeadlineElapsed = "published_deadline_elapsed"
	OutcomeOwnerRejected   = "owner_rejected"
	OutcomeRejected        = "stakeholder_rejected"
)

// Registrar is the subset of the runtime the approval package needs to
// install itself.
type Registrar interface {
	RegisterWorkflow(name string, program orchestration.Program)
	RegisterActivity(name string, fn orchestration.ActivityFunc)
}

// Register installs the publish workflow and its activities on r.
// deadline bounds the stakeholder approval race.
func Register(r Registrar, acts *Activities, deadline time.Duration) {
	r.RegisterWorkflow(WorkflowPublish, Publish(deadline))
	r.RegisterActivity(ActivityGetListItemData, acts.GetListItemData)
	r.RegisterActivity(ActivityScheduleDocOwnerApproval, acts.ScheduleDocOwnerApproval)
	r.RegisterActivity(ActivityScheduleStakeholderApproval, acts.ScheduleStakeholderApproval)
	r.RegisterActivity(ActivityCopyFile, acts.CopyFile)
	r.RegisterActivity(ActivityNotifyRejected, acts.NotifyRejected)
}
