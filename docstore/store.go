package docstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is reported when a referenced item or task does not
// exist.
var ErrNotFound = errors.New("docstore: not found")

// Task status and action values as they appear in the task list.
const (
	StatusApprove = "Approve"

	TaskActionOwner       = "DocOwnerApproval"
	TaskActionStakeholder = "StakeHolderApproval"
)

// Item is a document pending publication.
type Item struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	OwnerID        string   `json:"ownerId"`
	StakeholderIDs []string `json:"stakeholderIds"`
}

// Task is an approval assignment tracked in the task list. WorkflowID
// ties the task back to the workflow instance that created it so status
// changes can be routed to the right instance.
type Task struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	AssignedTo string `json:"assignedTo"`
	WorkflowID string `json:"workflowId"`
	Action     string `json:"action"`
	Status     string `json:"status"`
}

// TaskVersion is one historical revision of a task, oldest first in
// TaskVersions results.
type TaskVersion struct {
	Status    string    `json:"status"`
	At        time.Time `json:"at"`
	ChangedBy string    `json:"changedBy"`
}

// Change records that a task was modified. ItemID names the task, not
// the document.
type Change struct {
	ItemID string `json:"itemId"`
}

// ChangeToken is an opaque cursor into the change feed. The empty token
// means "from the beginning".
type ChangeToken string

// Store is the document and task backend the approval activities run
// against.
type Store interface {
	// GetItem fetches a document by id.
	GetItem(ctx context.Context, itemID string) (*Item, error)

	// CreateTask adds a task to the task list and returns it with its
	// assigned id.
	CreateTask(ctx context.Context, t Task) (*Task, error)

	// CopyFile copies the approved document to the published location.
	CopyFile(ctx context.Context, itemID string) error

	// SendEmail delivers a notification to the given address.
	SendEmail(ctx context.Context, to, subject, body string) error

	// LoadChangeToken returns the last processed change token. A store
	// with no saved token returns the empty token and no error.
	LoadChangeToken(ctx context.Context) (ChangeToken, error)

	// SaveChangeToken persists the change feed cursor.
	SaveChangeToken(ctx context.Context, tok ChangeToken) error

	// ChangesSince returns the task changes recorded after tok, oldest
	// first, together with the token marking the end of the batch.
	ChangesSince(ctx context.Context, tok ChangeToken) ([]Change, ChangeToken, error)

	// TaskVersions returns the full version history of a task, oldest
	// first. The current state is the last element.
	TaskVersions(ctx context.Context, taskID string) ([]TaskVersion, *Task, error)
}
