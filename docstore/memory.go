package docstore

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-memory Store for local runs and tests. It keeps full
// task version history and a change feed, so the translator can be
// exercised without a real document backend.
type Memory struct {
	mu       sync.Mutex
	items    map[string]*Item
	tasks    map[string]*Task
	versions map[string][]TaskVersion
	changes  []Change
	token    ChangeToken
	nextTask int

	copied []string
	emails []SentEmail
}

// SentEmail records one SendEmail call for inspection in tests.
type SentEmail struct {
	To      string
	Subject string
	Body    string
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		items:    make(map[string]*Item),
		tasks:    make(map[string]*Task),
		versions: make(map[string][]TaskVersion),
		nextTask: 1,
	}
}

// PutItem adds or replaces a document.
func (m *Memory) PutItem(item Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := item
	m.items[item.ID] = &cp
}

func (m *Memory) GetItem(_ context.Context, itemID string) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[itemID]
	if !ok {
		return nil, fmt.Errorf("%w: item %s", ErrNotFound, itemID)
	}
	cp := *item
	return &cp, nil
}

func (m *Memory) CreateTask(_ context.Context, t Task) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = strconv.Itoa(m.nextTask)
	m.nextTask++
	cp := t
	m.tasks[t.ID] = &cp
	m.versions[t.ID] = []TaskVersion{{Status: t.Status, At: time.Now(), ChangedBy: "system"}}
	out := t
	return &out, nil
}

// UpdateTaskStatus changes a task's status on behalf of changedBy,
// recording a new version and a change feed entry. It is how tests and
// the local runner simulate a user acting on a task.
func (m *Memory) UpdateTaskStatus(taskID, status, changedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}
	t.Status = status
	m.versions[taskID] = append(m.versions[taskID], TaskVersion{
		Status:    status,
		At:        time.Now(),
		ChangedBy: changedBy,
	})
	m.changes = append(m.changes, Change{ItemID: taskID})
	return nil
}

func (m *Memory) CopyFile(_ context.Context, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[itemID]; !ok {
		return fmt.Errorf("%w: item %s", ErrNotFound, itemID)
	}
	m.copied = append(m.copied, itemID)
	return nil
}

func (m *Memory) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emails = append(m.emails, SentEmail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *Memory) LoadChangeToken(_ context.Context) (ChangeToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *Memory) SaveChangeToken(_ context.Context, tok ChangeToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = tok
	return nil
}

func (m *Memory) ChangesSince(_ context.Context, tok ChangeToken) ([]Change, ChangeToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := 0
	if tok != "" {
		n, err := strconv.Atoi(string(tok))
		if err != nil {
			return nil, tok, fmt.Errorf("docstore: bad change token %q", tok)
		}
		from = n
	}
	if from > len(m.changes) {
		from = len(m.changes)
	}

	out := make([]Change, len(m.changes)-from)
	copy(out, m.changes[from:])
	return out, ChangeToken(strconv.Itoa(len(m.changes))), nil
}

func (m *Memory) TaskVersions(_ context.Context, taskID string) ([]TaskVersion, *Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}
	vs := make([]TaskVersion, len(m.versions[taskID]))
	copy(vs, m.versions[taskID])
	cp := *t
	return vs, &cp, nil
}

// CopiedItems returns the ids passed to CopyFile, in call order.
func (m *Memory) CopiedItems() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.copied))
	copy(out, m.copied)
	return out
}

// SentEmails returns every email recorded by SendEmail.
func (m *Memory) SentEmails() []SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentEmail, len(m.emails))
	copy(out, m.emails)
	return out
}

// Tasks returns a snapshot of all tasks, keyed by id.
func (m *Memory) Tasks() map[string]Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Task, len(m.tasks))
	for id, t := range m.tasks {
		out[id] = *t
	}
	return out
}
