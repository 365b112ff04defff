package history

import (
	"context"
	"sync"
	"time"

	"github.com/docflowio/docflow/pkg/api"
)

// MemoryStore is a goroutine-safe Store backed by maps. It is
// non-durable and intended for tests and the local runner.
type MemoryStore struct {
	mu        sync.RWMutex
	instances map[string]*api.Instance
	events    map[string][]api.HistoryEvent
	completed map[string]map[int64]bool // instance id -> task ids with a completion
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances: make(map[string]*api.Instance),
		events:    make(map[string][]api.HistoryEvent),
		completed: make(map[string]map[int64]bool),
	}
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) SaveInstance(ctx context.Context, inst *api.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = now
	}
	inst.UpdatedAt = now

	cp := *inst
	s.instances[inst.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateInstance(ctx context.Context, inst *api.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[inst.ID]; !ok {
		return api.ErrInstanceNotFound
	}
	inst.UpdatedAt = time.Now()
	cp := *inst
	s.instances[inst.ID] = &cp
	return nil
}

func (s *MemoryStore) GetInstance(ctx context.Context, id string) (*api.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, api.ErrInstanceNotFound
	}
	cp := *inst
	return &cp, nil
}

func (s *MemoryStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.Instance
	for _, inst := range s.instances {
		if filter.Workflow != "" && inst.Workflow != filter.Workflow {
			continue
		}
		if filter.Status != "" && inst.Status != filter.Status {
			continue
		}
		cp := *inst
		result = append(result, &cp)
	}
	return result, nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, ev api.HistoryEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.appendLocked(ev), nil
}

func (s *MemoryStore) AppendCompletion(ctx context.Context, ev api.HistoryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	done := s.completed[ev.InstanceID]
	if done == nil {
		done = make(map[int64]bool)
		s.completed[ev.InstanceID] = done
	}
	if done[ev.TaskID] {
		return api.ErrDuplicateCompletion
	}
	done[ev.TaskID] = true
	s.appendLocked(ev)
	return nil
}

func (s *MemoryStore) ListEvents(ctx context.Context, instanceID string) ([]api.HistoryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.events[instanceID]
	out := make([]api.HistoryEvent, len(events))
	copy(out, events)
	return out, nil
}

func (s *MemoryStore) PurgeInstance(ctx context.Context, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[instanceID]; !ok {
		return api.ErrInstanceNotFound
	}
	delete(s.instances, instanceID)
	delete(s.events, instanceID)
	delete(s.completed, instanceID)
	return nil
}

func (s *MemoryStore) appendLocked(ev api.HistoryEvent) int64 {
	ev.Seq = int64(len(s.events[ev.InstanceID])) + 1
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	s.events[ev.InstanceID] = append(s.events[ev.InstanceID], ev)
	return ev.Seq
}
