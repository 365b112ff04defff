package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/docflowio/docflow/internal/history"
	"github.com/docflowio/docflow/pkg/api"
)

type timerKey struct {
	instance string
	task     int64
}

// TimerService arms durable timers from persisted TimerCreated facts
// and records TimerFired when they elapse. In-memory deadlines are a
// cache only: after a restart, timers are re-armed from history by
// Runtime.RecoverPending, never from remembered state.
type TimerService struct {
	store  history.Store
	wake   func(instanceID string)
	logger *slog.Logger

	mu      sync.Mutex
	armed   map[timerKey]*time.Timer
	stopped bool
}

// NewTimerService creates a TimerService. wake is invoked after a fired
// fact is recorded.
func NewTimerService(store history.Store, wake func(string), logger *slog.Logger) *TimerService {
	return &TimerService{
		store:  store,
		wake:   wake,
		logger: logger,
		armed:  make(map[timerKey]*time.Timer),
	}
}

// Arm schedules the timer to fire at fireAt, or immediately if fireAt
// is already past. Re-arming an armed timer is a no-op.
func (s *TimerService) Arm(instanceID string, taskID int64, fireAt time.Time) {
	key := timerKey{instance: instanceID, task: taskID}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if _, ok := s.armed[key]; ok {
		return
	}

	delay := time.Until(fireAt)
	if delay < 0 {
		delay = 0
	}
	s.armed[key] = time.AfterFunc(delay, func() {
		s.fire(key, fireAt)
	})
}

// Cancel stops the armed timer if it has not fired yet. Cancelling a
// fired or unknown timer is a no-op.
func (s *TimerService) Cancel(instanceID string, taskID int64) {
	key := timerKey{instance: instanceID, task: taskID}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.armed[key]; ok {
		t.Stop()
		delete(s.armed, key)
	}
}

// CancelInstance stops every armed timer owned by the instance.
func (s *TimerService) CancelInstance(instanceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.armed {
		if key.instance == instanceID {
			t.Stop()
			delete(s.armed, key)
		}
	}
}

// Stop cancels all armed timers. The service accepts no Arm calls
// afterwards.
func (s *TimerService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for key, t := range s.armed {
		t.Stop()
		delete(s.armed, key)
	}
}

func (s *TimerService) fire(key timerKey, fireAt time.Time) {
	s.mu.Lock()
	delete(s.armed, key)
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}

	err := s.store.AppendCompletion(context.Background(), api.HistoryEvent{
		InstanceID: key.instance,
		Type:       api.EventTimerFired,
		TaskID:     key.task,
		FireAt:     fireAt,
	})
	if errors.Is(err, api.ErrDuplicateCompletion) {
		return
	}
	if err != nil {
		s.logger.Error("timer_fire_append_failed",
			slog.String("instance_id", key.instance),
			slog.Int64("task_id", key.task),
			slog.Any("error", err),
		)
		return
	}
	s.wake(key.instance)
}
