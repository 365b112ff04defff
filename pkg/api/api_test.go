package api

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestTransient(t *testing.T) {
	base := errors.New("connection refused")

	if IsTransient(base) {
		t.Fatal("plain error must not be transient")
	}
	if !IsTransient(Transient(base)) {
		t.Fatal("wrapped error must be transient")
	}
	if !IsTransient(fmt.Errorf("dial: %w", Transient(base))) {
		t.Fatal("transience must survive further wrapping")
	}
	if !errors.Is(Transient(base), base) {
		t.Fatal("Transient must preserve the error chain")
	}
	if Transient(nil) != nil {
		t.Fatal("Transient(nil) must be nil")
	}
}

func TestStatusTerminal(t *testing.T) {
	cases := map[Status]bool{
		StatusRunning:    false,
		StatusCompleted:  true,
		StatusFailed:     true,
		StatusTerminated: true,
	}
	for status, want := range cases {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{ApprovalDeadline: 5 * time.Second}.WithDefaults()

	if cfg.ApprovalDeadline != 5*time.Second {
		t.Fatalf("explicit value overwritten: %v", cfg.ApprovalDeadline)
	}
	def := DefaultConfig()
	if cfg.PollInterval != def.PollInterval || cfg.WorkerCount != def.WorkerCount {
		t.Fatalf("zero fields not defaulted: %+v", cfg)
	}
	if cfg.ActivityMaxAttempts != def.ActivityMaxAttempts {
		t.Fatalf("retry budget not defaulted: %d", cfg.ActivityMaxAttempts)
	}
}

func TestHistoryEventKinds(t *testing.T) {
	if !(HistoryEvent{Type: EventActivityScheduled}).Scheduling() {
		t.Fatal("activity.scheduled must count as scheduling")
	}
	if !(HistoryEvent{Type: EventTimerCreated}).Scheduling() {
		t.Fatal("timer.created must count as scheduling")
	}
	if !(HistoryEvent{Type: EventActivityCompleted}).Completion() {
		t.Fatal("activity.completed must count as completion")
	}
	if !(HistoryEvent{Type: EventTimerFired}).Completion() {
		t.Fatal("timer.fired must count as completion")
	}
	if (HistoryEvent{Type: EventExternalRaised}).Completion() {
		t.Fatal("event.received is not a completion")
	}
}
