package transport

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pivotloop/conductor/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "debug",
		Format:     "console",
		OutputPath: "stdout",
	})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return log
}

func TestNewMemoryEventBus(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	if !bus.IsConnected() {
		t.Error("expected bus to be connected")
	}
}

// TestMemoryEventBus_AgentEventFanout mirrors how the CLI's publishAgentEvent
// wires an AgentEvent onto the shared firehose subject.
func TestMemoryEventBus_AgentEventFanout(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	received := make(chan *Event, 1)

	sub, err := bus.Subscribe(AgentEventSubject, func(ctx context.Context, event *Event) error {
		received <- event
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	evt := NewEvent("agent.output", "conductor", map[string]interface{}{
		"agentId": "agent-1",
		"taskId":  "task-1",
	})
	if err := bus.Publish(ctx, AgentEventSubject, evt); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case e := <-received:
		if e.ID != evt.ID {
			t.Errorf("expected event ID %s, got %s", evt.ID, e.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for agent event")
	}
}

// TestMemoryEventBus_PerTaskSubjectIsolation verifies a subscriber scoped to
// one task's subject (BuildTaskSubject) never sees another task's events,
// the property `conductor events tail --task` relies on.
func TestMemoryEventBus_PerTaskSubjectIsolation(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	var forTaskA, forTaskB int32

	subA, err := bus.Subscribe(BuildTaskSubject("task-a"), func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&forTaskA, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe task-a failed: %v", err)
	}
	defer func() { _ = subA.Unsubscribe() }()

	subB, err := bus.Subscribe(BuildTaskSubject("task-b"), func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&forTaskB, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe task-b failed: %v", err)
	}
	defer func() { _ = subB.Unsubscribe() }()

	if err := bus.Publish(ctx, BuildTaskSubject("task-a"), NewEvent("agent.output", "conductor", nil)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	if atomic.LoadInt32(&forTaskA) != 1 {
		t.Errorf("expected task-a subscriber to receive 1 event, got %d", forTaskA)
	}
	if atomic.LoadInt32(&forTaskB) != 0 {
		t.Errorf("expected task-b subscriber to receive 0 events, got %d", forTaskB)
	}
}

// TestMemoryEventBus_TaskWildcardSubscribesAllTasks verifies
// BuildTaskWildcardSubject catches every per-task subject BuildTaskSubject
// produces, regardless of the task ID.
func TestMemoryEventBus_TaskWildcardSubscribesAllTasks(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	var count int32

	sub, err := bus.Subscribe(BuildTaskWildcardSubject(), func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	for _, taskID := range []string{"task-a", "task-b", "task-c"} {
		if err := bus.Publish(ctx, BuildTaskSubject(taskID), NewEvent("agent.output", "conductor", nil)); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}

	// The bare firehose subject has no task suffix and must not match the
	// wildcard's required trailing token.
	if err := bus.Publish(ctx, AgentEventSubject, NewEvent("agent.output", "conductor", nil)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	if atomic.LoadInt32(&count) != 3 {
		t.Errorf("expected 3 per-task events, got %d", count)
	}
}

// TestMemoryEventBus_DatabaseTransitionSubjects verifies the three
// DatabaseHealthMonitor transition subjects route independently, the
// property publishDatabaseTransition depends on.
func TestMemoryEventBus_DatabaseTransitionSubjects(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	var degraded, recovered int32

	subDegraded, err := bus.Subscribe(DatabaseDegraded, func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&degraded, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe degraded failed: %v", err)
	}
	defer func() { _ = subDegraded.Unsubscribe() }()

	subRecovered, err := bus.Subscribe(DatabaseRecovered, func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&recovered, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe recovered failed: %v", err)
	}
	defer func() { _ = subRecovered.Unsubscribe() }()

	if err := bus.Publish(ctx, DatabaseDegraded, NewEvent("database:degraded", "conductor", nil)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	if atomic.LoadInt32(&degraded) != 1 {
		t.Errorf("expected 1 degraded transition, got %d", degraded)
	}
	if atomic.LoadInt32(&recovered) != 0 {
		t.Errorf("expected 0 recovered transitions, got %d", recovered)
	}
}

// TestMemoryEventBus_QueueSubscribeLoadBalances verifies the semantics
// `conductor events tail --group` relies on: exactly one queue member
// handles each event, split across the group rather than fanned out to all.
func TestMemoryEventBus_QueueSubscribeLoadBalances(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	var total int32
	const subscribers = 3
	const messages = 9

	for i := 0; i < subscribers; i++ {
		sub, err := bus.QueueSubscribe(AgentEventSubject, "dashboards", func(ctx context.Context, event *Event) error {
			atomic.AddInt32(&total, 1)
			return nil
		})
		if err != nil {
			t.Fatalf("queue subscribe %d failed: %v", i, err)
		}
		defer func() { _ = sub.Unsubscribe() }()
	}

	for i := 0; i < messages; i++ {
		if err := bus.Publish(ctx, AgentEventSubject, NewEvent("agent.output", "conductor", nil)); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}

	time.Sleep(100 * time.Millisecond)

	if atomic.LoadInt32(&total) != messages {
		t.Errorf("expected each event delivered exactly once across the group (%d), got %d", messages, total)
	}
}

func TestMemoryEventBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	var count int32

	sub, err := bus.Subscribe(AgentEventSubject, func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := bus.Publish(ctx, AgentEventSubject, NewEvent("agent.output", "conductor", nil)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe failed: %v", err)
	}
	if sub.IsValid() {
		t.Error("expected subscription to be invalid after unsubscribe")
	}

	if err := bus.Publish(ctx, AgentEventSubject, NewEvent("agent.output", "conductor", nil)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("expected 1 handler call before unsubscribe, got %d", count)
	}
}

func TestMemoryEventBus_Close(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))

	if !bus.IsConnected() {
		t.Error("expected bus to be connected initially")
	}

	bus.Close()

	if bus.IsConnected() {
		t.Error("expected bus to be disconnected after close")
	}

	if err := bus.Publish(context.Background(), AgentEventSubject, NewEvent("agent.output", "conductor", nil)); err == nil {
		t.Error("expected error publishing to a closed bus")
	}

	if _, err := bus.Subscribe(AgentEventSubject, func(ctx context.Context, event *Event) error { return nil }); err == nil {
		t.Error("expected error subscribing on a closed bus")
	}
}

func TestNewEvent(t *testing.T) {
	before := time.Now().UTC()
	event := NewEvent("agent.output", "conductor", map[string]interface{}{"agentId": "agent-1"})
	after := time.Now().UTC()

	if event.ID == "" {
		t.Error("expected event ID to be set")
	}
	if event.Type != "agent.output" {
		t.Errorf("expected type agent.output, got %s", event.Type)
	}
	if event.Source != "conductor" {
		t.Errorf("expected source conductor, got %s", event.Source)
	}
	if event.Timestamp.Before(before) || event.Timestamp.After(after) {
		t.Error("expected timestamp to fall within the call window")
	}
}
