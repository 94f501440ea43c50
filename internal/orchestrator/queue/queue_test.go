package queue

import (
	"testing"
	"testing/synctest"
	"time"

	"github.com/pivotloop/conductor/internal/orchestrator/types"
)

func createTestTask(id string, priority int) *types.Task {
	return &types.Task{
		ID:        id,
		ProjectID: "proj-1",
		Priority:  priority,
		Status:    types.TaskStatusQueued,
		Source:    types.TaskSourceUser,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func TestNewTaskQueue(t *testing.T) {
	q := NewTaskQueue()
	if q == nil {
		t.Fatal("NewTaskQueue returned nil")
	}
	if !q.IsEmpty() {
		t.Errorf("expected empty queue, got Size() = %d", q.Size())
	}
}

func TestEnqueue(t *testing.T) {
	q := NewTaskQueue()
	task := createTestTask("task-1", 5)

	q.Enqueue(task)

	if q.Size() != 1 {
		t.Errorf("expected Size() = 1, got %d", q.Size())
	}
}

func TestEnqueueDuplicateReplacesInPlace(t *testing.T) {
	q := NewTaskQueue()
	task := createTestTask("task-1", 5)

	q.Enqueue(task)
	updated := createTestTask("task-1", 9)
	q.Enqueue(updated)

	if q.Size() != 1 {
		t.Errorf("expected Size() = 1 after duplicate enqueue, got %d", q.Size())
	}
	entry, ok := q.Peek()
	if !ok {
		t.Fatal("expected an entry after duplicate enqueue")
	}
	if entry.Priority != 9 {
		t.Errorf("expected replaced priority 9, got %d", entry.Priority)
	}
}

func TestDequeue(t *testing.T) {
	q := NewTaskQueue()
	task := createTestTask("task-1", 5)

	q.Enqueue(task)
	dequeued, ok := q.Dequeue()

	if !ok {
		t.Fatal("Dequeue returned false for non-empty queue")
	}
	if dequeued.TaskID != task.ID {
		t.Errorf("expected TaskID = %s, got %s", task.ID, dequeued.TaskID)
	}
	if q.Size() != 0 {
		t.Errorf("expected Size() = 0 after dequeue, got %d", q.Size())
	}
}

func TestDequeueEmptyQueue(t *testing.T) {
	q := NewTaskQueue()
	_, ok := q.Dequeue()
	if ok {
		t.Error("expected ok=false from empty queue")
	}
}

func TestPeekDoesNotRemove(t *testing.T) {
	q := NewTaskQueue()
	q.Enqueue(createTestTask("task-1", 5))

	_, ok := q.Peek()
	if !ok {
		t.Fatal("expected an entry")
	}
	if q.Size() != 1 {
		t.Errorf("Peek should not remove; Size() = %d", q.Size())
	}
}

func TestPriorityOrdering(t *testing.T) {
	q := NewTaskQueue()

	q.Enqueue(createTestTask("low", 1))
	q.Enqueue(createTestTask("high", 10))
	q.Enqueue(createTestTask("medium", 5))

	first, _ := q.Dequeue()
	if first.TaskID != "high" {
		t.Errorf("expected first dequeue = 'high', got %s", first.TaskID)
	}

	second, _ := q.Dequeue()
	if second.TaskID != "medium" {
		t.Errorf("expected second dequeue = 'medium', got %s", second.TaskID)
	}

	third, _ := q.Dequeue()
	if third.TaskID != "low" {
		t.Errorf("expected third dequeue = 'low', got %s", third.TaskID)
	}
}

func TestRemove(t *testing.T) {
	q := NewTaskQueue()

	q.Enqueue(createTestTask("task-1", 5))
	q.Enqueue(createTestTask("task-2", 3))

	q.Remove("task-1")
	if q.Size() != 1 {
		t.Errorf("expected Size() = 1 after remove, got %d", q.Size())
	}

	// Idempotent: removing again is a no-op, not an error.
	q.Remove("task-1")
	if q.Size() != 1 {
		t.Errorf("expected Size() unchanged by repeated remove, got %d", q.Size())
	}
}

func TestRemoveNonExistent(t *testing.T) {
	q := NewTaskQueue()
	q.Remove("non-existent")
	if q.Size() != 0 {
		t.Error("Remove of a non-existent id must be a no-op")
	}
}

func TestSnapshot(t *testing.T) {
	q := NewTaskQueue()

	q.Enqueue(createTestTask("task-1", 5))
	q.Enqueue(createTestTask("task-2", 3))
	q.Enqueue(createTestTask("task-3", 7))

	snap := q.Snapshot()
	if len(snap) != 3 {
		t.Errorf("expected Snapshot() to return 3 items, got %d", len(snap))
	}
}

func TestEnqueueRemoveRoundTrip(t *testing.T) {
	q := NewTaskQueue()
	preSize := q.Size()

	task := createTestTask("task-1", 5)
	q.Enqueue(task)
	q.Remove(task.ID)

	if q.Size() != preSize {
		t.Errorf("enqueue;remove round trip must restore size, got %d want %d", q.Size(), preSize)
	}
}

func TestGetNextForModelSkipsIncompatible(t *testing.T) {
	q := NewTaskQueue()

	opusOnly := createTestTask("opus-only", 10)
	opusOnly.EstimatedSessionsOpus = 2

	sonnetCompatible := createTestTask("sonnet-ok", 5)
	sonnetCompatible.EstimatedSessionsSonnet = 1

	q.Enqueue(opusOnly)
	q.Enqueue(sonnetCompatible)

	entry, ok := q.GetNextForModel(types.TierSonnet)
	if !ok {
		t.Fatal("expected a sonnet-compatible entry")
	}
	if entry.TaskID != "sonnet-ok" {
		t.Errorf("expected sonnet-ok, got %s", entry.TaskID)
	}

	// GetNextForModel must not remove the entry it returns.
	if q.Size() != 2 {
		t.Errorf("GetNextForModel must not mutate the queue, Size() = %d", q.Size())
	}
}

func TestGetNextForModelOnEmptyQueue(t *testing.T) {
	q := NewTaskQueue()
	_, ok := q.GetNextForModel(types.TierOpus)
	if ok {
		t.Error("expected ok=false for empty queue")
	}
}

func TestGetNextForModelZeroEstimateCompatibleWithAnyTier(t *testing.T) {
	q := NewTaskQueue()
	q.Enqueue(createTestTask("no-estimate", 5))

	for _, tier := range []types.ModelTier{types.TierOpus, types.TierSonnet} {
		entry, ok := q.GetNextForModel(tier)
		if !ok || entry.TaskID != "no-estimate" {
			t.Errorf("zero-estimate task should be compatible with tier %s", tier)
		}
	}
}

func TestFIFOWithSamePriority(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		q := NewTaskQueue()

		q.Enqueue(createTestTask("first", 5))
		time.Sleep(1 * time.Second)
		q.Enqueue(createTestTask("second", 5))
		time.Sleep(1 * time.Second)
		q.Enqueue(createTestTask("third", 5))

		first, _ := q.Dequeue()
		if first.TaskID != "first" {
			t.Errorf("expected 'first' with FIFO ordering, got %s", first.TaskID)
		}

		second, _ := q.Dequeue()
		if second.TaskID != "second" {
			t.Errorf("expected 'second' with FIFO ordering, got %s", second.TaskID)
		}
	})
}
