// Package queue implements the orchestrator's priority-ordered view of
// queued tasks: an in-memory heap rebuilt from the database on startup.
package queue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/pivotloop/conductor/internal/orchestrator/types"
)

// QueueEntry is a Task projected into the in-memory queue.
type QueueEntry struct {
	TaskID   string
	Priority int
	QueuedAt time.Time
	Task     *types.Task
	index    int // heap bookkeeping
}

// taskHeap implements heap.Interface. Ordering: priority DESC, then
// QueuedAt ASC, a strict total order so ties are deterministic.
type taskHeap []*QueueEntry

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].QueuedAt.Before(h[j].QueuedAt)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	n := len(*h)
	item := x.(*QueueEntry)
	item.index = n
	*h = append(*h, item)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[0 : n-1]
	return item
}

// TaskQueue maintains a priority-ordered view of queued tasks. At most one
// entry per task id is present at any time.
type TaskQueue struct {
	mu      sync.RWMutex
	heap    taskHeap
	taskMap map[string]*QueueEntry
}

// NewTaskQueue creates an empty task queue.
func NewTaskQueue() *TaskQueue {
	q := &TaskQueue{
		heap:    make(taskHeap, 0),
		taskMap: make(map[string]*QueueEntry),
	}
	heap.Init(&q.heap)
	return q
}

// Enqueue inserts task if its id is absent, otherwise replaces the existing
// entry in-place and re-heapifies. Never errors on a duplicate id.
func (q *TaskQueue) Enqueue(task *types.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.taskMap[task.ID]; ok {
		existing.Priority = task.Priority
		existing.Task = task
		heap.Fix(&q.heap, existing.index)
		return
	}

	qt := &QueueEntry{
		TaskID:   task.ID,
		Priority: task.Priority,
		QueuedAt: time.Now(),
		Task:     task,
	}
	heap.Push(&q.heap, qt)
	q.taskMap[task.ID] = qt
}

// Remove removes taskId if present. Idempotent.
func (q *TaskQueue) Remove(taskID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	qt, exists := q.taskMap[taskID]
	if !exists {
		return
	}
	heap.Remove(&q.heap, qt.index)
	delete(q.taskMap, taskID)
}

// Dequeue removes and returns the highest-priority entry. The second
// return value is false if the queue was empty (the "none" sentinel).
func (q *TaskQueue) Dequeue() (*QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return nil, false
	}
	qt := heap.Pop(&q.heap).(*QueueEntry)
	delete(q.taskMap, qt.TaskID)
	return qt, true
}

// Peek returns the highest-priority entry without removing it.
func (q *TaskQueue) Peek() (*QueueEntry, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if len(q.heap) == 0 {
		return nil, false
	}
	return q.heap[0], true
}

// ModelCompatible decides whether a queue entry's estimation is compatible
// with tier: either the task names an explicit nonzero estimate for tier,
// or it names no estimate for any tier (zero means "prefer the cheaper
// tier", which makes every tier compatible).
func ModelCompatible(task *types.Task, tier types.ModelTier) bool {
	estimate := task.EstimatedSessions(tier)
	if estimate > 0 {
		return true
	}
	return task.EstimatedSessionsOpus == 0 && task.EstimatedSessionsSonnet == 0
}

// GetNextForModel returns the highest-priority entry whose estimation is
// compatible with tier, without removing it. Pops entries off a scratch
// copy of the heap in priority order until a compatible one surfaces, then
// discards the scratch copy — O(k log n) where k is the count skipped,
// rather than a full O(n) scan of the queue.
func (q *TaskQueue) GetNextForModel(tier types.ModelTier) (*QueueEntry, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	// Scratch entries are independent copies: the heap operations below
	// mutate .index as they Swap, and must not corrupt the index bookkeeping
	// the real heap/taskMap rely on for O(log n) Remove.
	scratch := make(taskHeap, len(q.heap))
	for i, qt := range q.heap {
		cp := *qt
		scratch[i] = &cp
	}
	heap.Init(&scratch)

	for scratch.Len() > 0 {
		qt := heap.Pop(&scratch).(*QueueEntry)
		if ModelCompatible(qt.Task, tier) {
			original := q.taskMap[qt.TaskID]
			return original, true
		}
	}
	return nil, false
}

// Size returns the number of queued tasks.
func (q *TaskQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.heap)
}

// IsEmpty reports whether the queue has no entries.
func (q *TaskQueue) IsEmpty() bool {
	return q.Size() == 0
}

// Snapshot returns a copy of all queued entries, for diagnostics.
func (q *TaskQueue) Snapshot() []*QueueEntry {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]*QueueEntry, len(q.heap))
	copy(result, q.heap)
	return result
}
