package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pivotloop/conductor/internal/orchestrator/types"
)

// MemoryRepository is a mutex-guarded map implementation of Repository.
// Used by tests, by the CLI when no DSN is configured, and as the default
// for local/offline runs.
type MemoryRepository struct {
	mu    sync.Mutex
	tasks map[string]*types.Task
}

// NewMemoryRepository builds an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tasks: make(map[string]*types.Task)}
}

// Seed inserts or replaces a task, for test setup and CLI-driven task adds.
func (m *MemoryRepository) Seed(task *types.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *task
	m.tasks[task.ID] = &cp
}

// Get returns a copy of one task, or nil if absent.
func (m *MemoryRepository) Get(taskID string) *types.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}

// List returns a copy of every task, ordered by ID for deterministic output.
func (m *MemoryRepository) List() []*types.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryRepository) GetQueuedTasks(ctx context.Context) ([]*types.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Task
	for _, t := range m.tasks {
		if t.Status == types.TaskStatusQueued {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

func (m *MemoryRepository) UpdateTaskStatus(ctx context.Context, taskID string, status types.TaskStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return fmtTaskNotFound(taskID)
	}
	t.Status = status
	t.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryRepository) RecordUsage(ctx context.Context, taskID string, delta UsageDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return fmtTaskNotFound(taskID)
	}
	t.ActualTokensOpus += delta.TokensOpus
	t.ActualTokensSonnet += delta.TokensSonnet
	t.ActualSessionsOpus += delta.SessionsOpus
	t.ActualSessionsSonnet += delta.SessionsSonnet
	t.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryRepository) AssignAgent(ctx context.Context, taskID string, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return fmtTaskNotFound(taskID)
	}
	t.AssignedAgentID = sessionID
	t.Status = types.TaskStatusAssigned
	t.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryRepository) UnassignAgent(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return fmtTaskNotFound(taskID)
	}
	t.AssignedAgentID = ""
	t.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryRepository) CreateTask(ctx context.Context, task *types.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	cp := *task
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.tasks[task.ID] = &cp
	return nil
}

func (m *MemoryRepository) ListTasksByProject(ctx context.Context, projectID string) ([]*types.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Task
	for _, t := range m.tasks {
		if t.ProjectID == projectID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRepository) ListActiveProjects(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	for _, t := range m.tasks {
		if t.Status != types.TaskStatusComplete {
			seen[t.ProjectID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
