// Package repository is the Database external collaborator: the
// orchestrator's core depends on this interface abstractly, per the
// external interfaces contract, never on a concrete driver.
package repository

import (
	"context"

	"github.com/pivotloop/conductor/internal/orchestrator/types"
)

// UsageDelta is the incremental usage recorded against a task after an
// agent session completes or fails.
type UsageDelta struct {
	TokensOpus     int64
	TokensSonnet   int64
	SessionsOpus   int
	SessionsSonnet int
}

// Repository is the Database collaborator's concrete Go interface, per
// spec.md §6: getQueuedTasks, updateTaskStatus, recordUsage, assignAgent,
// unassignAgent, listActiveProjects.
type Repository interface {
	GetQueuedTasks(ctx context.Context) ([]*types.Task, error)
	UpdateTaskStatus(ctx context.Context, taskID string, status types.TaskStatus) error
	RecordUsage(ctx context.Context, taskID string, delta UsageDelta) error
	AssignAgent(ctx context.Context, taskID string, sessionID string) error
	UnassignAgent(ctx context.Context, taskID string) error
	ListActiveProjects(ctx context.Context) ([]string, error)

	// CreateTask and ListTasksByProject back the CLI's task/project
	// subcommands. Not in spec.md's core-operation list, since the core
	// loop never creates or lists by project itself, but the CLI needs a
	// way to enqueue work and to target a project's tasks for pause/resume.
	CreateTask(ctx context.Context, task *types.Task) error
	ListTasksByProject(ctx context.Context, projectID string) ([]*types.Task, error)
}

// HealthSink receives the outcome of every Repository call so the
// DatabaseHealthMonitor's tick-time signals fire from real query traffic.
type HealthSink interface {
	OnDbSuccess()
	OnDbFailure(err error)
}
