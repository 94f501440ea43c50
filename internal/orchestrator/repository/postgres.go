package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	commonerrors "github.com/pivotloop/conductor/internal/common/errors"
	"github.com/pivotloop/conductor/internal/orchestrator/types"
)

// db is the subset of internal/common/database.DB the repository needs,
// kept minimal so tests can supply a fake pool.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository is a Repository backed by a tasks/agent_sessions/
// task_events schema over jackc/pgx/v5, grounded on the pool wrapper in
// internal/common/database and the teacher's sqlite task repository's
// query-then-scan shape.
type PostgresRepository struct {
	db     db
	health HealthSink
}

// NewPostgresRepository builds a PostgresRepository. health may be nil,
// in which case outcomes are not reported anywhere; the CLI's buildDeps
// passes nil.
func NewPostgresRepository(conn db, health HealthSink) *PostgresRepository {
	return &PostgresRepository{db: conn, health: health}
}

func (r *PostgresRepository) report(start time.Time, err error) error {
	_ = start
	if r.health == nil {
		return err
	}
	if err != nil {
		r.health.OnDbFailure(err)
	} else {
		r.health.OnDbSuccess()
	}
	return err
}

func wrapDatabaseErr(message string, err error) error {
	if err == nil {
		return nil
	}
	return commonerrors.Database(message, err)
}

func (r *PostgresRepository) GetQueuedTasks(ctx context.Context) ([]*types.Task, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, project_id, title, priority, status, blocked_by_task_id, parent_task_id,
		       source, complexity_estimate, estimated_sessions_opus, estimated_sessions_sonnet,
		       actual_tokens_opus, actual_tokens_sonnet, actual_sessions_opus, actual_sessions_sonnet,
		       assigned_agent_id, created_at, updated_at
		FROM tasks
		WHERE status = 'queued'
		ORDER BY priority DESC, created_at ASC
	`)
	if err != nil {
		return nil, r.report(time.Now(), wrapDatabaseErr("get queued tasks", err))
	}
	defer rows.Close()

	var out []*types.Task
	for rows.Next() {
		t := &types.Task{}
		var blockedBy, parentID, assignedAgent *string
		if scanErr := rows.Scan(
			&t.ID, &t.ProjectID, &t.Title, &t.Priority, &t.Status, &blockedBy, &parentID,
			&t.Source, &t.ComplexityEstimate, &t.EstimatedSessionsOpus, &t.EstimatedSessionsSonnet,
			&t.ActualTokensOpus, &t.ActualTokensSonnet, &t.ActualSessionsOpus, &t.ActualSessionsSonnet,
			&assignedAgent, &t.CreatedAt, &t.UpdatedAt,
		); scanErr != nil {
			return nil, r.report(time.Now(), wrapDatabaseErr("scan queued task", scanErr))
		}
		if blockedBy != nil {
			t.BlockedByTaskID = *blockedBy
		}
		if parentID != nil {
			t.ParentTaskID = *parentID
		}
		if assignedAgent != nil {
			t.AssignedAgentID = *assignedAgent
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, r.report(time.Now(), wrapDatabaseErr("iterate queued tasks", err))
	}
	return out, r.report(time.Now(), nil)
}

func (r *PostgresRepository) UpdateTaskStatus(ctx context.Context, taskID string, status types.TaskStatus) error {
	tag, err := r.db.Exec(ctx, `UPDATE tasks SET status = $1, updated_at = now() WHERE id = $2`, status, taskID)
	if err == nil && tag.RowsAffected() == 0 {
		err = errors.New("no task matched id " + taskID)
	}
	return r.report(time.Now(), wrapDatabaseErr("update task status", err))
}

func (r *PostgresRepository) RecordUsage(ctx context.Context, taskID string, delta UsageDelta) error {
	_, err := r.db.Exec(ctx, `
		UPDATE tasks SET
			actual_tokens_opus = actual_tokens_opus + $1,
			actual_tokens_sonnet = actual_tokens_sonnet + $2,
			actual_sessions_opus = actual_sessions_opus + $3,
			actual_sessions_sonnet = actual_sessions_sonnet + $4,
			updated_at = now()
		WHERE id = $5
	`, delta.TokensOpus, delta.TokensSonnet, delta.SessionsOpus, delta.SessionsSonnet, taskID)
	return r.report(time.Now(), wrapDatabaseErr("record usage", err))
}

func (r *PostgresRepository) AssignAgent(ctx context.Context, taskID string, sessionID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE tasks SET assigned_agent_id = $1, status = 'assigned', updated_at = now() WHERE id = $2
	`, sessionID, taskID)
	return r.report(time.Now(), wrapDatabaseErr("assign agent", err))
}

func (r *PostgresRepository) UnassignAgent(ctx context.Context, taskID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE tasks SET assigned_agent_id = NULL, updated_at = now() WHERE id = $1
	`, taskID)
	return r.report(time.Now(), wrapDatabaseErr("unassign agent", err))
}

func (r *PostgresRepository) CreateTask(ctx context.Context, task *types.Task) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO tasks (
			id, project_id, title, priority, status, blocked_by_task_id, parent_task_id,
			source, complexity_estimate, estimated_sessions_opus, estimated_sessions_sonnet,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10, $11, now(), now())
	`,
		task.ID, task.ProjectID, task.Title, task.Priority, task.Status, task.BlockedByTaskID, task.ParentTaskID,
		task.Source, task.ComplexityEstimate, task.EstimatedSessionsOpus, task.EstimatedSessionsSonnet,
	)
	return r.report(time.Now(), wrapDatabaseErr("create task", err))
}

func (r *PostgresRepository) ListTasksByProject(ctx context.Context, projectID string) ([]*types.Task, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, project_id, title, priority, status, blocked_by_task_id, parent_task_id,
		       source, complexity_estimate, estimated_sessions_opus, estimated_sessions_sonnet,
		       actual_tokens_opus, actual_tokens_sonnet, actual_sessions_opus, actual_sessions_sonnet,
		       assigned_agent_id, created_at, updated_at
		FROM tasks
		WHERE project_id = $1
		ORDER BY id
	`, projectID)
	if err != nil {
		return nil, r.report(time.Now(), wrapDatabaseErr("list tasks by project", err))
	}
	defer rows.Close()

	var out []*types.Task
	for rows.Next() {
		t := &types.Task{}
		var blockedBy, parentID, assignedAgent *string
		if scanErr := rows.Scan(
			&t.ID, &t.ProjectID, &t.Title, &t.Priority, &t.Status, &blockedBy, &parentID,
			&t.Source, &t.ComplexityEstimate, &t.EstimatedSessionsOpus, &t.EstimatedSessionsSonnet,
			&t.ActualTokensOpus, &t.ActualTokensSonnet, &t.ActualSessionsOpus, &t.ActualSessionsSonnet,
			&assignedAgent, &t.CreatedAt, &t.UpdatedAt,
		); scanErr != nil {
			return nil, r.report(time.Now(), wrapDatabaseErr("scan project task", scanErr))
		}
		if blockedBy != nil {
			t.BlockedByTaskID = *blockedBy
		}
		if parentID != nil {
			t.ParentTaskID = *parentID
		}
		if assignedAgent != nil {
			t.AssignedAgentID = *assignedAgent
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, r.report(time.Now(), wrapDatabaseErr("iterate project tasks", err))
	}
	return out, r.report(time.Now(), nil)
}

func (r *PostgresRepository) ListActiveProjects(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT project_id FROM tasks WHERE status != 'complete' ORDER BY project_id
	`)
	if err != nil {
		return nil, r.report(time.Now(), wrapDatabaseErr("list active projects", err))
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, r.report(time.Now(), wrapDatabaseErr("scan active project", err))
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, r.report(time.Now(), wrapDatabaseErr("iterate active projects", err))
	}
	return out, r.report(time.Now(), nil)
}
