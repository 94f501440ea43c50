package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	commonerrors "github.com/pivotloop/conductor/internal/common/errors"
	"github.com/pivotloop/conductor/internal/orchestrator/repository"
	"github.com/pivotloop/conductor/internal/orchestrator/types"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "manage queued tasks",
	}
	cmd.AddCommand(newTaskAddCmd(), newTaskListCmd(), newTaskCancelCmd())
	return cmd
}

func newTaskAddCmd() *cobra.Command {
	var (
		project  string
		priority int
		title    string
		tiers    []string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "enqueue a new task",
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := buildTaskFromFlags(project, priority, title, tiers)
			if err != nil {
				return err
			}
			if err := appDeps.repo.CreateTask(cmd.Context(), task); err != nil {
				return commonerrors.Validation(fmt.Sprintf("failed to add task: %v", err))
			}
			return renderOutput(cmd, task)
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "project id (required)")
	cmd.Flags().IntVar(&priority, "priority", 0, "scheduling priority, higher runs first")
	cmd.Flags().StringVar(&title, "title", "", "short human-readable title (required)")
	cmd.Flags().StringArrayVar(&tiers, "tier", nil, "estimated sessions for a tier, e.g. --tier opus=2")
	return cmd
}

func buildTaskFromFlags(project string, priority int, title string, tiers []string) (*types.Task, error) {
	if project == "" {
		return nil, commonerrors.Validation("--project is required")
	}
	if title == "" {
		return nil, commonerrors.Validation("--title is required")
	}

	task := &types.Task{
		ID:        uuid.NewString(),
		ProjectID: project,
		Title:     title,
		Priority:  priority,
		Status:    types.TaskStatusQueued,
		Source:    types.TaskSourceUser,
	}

	for _, spec := range tiers {
		name, value, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, commonerrors.Validation(fmt.Sprintf("--tier must be name=count, got %q", spec))
		}
		count, err := strconv.Atoi(value)
		if err != nil {
			return nil, commonerrors.Validation(fmt.Sprintf("--tier count must be an integer, got %q", spec))
		}
		switch types.ModelTier(name) {
		case types.TierOpus:
			task.EstimatedSessionsOpus = count
		case types.TierSonnet:
			task.EstimatedSessionsSonnet = count
		default:
			return nil, commonerrors.Validation(fmt.Sprintf("unknown tier %q", name))
		}
	}

	return task, nil
}

func newTaskListCmd() *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "list tasks, optionally scoped to a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := listTasks(cmd.Context(), appDeps.repo, project)
			if err != nil {
				return commonerrors.Validation(fmt.Sprintf("failed to list tasks: %v", err))
			}
			return renderOutput(cmd, tasks)
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "restrict to one project id")
	return cmd
}

func listTasks(ctx context.Context, repo repository.Repository, project string) ([]*types.Task, error) {
	if project != "" {
		return repo.ListTasksByProject(ctx, project)
	}

	projects, err := repo.ListActiveProjects(ctx)
	if err != nil {
		return nil, err
	}
	var out []*types.Task
	for _, p := range projects {
		tasks, err := repo.ListTasksByProject(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, tasks...)
	}
	return out, nil
}

func newTaskCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "mark a task blocked so the scheduler stops considering it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID := args[0]
			if err := appDeps.repo.UpdateTaskStatus(cmd.Context(), taskID, types.TaskStatusBlocked); err != nil {
				return commonerrors.Validation(fmt.Sprintf("failed to cancel task %s: %v", taskID, err))
			}
			if err := appDeps.repo.UnassignAgent(cmd.Context(), taskID); err != nil {
				return commonerrors.Validation(fmt.Sprintf("failed to clear assignment for task %s: %v", taskID, err))
			}
			return renderOutput(cmd, map[string]string{"taskId": taskID, "status": string(types.TaskStatusBlocked)})
		},
	}
}
