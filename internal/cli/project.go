package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	commonerrors "github.com/pivotloop/conductor/internal/common/errors"
	"github.com/pivotloop/conductor/internal/orchestrator/repository"
	"github.com/pivotloop/conductor/internal/orchestrator/types"
)

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "manage projects",
	}
	cmd.AddCommand(newProjectListCmd(), newProjectPauseCmd(), newProjectResumeCmd())
	return cmd
}

func newProjectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list projects with at least one non-terminal task",
		RunE: func(cmd *cobra.Command, args []string) error {
			projects, err := appDeps.repo.ListActiveProjects(cmd.Context())
			if err != nil {
				return commonerrors.Validation(fmt.Sprintf("failed to list projects: %v", err))
			}
			return renderOutput(cmd, projects)
		},
	}
}

// setProjectTasksStatus transitions every task in from/matching status for
// projectID to target, used by pause/resume. The Repository interface has
// no bulk-by-project update, so this iterates and updates one at a time;
// a partial failure leaves some tasks transitioned and returns the first
// error, which the CLI surfaces as a runtime error.
func setProjectTasksStatus(ctx context.Context, repo repository.Repository, projectID string, from, target types.TaskStatus) (int, error) {
	tasks, err := repo.ListTasksByProject(ctx, projectID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, t := range tasks {
		if t.Status != from {
			continue
		}
		if err := repo.UpdateTaskStatus(ctx, t.ID, target); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func newProjectPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <project-id>",
		Short: "block every queued task in a project so the scheduler skips it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := setProjectTasksStatus(cmd.Context(), appDeps.repo, args[0], types.TaskStatusQueued, types.TaskStatusBlocked)
			if err != nil {
				return commonerrors.Validation(fmt.Sprintf("failed to pause project %s: %v", args[0], err))
			}
			return renderOutput(cmd, map[string]any{"projectId": args[0], "pausedTasks": n})
		},
	}
}

func newProjectResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <project-id>",
		Short: "requeue every blocked task in a project that pause had blocked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := setProjectTasksStatus(cmd.Context(), appDeps.repo, args[0], types.TaskStatusBlocked, types.TaskStatusQueued)
			if err != nil {
				return commonerrors.Validation(fmt.Sprintf("failed to resume project %s: %v", args[0], err))
			}
			return renderOutput(cmd, map[string]any{"projectId": args[0], "resumedTasks": n})
		},
	}
}
