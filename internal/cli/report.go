package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	commonerrors "github.com/pivotloop/conductor/internal/common/errors"
	"github.com/pivotloop/conductor/internal/orchestrator/repository"
	"github.com/pivotloop/conductor/internal/orchestrator/types"
)

// projectSummary is one row of "report" output: task counts by status and
// accumulated usage for a single project. Prose generation from these
// numbers is out of scope; this is the raw material a human or a separate
// reporting tool would render into prose.
type projectSummary struct {
	ProjectID      string `json:"projectId"`
	TotalTasks     int    `json:"totalTasks"`
	QueuedTasks    int    `json:"queuedTasks"`
	InProgress     int    `json:"inProgress"`
	CompletedTasks int    `json:"completedTasks"`
	BlockedTasks   int    `json:"blockedTasks"`
	TokensOpus     int64  `json:"tokensOpus"`
	TokensSonnet   int64  `json:"tokensSonnet"`
}

func newReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "summarize task counts and token usage per project",
		RunE: func(cmd *cobra.Command, args []string) error {
			summaries, err := buildReport(cmd.Context(), appDeps.repo)
			if err != nil {
				return commonerrors.Validation(fmt.Sprintf("failed to build report: %v", err))
			}
			return renderOutput(cmd, summaries)
		},
	}
}

func buildReport(ctx context.Context, repo repository.Repository) ([]projectSummary, error) {
	projects, err := repo.ListActiveProjects(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]projectSummary, 0, len(projects))
	for _, projectID := range projects {
		tasks, err := repo.ListTasksByProject(ctx, projectID)
		if err != nil {
			return nil, err
		}
		s := projectSummary{ProjectID: projectID, TotalTasks: len(tasks)}
		for _, t := range tasks {
			switch t.Status {
			case types.TaskStatusQueued:
				s.QueuedTasks++
			case types.TaskStatusInProgress:
				s.InProgress++
			case types.TaskStatusComplete:
				s.CompletedTasks++
			case types.TaskStatusBlocked:
				s.BlockedTasks++
			}
			s.TokensOpus += t.ActualTokensOpus
			s.TokensSonnet += t.ActualTokensSonnet
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}
