package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pivotloop/conductor/internal/orchestrator/repository"
	"github.com/pivotloop/conductor/internal/orchestrator/types"
)

func TestBuildReportSummarizesByProject(t *testing.T) {
	repo := repository.NewMemoryRepository()
	repo.Seed(&types.Task{ID: "t1", ProjectID: "p1", Status: types.TaskStatusQueued})
	repo.Seed(&types.Task{ID: "t2", ProjectID: "p1", Status: types.TaskStatusComplete, ActualTokensOpus: 100})
	repo.Seed(&types.Task{ID: "t3", ProjectID: "p1", Status: types.TaskStatusBlocked, ActualTokensSonnet: 50})

	summaries, err := buildReport(context.Background(), repo)
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	s := summaries[0]
	assert.Equal(t, "p1", s.ProjectID)
	assert.Equal(t, 3, s.TotalTasks)
	assert.Equal(t, 1, s.QueuedTasks)
	assert.Equal(t, 1, s.BlockedTasks)
	assert.Equal(t, int64(100), s.TokensOpus)
	assert.Equal(t, int64(50), s.TokensSonnet)
}

func TestBuildReportExcludesCompletedOnlyProjects(t *testing.T) {
	repo := repository.NewMemoryRepository()
	repo.Seed(&types.Task{ID: "t1", ProjectID: "p1", Status: types.TaskStatusComplete})

	summaries, err := buildReport(context.Background(), repo)
	require.NoError(t, err)
	assert.Empty(t, summaries, "ListActiveProjects excludes projects with only complete tasks")
}
