package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pivotloop/conductor/internal/common/config"
	"github.com/pivotloop/conductor/internal/orchestrator/repository"
	"github.com/pivotloop/conductor/internal/orchestrator/types"
)

func TestBuildStatusReportNotRunningWithoutPidFile(t *testing.T) {
	repo := repository.NewMemoryRepository()
	repo.Seed(&types.Task{ID: "t1", ProjectID: "p1", Status: types.TaskStatusQueued})

	cfg := &config.Config{}
	cfg.MainLoop.StateFilePath = filepath.Join(t.TempDir(), "state.json")

	d := &deps{cfg: cfg, repo: repo}
	report, err := buildStatusReport(d)
	require.NoError(t, err)
	assert.False(t, report.Running)
	assert.Equal(t, 1, report.QueuedTasks)
	assert.Contains(t, report.ActiveProjects, "p1")
}

func TestBuildStatusReportRunningWithLivePid(t *testing.T) {
	repo := repository.NewMemoryRepository()
	cfg := &config.Config{}
	cfg.MainLoop.StateFilePath = filepath.Join(t.TempDir(), "state.json")

	require.NoError(t, os.WriteFile(pidFilePath(cfg.MainLoop.StateFilePath), []byte("1"), 0o644))

	d := &deps{cfg: cfg, repo: repo}
	report, err := buildStatusReport(d)
	require.NoError(t, err)
	assert.True(t, report.Running, "pid 1 (init) is always alive")
}
