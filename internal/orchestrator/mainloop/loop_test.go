package mainloop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pivotloop/conductor/internal/orchestrator/capacity"
	"github.com/pivotloop/conductor/internal/orchestrator/circuitbreaker"
	"github.com/pivotloop/conductor/internal/orchestrator/events"
	"github.com/pivotloop/conductor/internal/orchestrator/health"
	"github.com/pivotloop/conductor/internal/orchestrator/notify"
	"github.com/pivotloop/conductor/internal/orchestrator/queue"
	"github.com/pivotloop/conductor/internal/orchestrator/repository"
	"github.com/pivotloop/conductor/internal/orchestrator/scheduler"
	"github.com/pivotloop/conductor/internal/orchestrator/types"
)

type stubRuntime struct {
	terminated []string
}

func (s *stubRuntime) SpawnAgent(ctx context.Context, task *types.Task, tier types.ModelTier) (string, error) {
	return task.ID + "-session", nil
}

func (s *stubRuntime) TerminateSession(ctx context.Context, sessionID string) error {
	s.terminated = append(s.terminated, sessionID)
	return nil
}

func (s *stubRuntime) GetActiveSessions(ctx context.Context) ([]types.ActiveSessionInfo, error) {
	return nil, nil
}

func newTestLoop(t *testing.T) (*Loop, *repository.MemoryRepository, *stubRuntime) {
	t.Helper()
	q := queue.NewTaskQueue()
	tr := capacity.NewTracker(map[types.ModelTier]int{types.TierOpus: 2, types.TierSonnet: 5})
	rt := &stubRuntime{}
	sched := scheduler.New(q, tr, rt, nil, nil, []types.ModelTier{types.TierOpus, types.TierSonnet})
	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig(), nil, nil)
	repo := repository.NewMemoryRepository()
	probe := func(ctx context.Context) error { return nil }
	dbHealth := health.New(probe, 3, nil, nil)
	dbHealth.OnDbSuccess()
	dispatcher := events.NewDispatcher(10, nil)
	notifier := notify.New(notify.NewConsoleSender(nil), notify.QuietHours{}, nil)

	cfg := Config{
		PollInterval:            50 * time.Millisecond,
		GracefulShutdownTimeout: 200 * time.Millisecond,
		StateFilePath:           "",
	}

	loop := New(cfg, sched, breaker, dbHealth, dispatcher, notifier, repo, rt, nil)
	return loop, repo, rt
}

func TestStartTransitionsToRunning(t *testing.T) {
	loop, _, _ := newTestLoop(t)
	require.NoError(t, loop.Start(context.Background()))
	assert.Equal(t, StateRunning, loop.GetState())
	require.NoError(t, loop.Stop(context.Background()))
}

func TestStartWhileRunningIsNoOp(t *testing.T) {
	loop, _, _ := newTestLoop(t)
	require.NoError(t, loop.Start(context.Background()))
	require.NoError(t, loop.Start(context.Background()))
	assert.Equal(t, StateRunning, loop.GetState())
	require.NoError(t, loop.Stop(context.Background()))
}

func TestStopWhileStoppedIsNoOp(t *testing.T) {
	loop, _, _ := newTestLoop(t)
	assert.Equal(t, StateStopped, loop.GetState())
	require.NoError(t, loop.Stop(context.Background()))
	assert.Equal(t, StateStopped, loop.GetState())
}

func TestHandleCompletionReleasesCapacityAndMarksComplete(t *testing.T) {
	loop, repo, _ := newTestLoop(t)
	repo.Seed(&types.Task{ID: "t1", Status: types.TaskStatusInProgress})

	loop.mu.Lock()
	loop.activeAgents["s1"] = &activeAgent{sessionID: "s1", taskID: "t1", model: types.TierSonnet}
	loop.mu.Unlock()
	loop.scheduler.AddTask(&types.Task{ID: "placeholder"})
	loop.scheduler.RemoveTask("placeholder") // no-op, exercises idempotence path

	loop.HandleAgentEvent(context.Background(), types.AgentEvent{
		Kind: types.EventKindCompletion, AgentID: "s1", TaskID: "t1",
		Payload: types.AgentEventPayload{TokensUsed: 100, HasMeaningfulOutput: true},
	})

	assert.Equal(t, types.TaskStatusComplete, repo.Get("t1").Status)
	assert.Equal(t, int64(100), repo.Get("t1").ActualTokensSonnet)
	assert.Equal(t, 0, loop.GetActiveAgentCount())
}

func TestHandleErrorRequeuesUnlessFatal(t *testing.T) {
	loop, repo, _ := newTestLoop(t)
	repo.Seed(&types.Task{ID: "t1", Status: types.TaskStatusInProgress})
	loop.mu.Lock()
	loop.activeAgents["s1"] = &activeAgent{sessionID: "s1", taskID: "t1", model: types.TierSonnet}
	loop.mu.Unlock()

	loop.HandleAgentEvent(context.Background(), types.AgentEvent{
		Kind: types.EventKindError, AgentID: "s1", TaskID: "t1",
		Payload: types.AgentEventPayload{Error: "boom"},
	})

	assert.Equal(t, types.TaskStatusQueued, repo.Get("t1").Status)
	assert.Equal(t, 0, loop.GetActiveAgentCount())
}

func TestHandleErrorFatalClassifiedBlocksTask(t *testing.T) {
	loop, repo, _ := newTestLoop(t)
	repo.Seed(&types.Task{ID: "t1", Status: types.TaskStatusInProgress})
	loop.mu.Lock()
	loop.activeAgents["s1"] = &activeAgent{sessionID: "s1", taskID: "t1", model: types.TierSonnet}
	loop.mu.Unlock()

	loop.HandleAgentEvent(context.Background(), types.AgentEvent{
		Kind: types.EventKindError, AgentID: "s1", TaskID: "t1",
		Payload: types.AgentEventPayload{Error: "fatal", FatalClassified: true},
	})

	assert.Equal(t, types.TaskStatusBlocked, repo.Get("t1").Status)
}

func TestHandleBlockerDoesNotReleaseCapacity(t *testing.T) {
	loop, repo, _ := newTestLoop(t)
	repo.Seed(&types.Task{ID: "t1", Status: types.TaskStatusInProgress})
	loop.mu.Lock()
	loop.activeAgents["s1"] = &activeAgent{sessionID: "s1", taskID: "t1", model: types.TierSonnet}
	loop.mu.Unlock()

	loop.HandleAgentEvent(context.Background(), types.AgentEvent{
		Kind: types.EventKindBlocker, AgentID: "s1", TaskID: "t1",
		Payload: types.AgentEventPayload{BlockedByTaskID: "t0"},
	})

	assert.Equal(t, types.TaskStatusBlocked, repo.Get("t1").Status)
	assert.Equal(t, 1, loop.GetActiveAgentCount(), "session must remain tracked; blocker does not release capacity")
}

func TestHandleQuestionEnqueuesNotificationAndKeepsCapacity(t *testing.T) {
	loop, _, _ := newTestLoop(t)
	loop.mu.Lock()
	loop.activeAgents["s1"] = &activeAgent{sessionID: "s1", taskID: "t1", model: types.TierSonnet}
	loop.mu.Unlock()

	loop.HandleAgentEvent(context.Background(), types.AgentEvent{
		Kind: types.EventKindQuestion, AgentID: "s1", TaskID: "t1",
		Payload: types.AgentEventPayload{Question: "proceed?"},
	})

	assert.Equal(t, 1, loop.GetActiveAgentCount())
}

func TestStopForceTerminatesStragglers(t *testing.T) {
	loop, _, rt := newTestLoop(t)
	require.NoError(t, loop.Start(context.Background()))

	loop.mu.Lock()
	loop.activeAgents["s1"] = &activeAgent{sessionID: "s1", taskID: "t1", model: types.TierSonnet, startedAt: time.Now()}
	loop.mu.Unlock()

	require.NoError(t, loop.Stop(context.Background()))
	assert.Contains(t, rt.terminated, "s1")
}
