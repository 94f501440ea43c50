package runtime

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pivotloop/conductor/internal/agent/docker"
	"github.com/pivotloop/conductor/internal/common/config"
	"github.com/pivotloop/conductor/internal/common/constants"
	commonerrors "github.com/pivotloop/conductor/internal/common/errors"
	"github.com/pivotloop/conductor/internal/common/logger"
	"github.com/pivotloop/conductor/internal/orchestrator/types"
)

// agentLogLine is the structured shape an agent container writes to
// stdout, one JSON object per line, for the DockerRuntime to translate
// into an AgentEvent.
type agentLogLine struct {
	Kind                string  `json:"kind"`
	TaskID              string  `json:"task_id"`
	TokensUsed          int64   `json:"tokens_used"`
	CostUSD             float64 `json:"cost_usd"`
	HasMeaningfulOutput bool    `json:"has_meaningful_output"`
	Summary             string  `json:"summary"`
	Error               string  `json:"error"`
	FatalClassified     bool    `json:"fatal"`
	BlockedByTaskID     string  `json:"blocked_by_task_id"`
	Question            string  `json:"question"`
	SubagentID          string  `json:"subagent_id"`
}

// DockerRuntime spawns one container per agent session and tails its logs
// for structured event lines, turning them into AgentEvents.
type DockerRuntime struct {
	client *docker.Client
	cfg    config.DockerConfig
	log    *logger.Logger

	mu       sync.Mutex
	sessions map[string]*runningSession
	onEvent  func(types.AgentEvent)
}

type runningSession struct {
	containerID string
	taskID      string
	tier        types.ModelTier
	startedAt   time.Time
}

// NewDockerRuntime wraps an already-constructed Docker client.
func NewDockerRuntime(client *docker.Client, cfg config.DockerConfig, log *logger.Logger) *DockerRuntime {
	return &DockerRuntime{
		client:   client,
		cfg:      cfg,
		log:      log,
		sessions: make(map[string]*runningSession),
	}
}

func (r *DockerRuntime) imageForTier(tier types.ModelTier) string {
	switch tier {
	case types.TierOpus:
		return r.cfg.OpusImage
	case types.TierSonnet:
		return r.cfg.SonnetImage
	default:
		return r.cfg.SonnetImage
	}
}

// SpawnAgent creates and starts a container for task, then begins tailing
// its logs in the background. The returned session id is the container id.
func (r *DockerRuntime) SpawnAgent(ctx context.Context, task *types.Task, tier types.ModelTier) (string, error) {
	name := fmt.Sprintf("conductor-agent-%s-%s", task.ID, uuid.NewString()[:8])

	containerID, err := r.client.CreateContainer(ctx, docker.ContainerConfig{
		Name:  name,
		Image: r.imageForTier(tier),
		Env: []string{
			fmt.Sprintf("CONDUCTOR_TASK_ID=%s", task.ID),
			fmt.Sprintf("CONDUCTOR_MODEL_TIER=%s", tier),
		},
		Labels: map[string]string{
			"conductor.task_id": task.ID,
			"conductor.tier":    string(tier),
		},
		AutoRemove: false,
	})
	if err != nil {
		return "", commonerrors.Spawn(fmt.Sprintf("spawn agent for task %s", task.ID), err)
	}

	if err := r.client.StartContainer(ctx, containerID); err != nil {
		_ = r.client.RemoveContainer(context.Background(), containerID, true)
		return "", commonerrors.Spawn(fmt.Sprintf("start agent container for task %s", task.ID), err)
	}

	r.mu.Lock()
	r.sessions[containerID] = &runningSession{
		containerID: containerID,
		taskID:      task.ID,
		tier:        tier,
		startedAt:   time.Now(),
	}
	onEvent := r.onEvent
	r.mu.Unlock()

	go r.tailLogs(containerID, task.ID, onEvent)

	r.log.Info("agent session spawned",
		zap.String("container_id", containerID),
		zap.String("task_id", task.ID),
		zap.String("tier", string(tier)))

	return containerID, nil
}

// tailLogs follows a container's combined stdout/stderr and translates
// each well-formed JSON line into an AgentEvent.
func (r *DockerRuntime) tailLogs(containerID, taskID string, onEvent func(types.AgentEvent)) {
	ctx := context.Background()
	reader, err := r.client.GetContainerLogs(ctx, containerID, true, "0")
	if err != nil {
		r.log.Error("failed to tail agent logs", zap.String("container_id", containerID), zap.Error(err))
		return
	}
	defer reader.Close()

	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var parsed agentLogLine
		if err := json.Unmarshal([]byte(line), &parsed); err != nil {
			continue // not a structured event line; plain container logging
		}
		if onEvent == nil {
			continue
		}
		onEvent(r.toAgentEvent(containerID, taskID, parsed))
	}
}

func (r *DockerRuntime) toAgentEvent(containerID, taskID string, line agentLogLine) types.AgentEvent {
	if line.TaskID != "" {
		taskID = line.TaskID
	}
	return types.AgentEvent{
		Kind:      types.AgentEventKind(line.Kind),
		AgentID:   containerID,
		TaskID:    taskID,
		Timestamp: time.Now(),
		Payload: types.AgentEventPayload{
			TokensUsed:          line.TokensUsed,
			CostUSD:             line.CostUSD,
			HasMeaningfulOutput: line.HasMeaningfulOutput,
			Summary:             line.Summary,
			Error:               line.Error,
			FatalClassified:     line.FatalClassified,
			BlockedByTaskID:     line.BlockedByTaskID,
			Question:            line.Question,
			SubagentID:          line.SubagentID,
		},
	}
}

// TerminateSession stops and removes the container backing sessionID.
func (r *DockerRuntime) TerminateSession(ctx context.Context, sessionID string) error {
	stopCtx, cancel := context.WithTimeout(ctx, constants.AgentTerminateTimeout)
	defer cancel()

	if err := r.client.StopContainer(stopCtx, sessionID, constants.AgentTerminateTimeout); err != nil {
		r.log.Warn("graceful stop failed, killing container", zap.String("session_id", sessionID), zap.Error(err))
		if killErr := r.client.KillContainer(ctx, sessionID, "SIGKILL"); killErr != nil {
			return fmt.Errorf("terminate session %s: %w", sessionID, killErr)
		}
	}

	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	return r.client.RemoveContainer(ctx, sessionID, true)
}

// InjectMessage is not supported by the log-tailing container model; agent
// containers are one-shot per task rather than interactively steerable.
func (r *DockerRuntime) InjectMessage(ctx context.Context, sessionID, text string) error {
	return fmt.Errorf("docker runtime does not support message injection for session %s", sessionID)
}

// GetActiveSessions lists containers still tracked as running.
func (r *DockerRuntime) GetActiveSessions(ctx context.Context) ([]types.ActiveSessionInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.ActiveSessionInfo, 0, len(r.sessions))
	for id, s := range r.sessions {
		info, err := r.client.GetContainerInfo(ctx, id)
		if err != nil || info.State != "running" {
			continue
		}
		out = append(out, types.ActiveSessionInfo{
			ID:        id,
			Model:     s.tier,
			Status:    types.SessionStatusRunning,
			StartedAt: s.startedAt,
			TaskID:    s.taskID,
		})
	}
	return out, nil
}

// OnEvent registers the sink every tailed log line is translated into.
func (r *DockerRuntime) OnEvent(handler func(types.AgentEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvent = handler
}
