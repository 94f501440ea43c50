package runtime

import (
	"context"
	"fmt"

	commonerrors "github.com/pivotloop/conductor/internal/common/errors"
	"github.com/pivotloop/conductor/internal/common/logger"
	"github.com/pivotloop/conductor/internal/orchestrator/types"
)

// NoopRuntime always fails SpawnAgent. It exists so a Docker-unavailable
// deployment degrades instead of crashing: the circuit breaker's
// consecutive-error rule bounds the damage rather than the process dying
// on the first scheduling attempt.
type NoopRuntime struct {
	log *logger.Logger
}

// NewNoopRuntime builds a runtime that rejects every spawn.
func NewNoopRuntime(log *logger.Logger) *NoopRuntime {
	return &NoopRuntime{log: log}
}

func (r *NoopRuntime) SpawnAgent(ctx context.Context, task *types.Task, tier types.ModelTier) (string, error) {
	return "", commonerrors.Spawn(fmt.Sprintf("agent runtime unavailable: cannot spawn task %s on tier %s", task.ID, tier), nil)
}

func (r *NoopRuntime) TerminateSession(ctx context.Context, sessionID string) error {
	return nil
}

func (r *NoopRuntime) InjectMessage(ctx context.Context, sessionID, text string) error {
	return fmt.Errorf("agent runtime unavailable: cannot inject message into session %s", sessionID)
}

func (r *NoopRuntime) GetActiveSessions(ctx context.Context) ([]types.ActiveSessionInfo, error) {
	return nil, nil
}

func (r *NoopRuntime) OnEvent(handler func(types.AgentEvent)) {}
