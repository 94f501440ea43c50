// Package runtime defines the AgentRuntime boundary and its
// implementations: the Docker-backed runtime used in production and a
// no-op runtime used when no container daemon is reachable.
package runtime

import (
	"context"

	"github.com/pivotloop/conductor/internal/orchestrator/types"
)

// AgentRuntime is the sole source of AgentEvents and the only collaborator
// that actually runs agent work. The Scheduler calls SpawnAgent; MainLoop
// never talks to it directly except via TerminateSession during shutdown.
type AgentRuntime interface {
	// SpawnAgent starts one agent session for task on tier and returns its
	// session id. A non-nil error is a SpawnError: single-task failure,
	// capacity already reserved by the caller must be released.
	SpawnAgent(ctx context.Context, task *types.Task, tier types.ModelTier) (sessionID string, err error)

	// TerminateSession requests the named session stop. Used during
	// graceful shutdown for sessions that did not complete in time.
	TerminateSession(ctx context.Context, sessionID string) error

	// InjectMessage forwards operator/notifier text into a running session,
	// e.g. answering a `question` event.
	InjectMessage(ctx context.Context, sessionID, text string) error

	// GetActiveSessions returns the runtime's live session set, the source
	// of truth CapacityTracker.SyncWithAgentManager reconciles against.
	GetActiveSessions(ctx context.Context) ([]types.ActiveSessionInfo, error)

	// OnEvent registers the dispatcher as the runtime's event sink. The
	// runtime is the sole source of AgentEvents; it calls handler for every
	// event it observes for the lifetime of the process.
	OnEvent(handler func(types.AgentEvent))
}
