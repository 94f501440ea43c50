package types

import "time"

// SessionStatus is the lifecycle state of an AgentSession.
type SessionStatus string

const (
	SessionStatusSpawning   SessionStatus = "spawning"
	SessionStatusRunning    SessionStatus = "running"
	SessionStatusCompleting SessionStatus = "completing"
	SessionStatusTerminated SessionStatus = "terminated"
)

// AgentSession is one run of one agent against one task.
type AgentSession struct {
	ID     string
	Tier   ModelTier
	Status SessionStatus
	TaskID string

	StartedAt        time.Time
	AccumulatedTokens int64
	AccumulatedCostUSD float64
}

// HoldsCapacity reports whether this session should still be counted
// against its tier's capacity limit.
func (s *AgentSession) HoldsCapacity() bool {
	return s.Status != SessionStatusTerminated
}

// ActiveSessionInfo is the shape the AgentRuntime collaborator returns from
// GetActiveSessions, per the external interface contract.
type ActiveSessionInfo struct {
	ID         string
	Model      ModelTier
	Status     SessionStatus
	StartedAt  time.Time
	TokensUsed int64
	TaskID     string
}
