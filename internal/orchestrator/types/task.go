// Package types holds the core data model shared by every orchestrator
// component: tasks, agent sessions, and the agent event stream.
package types

import "time"

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusAssigned   TaskStatus = "assigned"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusReview     TaskStatus = "review"
	TaskStatusComplete   TaskStatus = "complete"
	TaskStatusBlocked    TaskStatus = "blocked"
)

// TaskSource identifies how a Task entered the system.
type TaskSource string

const (
	TaskSourceUser           TaskSource = "user"
	TaskSourceAgentProposal  TaskSource = "agent_proposal"
	TaskSourceDecomposition  TaskSource = "decomposition"
)

// ComplexityEstimate feeds the scheduler's model-selection rule. Anything
// other than High or Complex is treated as ordinary for that rule.
type ComplexityEstimate string

const (
	ComplexityLow     ComplexityEstimate = "low"
	ComplexityMedium  ComplexityEstimate = "medium"
	ComplexityHigh    ComplexityEstimate = "high"
	ComplexityComplex ComplexityEstimate = "complex"
)

// ModelTier is the resource class an agent session consumes. It is an
// extensible string rather than a fixed enum: additional tiers can be
// configured without code changes to CapacityTracker or the Scheduler.
type ModelTier string

const (
	TierOpus   ModelTier = "opus"
	TierSonnet ModelTier = "sonnet"
)

// Task is the unit of work the orchestrator schedules onto agent sessions.
type Task struct {
	ID        string
	ProjectID string

	// Title is a short human-readable label, set by the CLI's "task add"
	// and surfaced in status/report output. The scheduler never reads it.
	Title string

	Priority           int
	Status             TaskStatus
	BlockedByTaskID    string
	ParentTaskID       string
	Tags               []string
	Source             TaskSource
	ComplexityEstimate ComplexityEstimate

	// Estimation: zero on either field means "prefer the cheaper tier".
	EstimatedSessionsOpus   int
	EstimatedSessionsSonnet int

	// Accounting: monotonic usage counters, updated via RecordUsage.
	ActualTokensOpus     int64
	ActualTokensSonnet   int64
	ActualSessionsOpus   int
	ActualSessionsSonnet int

	AssignedAgentID string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// IsQueueable reports whether the task may legally sit in the queue. Per
// the invariant, exactly one of AssignedAgentID being set and Status being
// queued/blocked holds — a queued task has no agent.
func (t *Task) IsQueueable() bool {
	return t.Status == TaskStatusQueued
}

// EstimatedSessions returns the estimate for the given tier, 0 if unknown.
func (t *Task) EstimatedSessions(tier ModelTier) int {
	switch tier {
	case TierOpus:
		return t.EstimatedSessionsOpus
	case TierSonnet:
		return t.EstimatedSessionsSonnet
	default:
		return 0
	}
}

// IsHighComplexity reports whether the task's complexity estimate
// qualifies it for opus preference under the scheduler's selection rule.
func (t *Task) IsHighComplexity() bool {
	return t.ComplexityEstimate == ComplexityHigh || t.ComplexityEstimate == ComplexityComplex
}
