// Package scheduler composes the TaskQueue, CapacityTracker, and
// AgentRuntime to decide which task runs next and launch it.
package scheduler

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/pivotloop/conductor/internal/common/constants"
	"github.com/pivotloop/conductor/internal/common/logger"
	"github.com/pivotloop/conductor/internal/common/tracing"
	"github.com/pivotloop/conductor/internal/orchestrator/capacity"
	"github.com/pivotloop/conductor/internal/orchestrator/queue"
	"github.com/pivotloop/conductor/internal/orchestrator/types"
)

// Status is the outcome of a single scheduling attempt.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusIdle       Status = "idle"
	StatusNoCapacity Status = "no_capacity"
	StatusError      Status = "error"
)

// ScheduledTask describes one task the scheduler just launched.
type ScheduledTask struct {
	TaskID    string
	SessionID string
	Model     types.ModelTier
}

// Result is the return shape of ScheduleNext / ScheduleAll.
type Result struct {
	Status Status
	Tasks  []ScheduledTask
}

// AgentRuntime is the subset of the runtime boundary the scheduler needs.
// Defined locally (rather than importing internal/orchestrator/runtime) to
// avoid a dependency cycle; runtime.AgentRuntime satisfies it structurally.
type AgentRuntime interface {
	SpawnAgent(ctx context.Context, task *types.Task, tier types.ModelTier) (string, error)
}

// FailureReporter receives spawn failures. internal/orchestrator/circuitbreaker.Breaker
// satisfies this.
type FailureReporter interface {
	RecordError(agentID string, err error, tokensUsed int64, costUSD float64)
}

// Scheduler decides which task to run next and launches it via AgentRuntime.
type Scheduler struct {
	mu sync.Mutex

	taskQueue *queue.TaskQueue
	tracker   *capacity.Tracker
	agentRT   AgentRuntime
	breaker   FailureReporter
	log       *logger.Logger

	// tierOrder lists the configured tiers. It is used only by the
	// any-tier-has-capacity checks in CanSchedule and ScheduleNext;
	// selectTier chooses between TierOpus and TierSonnet alone, so no
	// other configured tier is ever selected.
	tierOrder []types.ModelTier
}

// New builds a Scheduler. tierOrder lists every configured tier; its
// order does not affect model selection, which always treats TierOpus as
// the high tier and TierSonnet as the default tier.
func New(taskQueue *queue.TaskQueue, tracker *capacity.Tracker, agentRT AgentRuntime, breaker FailureReporter, log *logger.Logger, tierOrder []types.ModelTier) *Scheduler {
	return &Scheduler{
		taskQueue: taskQueue,
		tracker:   tracker,
		agentRT:   agentRT,
		breaker:   breaker,
		log:       log,
		tierOrder: tierOrder,
	}
}

// AddTask enqueues task. Idempotent.
func (s *Scheduler) AddTask(task *types.Task) {
	s.taskQueue.Enqueue(task)
}

// RemoveTask removes a task from the queue. Idempotent.
func (s *Scheduler) RemoveTask(taskID string) {
	s.taskQueue.Remove(taskID)
}

// CanSchedule reports whether at least one tier has capacity and the
// queue is non-empty.
func (s *Scheduler) CanSchedule() bool {
	if s.taskQueue.IsEmpty() {
		return false
	}
	for _, tier := range s.tierOrder {
		if s.tracker.HasCapacity(tier) {
			return true
		}
	}
	return false
}

// selectTier applies the model selection rule for task:
//  1. opus estimate > 0 AND opus has capacity AND task is high/complex → opus
//  2. else sonnet has capacity → sonnet
//  3. else opus has capacity (any complexity) → opus
//  4. else: no tier chosen
func (s *Scheduler) selectTier(task *types.Task) (types.ModelTier, bool) {
	opusHasCapacity := s.tracker.HasCapacity(types.TierOpus)
	sonnetHasCapacity := s.tracker.HasCapacity(types.TierSonnet)

	if task.EstimatedSessionsOpus > 0 && opusHasCapacity && task.IsHighComplexity() {
		return types.TierOpus, true
	}
	if sonnetHasCapacity {
		return types.TierSonnet, true
	}
	if opusHasCapacity {
		return types.TierOpus, true
	}
	return "", false
}

// ScheduleNext atomically picks and launches at most one task.
func (s *Scheduler) ScheduleNext(ctx context.Context) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.taskQueue.IsEmpty() {
		return Result{Status: StatusIdle}
	}

	anyCapacity := false
	for _, tier := range s.tierOrder {
		if s.tracker.HasCapacity(tier) {
			anyCapacity = true
			break
		}
	}
	if !anyCapacity {
		return Result{Status: StatusNoCapacity}
	}

	entry, ok := s.taskQueue.Peek()
	if !ok {
		return Result{Status: StatusIdle}
	}

	tier, chosen := s.selectTier(entry.Task)
	if !chosen {
		return Result{Status: StatusNoCapacity}
	}

	provisionalID := "provisional-" + entry.TaskID
	if !s.tracker.ReserveCapacity(tier, provisionalID) {
		return Result{Status: StatusNoCapacity}
	}

	spawnCtx, cancelSpawn := context.WithTimeout(ctx, constants.AgentSpawnTimeout)
	sessionID, err := s.agentRT.SpawnAgent(spawnCtx, entry.Task, tier)
	cancelSpawn()
	if err != nil {
		s.tracker.ReleaseCapacity(tier, provisionalID)
		if s.breaker != nil {
			s.breaker.RecordError(provisionalID, err, 0, 0)
		}
		if s.log != nil {
			s.log.Error("agent spawn failed",
				zap.String("task_id", entry.TaskID),
				zap.String("tier", string(tier)),
				zap.Error(err))
		}
		return Result{Status: StatusError}
	}

	if sessionID != provisionalID {
		s.tracker.ReleaseCapacity(tier, provisionalID)
		s.tracker.ReserveCapacity(tier, sessionID)
	}

	s.taskQueue.Remove(entry.TaskID)

	return Result{
		Status: StatusScheduled,
		Tasks: []ScheduledTask{
			{TaskID: entry.TaskID, SessionID: sessionID, Model: tier},
		},
	}
}

// ScheduleAll repeatedly calls ScheduleNext until it returns idle,
// no_capacity, or error, and returns the concatenated scheduled tasks.
func (s *Scheduler) ScheduleAll(ctx context.Context) Result {
	ctx, span := tracing.TraceSchedulePass(ctx, s.taskQueue.Size())
	defer span.End()

	var all []ScheduledTask
	lastStatus := StatusIdle

	for {
		r := s.ScheduleNext(ctx)
		lastStatus = r.Status
		if r.Status != StatusScheduled {
			break
		}
		all = append(all, r.Tasks...)
	}

	tracing.TraceSchedulePassResult(span, string(lastStatus), len(all), nil)
	return Result{Status: lastStatus, Tasks: all}
}

// ReleaseCapacity forwards to the CapacityTracker.
func (s *Scheduler) ReleaseCapacity(tier types.ModelTier, sessionID string) {
	s.tracker.ReleaseCapacity(tier, sessionID)
}

// SyncCapacity forwards to the CapacityTracker.
func (s *Scheduler) SyncCapacity(liveSessions map[types.ModelTier][]string) []string {
	return s.tracker.SyncWithAgentManager(liveSessions)
}

// Stats is the queued-count + capacity snapshot returned by GetStats.
type Stats struct {
	QueuedCount int
	Capacity    map[types.ModelTier]capacity.TierStats
}

// GetStats returns the queued count plus capacity snapshot.
func (s *Scheduler) GetStats() Stats {
	return Stats{
		QueuedCount: s.taskQueue.Size(),
		Capacity:    s.tracker.GetCapacityStats(),
	}
}
