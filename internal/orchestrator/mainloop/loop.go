// Package mainloop is the single owner of the tick timer, event handlers,
// and shutdown coordination, composing every other orchestrator package
// into the running control plane. Grounded on the teacher's
// internal/orchestrator.Service Start/Stop lifecycle (mutex-guarded
// running flag, reverse-order component shutdown, structured zap
// logging throughout).
package mainloop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pivotloop/conductor/internal/common/logger"
	"github.com/pivotloop/conductor/internal/common/tracing"
	"github.com/pivotloop/conductor/internal/orchestrator/circuitbreaker"
	"github.com/pivotloop/conductor/internal/orchestrator/events"
	"github.com/pivotloop/conductor/internal/orchestrator/health"
	"github.com/pivotloop/conductor/internal/orchestrator/notify"
	"github.com/pivotloop/conductor/internal/orchestrator/repository"
	"github.com/pivotloop/conductor/internal/orchestrator/scheduler"
	"github.com/pivotloop/conductor/internal/orchestrator/types"
)

// State is the MainLoop's lifecycle state machine.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// AgentRuntime is the subset of the runtime boundary the loop holds
// beyond what the Scheduler already calls: termination on shutdown and
// the live-session list. The loop calls only TerminateSession; it does
// not reconcile capacity against GetActiveSessions.
type AgentRuntime interface {
	TerminateSession(ctx context.Context, sessionID string) error
	GetActiveSessions(ctx context.Context) ([]types.ActiveSessionInfo, error)
}

// Config holds MainLoop tuning knobs, mirrored 1:1 from
// internal/common/config.MainLoopConfig.
type Config struct {
	PollInterval              time.Duration
	GracefulShutdownTimeout   time.Duration
	StateFilePath             string
	ValidateDatabaseOnStartup bool
	RunPreFlightChecks        bool
	MaxConsecutiveDbFailures  int
	StatusCheckInInterval     time.Duration
	DbRetry                   health.RetryConfig
}

// activeAgent tracks one in-flight session for state persistence and
// graceful shutdown.
type activeAgent struct {
	sessionID string
	taskID    string
	model     types.ModelTier
	status    string
	startedAt time.Time
}

// Loop is the MainLoop: the single owner of the tick timer, event
// handlers, and shutdown coordination.
type Loop struct {
	mu    sync.Mutex
	state State

	cfg        Config
	scheduler  *scheduler.Scheduler
	breaker    *circuitbreaker.Breaker
	dbHealth   *health.Monitor
	dispatcher *events.Dispatcher
	notifier   *notify.Notifier
	repo       repository.Repository
	runtime    AgentRuntime
	log        *logger.Logger

	activeAgents map[string]*activeAgent

	cancelTick context.CancelFunc
	tickDone   chan struct{}

	unsubscribers []events.Unsubscribe
}

// New builds a Loop wiring every collaborator it drives.
func New(
	cfg Config,
	sched *scheduler.Scheduler,
	breaker *circuitbreaker.Breaker,
	dbHealth *health.Monitor,
	dispatcher *events.Dispatcher,
	notifier *notify.Notifier,
	repo repository.Repository,
	runtime AgentRuntime,
	log *logger.Logger,
) *Loop {
	return &Loop{
		state:        StateStopped,
		cfg:          cfg,
		scheduler:    sched,
		breaker:      breaker,
		dbHealth:     dbHealth,
		dispatcher:   dispatcher,
		notifier:     notifier,
		repo:         repo,
		runtime:      runtime,
		log:          log,
		activeAgents: make(map[string]*activeAgent),
	}
}

// GetState returns the current lifecycle state.
func (l *Loop) GetState() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Start runs the four-step startup sequence and arms the tick timer.
// Idempotent: start() while already running is a no-op that logs a warning.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.state == StateRunning || l.state == StateStarting {
		l.mu.Unlock()
		if l.log != nil {
			l.log.Warn("start called while already running", zap.String("state", string(l.state)))
		}
		return nil
	}
	l.state = StateStarting
	l.mu.Unlock()

	if l.cfg.ValidateDatabaseOnStartup && l.dbHealth != nil {
		if err := l.dbHealth.ValidateOnStartup(ctx, l.cfg.DbRetry, func(attempt int, delay time.Duration, lastErr error) {
			if l.log != nil {
				l.log.Warn("database startup validation retry",
					zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(lastErr))
			}
		}); err != nil {
			l.setState(StateStopped)
			return fmt.Errorf("database startup validation failed: %w", err)
		}
	}

	records, err := loadState(l.cfg.StateFilePath)
	if err != nil {
		if l.log != nil {
			l.log.Warn("failed to load persisted state; continuing with empty active-agents set", zap.Error(err))
		}
	} else {
		l.mu.Lock()
		for _, r := range records {
			l.activeAgents[r.SessionID] = &activeAgent{
				sessionID: r.SessionID, taskID: r.TaskID, model: r.Model, status: r.Status, startedAt: r.StartedAt,
			}
		}
		l.mu.Unlock()
	}

	if l.cfg.RunPreFlightChecks {
		l.runPreFlightChecks(ctx)
	}

	tickCtx, cancel := context.WithCancel(context.Background())
	l.mu.Lock()
	l.state = StateRunning
	l.cancelTick = cancel
	l.tickDone = make(chan struct{})
	l.mu.Unlock()

	go l.runTickLoop(tickCtx)

	if l.log != nil {
		l.log.Info("main loop started", zap.Duration("poll_interval", l.cfg.PollInterval))
	}
	return nil
}

// runPreFlightChecks logs non-critical warnings; a critical failure
// (no database configured at all) is the only blocking case, and
// ValidateDatabaseOnStartup already covers it when enabled.
func (l *Loop) runPreFlightChecks(ctx context.Context) {
	if l.repo == nil {
		if l.log != nil {
			l.log.Warn("pre-flight: no repository configured")
		}
		return
	}
	if _, err := l.repo.ListActiveProjects(ctx); err != nil {
		if l.log != nil {
			l.log.Warn("pre-flight: repository check failed", zap.Error(err))
		}
	}
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *Loop) runTickLoop(ctx context.Context) {
	defer close(l.tickDone)

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	var statusTicker *time.Ticker
	var statusC <-chan time.Time
	if l.cfg.StatusCheckInInterval > 0 {
		statusTicker = time.NewTicker(l.cfg.StatusCheckInInterval)
		defer statusTicker.Stop()
		statusC = statusTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		case <-statusC:
			l.emitStatusCheckIn()
		}
	}
}

// tick consults the circuit breaker and DB health before scheduling, per
// spec.md §4.7. Errors from scheduling are caught and logged — one bad
// tick must never stop the loop.
func (l *Loop) tick(ctx context.Context) {
	ctx, span := tracing.TraceTick(ctx)
	defer span.End()

	defer func() {
		if r := recover(); r != nil && l.log != nil {
			l.log.Error("tick panicked", zap.Any("recovered", r))
		}
	}()

	if l.breaker != nil && l.breaker.IsTripped() {
		return
	}
	if l.dbHealth != nil && l.dbHealth.IsDegraded() {
		return
	}
	if l.scheduler == nil {
		return
	}

	result := l.scheduler.ScheduleAll(ctx)
	if result.Status == scheduler.StatusError && l.log != nil {
		l.log.Warn("tick scheduling returned an error status")
	}

	l.mu.Lock()
	for _, t := range result.Tasks {
		l.activeAgents[t.SessionID] = &activeAgent{
			sessionID: t.SessionID, taskID: t.TaskID, model: t.Model,
			status: "running", startedAt: time.Now(),
		}
	}
	l.mu.Unlock()

	if l.notifier != nil {
		if err := l.notifier.Flush(); err != nil && l.log != nil {
			l.log.Warn("notification flush failed", zap.Error(err))
		}
	}
}

func (l *Loop) emitStatusCheckIn() {
	if l.log == nil {
		return
	}
	l.mu.Lock()
	count := len(l.activeAgents)
	l.mu.Unlock()
	l.log.Info("status check-in", zap.Int("active_agents", count))
}

// HandleAgentEvent dispatches one AgentEvent per its kind, per spec.md
// §4.7's exact per-kind semantics. Must stay fast: p99 < 1s under
// 100-event bursts, so no unbounded blocking I/O beyond the repository
// and notifier calls it was already going to make anyway.
func (l *Loop) HandleAgentEvent(ctx context.Context, event types.AgentEvent) {
	switch event.Kind {
	case types.EventKindCompletion:
		l.handleCompletion(ctx, event)
	case types.EventKindError:
		l.handleError(ctx, event)
	case types.EventKindBlocker:
		l.handleBlocker(ctx, event)
	case types.EventKindQuestion:
		l.handleQuestion(ctx, event)
	case types.EventKindSubagentSpawn:
		l.handleSubagentSpawn(event)
	}

	if l.dispatcher != nil {
		l.dispatcher.Dispatch(ctx, event)
	}
}

func (l *Loop) handleCompletion(ctx context.Context, event types.AgentEvent) {
	if l.repo != nil {
		if err := l.repo.UpdateTaskStatus(ctx, event.TaskID, types.TaskStatusComplete); err != nil && l.log != nil {
			l.log.Error("failed to mark task complete", zap.String("task_id", event.TaskID), zap.Error(err))
		}
		delta := repository.UsageDelta{}
		agent := l.agentFor(event.AgentID)
		if agent != nil && agent.model == types.TierOpus {
			delta.TokensOpus = event.Payload.TokensUsed
			delta.SessionsOpus = 1
		} else {
			delta.TokensSonnet = event.Payload.TokensUsed
			delta.SessionsSonnet = 1
		}
		if err := l.repo.RecordUsage(ctx, event.TaskID, delta); err != nil && l.log != nil {
			l.log.Error("failed to record usage", zap.String("task_id", event.TaskID), zap.Error(err))
		}
	}

	l.releaseAgent(event.AgentID)

	if l.breaker != nil {
		l.breaker.RecordSuccess(event.AgentID, event.Payload.TokensUsed, event.Payload.CostUSD, event.Payload.HasMeaningfulOutput)
	}
	if l.notifier != nil {
		l.notifier.Enqueue(notify.Notification{
			Type: notify.TypeCompletion, AgentID: event.AgentID, TaskID: event.TaskID,
			Message: event.Payload.Summary, Priority: notify.PriorityNormal,
		})
	}
}

func (l *Loop) handleError(ctx context.Context, event types.AgentEvent) {
	if l.repo != nil {
		status := types.TaskStatusQueued
		if event.Payload.FatalClassified {
			status = types.TaskStatusBlocked
		}
		if err := l.repo.UpdateTaskStatus(ctx, event.TaskID, status); err != nil && l.log != nil {
			l.log.Error("failed to requeue task after error", zap.String("task_id", event.TaskID), zap.Error(err))
		}
	}

	l.releaseAgent(event.AgentID)

	if l.breaker != nil {
		var errv error
		if event.Payload.Error != "" {
			errv = fmt.Errorf("%s", event.Payload.Error)
		}
		l.breaker.RecordError(event.AgentID, errv, event.Payload.TokensUsed, event.Payload.CostUSD)
	}
}

func (l *Loop) handleBlocker(ctx context.Context, event types.AgentEvent) {
	if l.repo != nil {
		if err := l.repo.UpdateTaskStatus(ctx, event.TaskID, types.TaskStatusBlocked); err != nil && l.log != nil {
			l.log.Error("failed to mark task blocked", zap.String("task_id", event.TaskID), zap.Error(err))
		}
	}
	// Capacity is intentionally not released: the session remains alive.
	l.mu.Lock()
	if a, ok := l.activeAgents[event.AgentID]; ok {
		a.status = "blocked"
	}
	l.mu.Unlock()
}

func (l *Loop) handleQuestion(_ context.Context, event types.AgentEvent) {
	l.mu.Lock()
	if a, ok := l.activeAgents[event.AgentID]; ok {
		a.status = "awaiting_input"
	}
	l.mu.Unlock()

	if l.notifier != nil {
		l.notifier.Enqueue(notify.Notification{
			Type: notify.TypeQuestion, AgentID: event.AgentID, TaskID: event.TaskID,
			Message: event.Payload.Question, Priority: notify.PriorityNormal,
		})
	}
}

func (l *Loop) handleSubagentSpawn(event types.AgentEvent) {
	if l.log != nil {
		l.log.Info("subagent spawned",
			zap.String("agent_id", event.AgentID),
			zap.String("subagent_id", event.Payload.SubagentID))
	}
}

func (l *Loop) agentFor(agentID string) *activeAgent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.activeAgents[agentID]
}

func (l *Loop) releaseAgent(agentID string) {
	l.mu.Lock()
	agent, ok := l.activeAgents[agentID]
	if ok {
		delete(l.activeAgents, agentID)
	}
	l.mu.Unlock()

	if ok && l.scheduler != nil {
		l.scheduler.ReleaseCapacity(agent.model, agentID)
	}
}

// Stop transitions to stopping, cancels the tick timer, waits up to
// GracefulShutdownTimeout for active agents to complete, force-terminates
// stragglers, persists state, then transitions to stopped. Idempotent.
func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	if l.state == StateStopped || l.state == StateStopping {
		l.mu.Unlock()
		if l.log != nil {
			l.log.Warn("stop called while not running", zap.String("state", string(l.state)))
		}
		return nil
	}
	l.state = StateStopping
	cancel := l.cancelTick
	done := l.tickDone
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	l.waitForActiveAgents(ctx)
	l.forceTerminateStragglers(ctx)

	l.mu.Lock()
	records := l.snapshotActiveAgentsLocked()
	l.mu.Unlock()

	if err := saveState(l.cfg.StateFilePath, records); err != nil && l.log != nil {
		l.log.Error("failed to persist state on shutdown", zap.Error(err))
	}

	l.setState(StateStopped)
	if l.log != nil {
		l.log.Info("main loop stopped")
	}
	return nil
}

func (l *Loop) snapshotActiveAgentsLocked() []ActiveAgentRecord {
	out := make([]ActiveAgentRecord, 0, len(l.activeAgents))
	for _, a := range l.activeAgents {
		out = append(out, ActiveAgentRecord{
			SessionID: a.sessionID, TaskID: a.taskID, Model: a.model, Status: a.status, StartedAt: a.startedAt,
		})
	}
	return out
}

func (l *Loop) waitForActiveAgents(ctx context.Context) {
	if l.runtime == nil {
		return
	}
	deadline := time.Now().Add(l.cfg.GracefulShutdownTimeout)
	for time.Now().Before(deadline) {
		l.mu.Lock()
		remaining := len(l.activeAgents)
		l.mu.Unlock()
		if remaining == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (l *Loop) forceTerminateStragglers(ctx context.Context) {
	if l.runtime == nil {
		return
	}
	l.mu.Lock()
	ids := make([]string, 0, len(l.activeAgents))
	for id := range l.activeAgents {
		ids = append(ids, id)
	}
	l.mu.Unlock()

	for _, id := range ids {
		if err := l.runtime.TerminateSession(ctx, id); err != nil && l.log != nil {
			l.log.Error("failed to force-terminate agent on shutdown", zap.String("session_id", id), zap.Error(err))
		}
	}
}

// ResetCircuitBreaker is the operator accessor for manually clearing a
// tripped breaker.
func (l *Loop) ResetCircuitBreaker() {
	if l.breaker != nil {
		l.breaker.Reset()
	}
}

// GetCircuitBreaker is the operator accessor for the breaker.
func (l *Loop) GetCircuitBreaker() *circuitbreaker.Breaker {
	return l.breaker
}

// GetDatabaseHealthMonitor is the operator accessor for the DB health monitor.
func (l *Loop) GetDatabaseHealthMonitor() *health.Monitor {
	return l.dbHealth
}

// GetActiveAgentCount reports the number of agents currently tracked as active.
func (l *Loop) GetActiveAgentCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.activeAgents)
}
