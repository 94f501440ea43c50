// Package circuitbreaker implements the orchestrator's composite
// safety-stop: a latched state machine that pauses all scheduling when
// agent behavior crosses any of four configured thresholds. Built fresh
// for this domain; there is no equivalent upstream, so its shape follows
// the codebase's established conventions for mutex-guarded state and
// structured zap logging rather than any single grounding file.
package circuitbreaker

import (
	"sync"

	"go.uber.org/zap"

	"github.com/pivotloop/conductor/internal/common/logger"
)

// TripReason identifies which of the four triggers latched the breaker.
type TripReason string

const (
	ReasonConsecutiveAgentErrors TripReason = "consecutive_agent_errors"
	ReasonGlobalErrorRate        TripReason = "global_error_rate"
	ReasonBudgetExceeded         TripReason = "budget_exceeded"
	ReasonTokenLimitExceeded     TripReason = "token_limit_exceeded"
	ReasonManual                 TripReason = "manual"
)

// State is the breaker's latched lifecycle.
type State string

const (
	StateClosed  State = "closed"
	StateTripped State = "tripped"
)

// Config holds the four trigger thresholds.
type Config struct {
	MaxConsecutiveAgentErrors int
	ErrorRateThreshold        float64
	ErrorRateWindowSize       int
	HardBudgetLimitUSD        float64
	TokenLimitWithoutOutput   int64
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxConsecutiveAgentErrors: 3,
		ErrorRateThreshold:        0.5,
		ErrorRateWindowSize:       10,
		HardBudgetLimitUSD:        100,
		TokenLimitWithoutOutput:   100_000,
	}
}

// ringEntry is one recent operation outcome.
type ringEntry struct {
	success bool
}

// Notifier receives the breaker's onTrip/sendAlert callbacks. Both are
// fire-and-forget: failures are logged, never propagated, keeping the
// breaker free of I/O knowledge.
type Notifier interface {
	OnCircuitBreakerTrip(reason TripReason, message string, triggeringAgentID string)
	SendAlert(message string)
}

// Status is the snapshot returned by GetStatus.
type Status struct {
	State                State
	TripReason           TripReason
	TripMessage          string
	TriggeringAgentID    string
	TotalTokens          int64
	TotalCostUSD         float64
	MeaningfulOutputs    int
	TokensSinceMeaningful int64
	ErrorRate            float64
	AgentErrorCounts      map[string]int
}

// Breaker is the circuit breaker's mutex-guarded state machine.
type Breaker struct {
	mu sync.Mutex

	cfg Config
	log *logger.Logger
	notifier Notifier

	state             State
	tripReason        TripReason
	tripMessage       string
	triggeringAgentID string

	agentConsecutiveErrors map[string]int

	ring     []ringEntry
	ringHead int
	ringLen  int

	totalTokens           int64
	totalCostUSD          float64
	meaningfulOutputCount int
	tokensSinceMeaningful int64
}

// New builds a Breaker in the closed state.
func New(cfg Config, notifier Notifier, log *logger.Logger) *Breaker {
	if cfg.ErrorRateWindowSize <= 0 {
		cfg.ErrorRateWindowSize = 10
	}
	return &Breaker{
		cfg:                    cfg,
		log:                    log,
		notifier:               notifier,
		state:                  StateClosed,
		agentConsecutiveErrors: make(map[string]int),
		ring:                   make([]ringEntry, cfg.ErrorRateWindowSize),
	}
}

// IsTripped reports whether the breaker has latched.
func (b *Breaker) IsTripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateTripped
}

// RecordSuccess resets agentID's consecutive-error counter, adds to
// totals, appends a success entry to the ring, and updates the
// without-output token counter. No-ops and warns if already tripped.
func (b *Breaker) RecordSuccess(agentID string, tokensUsed int64, costUSD float64, hasMeaningfulOutput bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateTripped {
		b.warnLocked("recordSuccess called while breaker is tripped; ignored", agentID)
		return
	}

	b.agentConsecutiveErrors[agentID] = 0
	b.totalTokens += tokensUsed
	b.totalCostUSD += costUSD
	b.appendRingLocked(true)

	if hasMeaningfulOutput {
		b.meaningfulOutputCount++
		b.tokensSinceMeaningful = 0
	} else {
		b.tokensSinceMeaningful += tokensUsed
	}

	b.evaluateTriggersLocked("")
}

// RecordError increments agentID's consecutive-error counter, adds to
// totals, appends a failure entry to the ring, then evaluates triggers.
func (b *Breaker) RecordError(agentID string, err error, tokensUsed int64, costUSD float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateTripped {
		b.warnLocked("recordError called while breaker is tripped; ignored", agentID)
		return
	}

	b.agentConsecutiveErrors[agentID]++
	b.totalTokens += tokensUsed
	b.totalCostUSD += costUSD
	b.tokensSinceMeaningful += tokensUsed
	b.appendRingLocked(false)

	b.evaluateTriggersLocked(agentID)
}

func (b *Breaker) appendRingLocked(success bool) {
	idx := (b.ringHead + b.ringLen) % len(b.ring)
	if b.ringLen < len(b.ring) {
		b.ring[idx] = ringEntry{success: success}
		b.ringLen++
	} else {
		b.ring[b.ringHead] = ringEntry{success: success}
		b.ringHead = (b.ringHead + 1) % len(b.ring)
	}
}

func (b *Breaker) errorRateLocked() float64 {
	if b.ringLen == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < b.ringLen; i++ {
		if !b.ring[(b.ringHead+i)%len(b.ring)].success {
			failures++
		}
	}
	return float64(failures) / float64(b.ringLen)
}

// evaluateTriggersLocked checks the four triggers in order, per the spec.
func (b *Breaker) evaluateTriggersLocked(triggeringAgentID string) {
	for agentID, count := range b.agentConsecutiveErrors {
		if count >= b.cfg.MaxConsecutiveAgentErrors {
			b.tripLocked(ReasonConsecutiveAgentErrors, "agent exceeded consecutive error threshold", agentID)
			return
		}
	}

	if b.ringLen == len(b.ring) && b.errorRateLocked() > b.cfg.ErrorRateThreshold {
		b.tripLocked(ReasonGlobalErrorRate, "global error rate exceeded threshold", triggeringAgentID)
		return
	}

	if b.cfg.HardBudgetLimitUSD > 0 && b.totalCostUSD >= b.cfg.HardBudgetLimitUSD {
		b.tripLocked(ReasonBudgetExceeded, "cumulative spend reached hard budget limit", triggeringAgentID)
		return
	}

	if b.cfg.TokenLimitWithoutOutput > 0 && b.tokensSinceMeaningful >= b.cfg.TokenLimitWithoutOutput {
		b.tripLocked(ReasonTokenLimitExceeded, "token budget exhausted without meaningful output", triggeringAgentID)
		return
	}
}

// Trip latches the breaker, invoking the configured onTrip and sendAlert
// callbacks. Exposed for manual/operator trips as well as internal use.
func (b *Breaker) Trip(reason TripReason, message string, triggeringAgentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tripLocked(reason, message, triggeringAgentID)
}

func (b *Breaker) tripLocked(reason TripReason, message string, triggeringAgentID string) {
	if b.state == StateTripped {
		return
	}
	b.state = StateTripped
	b.tripReason = reason
	b.tripMessage = message
	b.triggeringAgentID = triggeringAgentID

	if b.log != nil {
		b.log.Error("circuit breaker tripped",
			zap.String("reason", string(reason)),
			zap.String("message", message),
			zap.String("agent_id", triggeringAgentID))
	}

	if b.notifier != nil {
		b.safeCallback(func() { b.notifier.OnCircuitBreakerTrip(reason, message, triggeringAgentID) }, "onTrip")
		b.safeCallback(func() { b.notifier.SendAlert(message) }, "sendAlert")
	}
}

func (b *Breaker) safeCallback(fn func(), name string) {
	defer func() {
		if r := recover(); r != nil && b.log != nil {
			b.log.Error("circuit breaker callback panicked", zap.String("callback", name), zap.Any("recovered", r))
		}
	}()
	fn()
}

func (b *Breaker) warnLocked(message string, agentID string) {
	if b.log != nil {
		b.log.Warn(message, zap.String("agent_id", agentID))
	}
}

// Reset zeroes all counters and clears the latched state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.tripReason = ""
	b.tripMessage = ""
	b.triggeringAgentID = ""
	b.agentConsecutiveErrors = make(map[string]int)
	b.ring = make([]ringEntry, len(b.ring))
	b.ringHead = 0
	b.ringLen = 0
	b.totalTokens = 0
	b.totalCostUSD = 0
	b.meaningfulOutputCount = 0
	b.tokensSinceMeaningful = 0

	if b.log != nil {
		b.log.Info("circuit breaker reset")
	}
}

// GetStatus returns a full, consistent snapshot.
func (b *Breaker) GetStatus() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	counts := make(map[string]int, len(b.agentConsecutiveErrors))
	for id, c := range b.agentConsecutiveErrors {
		counts[id] = c
	}

	return Status{
		State:                 b.state,
		TripReason:            b.tripReason,
		TripMessage:           b.tripMessage,
		TriggeringAgentID:     b.triggeringAgentID,
		TotalTokens:           b.totalTokens,
		TotalCostUSD:          b.totalCostUSD,
		MeaningfulOutputs:     b.meaningfulOutputCount,
		TokensSinceMeaningful: b.tokensSinceMeaningful,
		ErrorRate:             b.errorRateLocked(),
		AgentErrorCounts:      counts,
	}
}

// GetErrorRate returns the current sliding-window error rate.
func (b *Breaker) GetErrorRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.errorRateLocked()
}

// GetAgentErrorCount returns agentID's current consecutive-error count.
func (b *Breaker) GetAgentErrorCount(agentID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.agentConsecutiveErrors[agentID]
}
