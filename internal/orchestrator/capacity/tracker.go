// Package capacity tracks per-model-tier concurrent-session accounting —
// the authoritative source for "can I start another agent right now?".
package capacity

import (
	"sync"

	"github.com/pivotloop/conductor/internal/orchestrator/types"
)

// TierStats is a point-in-time snapshot of one tier's accounting.
type TierStats struct {
	Current     int
	Limit       int
	Available   int
	Utilization float64
}

// tierState holds the mutable bookkeeping for one tier.
type tierState struct {
	limit  int
	active map[string]struct{}
}

// Tracker is the authoritative per-tier concurrency limiter. All
// state-mutating operations are serialized under a single mutex; the
// reserve-then-spawn sequence in the Scheduler holds this lock across the
// reservation step only, never across spawn I/O.
type Tracker struct {
	mu    sync.Mutex
	tiers map[types.ModelTier]*tierState
}

// NewTracker builds a Tracker with the given per-tier limits.
func NewTracker(limits map[types.ModelTier]int) *Tracker {
	tiers := make(map[types.ModelTier]*tierState, len(limits))
	for tier, limit := range limits {
		tiers[tier] = &tierState{
			limit:  limit,
			active: make(map[string]struct{}),
		}
	}
	return &Tracker{tiers: tiers}
}

func (t *Tracker) tierOrCreate(tier types.ModelTier) *tierState {
	ts, ok := t.tiers[tier]
	if !ok {
		ts = &tierState{active: make(map[string]struct{})}
		t.tiers[tier] = ts
	}
	return ts
}

// ReserveCapacity records sessionId against tier if current < limit. A
// second reservation of the same id is a no-op that still returns true.
func (t *Tracker) ReserveCapacity(tier types.ModelTier, sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts := t.tierOrCreate(tier)
	if _, already := ts.active[sessionID]; already {
		return true
	}
	if len(ts.active) >= ts.limit {
		return false
	}
	ts.active[sessionID] = struct{}{}
	return true
}

// ReleaseCapacity removes sessionId from tier if present. Idempotent.
func (t *Tracker) ReleaseCapacity(tier types.ModelTier, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts, ok := t.tiers[tier]
	if !ok {
		return
	}
	delete(ts.active, sessionID)
}

// HasCapacity reports whether tier has at least one free slot.
func (t *Tracker) HasCapacity(tier types.ModelTier) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts, ok := t.tiers[tier]
	if !ok {
		return false
	}
	return len(ts.active) < ts.limit
}

// GetCurrentSessionCount returns the number of active sessions on tier.
func (t *Tracker) GetCurrentSessionCount(tier types.ModelTier) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts, ok := t.tiers[tier]
	if !ok {
		return 0
	}
	return len(ts.active)
}

// GetTrackedSessions returns the set of session ids currently held on tier.
func (t *Tracker) GetTrackedSessions(tier types.ModelTier) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts, ok := t.tiers[tier]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(ts.active))
	for id := range ts.active {
		out = append(out, id)
	}
	return out
}

// GetCapacityStats returns a snapshot of every configured tier's accounting.
func (t *Tracker) GetCapacityStats() map[types.ModelTier]TierStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[types.ModelTier]TierStats, len(t.tiers))
	for tier, ts := range t.tiers {
		out[tier] = statsFor(ts)
	}
	return out
}

func statsFor(ts *tierState) TierStats {
	current := len(ts.active)
	available := ts.limit - current
	if available < 0 {
		available = 0
	}
	var utilization float64
	if ts.limit > 0 {
		utilization = float64(current) / float64(ts.limit)
	}
	return TierStats{
		Current:     current,
		Limit:       ts.limit,
		Available:   available,
		Utilization: utilization,
	}
}

// SyncWithAgentManager reconciles tracked sessions against the runtime's
// authoritative live set. Any tracked id not present in liveSessions is
// dropped. A live session not already tracked is reported via untracked
// but never added — per the spec's open question, reconciliation warns,
// it does not spawn reservations for untracked sessions.
func (t *Tracker) SyncWithAgentManager(liveSessions map[types.ModelTier][]string) (untracked []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	liveSets := make(map[types.ModelTier]map[string]struct{}, len(liveSessions))
	for tier, ids := range liveSessions {
		set := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		liveSets[tier] = set
	}

	for tier, ts := range t.tiers {
		live := liveSets[tier]
		for id := range ts.active {
			if _, ok := live[id]; !ok {
				delete(ts.active, id)
			}
		}
	}

	for tier, live := range liveSets {
		ts, ok := t.tiers[tier]
		if !ok {
			for id := range live {
				untracked = append(untracked, id)
			}
			continue
		}
		for id := range live {
			if _, ok := ts.active[id]; !ok {
				untracked = append(untracked, id)
			}
		}
	}

	return untracked
}
