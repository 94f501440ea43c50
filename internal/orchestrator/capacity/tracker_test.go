package capacity

import (
	"sync"
	"testing"

	"github.com/pivotloop/conductor/internal/orchestrator/types"
)

func newTestTracker() *Tracker {
	return NewTracker(map[types.ModelTier]int{
		types.TierOpus:   2,
		types.TierSonnet: 5,
	})
}

func TestReserveCapacitySucceedsUnderLimit(t *testing.T) {
	tr := newTestTracker()

	if !tr.ReserveCapacity(types.TierOpus, "s1") {
		t.Fatal("expected reservation to succeed under limit")
	}
	if tr.GetCurrentSessionCount(types.TierOpus) != 1 {
		t.Errorf("expected count 1, got %d", tr.GetCurrentSessionCount(types.TierOpus))
	}
}

func TestReserveCapacityFailsAtLimit(t *testing.T) {
	tr := NewTracker(map[types.ModelTier]int{types.TierOpus: 1})

	if !tr.ReserveCapacity(types.TierOpus, "s1") {
		t.Fatal("first reservation should succeed")
	}
	if tr.ReserveCapacity(types.TierOpus, "s2") {
		t.Fatal("second reservation should fail at limit")
	}
	if tr.GetCurrentSessionCount(types.TierOpus) != 1 {
		t.Errorf("failed reservation must not mutate state, got count %d", tr.GetCurrentSessionCount(types.TierOpus))
	}
}

func TestReserveCapacityBoundary(t *testing.T) {
	tr := NewTracker(map[types.ModelTier]int{types.TierOpus: 2})

	if !tr.ReserveCapacity(types.TierOpus, "s1") {
		t.Fatal("reserve at current=0,limit=2 should succeed")
	}
	if !tr.ReserveCapacity(types.TierOpus, "s2") {
		t.Fatal("reserve at current=1,limit=2 should succeed")
	}
	if tr.ReserveCapacity(types.TierOpus, "s3") {
		t.Fatal("reserve at current=2,limit=2 should fail")
	}
}

func TestReReserveSameIDIsNoOp(t *testing.T) {
	tr := NewTracker(map[types.ModelTier]int{types.TierOpus: 1})

	if !tr.ReserveCapacity(types.TierOpus, "s1") {
		t.Fatal("first reservation should succeed")
	}
	if !tr.ReserveCapacity(types.TierOpus, "s1") {
		t.Fatal("re-reserving the same id should return true")
	}
	if tr.GetCurrentSessionCount(types.TierOpus) != 1 {
		t.Errorf("re-reserve must not double-count, got %d", tr.GetCurrentSessionCount(types.TierOpus))
	}
}

func TestReleaseCapacityIdempotent(t *testing.T) {
	tr := newTestTracker()
	tr.ReleaseCapacity(types.TierOpus, "never-reserved")
	if tr.GetCurrentSessionCount(types.TierOpus) != 0 {
		t.Error("releasing an absent id must be a no-op")
	}
}

func TestReserveReleaseRoundTrip(t *testing.T) {
	tr := newTestTracker()
	pre := tr.GetCurrentSessionCount(types.TierOpus)

	tr.ReserveCapacity(types.TierOpus, "s1")
	tr.ReleaseCapacity(types.TierOpus, "s1")

	if tr.GetCurrentSessionCount(types.TierOpus) != pre {
		t.Errorf("reserve;release round trip must restore count, got %d want %d", tr.GetCurrentSessionCount(types.TierOpus), pre)
	}
}

func TestGetCapacityStats(t *testing.T) {
	tr := newTestTracker()
	tr.ReserveCapacity(types.TierOpus, "s1")

	stats := tr.GetCapacityStats()
	opusStats := stats[types.TierOpus]

	if opusStats.Current != 1 || opusStats.Limit != 2 || opusStats.Available != 1 {
		t.Errorf("unexpected opus stats: %+v", opusStats)
	}
	if opusStats.Utilization != 0.5 {
		t.Errorf("expected utilization 0.5, got %f", opusStats.Utilization)
	}
}

func TestGetCapacityStatsZeroLimit(t *testing.T) {
	tr := NewTracker(map[types.ModelTier]int{types.TierOpus: 0})
	stats := tr.GetCapacityStats()[types.TierOpus]

	if stats.Utilization != 0 {
		t.Errorf("expected utilization 0 when limit is 0, got %f", stats.Utilization)
	}
}

func TestSyncWithAgentManagerDropsDeadSessions(t *testing.T) {
	tr := newTestTracker()
	tr.ReserveCapacity(types.TierOpus, "s1")
	tr.ReserveCapacity(types.TierOpus, "s2")

	tr.SyncWithAgentManager(map[types.ModelTier][]string{
		types.TierOpus: {"s1"},
	})

	if tr.GetCurrentSessionCount(types.TierOpus) != 1 {
		t.Errorf("expected s2 dropped by sync, count = %d", tr.GetCurrentSessionCount(types.TierOpus))
	}
}

func TestSyncWithAgentManagerWarnsOnUntrackedNeverAdds(t *testing.T) {
	tr := newTestTracker()

	untracked := tr.SyncWithAgentManager(map[types.ModelTier][]string{
		types.TierOpus: {"live-but-untracked"},
	})

	if len(untracked) != 1 || untracked[0] != "live-but-untracked" {
		t.Errorf("expected untracked report, got %v", untracked)
	}
	if tr.GetCurrentSessionCount(types.TierOpus) != 0 {
		t.Error("sync must never add untracked live sessions to tracked state")
	}
}

func TestThousandReserveReleasePingPongLeavesCountZero(t *testing.T) {
	tr := NewTracker(map[types.ModelTier]int{types.TierOpus: 1})

	for i := 0; i < 1000; i++ {
		if !tr.ReserveCapacity(types.TierOpus, "s1") {
			t.Fatalf("reserve failed on iteration %d", i)
		}
		tr.ReleaseCapacity(types.TierOpus, "s1")
	}

	if tr.GetCurrentSessionCount(types.TierOpus) != 0 {
		t.Errorf("expected count 0 after ping-pong, got %d", tr.GetCurrentSessionCount(types.TierOpus))
	}
}

func TestConcurrentReserveReleaseNoDrift(t *testing.T) {
	tr := NewTracker(map[types.ModelTier]int{types.TierOpus: 50})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n%26))
			for j := 0; j < 20; j++ {
				tr.ReserveCapacity(types.TierOpus, id)
				tr.ReleaseCapacity(types.TierOpus, id)
			}
		}(i)
	}
	wg.Wait()

	if tr.GetCurrentSessionCount(types.TierOpus) != 0 {
		t.Errorf("expected no drift after concurrent ping-pong, got %d", tr.GetCurrentSessionCount(types.TierOpus))
	}
}
