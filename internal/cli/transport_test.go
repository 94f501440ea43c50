package cli

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pivotloop/conductor/internal/common/logger"
	"github.com/pivotloop/conductor/internal/orchestrator/transport"
	"github.com/pivotloop/conductor/internal/orchestrator/types"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "info", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

func TestPublishAgentEventPublishesUnderAgentEventSubject(t *testing.T) {
	bus := transport.NewMemoryEventBus(testLogger(t))
	defer bus.Close()

	var mu sync.Mutex
	var received *transport.Event
	_, err := bus.Subscribe(transport.AgentEventSubject, func(ctx context.Context, e *transport.Event) error {
		mu.Lock()
		received = e
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	publishAgentEvent(bus, testLogger(t), types.AgentEvent{
		Kind:    types.EventKindCompletion,
		AgentID: "agent-1",
		TaskID:  "task-1",
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received != nil
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, string(types.EventKindCompletion), received.Type)
	require.Equal(t, "agent-1", received.Data["agentId"])
}

func TestPublishDatabaseTransitionRoutesToMatchingSubject(t *testing.T) {
	bus := transport.NewMemoryEventBus(testLogger(t))
	defer bus.Close()

	var mu sync.Mutex
	var subject string
	_, err := bus.Subscribe(transport.DatabaseDegraded, func(ctx context.Context, e *transport.Event) error {
		mu.Lock()
		subject = e.Type
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	publishDatabaseTransition(bus, testLogger(t), "database:degraded")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return subject != ""
	}, time.Second, 10*time.Millisecond)
}
