// Package constants provides application-wide constants and timeouts.
package constants

import "time"

// Timeouts for various operations.
const (
	// AgentSpawnTimeout is the maximum time to wait for SpawnAgent to return
	// a running session before the scheduler treats it as a Spawn failure.
	AgentSpawnTimeout = 2 * time.Minute

	// AgentTerminateTimeout is the maximum time to wait for a container to
	// stop gracefully before it is killed.
	AgentTerminateTimeout = 30 * time.Second

	// DatabaseOperationTimeout is a bound for a single repository call.
	// The repository implementations do not apply it; each call runs
	// under its caller's context.
	DatabaseOperationTimeout = 10 * time.Second

	// NotifySendTimeout is the HTTP client timeout for each POST attempt a
	// WebhookSender makes. ConsoleSender writes are not bounded by it.
	NotifySendTimeout = 15 * time.Second

	// DefaultEventHistorySize is the EventDispatcher ring buffer capacity
	// when not overridden by configuration.
	DefaultEventHistorySize = 100

	// DefaultErrorRateWindowSize is the CircuitBreaker's sliding window size
	// when not overridden by configuration.
	DefaultErrorRateWindowSize = 10
)
