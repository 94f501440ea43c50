// Package health implements the DatabaseHealthMonitor: a degraded-mode
// detector for the persistence boundary, so retries never starve the main
// loop. Built fresh for this domain — grounded on the Ping-based health
// check in internal/agent/docker and internal/common/database's own
// Ping wrapper for the shape of a health probe, and on the mutex-guarded
// scalar-state convention used throughout the orchestrator package.
package health

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pivotloop/conductor/internal/common/logger"
)

// State is the monitor's observed persistence-layer health.
type State string

const (
	StateHealthy  State = "healthy"
	StateDegraded State = "degraded"
)

// Prober performs one health check against the database and returns any
// error; the Monitor measures the probe's latency itself.
type Prober func(ctx context.Context) error

// RetryConfig configures the startup validation backoff.
type RetryConfig struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier int
}

// Stats is the snapshot returned by GetStats.
type Stats struct {
	Healthy             bool
	ConsecutiveFailures int
	LastError           string
	LastLatencyMs       int64
}

// Monitor tracks database-call outcomes and exposes healthy/degraded with
// recovery probing.
type Monitor struct {
	mu sync.Mutex

	probe                    Prober
	maxConsecutiveDbFailures int
	log                      *logger.Logger

	state               State
	consecutiveFailures int
	lastError           string
	lastLatency         time.Duration

	onTransition func(event string)
}

// New builds a Monitor. maxConsecutiveDbFailures is the threshold at which
// onDbFailure transitions the monitor to degraded.
func New(probe Prober, maxConsecutiveDbFailures int, log *logger.Logger, onTransition func(event string)) *Monitor {
	if maxConsecutiveDbFailures <= 0 {
		maxConsecutiveDbFailures = 3
	}
	return &Monitor{
		probe:                    probe,
		maxConsecutiveDbFailures: maxConsecutiveDbFailures,
		log:                      log,
		state:                    StateHealthy, // degraded only once failures are observed
		onTransition:             onTransition,
	}
}

// ValidateOnStartup performs a health probe under exponential backoff with
// jitter, invoking onRetry before each retry. Returns nil and transitions
// to healthy on the first successful probe; returns the last error after
// maxRetries unsuccessful probes.
func (m *Monitor) ValidateOnStartup(ctx context.Context, cfg RetryConfig, onRetry func(attempt int, delay time.Duration, lastErr error)) error {
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		start := time.Now()
		err := m.probe(ctx)
		latency := time.Since(start)

		if err == nil {
			m.mu.Lock()
			m.state = StateHealthy
			m.consecutiveFailures = 0
			m.lastError = ""
			m.lastLatency = latency
			m.mu.Unlock()

			m.emit("database:healthy")
			if m.log != nil {
				m.log.Info("database startup validation succeeded",
					zap.Int("attempt", attempt),
					zap.Duration("latency", latency))
			}
			return nil
		}

		lastErr = err
		m.mu.Lock()
		m.lastError = err.Error()
		m.lastLatency = latency
		m.mu.Unlock()

		if attempt == cfg.MaxRetries {
			break
		}

		if onRetry != nil {
			onRetry(attempt, delay, err)
		}

		select {
		case <-time.After(jitter(delay)):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay = nextDelay(delay, cfg)
	}

	return fmt.Errorf("database validation failed after %d attempts: %w", cfg.MaxRetries, lastErr)
}

func nextDelay(delay time.Duration, cfg RetryConfig) time.Duration {
	multiplier := cfg.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2
	}
	next := delay * time.Duration(multiplier)
	if cfg.MaxDelay > 0 && next > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return next
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	// +/- 20% jitter so simultaneous retries across instances don't thunder.
	spread := int64(d) / 5
	if spread <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(2*spread)-spread)
}

// OnDbFailure increments the consecutive-failure count; once it reaches
// maxConsecutiveDbFailures, transitions to degraded. Idempotent once
// already degraded.
func (m *Monitor) OnDbFailure(err error) {
	m.mu.Lock()
	m.consecutiveFailures++
	if err != nil {
		m.lastError = err.Error()
	}
	wasHealthy := m.state == StateHealthy
	shouldDegrade := m.consecutiveFailures >= m.maxConsecutiveDbFailures
	if shouldDegrade {
		m.state = StateDegraded
	}
	m.mu.Unlock()

	if shouldDegrade && wasHealthy {
		m.emit("database:degraded")
		if m.log != nil {
			m.log.Warn("database transitioned to degraded", zap.Int("consecutive_failures", m.consecutiveFailures))
		}
	}
}

// OnDbSuccess resets the consecutive-failure count; if previously
// degraded, transitions back to healthy.
func (m *Monitor) OnDbSuccess() {
	m.mu.Lock()
	wasDegraded := m.state == StateDegraded
	m.consecutiveFailures = 0
	m.lastError = ""
	m.state = StateHealthy
	m.mu.Unlock()

	if wasDegraded {
		m.emit("database:recovered")
	}
}

// AttemptDbRecovery performs a single health probe while degraded. On
// success transitions to healthy and emits database:recovered; otherwise
// remains degraded.
func (m *Monitor) AttemptDbRecovery(ctx context.Context) error {
	m.mu.Lock()
	degraded := m.state == StateDegraded
	m.mu.Unlock()
	if !degraded {
		return nil
	}

	start := time.Now()
	err := m.probe(ctx)
	latency := time.Since(start)

	m.mu.Lock()
	m.lastLatency = latency
	if err == nil {
		m.state = StateHealthy
		m.consecutiveFailures = 0
		m.lastError = ""
	} else {
		m.lastError = err.Error()
	}
	m.mu.Unlock()

	if err == nil {
		m.emit("database:recovered")
		return nil
	}
	return err
}

func (m *Monitor) emit(event string) {
	if m.onTransition != nil {
		m.onTransition(event)
	}
}

// IsDegraded reports whether the monitor currently observes a degraded
// database.
func (m *Monitor) IsDegraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateDegraded
}

// GetStats returns a consistent snapshot.
func (m *Monitor) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Healthy:             m.state == StateHealthy,
		ConsecutiveFailures: m.consecutiveFailures,
		LastError:           m.lastError,
		LastLatencyMs:       m.lastLatency.Milliseconds(),
	}
}
