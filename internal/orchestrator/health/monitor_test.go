package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnDbFailureDegradesAfterThreshold(t *testing.T) {
	var events []string
	probe := func(ctx context.Context) error { return nil }
	m := New(probe, 3, nil, func(e string) { events = append(events, e) })
	m.OnDbSuccess() // start from healthy, as a running monitor would after startup validation

	m.OnDbFailure(errors.New("timeout"))
	m.OnDbFailure(errors.New("timeout"))
	assert.False(t, m.IsDegraded())

	m.OnDbFailure(errors.New("timeout"))
	require.True(t, m.IsDegraded())
	assert.Equal(t, []string{"database:degraded"}, events)

	stats := m.GetStats()
	assert.False(t, stats.Healthy)
	assert.Equal(t, 3, stats.ConsecutiveFailures)
	assert.Equal(t, "timeout", stats.LastError)
}

func TestOnDbFailureIdempotentWhileAlreadyDegraded(t *testing.T) {
	var events []string
	probe := func(ctx context.Context) error { return nil }
	m := New(probe, 2, nil, func(e string) { events = append(events, e) })
	m.OnDbSuccess()

	m.OnDbFailure(errors.New("x"))
	m.OnDbFailure(errors.New("x"))
	m.OnDbFailure(errors.New("x"))
	m.OnDbFailure(errors.New("x"))

	assert.Equal(t, []string{"database:degraded"}, events, "degraded event must fire exactly once")
}

func TestDegradedToRecoveredSequence(t *testing.T) {
	var events []string
	probe := func(ctx context.Context) error { return nil }
	m := New(probe, 3, nil, func(e string) { events = append(events, e) })
	m.OnDbSuccess()

	m.OnDbFailure(errors.New("a"))
	m.OnDbFailure(errors.New("a"))
	m.OnDbFailure(errors.New("a"))
	require.True(t, m.IsDegraded())

	err := m.AttemptDbRecovery(context.Background())
	require.NoError(t, err)

	assert.False(t, m.IsDegraded())
	assert.Equal(t, []string{"database:degraded", "database:recovered"}, events)

	stats := m.GetStats()
	assert.True(t, stats.Healthy)
	assert.Equal(t, 0, stats.ConsecutiveFailures)
}

func TestAttemptDbRecoveryStaysDegradedOnFailedProbe(t *testing.T) {
	probeErr := errors.New("still down")
	probe := func(ctx context.Context) error { return probeErr }
	var events []string
	m := New(probe, 1, nil, func(e string) { events = append(events, e) })
	m.OnDbSuccess()
	m.OnDbFailure(errors.New("a"))
	require.True(t, m.IsDegraded())

	err := m.AttemptDbRecovery(context.Background())

	assert.Equal(t, probeErr, err)
	assert.True(t, m.IsDegraded())
	assert.Equal(t, []string{"database:degraded"}, events)
}

func TestAttemptDbRecoveryNoOpWhenHealthy(t *testing.T) {
	calls := 0
	probe := func(ctx context.Context) error { calls++; return nil }
	m := New(probe, 3, nil, nil)
	m.OnDbSuccess()

	err := m.AttemptDbRecovery(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 0, calls, "recovery probe should not fire when not degraded")
}

func TestOnDbSuccessResetsConsecutiveFailures(t *testing.T) {
	probe := func(ctx context.Context) error { return nil }
	m := New(probe, 5, nil, nil)
	m.OnDbSuccess()

	m.OnDbFailure(errors.New("x"))
	m.OnDbFailure(errors.New("x"))
	m.OnDbSuccess()

	stats := m.GetStats()
	assert.Equal(t, 0, stats.ConsecutiveFailures)
	assert.True(t, stats.Healthy)
}

func TestValidateOnStartupSucceedsFirstTry(t *testing.T) {
	calls := 0
	probe := func(ctx context.Context) error { calls++; return nil }
	m := New(probe, 3, nil, nil)

	err := m.ValidateOnStartup(context.Background(), RetryConfig{
		MaxRetries:        5,
		InitialDelay:      time.Millisecond,
		MaxDelay:          10 * time.Millisecond,
		BackoffMultiplier: 2,
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.False(t, m.IsDegraded())
}

func TestValidateOnStartupRetriesThenSucceeds(t *testing.T) {
	calls := 0
	probe := func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not ready")
		}
		return nil
	}
	m := New(probe, 3, nil, nil)

	var retries []int
	err := m.ValidateOnStartup(context.Background(), RetryConfig{
		MaxRetries:        5,
		InitialDelay:      time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2,
	}, func(attempt int, delay time.Duration, lastErr error) {
		retries = append(retries, attempt)
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestValidateOnStartupFailsAfterMaxRetries(t *testing.T) {
	probeErr := errors.New("unreachable")
	probe := func(ctx context.Context) error { return probeErr }
	m := New(probe, 3, nil, nil)

	err := m.ValidateOnStartup(context.Background(), RetryConfig{
		MaxRetries:        3,
		InitialDelay:      time.Millisecond,
		MaxDelay:          2 * time.Millisecond,
		BackoffMultiplier: 2,
	}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, probeErr)
}

func TestValidateOnStartupRespectsContextCancellation(t *testing.T) {
	probe := func(ctx context.Context) error { return errors.New("down") }
	m := New(probe, 3, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.ValidateOnStartup(ctx, RetryConfig{
		MaxRetries:        5,
		InitialDelay:      50 * time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 2,
	}, func(attempt int, delay time.Duration, lastErr error) {})

	assert.ErrorIs(t, err, context.Canceled)
}
