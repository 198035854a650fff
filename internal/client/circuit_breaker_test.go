package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transaction-api/internal/config"
)

func newTestBreaker() (*CircuitBreaker, *time.Time) {
	cb := NewCircuitBreaker("account-service", config.CircuitBreakerConfig{
		FailureRateThreshold:    50,
		SlidingWindowSize:       4,
		MinimumNumberOfCalls:    4,
		WaitDurationInOpenState: 30 * time.Second,
		HalfOpenMaxCalls:        2,
	})
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return current }
	return cb, &current
}

func TestCircuitBreaker_StaysClosedBelowMinimumCalls(t *testing.T) {
	cb, _ := newTestBreaker()

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordFailure()

	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreaker_OpensAtFailureRateThreshold(t *testing.T) {
	cb, _ := newTestBreaker()

	cb.RecordSuccess()
	cb.RecordSuccess()
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State())

	// Fourth outcome reaches the minimum and puts the rate at 50%.
	cb.RecordFailure()

	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestCircuitBreaker_SlidingWindowEvictsOldOutcomes(t *testing.T) {
	cb, _ := newTestBreaker()

	// Two early failures scroll out of the window before the rate is
	// rechecked, so the breaker stays closed.
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordSuccess()
	cb.RecordSuccess()
	cb.RecordSuccess()
	cb.RecordFailure()

	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbes(t *testing.T) {
	openBreaker := func() (*CircuitBreaker, *time.Time) {
		cb, clock := newTestBreaker()
		cb.RecordFailure()
		cb.RecordFailure()
		cb.RecordFailure()
		cb.RecordFailure()
		require.Equal(t, StateOpen, cb.State())
		return cb, clock
	}

	t.Run("rejects until the open wait elapses", func(t *testing.T) {
		cb, clock := openBreaker()

		*clock = clock.Add(29 * time.Second)
		assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

		*clock = clock.Add(2 * time.Second)
		assert.NoError(t, cb.Allow())
		assert.Equal(t, StateHalfOpen, cb.State())
	})

	t.Run("admits a bounded probe cohort", func(t *testing.T) {
		cb, clock := openBreaker()
		*clock = clock.Add(31 * time.Second)

		assert.NoError(t, cb.Allow())
		assert.NoError(t, cb.Allow())
		assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
	})

	t.Run("successful cohort closes the breaker", func(t *testing.T) {
		cb, clock := openBreaker()
		*clock = clock.Add(31 * time.Second)

		require.NoError(t, cb.Allow())
		require.NoError(t, cb.Allow())
		cb.RecordSuccess()
		cb.RecordSuccess()

		assert.Equal(t, StateClosed, cb.State())
		assert.NoError(t, cb.Allow())
	})

	t.Run("failed probe reopens immediately", func(t *testing.T) {
		cb, clock := openBreaker()
		*clock = clock.Add(31 * time.Second)

		require.NoError(t, cb.Allow())
		cb.RecordFailure()

		assert.Equal(t, StateOpen, cb.State())
		assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
	})
}

func TestCircuitBreaker_RetryAfter(t *testing.T) {
	cb, clock := newTestBreaker()
	assert.Zero(t, cb.RetryAfter())

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())

	assert.Equal(t, 30*time.Second, cb.RetryAfter())

	*clock = clock.Add(10 * time.Second)
	assert.Equal(t, 20*time.Second, cb.RetryAfter())
}

func TestCircuitBreaker_NotifiesStateChanges(t *testing.T) {
	cb, clock := newTestBreaker()

	var transitions []string
	cb.OnStateChange(func(from, to CircuitState) {
		transitions = append(transitions, from.String()+">"+to.String())
	})

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordFailure()

	*clock = clock.Add(31 * time.Second)
	require.NoError(t, cb.Allow())
	cb.RecordSuccess()
	require.NoError(t, cb.Allow())
	cb.RecordSuccess()

	assert.Equal(t, []string{"CLOSED>OPEN", "OPEN>HALF_OPEN", "HALF_OPEN>CLOSED"}, transitions)
}
