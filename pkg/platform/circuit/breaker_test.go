package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerStartsClosed(t *testing.T) {
	b := New("extract")
	assert.Equal(t, "extract", b.Name())
	assert.Equal(t, StateClosed, b.State())
	assert.False(t, b.IsOpen())
}

func TestBreakerOpensOnConsecutiveFailures(t *testing.T) {
	b := New("extract", WithFailureThreshold(3))

	for i := 0; i < 2; i++ {
		useFallback, change := b.RecordFailure()
		require.False(t, useFallback, "failure %d should not open", i+1)
		require.False(t, change.Opened)
	}

	useFallback, change := b.RecordFailure()
	assert.True(t, useFallback)
	assert.True(t, change.Opened)
	assert.True(t, b.IsOpen())
}

func TestBreakerClosesOnConsecutiveSuccesses(t *testing.T) {
	b := New("extract", WithFailureThreshold(1), WithSuccessThreshold(2))
	b.RecordFailure()
	require.True(t, b.IsOpen())

	usePrimary, change := b.RecordSuccess()
	assert.False(t, usePrimary)
	assert.False(t, change.Closed)

	usePrimary, change = b.RecordSuccess()
	assert.True(t, usePrimary)
	assert.True(t, change.Closed)
	assert.False(t, b.IsOpen())
}

func TestBreakerOutcomesResetOppositeCounter(t *testing.T) {
	t.Run("success clears the failure streak", func(t *testing.T) {
		b := New("extract", WithFailureThreshold(2))
		b.RecordFailure()
		b.RecordSuccess()
		b.RecordFailure()
		assert.False(t, b.IsOpen())
		b.RecordFailure()
		assert.True(t, b.IsOpen())
	})

	t.Run("failure clears the success streak while open", func(t *testing.T) {
		b := New("extract", WithFailureThreshold(1), WithSuccessThreshold(2))
		b.RecordFailure()
		b.RecordSuccess()
		b.RecordFailure()
		b.RecordSuccess()
		assert.True(t, b.IsOpen(), "interrupted streak must not close the breaker")
		b.RecordSuccess()
		assert.False(t, b.IsOpen())
	})
}

func TestBreakerFailureWhileOpenIsNotATransition(t *testing.T) {
	b := New("extract", WithFailureThreshold(1))
	b.RecordFailure()

	useFallback, change := b.RecordFailure()
	assert.True(t, useFallback)
	assert.Equal(t, StateChange{}, change)
}

func TestBreakerAllowsProbeAfterCooldown(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := New("extract", WithFailureThreshold(1), WithSuccessThreshold(1), WithCooldown(time.Minute))
	b.now = func() time.Time { return now }

	require.True(t, b.Allow())
	b.RecordFailure()
	require.True(t, b.IsOpen())

	assert.False(t, b.Allow(), "open breaker rejects before the cooldown elapses")

	now = now.Add(time.Minute)
	assert.True(t, b.Allow(), "one probe is let through per window")
	assert.False(t, b.Allow(), "the window restarts after a probe")

	// A failed probe keeps the breaker open for another full window.
	b.RecordFailure()
	now = now.Add(30 * time.Second)
	assert.False(t, b.Allow())

	now = now.Add(31 * time.Second)
	require.True(t, b.Allow())
	_, change := b.RecordSuccess()
	assert.True(t, change.Closed)
	assert.True(t, b.Allow())
}

func TestBreakerReset(t *testing.T) {
	b := New("extract", WithFailureThreshold(1))
	b.RecordFailure()
	require.True(t, b.IsOpen())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
}
