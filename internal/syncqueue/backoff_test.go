package syncqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffDelayGrowsLinearly(t *testing.T) {
	b := Backoff{Step: 5 * time.Minute, Max: time.Hour}

	require.Equal(t, 5*time.Minute, b.Delay(1))
	require.Equal(t, 10*time.Minute, b.Delay(2))
	require.Equal(t, 15*time.Minute, b.Delay(3))
}

func TestBackoffDelayCapped(t *testing.T) {
	b := Backoff{Step: 5 * time.Minute, Max: time.Hour}

	require.Equal(t, time.Hour, b.Delay(12))
	require.Equal(t, time.Hour, b.Delay(100))
}

func TestBackoffDelayClampsRetryCount(t *testing.T) {
	b := Backoff{Step: 5 * time.Minute, Max: time.Hour}

	require.Equal(t, b.Delay(1), b.Delay(0))
	require.Equal(t, b.Delay(1), b.Delay(-3))
}

func TestBackoffZeroValueUsesDefaults(t *testing.T) {
	var b Backoff

	require.Equal(t, 5*time.Minute, b.Delay(1))
	require.Equal(t, time.Hour, b.Delay(50))
}

func TestNextAttemptStrictlyAfterNow(t *testing.T) {
	b := DefaultBackoff()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for retry := 1; retry <= 20; retry++ {
		require.True(t, b.NextAttempt(now, retry).After(now))
	}
	require.Equal(t, now.Add(5*time.Minute), b.NextAttempt(now, 1))
}
