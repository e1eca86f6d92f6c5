package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextWallClockAhead(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	next := NextWallClock(now, 15, 30)
	assert.Equal(t, time.Date(2024, 6, 1, 15, 30, 0, 0, time.UTC), next)
}

func TestNextWallClockPassedRollsToTomorrow(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	next := NextWallClock(now, 3, 30)
	assert.Equal(t, time.Date(2024, 6, 2, 3, 30, 0, 0, time.UTC), next)

	// Exactly now also rolls over.
	next = NextWallClock(now, 12, 0)
	assert.Equal(t, time.Date(2024, 6, 2, 12, 0, 0, 0, time.UTC), next)
}

func TestFakeAdvanceFiresTimersInOrder(t *testing.T) {
	fk := NewFake(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

	var fired []string
	fk.AfterFunc(2*time.Hour, func() { fired = append(fired, "b") })
	fk.AfterFunc(1*time.Hour, func() { fired = append(fired, "a") })
	fk.AfterFunc(5*time.Hour, func() { fired = append(fired, "never") })

	fk.Advance(3 * time.Hour)
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, 1, fk.PendingTimers())
}

func TestFakeTimerStop(t *testing.T) {
	fk := NewFake(time.Unix(0, 0))
	fired := false
	tm := fk.AfterFunc(time.Minute, func() { fired = true })
	require.True(t, tm.Stop())
	fk.Advance(2 * time.Minute)
	assert.False(t, fired)
	assert.False(t, tm.Stop(), "second stop reports false")
}

func TestFakeSleepAdvances(t *testing.T) {
	fk := NewFake(time.Unix(1000, 0))
	require.NoError(t, fk.Sleep(context.Background(), 5*time.Second))
	assert.Equal(t, time.Unix(1005, 0), fk.Now())
}

func TestRealSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New().Sleep(ctx, time.Hour)
	assert.Error(t, err)
}
