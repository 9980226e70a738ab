package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestSlidingWindowAdmitsWithinBudget(t *testing.T) {
	clock := NewManualClock(epoch)
	w, err := NewSlidingWindow("second", time.Second, 500, clock)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, w.Admit(ctx, 255))
	require.NoError(t, w.Admit(ctx, 245))
	assert.Equal(t, epoch, clock.Now(), "both requests fit without waiting")
	assert.Equal(t, 500, w.Used())

	require.NoError(t, w.Admit(ctx, 80))
	assert.Equal(t, epoch.Add(time.Second), clock.Now(), "third request waits for the oldest entry to expire")
	assert.Equal(t, 80, w.Used(), "entries recorded at the same instant expire together")
}

func TestSlidingWindowWaitsForEnoughExpiry(t *testing.T) {
	clock := NewManualClock(epoch)
	w, err := NewSlidingWindow("second", time.Second, 10, clock)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, w.Admit(ctx, 3))
	clock.Advance(100 * time.Millisecond)
	require.NoError(t, w.Admit(ctx, 3))
	clock.Advance(100 * time.Millisecond)
	require.NoError(t, w.Admit(ctx, 4))

	// Needs 6 free: the first two entries must both expire.
	require.NoError(t, w.Admit(ctx, 6))
	assert.Equal(t, epoch.Add(1100*time.Millisecond), clock.Now())
}

func TestSlidingWindowClampsOversizedCost(t *testing.T) {
	clock := NewManualClock(epoch)
	w, err := NewSlidingWindow("second", time.Second, 100, clock)
	require.NoError(t, err)

	require.NoError(t, w.Admit(context.Background(), 1000))
	assert.Equal(t, 100, w.Used())
	assert.Equal(t, epoch, clock.Now())
}

func TestSlidingWindowHonoursCancellation(t *testing.T) {
	w, err := NewSlidingWindow("pace", time.Hour, 1, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Admit(ctx, 1))

	cancel()
	err = w.Admit(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewSlidingWindowValidates(t *testing.T) {
	_, err := NewSlidingWindow("bad", 0, 1, nil)
	assert.Error(t, err)
	_, err = NewSlidingWindow("bad", time.Second, 0, nil)
	assert.Error(t, err)
}

func TestPaceInterval(t *testing.T) {
	assert.Equal(t, 60*time.Second, PaceInterval(1))
	assert.Equal(t, 9*time.Second, PaceInterval(7))
	assert.Equal(t, time.Second, PaceInterval(60))
	assert.Equal(t, time.Second, PaceInterval(600))
	assert.Equal(t, time.Minute, PaceInterval(0))
}

func TestStackSelfPacesAndChargesDailyBudget(t *testing.T) {
	clock := NewManualClock(epoch)
	stack, err := NewStack(Config{RequestsPerMinute: 60, CreditsPerSecond: 500, CreditsPerDay: 1000}, clock)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, stack.Admit(ctx, 255))
	require.NoError(t, stack.Admit(ctx, 255))
	assert.Equal(t, epoch.Add(time.Second), clock.Now(), "second request is paced one interval later")

	require.NoError(t, stack.Admit(ctx, 255))
	assert.Equal(t, epoch.Add(2*time.Second), clock.Now())

	require.NoError(t, stack.Admit(ctx, 255))
	assert.Equal(t, epoch.Add(24*time.Hour), clock.Now(), "fourth request exceeds the day budget until the first expires")

	windows := stack.Windows()
	require.Len(t, windows, 3)
	assert.Equal(t, "pace", windows[0].Name())
	assert.Equal(t, 1000, windows[2].Budget())
}

func TestNewStackRejectsZeroRate(t *testing.T) {
	_, err := NewStack(Config{CreditsPerSecond: 1, CreditsPerDay: 1}, nil)
	assert.Error(t, err)
}
