package capital

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_StandardWindow(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(3, clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, rl.Wait(ctx, StandardRequest))
	}
	assert.Empty(t, clock.Sleeps(), "calls within the cap must not wait")

	require.NoError(t, rl.Wait(ctx, StandardRequest))
	assert.Equal(t, []time.Duration{time.Second}, clock.Sleeps(), "fourth call waits for the window to reset")

	require.NoError(t, rl.Wait(ctx, StandardRequest))
	count, _, _ := rl.Stats()
	assert.Equal(t, 2, count)
}

func TestRateLimiter_PartialWindow(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(2, clock)
	ctx := context.Background()

	require.NoError(t, rl.Wait(ctx, StandardRequest))
	clock.Advance(400 * time.Millisecond)
	require.NoError(t, rl.Wait(ctx, StandardRequest))
	require.NoError(t, rl.Wait(ctx, StandardRequest))

	assert.Equal(t, []time.Duration{600 * time.Millisecond}, clock.Sleeps())
}

func TestRateLimiter_WindowExpiresWithoutWaiting(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(2, clock)
	ctx := context.Background()

	require.NoError(t, rl.Wait(ctx, StandardRequest))
	require.NoError(t, rl.Wait(ctx, StandardRequest))
	clock.Advance(1500 * time.Millisecond)
	require.NoError(t, rl.Wait(ctx, StandardRequest))

	assert.Empty(t, clock.Sleeps())
	count, windowStart, _ := rl.Stats()
	assert.Equal(t, 1, count)
	assert.Equal(t, clock.Now(), windowStart)
}

func TestRateLimiter_SessionSpacing(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(10, clock)
	ctx := context.Background()

	require.NoError(t, rl.Wait(ctx, SessionRequest))
	assert.Empty(t, clock.Sleeps(), "first call ever has nothing to space from")

	require.NoError(t, rl.Wait(ctx, StandardRequest))
	clock.Advance(300 * time.Millisecond)
	require.NoError(t, rl.Wait(ctx, SessionRequest))
	assert.Equal(t, []time.Duration{700 * time.Millisecond}, clock.Sleeps())

	_, _, last := rl.Stats()
	assert.Equal(t, clock.Now(), last)
}

func TestRateLimiter_ContextCancelled(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(1, clock)
	require.NoError(t, rl.Wait(context.Background(), StandardRequest))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := rl.Wait(ctx, StandardRequest)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRateLimiter_ConcurrentCallersRespectCap(t *testing.T) {
	if testing.Short() {
		t.Skip("uses the real clock")
	}
	rl := NewRateLimiter(5, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 7; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, rl.Wait(ctx, StandardRequest))
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond, "calls 6 and 7 must spill into the next window")
	count, _, _ := rl.Stats()
	assert.Equal(t, 2, count)
}
