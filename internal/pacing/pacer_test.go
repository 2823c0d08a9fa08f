package pacing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJitterWithinBounds(t *testing.T) {
	t.Parallel()

	min := 100 * time.Millisecond
	max := 300 * time.Millisecond
	for i := 0; i < 200; i++ {
		d := Jitter(min, max)
		require.GreaterOrEqual(t, d, min)
		require.LessOrEqual(t, d, max)
	}
}

func TestJitterDegenerateWindow(t *testing.T) {
	t.Parallel()

	require.Equal(t, time.Second, Jitter(time.Second, time.Second))
	require.Equal(t, time.Second, Jitter(time.Second, time.Millisecond))
	require.Equal(t, time.Duration(0), Jitter(0, 0))
}

func TestPauseCompletes(t *testing.T) {
	t.Parallel()

	require.NoError(t, Pause(context.Background(), time.Millisecond))
}

func TestPauseZeroDelayNoWait(t *testing.T) {
	t.Parallel()

	start := time.Now()
	require.NoError(t, Pause(context.Background(), 0))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestPauseSurfacesCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Pause(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), time.Second)
}

func TestWaitAppliesJitterWindow(t *testing.T) {
	t.Parallel()

	p := New(20*time.Millisecond, 40*time.Millisecond, 0)
	start := time.Now()
	require.NoError(t, p.Wait(context.Background()))
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestWaitSurfacesCancellation(t *testing.T) {
	t.Parallel()

	p := New(time.Hour, time.Hour, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, p.Wait(ctx))
}

func TestWaitHonorsRateCeiling(t *testing.T) {
	t.Parallel()

	// 10 rps with a burst of one: three waits need at least ~200ms.
	p := New(0, 0, 10)
	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Wait(context.Background()))
	}
	require.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}
