package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstWaitIsImmediate(t *testing.T) {
	l := New(time.Hour)
	start := time.Now()
	require.NoError(t, l.Wait(context.Background()))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestWaitPacesSubsequentCalls(t *testing.T) {
	l := New(40 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Wait(ctx))
	}
	// two gaps after the free first slot
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)
}

func TestWaitHonoursContext(t *testing.T) {
	l := New(time.Hour)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx))
}

func TestDisabledAndNil(t *testing.T) {
	l := New(0)
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
	assert.Zero(t, l.Interval())

	var nilLimiter *Limiter
	assert.NoError(t, nilLimiter.Wait(context.Background()))
}

func TestSequenceReturnsFreshLimiters(t *testing.T) {
	next := Sequence(time.Hour)
	require.NoError(t, next().Wait(context.Background()))
	start := time.Now()
	require.NoError(t, next().Wait(context.Background()))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}
