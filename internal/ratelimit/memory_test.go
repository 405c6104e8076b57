package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCounterWindowExpiry(t *testing.T) {
	clock := newFakeClock()
	counter := newMemoryCounter(clock.Now)
	ctx := context.Background()

	count, err := counter.Increment(ctx, "k", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = counter.Increment(ctx, "k", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	clock.Advance(10*time.Second + time.Millisecond)
	count, err = counter.Increment(ctx, "k", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "expired window starts a fresh count")
}

func TestMemoryCounterReset(t *testing.T) {
	clock := newFakeClock()
	counter := newMemoryCounter(clock.Now)
	ctx := context.Background()

	_, err := counter.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.NoError(t, counter.Reset(ctx, "k"))

	count, err := counter.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "reset keys start over")
}

func TestMemoryCounterBlockExpiry(t *testing.T) {
	clock := newFakeClock()
	counter := newMemoryCounter(clock.Now)
	ctx := context.Background()

	require.NoError(t, counter.SetBlock(ctx, "b", BlockEntry{Violations: 3}, time.Minute))

	entry, err := counter.GetBlock(ctx, "b")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 3, entry.Violations)

	clock.Advance(time.Minute + time.Second)
	entry, err = counter.GetBlock(ctx, "b")
	require.NoError(t, err)
	assert.Nil(t, entry, "expired block entries read as absent")
}
