package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinDelayAllow(t *testing.T) {
	clock := time.Unix(1000, 0)
	md := NewMinDelay(2*time.Second, 10*time.Second)
	md.now = func() time.Time { return clock }

	assert.True(t, md.Allow(), "first request is always allowed")
	assert.False(t, md.Allow())

	clock = clock.Add(1999 * time.Millisecond)
	assert.False(t, md.Allow())

	clock = clock.Add(time.Millisecond)
	assert.True(t, md.Allow())
}

func TestMinDelayWaitEnforcesSpacing(t *testing.T) {
	md := NewMinDelay(60*time.Millisecond, time.Second)
	ctx := context.Background()

	require.NoError(t, md.Wait(ctx))
	start := time.Now()
	require.NoError(t, md.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestMinDelayWaitCancelled(t *testing.T) {
	md := NewMinDelay(time.Hour, time.Hour)
	require.NoError(t, md.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := md.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMinDelayEscalation(t *testing.T) {
	md := NewMinDelay(time.Second, 5*time.Second)

	assert.Equal(t, 2*time.Second, md.Escalate())
	assert.Equal(t, 4*time.Second, md.Escalate())
	assert.Equal(t, 5*time.Second, md.Escalate(), "capped at max")

	md.Relax()
	assert.Equal(t, 2500*time.Millisecond, md.Current())
	md.Relax()
	md.Relax()
	assert.Equal(t, time.Second, md.Current(), "never below base")

	md.Escalate()
	md.Reset()
	assert.Equal(t, time.Second, md.Current())
}

func TestSlidingWindow(t *testing.T) {
	sw := NewSlidingWindow(3, 100*time.Millisecond)

	for i := 0; i < 3; i++ {
		assert.True(t, sw.Allow(), "request %d", i+1)
	}
	assert.False(t, sw.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sw.Wait(ctx))

	sw.Reset()
	assert.Empty(t, sw.requests)
}

func TestChainEscalatesMembers(t *testing.T) {
	md := NewMinDelay(10*time.Millisecond, time.Second)
	chain := Chain{md, NewSlidingWindow(100, time.Minute)}

	require.NoError(t, chain.Wait(context.Background()))
	assert.Equal(t, 20*time.Millisecond, chain.Escalate())
	chain.Relax()
	assert.Equal(t, 10*time.Millisecond, md.Current())
}
