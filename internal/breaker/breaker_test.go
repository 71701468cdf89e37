package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riptide-org/riptide/internal/ports"
)

func TestBreakerOpensAfterThresholdBreached(t *testing.T) {
	b := New(Config{FailureThreshold: 0.5, MinRequests: 4, RecoveryTimeout: time.Minute, HalfOpenProbes: 2}, nil)
	ctx := context.Background()

	require.True(t, b.TryCall(ctx))
	b.OnFailure(ctx, time.Millisecond)
	b.OnFailure(ctx, time.Millisecond)
	b.OnFailure(ctx, time.Millisecond)
	b.OnSuccess(ctx, time.Millisecond)

	assert.Equal(t, ports.BreakerOpen, b.State())
	assert.False(t, b.TryCall(ctx))
}

func TestBreakerStaysClosedBelowMinRequests(t *testing.T) {
	b := New(Config{FailureThreshold: 0.1, MinRequests: 10, RecoveryTimeout: time.Minute}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.OnFailure(ctx, time.Millisecond)
	}

	assert.Equal(t, ports.BreakerClosed, b.State())
}

func TestBreakerHalfOpenClosesOnSuccess(t *testing.T) {
	now := time.Now()
	b := New(Config{FailureThreshold: 0.5, MinRequests: 2, RecoveryTimeout: time.Millisecond}, nil)
	b.clock = func() time.Time { return now }
	ctx := context.Background()

	b.OnFailure(ctx, 0)
	b.OnFailure(ctx, 0)
	require.Equal(t, ports.BreakerOpen, b.State())

	b.clock = func() time.Time { return now.Add(time.Second) }
	require.True(t, b.TryCall(ctx))
	assert.Equal(t, ports.BreakerHalfOpen, b.State())

	b.OnSuccess(ctx, 0)
	assert.Equal(t, ports.BreakerClosed, b.State())
}

func TestBreakerHalfOpenReopensAfterConsecutiveFailures(t *testing.T) {
	now := time.Now()
	b := New(Config{FailureThreshold: 0.5, MinRequests: 2, RecoveryTimeout: time.Millisecond, HalfOpenProbes: 2}, nil)
	b.clock = func() time.Time { return now }
	ctx := context.Background()

	b.OnFailure(ctx, 0)
	b.OnFailure(ctx, 0)
	b.clock = func() time.Time { return now.Add(time.Second) }
	require.True(t, b.TryCall(ctx))

	b.OnFailure(ctx, 0)
	b.OnFailure(ctx, 0)

	assert.Equal(t, ports.BreakerOpen, b.State())
}

func TestBreakerResetClearsStateAndMetrics(t *testing.T) {
	b := New(DefaultConfig(), nil)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		b.OnFailure(ctx, 0)
	}
	require.Equal(t, ports.BreakerOpen, b.State())

	b.Reset()

	assert.Equal(t, ports.BreakerClosed, b.State())
	stats := b.Stats()
	assert.Zero(t, stats.Failures)
	assert.Zero(t, stats.Successes)
}
