package backpressure

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riptide-org/riptide/models"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	c := New(DefaultConfig())

	permit, err := c.Acquire("stream-1", 2048)
	require.NoError(t, err)
	require.NotNil(t, permit)

	permit.Release()
	permit.Release() // idempotent
}

func TestAcquireRejectsWhenPerStreamCapExceeded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PerStreamCap = 1
	c := New(cfg)

	p1, err := c.Acquire("s", 1)
	require.NoError(t, err)
	defer p1.Release()

	_, err = c.Acquire("s", 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrBackpressure))
}

func TestAcquireRejectsWhenGlobalItemCapExceeded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GlobalItemCap = 1
	cfg.PerStreamCap = 10
	c := New(cfg)

	p1, err := c.Acquire("a", 1)
	require.NoError(t, err)
	defer p1.Release()

	_, err = c.Acquire("b", 1)
	require.Error(t, err)
}

func TestAcquireRejectsDuringThrottleWindow(t *testing.T) {
	c := New(DefaultConfig())
	now := time.Now()
	c.clock = func() time.Time { return now }

	p, err := c.Acquire("s", 1)
	require.NoError(t, err)
	p.Release()

	c.tick(0.99) // critical pressure sets throttle_until

	_, err = c.Acquire("s", 1)
	require.Error(t, err)
}

func TestStatusBuckets(t *testing.T) {
	c := New(DefaultConfig())
	assert.Equal(t, StatusNormal, c.Status(0.1))
	assert.Equal(t, StatusWarning, c.Status(0.75))
	assert.Equal(t, StatusThrottled, c.Status(0.85))
	assert.Equal(t, StatusCritical, c.Status(0.99))
}
