package intelligence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCounterFallsBackWithoutKnownModel(t *testing.T) {
	c := NewTokenCounter()
	n := c.CountText("some-unknown-model", "twelve characters")
	assert.Equal(t, len("twelve characters")/4, n)
}

func TestStubProviderEstimateCostPositive(t *testing.T) {
	p := NewStubProvider("gpt-4o-mini")
	cost, err := p.EstimateCost(context.Background(), "hello world", 64)
	require.NoError(t, err)
	assert.Greater(t, cost, 0.0)
}

func TestTenantLimiterRejectsOverConcurrency(t *testing.T) {
	p := NewStubProvider("gpt-4o-mini")
	lim := NewTenantLimiter(p, "gpt-4o-mini")
	lim.SetLimits("tenant-a", TenantLimits{MaxConcurrentRequests: 1, MaxRequestsPerMinute: 100, MaxTokensPerMinute: 100000, MaxCostPerHour: 100})

	release1, err := lim.Acquire("tenant-a", 10, 0.01)
	require.NoError(t, err)

	_, err = lim.Acquire("tenant-a", 10, 0.01)
	assert.Error(t, err)

	release1()
	_, err = lim.Acquire("tenant-a", 10, 0.01)
	assert.NoError(t, err)
}

func TestTenantLimiterRejectsOverCostBudget(t *testing.T) {
	p := NewStubProvider("gpt-4o-mini")
	lim := NewTenantLimiter(p, "gpt-4o-mini")
	lim.SetLimits("tenant-b", TenantLimits{MaxConcurrentRequests: 4, MaxRequestsPerMinute: 100, MaxTokensPerMinute: 100000, MaxCostPerHour: 0.05})

	_, err := lim.Acquire("tenant-b", 10, 0.04)
	require.NoError(t, err)

	_, err = lim.Acquire("tenant-b", 10, 0.04)
	assert.Error(t, err)
}
