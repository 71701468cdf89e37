package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riptide-org/riptide/models"
)

func TestFingerprintDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	a := Fingerprint(cfg, "https://example.com/x", models.CacheReadThrough)
	b := Fingerprint(cfg, "https://example.com/x", models.CacheReadThrough)
	assert.Equal(t, a, b)
}

func TestFingerprintChangesWithEngineVersion(t *testing.T) {
	cfg1 := DefaultConfig()
	cfg2 := DefaultConfig()
	cfg2.EngineVersion = "v2"

	a := Fingerprint(cfg1, "https://example.com/x", models.CacheReadThrough)
	b := Fingerprint(cfg2, "https://example.com/x", models.CacheReadThrough)

	assert.NotEqual(t, a.Digest, b.Digest)
}

func TestGetOrBuildSingleFlightsConcurrentCallers(t *testing.T) {
	c := New(DefaultConfig(), nil)
	key := Fingerprint(DefaultConfig(), "https://example.com/y", models.CacheReadThrough)

	var builds int32
	build := func(ctx context.Context) (*models.ExtractedDoc, error) {
		atomic.AddInt32(&builds, 1)
		time.Sleep(10 * time.Millisecond)
		return &models.ExtractedDoc{URL: "https://example.com/y", Markdown: "hi"}, nil
	}

	results := make(chan *models.ExtractedDoc, 8)
	for i := 0; i < 8; i++ {
		go func() {
			doc, err := c.SingleFlightBuild(context.Background(), key, time.Minute, build)
			require.NoError(t, err)
			results <- doc
		}()
	}
	for i := 0; i < 8; i++ {
		<-results
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&builds))
}

func TestGetOrBuildReturnsCachedWithoutRebuilding(t *testing.T) {
	c := New(DefaultConfig(), nil)
	key := Fingerprint(DefaultConfig(), "https://example.com/z", models.CacheReadThrough)

	var builds int32
	build := func(ctx context.Context) (*models.ExtractedDoc, error) {
		atomic.AddInt32(&builds, 1)
		return &models.ExtractedDoc{URL: "https://example.com/z"}, nil
	}

	_, err := c.SingleFlightBuild(context.Background(), key, time.Minute, build)
	require.NoError(t, err)
	_, err = c.SingleFlightBuild(context.Background(), key, time.Minute, build)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&builds))
}

func TestEntryExpiresByTTL(t *testing.T) {
	c := New(DefaultConfig(), nil)
	key := Fingerprint(DefaultConfig(), "https://example.com/ttl", models.CacheReadThrough)

	require.NoError(t, c.PutWithTTL(context.Background(), key, &models.ExtractedDoc{URL: "https://example.com/ttl"}, time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, ok, err := c.Get(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEntryExpiredAtExactTTLBoundary(t *testing.T) {
	stamp := time.Now()
	e := &entry{stamp: stamp, ttl: time.Minute}

	assert.True(t, e.expired(stamp.Add(time.Minute)))
	assert.False(t, e.expired(stamp.Add(time.Minute-time.Nanosecond)))
}

func TestEvictsUnderByteBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ByteBudget = 1 // force immediate eviction of anything beyond the newest entry
	c := New(cfg, nil)

	k1 := Fingerprint(cfg, "https://example.com/1", models.CacheReadThrough)
	k2 := Fingerprint(cfg, "https://example.com/2", models.CacheReadThrough)

	require.NoError(t, c.PutWithTTL(context.Background(), k1, &models.ExtractedDoc{URL: "https://example.com/1", Markdown: "aaaa"}, time.Minute))
	require.NoError(t, c.PutWithTTL(context.Background(), k2, &models.ExtractedDoc{URL: "https://example.com/2", Markdown: "bbbb"}, time.Minute))

	_, ok1, _ := c.Get(context.Background(), k1)
	_, ok2, _ := c.Get(context.Background(), k2)
	assert.False(t, ok1)
	assert.True(t, ok2)
}
