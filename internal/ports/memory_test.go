package ports

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySessionStorageSaveAndGet(t *testing.T) {
	s := NewMemorySessionStorage()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, &SessionRecord{ID: "s1", Payload: []byte("x")}))

	rec, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), rec.Payload)

	// mutating the returned record must not affect the stored copy
	rec.Payload[0] = 'y'
	again, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, byte('x'), again.Payload[0])
}

func TestMemorySessionStorageMissingRecord(t *testing.T) {
	s := NewMemorySessionStorage()
	_, err := s.Get(context.Background(), "missing")
	require.Error(t, err)
}

func TestMemorySessionStorageCleanupExpired(t *testing.T) {
	s := NewMemorySessionStorage()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.Save(ctx, &SessionRecord{ID: "expired", ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, s.Save(ctx, &SessionRecord{ID: "fresh", ExpiresAt: now.Add(time.Hour)}))

	removed, err := s.CleanupExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"fresh"}, ids)
}
