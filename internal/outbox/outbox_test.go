package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riptide-org/riptide/models"
)

func TestDrainPublishesClaimedRows(t *testing.T) {
	store := NewStore()
	store.Enqueue("extract_succeeded", "agg-1", []byte(`{}`), nil)
	store.Enqueue("extract_succeeded", "agg-2", []byte(`{}`), nil)
	require.Equal(t, 2, store.Pending())

	var published []string
	loop := NewLoop(DefaultConfig(), store, func(_ context.Context, row models.OutboxRow) error {
		published = append(published, row.ID)
		return nil
	}, nil)

	n := loop.Drain(context.Background())
	assert.Equal(t, 2, n)
	assert.Len(t, published, 2)
	assert.Equal(t, 0, store.Pending())
}

func TestDrainRetriesThenDeadLetters(t *testing.T) {
	store := NewStore()
	store.Enqueue("extract_failed", "agg-3", nil, nil)

	cfg := Config{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxAttempts: 2, PollBudget: 8}

	attempts := 0
	loop := NewLoop(cfg, store, func(_ context.Context, row models.OutboxRow) error {
		attempts++
		return errors.New("downstream unavailable")
	}, nil)

	n := loop.Drain(context.Background())
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, store.Pending()) // still pending, below MaxAttempts

	n = loop.Drain(context.Background())
	assert.Equal(t, 0, n)
	assert.Equal(t, 2, attempts)
	// second failure hits MaxAttempts and is dead-lettered, but a
	// dead-lettered row is still "unpublished" from the store's perspective —
	// it is the publisher's job, not the store's, to distinguish retryable
	// from terminal failure.
	assert.Equal(t, 1, store.Pending())
}

func TestEnqueueAssignsIdentifiers(t *testing.T) {
	store := NewStore()
	row := store.Enqueue("gate_decided", "agg-4", []byte(`{"k":"v"}`), map[string]string{"source": "gate"})
	assert.NotEmpty(t, row.ID)
	assert.NotEmpty(t, row.EventID)
	assert.Equal(t, "agg-4", row.AggregateID)
	assert.False(t, row.CreatedAt.IsZero())
}
