package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riptide-org/riptide/models"
)

func TestQueueRunsJobsInPriorityOrder(t *testing.T) {
	var order []string
	done := make(chan struct{}, 2)

	// One worker, started after both jobs are queued, so the run order is
	// decided by the heap's priority order alone.
	cfg := DefaultQueueConfig()
	cfg.Workers = 1
	q := NewQueue(cfg, func(ctx context.Context, job *models.Job) error {
		order = append(order, job.ID)
		done <- struct{}{}
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, q.Submit(ctx, &models.Job{ID: "low", Priority: 1, MaxAttempts: 1}))
	require.NoError(t, q.Submit(ctx, &models.Job{ID: "high", Priority: 10, MaxAttempts: 1}))
	go q.Run(ctx)

	<-done
	<-done
	cancel()

	require.Len(t, order, 2)
	assert.Equal(t, "high", order[0])
}

func TestQueueRetriesThenDeadLetters(t *testing.T) {
	var attempts int32
	cfg := DefaultQueueConfig()
	cfg.RetryPolicy = RetryPolicy{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxAttempts: 2}

	q := NewQueue(cfg, func(ctx context.Context, job *models.Job) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("boom")
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	require.NoError(t, q.Submit(ctx, &models.Job{ID: "j1", MaxAttempts: 2}))

	require.Eventually(t, func() bool {
		return len(q.DLQ()) == 1
	}, time.Second, time.Millisecond)

	assert.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(2))
}

func TestSchedulerMaterializesDueJobs(t *testing.T) {
	q := NewQueue(DefaultQueueConfig(), func(ctx context.Context, job *models.Job) error { return nil }, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	s := NewScheduler(q)
	require.NoError(t, s.Add(&models.ScheduledJob{ID: "daily", Cron: "* * * * *", Enabled: true}))

	job := s.jobs["daily"]
	require.NotNil(t, job.NextExecution)

	require.NoError(t, s.Tick(ctx, job.NextExecution.Add(time.Second)))
	assert.Equal(t, 1, job.ExecutionCount)
}
