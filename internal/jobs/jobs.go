// Package jobs implements the priority job queue and the cron-like
// scheduler that materializes ScheduledJob templates into Jobs. Retry
// backoff+jitter follows the same base/max/jitter shape the engine's
// pipeline uses for per-URL extraction retries; persistence is optional and
// Redis-backed, mirroring the spec's "durable iff a backing store is
// configured" rule.
package jobs

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/riptide-org/riptide/models"
)

type RetryPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{BaseDelay: 200 * time.Millisecond, MaxDelay: 30 * time.Second, MaxAttempts: 5}
}

func (r RetryPolicy) backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := r.BaseDelay * time.Duration(uint64(1)<<uint(attempt-1))
	if r.MaxDelay > 0 && delay > r.MaxDelay {
		delay = r.MaxDelay
	}
	jitter := time.Duration(rand.Float64() * float64(delay))
	return delay/2 + jitter/2
}

// jobHeap orders Jobs by (priority desc, scheduled_at asc).
type jobHeap []*models.Job

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].ScheduledAt.Before(h[j].ScheduledAt)
}
func (h jobHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x interface{}) { *h = append(*h, x.(*models.Job)) }
func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Store is the optional durable persistence port; RedisStore implements it,
// and a nil Store means in-memory-only (the queue is durable iff a backing
// store is configured).
type Store interface {
	SaveJob(ctx context.Context, j *models.Job) error
	DeleteJob(ctx context.Context, id string) error
	SaveDLQ(ctx context.Context, j *models.Job) error
}

// RedisStore persists jobs as JSON blobs under <prefix>:schedule:<id>, per
// the spec's persisted-state section.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) SaveJob(ctx context.Context, j *models.Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, fmt.Sprintf("%s:schedule:%s", s.prefix, j.ID), data, 0).Err()
}
func (s *RedisStore) DeleteJob(ctx context.Context, id string) error {
	return s.client.Del(ctx, fmt.Sprintf("%s:schedule:%s", s.prefix, id)).Err()
}
func (s *RedisStore) SaveDLQ(ctx context.Context, j *models.Job) error {
	return s.client.LPush(ctx, fmt.Sprintf("%s:dlq", s.prefix), j.ID).Err()
}

// Handler executes a Job's payload and returns an error classified per the
// pipeline's error taxonomy; jobs.Queue only needs to know whether to retry.
type Handler func(ctx context.Context, job *models.Job) error

type QueueConfig struct {
	Workers     int
	JobTimeout  time.Duration
	RetryPolicy RetryPolicy
}

func DefaultQueueConfig() QueueConfig {
	return QueueConfig{Workers: 4, JobTimeout: 30 * time.Second, RetryPolicy: DefaultRetryPolicy()}
}

// Queue is a priority queue of jobs keyed by (priority desc, scheduled_at
// asc), drained by a fixed worker pool with per-job timeout, retry
// backoff+jitter, and DLQ routing on permanent exhaustion.
type Queue struct {
	cfg     QueueConfig
	handler Handler
	store   Store

	mu    sync.Mutex
	cond  *sync.Cond
	heap  jobHeap
	dlq   []*models.Job
	closed bool
}

func NewQueue(cfg QueueConfig, handler Handler, store Store) *Queue {
	q := &Queue{cfg: cfg, handler: handler, store: store}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *Queue) Submit(ctx context.Context, job *models.Job) error {
	q.mu.Lock()
	heap.Push(&q.heap, job)
	q.cond.Signal()
	q.mu.Unlock()
	if q.store != nil {
		return q.store.SaveJob(ctx, job)
	}
	return nil
}

func (q *Queue) pop() *models.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.heap) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed && len(q.heap) == 0 {
		return nil
	}
	return heap.Pop(&q.heap).(*models.Job)
}

// Run starts cfg.Workers worker goroutines and blocks until ctx is done.
func (q *Queue) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < q.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.worker(ctx)
		}()
	}
	go func() {
		<-ctx.Done()
		q.mu.Lock()
		q.closed = true
		q.cond.Broadcast()
		q.mu.Unlock()
	}()
	wg.Wait()
}

func (q *Queue) worker(ctx context.Context) {
	for {
		job := q.pop()
		if job == nil {
			return
		}
		q.execute(ctx, job)
	}
}

func (q *Queue) execute(ctx context.Context, job *models.Job) {
	job.Status = models.JobRunning
	job.Attempts++

	callCtx, cancel := context.WithTimeout(ctx, q.cfg.JobTimeout)
	err := q.handler(callCtx, job)
	cancel()

	if err == nil {
		job.Status = models.JobSucceeded
		if q.store != nil {
			_ = q.store.DeleteJob(ctx, job.ID)
		}
		return
	}

	job.LastError = err.Error()
	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.cfg.RetryPolicy.MaxAttempts
	}
	if job.Attempts >= maxAttempts {
		job.Status = models.JobDeadLettered
		q.mu.Lock()
		q.dlq = append(q.dlq, job)
		q.mu.Unlock()
		if q.store != nil {
			_ = q.store.SaveDLQ(ctx, job)
		}
		return
	}

	job.Status = models.JobPending
	delay := q.cfg.RetryPolicy.backoffDelay(job.Attempts)
	time.AfterFunc(delay, func() {
		q.mu.Lock()
		heap.Push(&q.heap, job)
		q.cond.Signal()
		q.mu.Unlock()
	})
}

func (q *Queue) DLQ() []*models.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*models.Job, len(q.dlq))
	copy(out, q.dlq)
	return out
}

// Scheduler holds ScheduledJob entries and, once due, materializes a Job and
// submits it to the queue, then recomputes NextExecution from the cron
// expression.
type Scheduler struct {
	queue *Queue

	mu   sync.Mutex
	jobs map[string]*models.ScheduledJob
	exprs map[string]cron.Schedule
}

func NewScheduler(queue *Queue) *Scheduler {
	return &Scheduler{queue: queue, jobs: make(map[string]*models.ScheduledJob), exprs: make(map[string]cron.Schedule)}
}

func (s *Scheduler) Add(job *models.ScheduledJob) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(job.Cron)
	if err != nil {
		return fmt.Errorf("jobs: invalid cron expression %q: %w", job.Cron, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	s.exprs[job.ID] = sched
	s.recomputeLocked(job.ID, time.Now())
	return nil
}

func (s *Scheduler) recomputeLocked(id string, after time.Time) {
	job := s.jobs[id]
	sched := s.exprs[id]
	next := sched.Next(after)
	if next.IsZero() {
		job.NextExecution = nil
		return
	}
	job.NextExecution = &next
}

// Tick submits every due, enabled ScheduledJob as a materialized Job and
// advances its NextExecution.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	due := make([]*models.ScheduledJob, 0)
	for id, job := range s.jobs {
		if !job.Enabled || job.NextExecution == nil {
			continue
		}
		if !job.NextExecution.After(now) {
			due = append(due, job)
			job.ExecutionCount++
			s.recomputeLocked(id, now)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		materialized := &models.Job{
			ID:          fmt.Sprintf("%s-%d", job.ID, job.ExecutionCount),
			Priority:    0,
			ScheduledAt: now,
			Payload:     job.Template,
			MaxAttempts: DefaultRetryPolicy().MaxAttempts,
			Status:      models.JobPending,
		}
		if err := s.queue.Submit(ctx, materialized); err != nil {
			return err
		}
	}
	return nil
}

// Run drives Tick on the given interval until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			_ = s.Tick(ctx, now)
		}
	}
}
