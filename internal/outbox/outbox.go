// Package outbox implements the event outbox publisher named in the
// persisted-state row shape: every domain event destined for a durable
// downstream gets a row first, claimed by exactly one publisher goroutine at
// a time, and retried with the same base/max/jitter backoff shape the job
// queue uses for extraction retries. The real deployment target is a
// Postgres table claimed with `FOR UPDATE SKIP LOCKED`; this package models
// that claiming discipline with an in-process mutex-guarded queue standing
// in for the database adapter, so the publish loop and retry semantics can
// be built and tested without a live database.
package outbox

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/riptide-org/riptide/internal/ports"
	"github.com/riptide-org/riptide/models"
)

type Config struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	PollBudget  int // rows claimed per Drain call
}

func DefaultConfig() Config {
	return Config{BaseDelay: 200 * time.Millisecond, MaxDelay: 10 * time.Second, MaxAttempts: 5, PollBudget: 32}
}

// Publisher delivers a claimed row to its downstream; a non-nil error keeps
// the row unpublished and schedules a retry.
type Publisher func(ctx context.Context, row models.OutboxRow) error

// Store is an in-process stand-in for the Postgres outbox table: rows are
// claimed under a single mutex the way `FOR UPDATE SKIP LOCKED` claims rows
// under a row lock, and a claimed row is invisible to other claimants until
// it is released back (failure) or marked published (success).
type Store struct {
	mu      sync.Mutex
	rows    map[string]*models.OutboxRow
	claimed map[string]bool
}

func NewStore() *Store {
	return &Store{rows: make(map[string]*models.OutboxRow), claimed: make(map[string]bool)}
}

// Enqueue writes a new row, stamping it with a fresh id and creation time.
func (s *Store) Enqueue(eventType, aggregateID string, payload []byte, metadata map[string]string) models.OutboxRow {
	row := models.OutboxRow{
		ID:          uuid.NewString(),
		EventID:     uuid.NewString(),
		EventType:   eventType,
		AggregateID: aggregateID,
		Payload:     payload,
		Metadata:    metadata,
		CreatedAt:   time.Now().UTC(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[row.ID] = &row
	return row
}

// claimBatch returns up to n unclaimed, unpublished rows and marks them
// claimed, the same "take it off the table so nobody else can" guarantee
// `FOR UPDATE SKIP LOCKED` gives a real publisher.
func (s *Store) claimBatch(n int) []*models.OutboxRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.OutboxRow, 0, n)
	for id, row := range s.rows {
		if len(out) >= n {
			break
		}
		if s.claimed[id] || row.PublishedAt != nil {
			continue
		}
		s.claimed[id] = true
		out = append(out, row)
	}
	return out
}

func (s *Store) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed, id)
}

func (s *Store) markPublished(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed, id)
	if row, ok := s.rows[id]; ok {
		now := time.Now().UTC()
		row.PublishedAt = &now
	}
}

func (s *Store) markFailed(id, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed, id)
	if row, ok := s.rows[id]; ok {
		now := time.Now().UTC()
		row.RetryCount++
		row.LastError = errMsg
		row.LastRetryAt = &now
	}
}

func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, row := range s.rows {
		if row.PublishedAt == nil {
			n++
		}
	}
	return n
}

// Loop drains the store on a fixed interval, publishing each claimed row and
// feeding its outcome back onto the event bus.
type Loop struct {
	cfg     Config
	store   *Store
	publish Publisher
	events  ports.EventBus
}

func NewLoop(cfg Config, store *Store, publish Publisher, events ports.EventBus) *Loop {
	return &Loop{cfg: cfg, store: store, publish: publish, events: events}
}

// Run drains batches every interval until ctx is canceled.
func (l *Loop) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Drain(ctx)
		}
	}
}

// Drain claims and publishes one batch, returning the number of rows
// successfully published.
func (l *Loop) Drain(ctx context.Context) int {
	rows := l.store.claimBatch(l.cfg.PollBudget)
	var published int
	for _, row := range rows {
		if l.cfg.MaxAttempts > 0 && row.RetryCount >= l.cfg.MaxAttempts {
			// dead-lettered on an earlier Drain: not published again
			l.store.release(row.ID)
			continue
		}
		if row.RetryCount > 0 {
			time.Sleep(l.backoffDelay(row.RetryCount))
		}
		err := l.publish(ctx, *row)
		if err != nil {
			if row.RetryCount+1 >= l.cfg.MaxAttempts {
				l.store.markFailed(row.ID, fmt.Sprintf("giving up after %d attempts: %v", row.RetryCount+1, err))
				l.emit("outbox_dead_letter", row.ID, err)
				continue
			}
			l.store.markFailed(row.ID, err.Error())
			l.emit("outbox_retry", row.ID, err)
			continue
		}
		l.store.markPublished(row.ID)
		published++
		l.emit("outbox_published", row.ID, nil)
	}
	return published
}

func (l *Loop) backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := l.cfg.BaseDelay * time.Duration(uint64(1)<<uint(attempt-1))
	if l.cfg.MaxDelay > 0 && delay > l.cfg.MaxDelay {
		delay = l.cfg.MaxDelay
	}
	jitter := time.Duration(rand.Float64() * float64(delay))
	return delay/2 + jitter/2
}

func (l *Loop) emit(name, rowID string, err error) {
	if l.events == nil {
		return
	}
	fields := map[string]any{"row_id": rowID}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.events.Publish(context.Background(), ports.DomainEvent{Category: "outbox", Name: name, Fields: fields})
}
