// Package ports defines the small, fully-specified interfaces riptide's core
// consumes from its surrounding infrastructure: fetching, caching, session
// storage, eventing, circuit breaking, search and (optionally) LLM access.
// Each has at least one in-memory reference adapter suitable for tests and
// for running without external dependencies.
package ports

import (
	"context"
	"time"

	"github.com/riptide-org/riptide/models"
)

// HttpFetcher performs the single blocking network call the pipeline needs:
// fetching a URL's body and response metadata.
type HttpFetcher interface {
	Get(ctx context.Context, url string, headers map[string]string, timeout time.Duration) (status int, respHeaders map[string]string, body []byte, err error)
}

// CacheStore is the contract the cache layer exposes to its callers.
type CacheStore interface {
	Get(ctx context.Context, key models.CacheKey) (*models.CacheEntry, bool, error)
	PutWithTTL(ctx context.Context, key models.CacheKey, doc *models.ExtractedDoc, ttl time.Duration) error
	SingleFlightBuild(ctx context.Context, key models.CacheKey, ttl time.Duration, build func(ctx context.Context) (*models.ExtractedDoc, error)) (*models.ExtractedDoc, error)
}

// SessionRecord is an opaque, caller-defined payload keyed by session id.
type SessionRecord struct {
	ID        string
	Payload   []byte
	ExpiresAt time.Time
}

// SessionStorage persists ephemeral session state (e.g. browser checkout
// contexts, resumable crawl cursors).
type SessionStorage interface {
	Get(ctx context.Context, id string) (*SessionRecord, error)
	Save(ctx context.Context, rec *SessionRecord) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
	CleanupExpired(ctx context.Context, now time.Time) (int, error)
}

// DomainEvent is the payload published on the EventBus.
type DomainEvent struct {
	Category  string
	Name      string
	At        time.Time
	Fields    map[string]any
}

// EventHandler receives published events; it must not block the publisher
// for long, since delivery is best-effort and bounded per subscriber.
type EventHandler func(DomainEvent)

// EventBus publishes domain events to subscribers with per-subscriber FIFO,
// bounded buffering, and documented drop-on-lag behavior.
type EventBus interface {
	Publish(ctx context.Context, evt DomainEvent)
	Subscribe(handler EventHandler) (unsubscribe func())
}

// BreakerState mirrors models.CircuitBreakerState's three phases without
// importing the sum-type encoding directly, so callers needn't branch on it
// when all they want is a coarse state name.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// CircuitBreaker is the canonical three-phase-lock-discipline interface: a
// caller asks whether a call is allowed, makes the call, then reports the
// outcome so state and metrics advance independently of each other.
type CircuitBreaker interface {
	TryCall(ctx context.Context) (allowed bool)
	OnSuccess(ctx context.Context, duration time.Duration)
	OnFailure(ctx context.Context, duration time.Duration)
	State() BreakerState
	Stats() BreakerStats
	Reset()
}

type BreakerStats struct {
	State       BreakerState
	Failures    int
	Successes   int
	OpenedAt    time.Time
	LastFailure time.Time
}

// SearchProvider backs the `search` facade operation.
type SearchProvider interface {
	Search(ctx context.Context, query string, limit int, country, locale string) ([]models.SearchHit, error)
	HealthCheck(ctx context.Context) error
	BackendType() string
}

// LlmProvider is an optional port: when absent, intelligence features (cost
// estimation, summarization) are simply unavailable.
type LlmProvider interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	Capabilities() []string
	EstimateCost(ctx context.Context, prompt string, maxTokens int) (float64, error)
}
