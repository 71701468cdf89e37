// Package cache is the content-addressed cache layer: a CacheKey
// fingerprints (normalized_url, mode, extractor_engine_version) so an
// extractor upgrade invalidates automatically, entries are single-flighted
// across concurrent callers, and eviction runs LRU over a byte budget with a
// per-entry TTL. Grounded on the same container/list LRU discipline the
// engine's resource manager uses for its page cache, generalized to a
// content-addressed key space with single-flight builds.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"lukechampine.com/blake3"

	"github.com/riptide-org/riptide/internal/ports"
	"github.com/riptide-org/riptide/models"
)

type Config struct {
	Prefix        string
	EngineVersion string
	ByteBudget    int64
	DefaultTTL    time.Duration
}

func DefaultConfig() Config {
	return Config{Prefix: "riptide", EngineVersion: "v1", ByteBudget: 256 << 20, DefaultTTL: time.Hour}
}

// Fingerprint builds the CacheKey for a normalized URL and mode.
func Fingerprint(cfg Config, normalizedURL string, mode models.CacheMode) models.CacheKey {
	h := blake3.New(32, nil)
	_, _ = h.Write([]byte(normalizedURL))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(mode.String()))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(cfg.EngineVersion))
	sum := h.Sum(nil)
	return models.CacheKey{
		Prefix:  cfg.Prefix,
		Version: cfg.EngineVersion,
		Mode:    mode,
		Digest:  fmt.Sprintf("%x", sum[:8]),
	}
}

type entry struct {
	key   models.CacheKey
	doc   *models.ExtractedDoc
	size  int64
	stamp time.Time
	ttl   time.Duration
}

// Cache implements ports.CacheStore with LRU+byte-budget eviction and
// single-flighted builders.
type Cache struct {
	cfg Config

	mu    sync.Mutex
	lru   *list.List
	index map[string]*list.Element
	bytes int64

	group  singleflight.Group
	events ports.EventBus
}

func New(cfg Config, events ports.EventBus) *Cache {
	return &Cache{cfg: cfg, lru: list.New(), index: make(map[string]*list.Element), events: events}
}

func (c *Cache) Get(_ context.Context, key models.CacheKey) (*models.CacheEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[key.String()]
	if !ok {
		return nil, false, nil
	}
	e := el.Value.(*entry)
	if e.expired(time.Now()) {
		c.removeLocked(el)
		return nil, false, nil
	}
	c.lru.MoveToFront(el)
	return &models.CacheEntry{Key: e.key, Doc: e.doc, CreatedAt: e.stamp, TTL: e.ttl}, true, nil
}

func (e *entry) expired(now time.Time) bool {
	if e.ttl <= 0 {
		return false
	}
	return !now.Before(e.stamp.Add(e.ttl))
}

func (c *Cache) PutWithTTL(_ context.Context, key models.CacheKey, doc *models.ExtractedDoc, ttl time.Duration) error {
	if doc == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	size := estimateSize(doc)

	c.mu.Lock()
	defer c.mu.Unlock()
	k := key.String()
	if el, ok := c.index[k]; ok {
		old := el.Value.(*entry)
		c.bytes += size - old.size
		el.Value = &entry{key: key, doc: doc, size: size, stamp: time.Now(), ttl: ttl}
		c.lru.MoveToFront(el)
	} else {
		el := c.lru.PushFront(&entry{key: key, doc: doc, size: size, stamp: time.Now(), ttl: ttl})
		c.index[k] = el
		c.bytes += size
	}
	c.evictToBudgetLocked()
	return nil
}

// SingleFlightBuild guarantees at most one concurrent build per key: the
// first caller becomes the builder and its result is broadcast to every
// concurrent waiter on the same key.
func (c *Cache) SingleFlightBuild(ctx context.Context, key models.CacheKey, ttl time.Duration, build func(ctx context.Context) (*models.ExtractedDoc, error)) (*models.ExtractedDoc, error) {
	if cached, ok, err := c.Get(ctx, key); err == nil && ok {
		return cached.Doc, nil
	}

	k := key.String()
	v, err, _ := c.group.Do(k, func() (interface{}, error) {
		doc, err := build(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.PutWithTTL(ctx, key, doc, ttl); err != nil {
			return nil, err
		}
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.ExtractedDoc), nil
}

func (c *Cache) evictToBudgetLocked() {
	if c.cfg.ByteBudget <= 0 {
		return
	}
	// The newest entry is kept even when it alone exceeds the budget.
	for c.bytes > c.cfg.ByteBudget && c.lru.Len() > 1 {
		back := c.lru.Back()
		if back == nil {
			return
		}
		c.removeLocked(back)
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	delete(c.index, e.key.String())
	c.lru.Remove(el)
	c.bytes -= e.size
	if c.events != nil {
		go c.events.Publish(context.Background(), ports.DomainEvent{Category: "cache", Name: "evicted", Fields: map[string]any{"key": e.key.String()}})
	}
}

func estimateSize(doc *models.ExtractedDoc) int64 {
	return int64(len(doc.Markdown) + len(doc.Text) + len(doc.Title) + 256)
}

var _ ports.CacheStore = (*Cache)(nil)
