// Package events is the in-process event bus: per-subscriber FIFO delivery
// over a bounded buffered channel, with publishes that never block on a slow
// subscriber. A full subscriber buffer drops the event and increments that
// subscriber's drop counter instead of stalling the publisher.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/riptide-org/riptide/internal/ports"
	"github.com/riptide-org/riptide/internal/telemetry/metrics"
	"github.com/riptide-org/riptide/internal/telemetry/tracing"
)

const (
	CategoryGate           = "gate"
	CategoryPool           = "pool"
	CategoryCache          = "cache"
	CategoryFrontier       = "frontier"
	CategoryRender         = "render"
	CategoryBackpressure   = "backpressure"
	CategoryJobs           = "jobs"
	CategoryCircuitBreaker = "circuit_breaker"
	CategoryPipeline       = "pipeline"
	CategoryError          = "error"
	CategoryHealth         = "health"
)

type BusStats struct {
	Subscribers        int64
	Published          uint64
	Dropped            uint64
	PerSubscriberDrops map[int64]uint64
}

// Bus is the concrete, richer surface; it also satisfies ports.EventBus.
type Bus interface {
	ports.EventBus
	Stats() BusStats
}

func NewBus(provider metrics.Provider) Bus {
	return NewBusWithBuffer(provider, 64)
}

// NewBusWithBuffer builds a Bus whose per-subscriber channel holds
// bufferSize pending events before publishes start dropping, letting a
// caller size the bus from telemetry/policy.TelemetryPolicy.Events
// (MaxSubscriberBuffer) rather than the 64-event default.
func NewBusWithBuffer(provider metrics.Provider, bufferSize int) Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	b := &bus{subs: make(map[int64]*subscriber), provider: provider, bufferSize: bufferSize}
	b.initMetrics()
	return b
}

type bus struct {
	mu        sync.RWMutex
	subs      map[int64]*subscriber
	nextID    int64
	published atomic.Uint64
	dropped   atomic.Uint64

	bufferSize int
	provider   metrics.Provider
	mPublished metrics.Counter
	mDropped   metrics.Counter
}

type subscriber struct {
	id      int64
	ch      chan ports.DomainEvent
	stop    chan struct{}
	dropped atomic.Uint64
	idLabel string
}

func (b *bus) initMetrics() {
	if b.provider == nil {
		return
	}
	b.mPublished = b.provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "riptide", Subsystem: "events", Name: "published_total", Help: "total events published"}})
	b.mDropped = b.provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "riptide", Subsystem: "events", Name: "dropped_total", Help: "total events dropped due to subscriber backpressure", Labels: []string{"subscriber"}}})
}

func (b *bus) Publish(ctx context.Context, evt ports.DomainEvent) {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	if traceID, spanID := tracing.ExtractIDs(ctx); traceID != "" || spanID != "" {
		if evt.Fields == nil {
			evt.Fields = make(map[string]any)
		}
		evt.Fields["trace_id"] = traceID
		evt.Fields["span_id"] = spanID
	}

	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	b.published.Add(1)
	if b.mPublished != nil {
		b.mPublished.Inc(1)
	}
	for _, s := range subs {
		select {
		case s.ch <- evt:
		default:
			s.dropped.Add(1)
			b.dropped.Add(1)
			if b.mDropped != nil {
				b.mDropped.Inc(1, s.idLabel)
			}
		}
	}
}

// Subscribe starts a dedicated goroutine draining the subscriber's buffered
// channel into handler, so a slow handler only ever risks its own drops,
// never another subscriber's delivery.
func (b *bus) Subscribe(handler ports.EventHandler) func() {
	id := atomic.AddInt64(&b.nextID, 1)
	sub := &subscriber{id: id, ch: make(chan ports.DomainEvent, b.bufferSize), stop: make(chan struct{}), idLabel: formatSubscriberID(id)}

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		for {
			select {
			case evt := <-sub.ch:
				handler(evt)
			case <-sub.stop:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.stop)
		})
	}
}

func (b *bus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	stats := BusStats{Subscribers: int64(len(b.subs)), Published: b.published.Load(), Dropped: b.dropped.Load(), PerSubscriberDrops: make(map[int64]uint64)}
	for id, s := range b.subs {
		stats.PerSubscriberDrops[id] = s.dropped.Load()
	}
	return stats
}

func formatSubscriberID(id int64) string {
	if id == 0 {
		return "0"
	}
	var digits [20]byte
	i := len(digits)
	for id > 0 {
		i--
		digits[i] = byte('0' + (id % 10))
		id /= 10
	}
	return string(digits[i:])
}
