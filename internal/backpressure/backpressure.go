// Package backpressure implements the streaming backpressure controller:
// per-stream and global semaphores over item count and byte volume, plus an
// optional adaptive throttling monitor that samples memory/item pressure and
// sets a throttle-until deadline on every stream when pressure crosses a
// threshold.
package backpressure

import (
	"context"
	"sync"
	"time"

	"github.com/riptide-org/riptide/models"
)

type Config struct {
	PerStreamCap     int
	GlobalItemCap    int
	GlobalByteCapKB  int64
	CheckInterval    time.Duration
	ActivationRatio  float64
	WarningRatio     float64
	CriticalRatio    float64
	InactiveEviction time.Duration
}

func DefaultConfig() Config {
	return Config{
		PerStreamCap:     64,
		GlobalItemCap:    2048,
		GlobalByteCapKB:  512 << 10, // 512MB
		CheckInterval:    time.Second,
		ActivationRatio:  0.8,
		WarningRatio:     0.7,
		CriticalRatio:    0.95,
		InactiveEviction: 5 * time.Minute,
	}
}

type Status int

const (
	StatusNormal Status = iota
	StatusWarning
	StatusThrottled
	StatusCritical
)

type streamState struct {
	inFlight     int
	bytesKB      int64
	lastActivity time.Time
	throttleUntil time.Time
}

// Permit releases all acquired resources exactly once, regardless of
// whether Release is called directly or via a panic-recovering defer at the
// call site.
type Permit struct {
	release func()
	once    sync.Once
}

func (p *Permit) Release() {
	p.once.Do(func() {
		if p.release != nil {
			p.release()
		}
	})
}

// Controller governs admission across all active streams.
type Controller struct {
	cfg Config

	globalItems chan struct{}
	globalBytes chan struct{} // ticket pool, 1KB granularity

	mu      sync.Mutex
	streams map[string]*streamState

	clock func() time.Time
}

func New(cfg Config) *Controller {
	c := &Controller{
		cfg:         cfg,
		globalItems: make(chan struct{}, cfg.GlobalItemCap),
		globalBytes: make(chan struct{}, cfg.GlobalByteCapKB),
		streams:     make(map[string]*streamState),
		clock:       time.Now,
	}
	return c
}

// Acquire implements the five-step admission protocol from §4.7.
func (c *Controller) Acquire(streamID string, estimatedBytes int64) (*Permit, error) {
	now := c.clock()

	c.mu.Lock()
	st, ok := c.streams[streamID]
	if !ok {
		st = &streamState{}
		c.streams[streamID] = st
	}
	if now.Before(st.throttleUntil) {
		c.mu.Unlock()
		return nil, models.ErrBackpressure
	}
	if st.inFlight >= c.cfg.PerStreamCap {
		c.mu.Unlock()
		return nil, models.ErrBackpressure
	}
	c.mu.Unlock()

	select {
	case c.globalItems <- struct{}{}:
	default:
		return nil, models.ErrBackpressure
	}

	kbTickets := int(ceilKB(estimatedBytes))
	acquired := make([]struct{}, 0, kbTickets)
	for i := 0; i < kbTickets; i++ {
		select {
		case c.globalBytes <- struct{}{}:
			acquired = append(acquired, struct{}{})
		default:
			for range acquired {
				<-c.globalBytes
			}
			<-c.globalItems
			return nil, models.ErrBackpressure
		}
	}

	c.mu.Lock()
	st.inFlight++
	st.bytesKB += int64(kbTickets)
	st.lastActivity = now
	c.mu.Unlock()

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		c.mu.Lock()
		st.inFlight--
		st.bytesKB -= int64(kbTickets)
		c.mu.Unlock()
		<-c.globalItems
		for i := 0; i < kbTickets; i++ {
			<-c.globalBytes
		}
	}
	return &Permit{release: release}, nil
}

func ceilKB(bytes int64) int64 {
	if bytes <= 0 {
		return 0
	}
	return (bytes + 1023) / 1024
}

// Status computes the current pressure bucket from the max of memory and
// item usage ratios against the configured thresholds.
func (c *Controller) Status(memoryUsageRatio float64) Status {
	itemsRatio := float64(len(c.globalItems)) / float64(cap(c.globalItems))
	ratio := memoryUsageRatio
	if itemsRatio > ratio {
		ratio = itemsRatio
	}
	switch {
	case ratio >= c.cfg.CriticalRatio:
		return StatusCritical
	case ratio >= c.cfg.ActivationRatio:
		return StatusThrottled
	case ratio >= c.cfg.WarningRatio:
		return StatusWarning
	default:
		return StatusNormal
	}
}

// Monitor runs the adaptive throttling loop until ctx is canceled: on each
// tick it samples status via memSample and, if non-Normal, sets
// throttle_until for every stream to a state-dependent delay; it also evicts
// streams that have been inactive beyond InactiveEviction.
func (c *Controller) Monitor(ctx context.Context, memSample func() float64) {
	interval := c.cfg.CheckInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(memSample())
		}
	}
}

func (c *Controller) tick(mem float64) {
	status := c.Status(mem)
	now := c.clock()

	var delay time.Duration
	switch status {
	case StatusWarning:
		delay = 250 * time.Millisecond
	case StatusThrottled:
		delay = time.Second
	case StatusCritical:
		delay = 5 * time.Second
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, st := range c.streams {
		if delay > 0 {
			st.throttleUntil = now.Add(delay)
		}
		if now.Sub(st.lastActivity) >= c.cfg.InactiveEviction {
			delete(c.streams, id)
		}
	}
}
