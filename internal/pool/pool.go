// Package pool is the sandboxed WASM extractor pool: one compiled wazero
// module called under a semaphore, a circuit breaker, and a per-call epoch
// deadline so a runaway extraction is forcibly interrupted rather than left
// to hang. The pool keeps per-instance use and failure counts, not live
// module instances: every call is handed the runtime and the compiled
// module, and no instance is pre-warmed. Grounded on the module-compile/instantiate
// lifecycle of the WASIO orchestrator (other_examples) and on the
// semaphore + queue discipline of the engine's resource manager.
package pool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/riptide-org/riptide/internal/breaker"
	"github.com/riptide-org/riptide/internal/ports"
	"github.com/riptide-org/riptide/models"
)

func readWasm(path string) ([]byte, error) { return os.ReadFile(path) }

type Config struct {
	WasmPath        string
	MaxPoolSize     int
	MemoryPagesCap  uint32
	EpochTimeout    time.Duration
	AcquireTimeout  time.Duration
	MaxUseCount     int
	MaxFailureCount int
	HealthMemCap    uint32
}

func DefaultConfig() Config {
	return Config{
		MaxPoolSize:     8,
		MemoryPagesCap:  256, // 16MB in 64KiB wasm pages
		EpochTimeout:    5 * time.Second,
		AcquireTimeout:  2 * time.Second,
		MaxUseCount:     1000,
		MaxFailureCount: 5,
		HealthMemCap:    256,
	}
}

// instance holds the bookkeeping the health predicate reads: an instance is
// healthy while use_count < MaxUseCount ∧ failure_count < MaxFailureCount ∧
// grow_failures < 10. Memory use is not tracked and plays no part in the
// check.
type instance struct {
	id           uint64
	createdAt    time.Time
	lastUsed     time.Time
	useCount     int
	failureCount int
	growFailures int
}

func (i *instance) healthy(cfg Config) bool {
	return i.useCount < cfg.MaxUseCount &&
		i.failureCount < cfg.MaxFailureCount &&
		i.growFailures < 10
}

// Extractor converts a raw WASM-produced payload into the canonical doc
// shape. Kept as an injectable function so the pool doesn't need to know the
// wire format a particular extractor component exports.
type Extractor func(ctx context.Context, runtime wazero.Runtime, mod wazero.CompiledModule, html, url string, mode models.ExtractionMode, selectors []string) (*models.ExtractedDoc, error)

// Pool dispatches extraction calls under a semaphore, reusing the
// bookkeeping records of healthy instances, and falls back to
// nativeFallback when the circuit is open, the pool is exhausted, or the
// call times out.
type Pool struct {
	cfg     Config
	runtime wazero.Runtime
	module  wazero.CompiledModule
	extract Extractor

	sem chan struct{}

	mu        sync.Mutex
	available []*instance
	nextID    uint64

	br     *breaker.Breaker
	events ports.EventBus

	nativeFallback func(ctx context.Context, html, url string, mode models.ExtractionMode, selectors []string) (*models.ExtractedDoc, error)
}

// New compiles the WASM artifact (if WasmPath is set) and returns a ready
// pool. When WasmPath is empty the pool operates in native-only mode per the
// fallback ladder's "runtime availability" tier (§4.9.2): every call goes
// straight to nativeFallback.
func New(ctx context.Context, cfg Config, extract Extractor, nativeFallback func(ctx context.Context, html, url string, mode models.ExtractionMode, selectors []string) (*models.ExtractedDoc, error), events ports.EventBus) (*Pool, error) {
	p := &Pool{
		cfg:            cfg,
		extract:        extract,
		sem:            make(chan struct{}, cfg.MaxPoolSize),
		br:             breaker.New(breaker.DefaultConfig(), events),
		events:         events,
		nativeFallback: nativeFallback,
	}
	if cfg.WasmPath == "" {
		return p, nil
	}

	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("pool: instantiate wasi: %w", err)
	}
	bytes, err := readWasm(cfg.WasmPath)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("pool: read wasm artifact: %w", err)
	}
	mod, err := rt.CompileModule(ctx, bytes)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("pool: compile wasm module: %w", err)
	}
	p.runtime = rt
	p.module = mod
	return p, nil
}

func (p *Pool) Close(ctx context.Context) error {
	if p.runtime != nil {
		return p.runtime.Close(ctx)
	}
	return nil
}

// Extract is the per-call protocol described in §4.3: circuit check, bounded
// semaphore acquire, instance pop/create, fresh-resource-store call with an
// epoch deadline, outcome recording, and fallback on any failure tier.
func (p *Pool) Extract(ctx context.Context, html, url string, mode models.ExtractionMode, selectors []string) (*models.ExtractedDoc, error) {
	if p.runtime == nil {
		return p.fallback(ctx, html, url, mode, selectors)
	}

	if !p.br.TryCall(ctx) {
		return p.fallback(ctx, html, url, mode, selectors)
	}

	acquireCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()
	select {
	case p.sem <- struct{}{}:
	case <-acquireCtx.Done():
		return p.fallback(ctx, html, url, mode, selectors)
	}
	defer func() { <-p.sem }()

	inst := p.popOrCreate()

	callCtx, cancelEpoch := context.WithTimeout(ctx, p.cfg.EpochTimeout)
	defer cancelEpoch()

	start := time.Now()
	doc, err := p.extract(callCtx, p.runtime, p.module, html, url, mode, selectors)
	duration := time.Since(start)

	inst.useCount++
	inst.lastUsed = time.Now()

	switch {
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		inst.failureCount++
		p.br.OnFailure(ctx, duration)
		p.emit("epoch_timeout", url)
		return p.fallback(ctx, html, url, mode, selectors)
	case err != nil:
		inst.failureCount++
		p.br.OnFailure(ctx, duration)
		if inst.healthy(p.cfg) {
			p.returnInstance(inst)
		}
		return p.fallback(ctx, html, url, mode, selectors)
	default:
		p.br.OnSuccess(ctx, duration)
		if inst.healthy(p.cfg) {
			p.returnInstance(inst)
		}
		return doc, nil
	}
}

func (p *Pool) fallback(ctx context.Context, html, url string, mode models.ExtractionMode, selectors []string) (*models.ExtractedDoc, error) {
	if p.nativeFallback == nil {
		return nil, models.NewPipelineError(models.KindExtractionFailed, "pool", url, errors.New("no fallback extractor configured"))
	}
	return p.nativeFallback(ctx, html, url, mode, selectors)
}

func (p *Pool) popOrCreate() *instance {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.available) > 0 {
		n := len(p.available) - 1
		cand := p.available[n]
		p.available = p.available[:n]
		if cand.healthy(p.cfg) {
			return cand
		}
	}
	p.nextID++
	return &instance{id: p.nextID, createdAt: time.Now()}
}

func (p *Pool) returnInstance(inst *instance) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.available = append(p.available, inst)
}

func (p *Pool) emit(name, url string) {
	if p.events == nil {
		return
	}
	go p.events.Publish(context.Background(), ports.DomainEvent{Category: "pool", Name: name, Fields: map[string]any{"url": url}})
}

func (p *Pool) BreakerState() ports.BreakerState { return p.br.State() }
