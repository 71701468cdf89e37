// Package riptide is the root facade: Engine composes the gate, cache,
// extractor pool, renderer, frontier, job queue, PDF pipeline, and outbox
// subsystems behind the six operations the core exposes. Grounded on the
// teacher's own engine.go facade (Snapshot, TelemetryEvent, EventObserver,
// functional construction options) but rebuilt around RipTide's extraction
// pipeline instead of the teacher's crawl pipeline.
package riptide

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/riptide-org/riptide/internal/backpressure"
	"github.com/riptide-org/riptide/internal/cache"
	"github.com/riptide-org/riptide/internal/extract"
	"github.com/riptide-org/riptide/internal/fetch"
	"github.com/riptide-org/riptide/internal/frontier"
	"github.com/riptide-org/riptide/internal/gate"
	"github.com/riptide-org/riptide/internal/intelligence"
	"github.com/riptide-org/riptide/internal/jobs"
	"github.com/riptide-org/riptide/internal/orchestrator"
	"github.com/riptide-org/riptide/internal/outbox"
	"github.com/riptide-org/riptide/internal/pdfpipe"
	"github.com/riptide-org/riptide/internal/pool"
	"github.com/riptide-org/riptide/internal/ports"
	"github.com/riptide-org/riptide/internal/render"
	"github.com/riptide-org/riptide/internal/telemetry/events"
	"github.com/riptide-org/riptide/internal/telemetry/metrics"
	"github.com/riptide-org/riptide/internal/telemetry/policy"
	"github.com/riptide-org/riptide/models"
)

// Snapshot is a unified view of Engine state, the way the teacher's
// Snapshot aggregated pipeline/limiter/resource metrics into one struct for
// external observers.
type Snapshot struct {
	StartedAt   time.Time          `json:"started_at"`
	Uptime      time.Duration      `json:"uptime"`
	CacheStats  CacheSnapshot      `json:"cache"`
	PoolBreaker ports.BreakerState `json:"pool_breaker"`
	JobsDLQLen  int                `json:"jobs_dlq_len"`
	OutboxPend  int                `json:"outbox_pending"`
	EventBus    events.BusStats    `json:"event_bus"`
}

// CacheSnapshot is the subset of cache state worth exposing externally;
// internal/cache has no stats method of its own yet, so this is populated
// best-effort from what Engine already tracks.
type CacheSnapshot struct {
	ByteBudget int64 `json:"byte_budget"`
}

// ProfileSnapshot answers the supplemented "profiling endpoint" feature: a
// lightweight diagnostics view (allocation/goroutine counts) alongside
// Snapshot, for operators without wiring a full pprof listener.
type ProfileSnapshot struct {
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc_bytes"`
	Sys        uint64 `json:"sys_bytes"`
}

// TelemetryEvent is a reduced, stable event representation for external
// observers, mirroring ports.DomainEvent but flattened for JSON consumers
// that don't want the internal event-bus wiring.
type TelemetryEvent struct {
	Time     time.Time      `json:"time"`
	Category string         `json:"category"`
	Name     string         `json:"name"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// EventObserver receives TelemetryEvent notifications.
type EventObserver func(ev TelemetryEvent)

// Engine is RipTide's root facade: extract, extract_stream, crawl, search,
// render, pdf_extract, plus operational surfaces (Snapshot, job submission,
// event observation).
type Engine struct {
	cfg       Config
	startedAt time.Time

	eventBus events.Bus
	metrics  metrics.Provider

	fetcher      ports.HttpFetcher
	cacheStore   ports.CacheStore
	gateClass    *gate.Classifier
	frontier     *frontier.Frontier
	wasmPool     *pool.Pool
	renderPool   *render.Pool
	bp           *backpressure.Controller
	orchestrator *orchestrator.Orchestrator

	jobsQueue *jobs.Queue
	scheduler *jobs.Scheduler

	pdf *pdfpipe.Pipeline

	outboxStore *outbox.Store
	outboxLoop  *outbox.Loop

	sessions   ports.SessionStorage
	search     ports.SearchProvider
	llm        ports.LlmProvider
	llmLimiter *intelligence.TenantLimiter

	mu        sync.RWMutex
	observers []EventObserver

	policy atomic.Pointer[policy.TelemetryPolicy]

	cancel context.CancelFunc
}

// Option customizes Engine construction, the same "advanced callers inject
// custom implementations" escape hatch the teacher's Config doc comment
// promised but New() here actually implements via functional options
// instead of extra Config fields.
type Option func(*Engine)

func WithHttpFetcher(f ports.HttpFetcher) Option { return func(e *Engine) { e.fetcher = f } }
func WithSearchProvider(p ports.SearchProvider) Option { return func(e *Engine) { e.search = p } }
func WithLlmProvider(p ports.LlmProvider) Option { return func(e *Engine) { e.llm = p } }
func WithSessionStorage(s ports.SessionStorage) Option { return func(e *Engine) { e.sessions = s } }
func WithEventBus(b events.Bus) Option { return func(e *Engine) { e.eventBus = b } }

// New constructs an Engine from cfg, applying opts to override any default
// port implementation before the subsystems that consume them are wired.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg, startedAt: time.Now()}
	for _, opt := range opts {
		opt(e)
	}

	tp := policy.Default().Normalize()
	e.policy.Store(&tp)

	if e.metrics == nil {
		if cfg.MetricsEnabled {
			e.metrics = metrics.Select(cfg.MetricsBackend)
		} else {
			e.metrics = metrics.NewNoopProvider()
		}
	}
	if e.eventBus == nil {
		e.eventBus = events.NewBusWithBuffer(e.metrics, tp.Events.MaxSubscriberBuffer)
	}
	if e.fetcher == nil {
		e.fetcher = fetch.New(cfg.Fetch)
	}
	if e.sessions == nil {
		e.sessions = ports.NewMemorySessionStorage()
	}

	e.cacheStore = cache.New(cfg.Cache, e.eventBus)
	e.gateClass = gate.New(cfg.Gate)
	e.frontier = frontier.New(cfg.Frontier)
	e.bp = backpressure.New(cfg.Backpressure)
	e.pdf = pdfpipe.New(cfg.PDF)

	rawExtractor := extract.NewRawExtractor()
	fallbackExtractor := extract.NewFallbackExtractor()
	customExtractor := extract.NewCustomExtractor()

	nativeFallback := func(_ context.Context, html, url string, _ models.ExtractionMode, _ []string) (*models.ExtractedDoc, error) {
		return fallbackExtractor.Extract(url, html)
	}
	wasmPool, err := pool.New(context.Background(), cfg.Pool, extract.NewWazeroCaller(), nativeFallback, e.eventBus)
	if err != nil {
		return nil, fmt.Errorf("riptide: construct wasm pool: %w", err)
	}
	e.wasmPool = wasmPool

	if cfg.EnableRender {
		e.renderPool = render.New(cfg.Render).WithPostExtract(func(finalURL, html string) (*models.ExtractedDoc, error) {
			return rawExtractor.Extract(finalURL, html, models.ModeArticle)
		})
	}

	e.orchestrator = orchestrator.New(
		cfg.Orchestrator, e.fetcher, e.cacheStore, cfg.Cache, e.gateClass,
		rawExtractor, fallbackExtractor, customExtractor,
		e.wasmPool, e.renderPool, e.bp, e.eventBus,
	)

	e.jobsQueue = jobs.NewQueue(cfg.Jobs, e.runJob, nil)
	e.scheduler = jobs.NewScheduler(e.jobsQueue)

	e.outboxStore = outbox.NewStore()
	e.outboxLoop = outbox.NewLoop(cfg.Outbox, e.outboxStore, e.publishOutboxRow, e.eventBus)

	if e.llm != nil {
		e.llmLimiter = intelligence.NewTenantLimiter(e.llm, "")
	}

	e.eventBus.Subscribe(e.relayToObservers)

	return e, nil
}

// runJob is the jobs.Handler the teacher's pipeline-as-a-job-queue pattern
// calls per dequeued Job: it replays the job's FetchRequest through the
// same Extract path a direct caller would use.
func (e *Engine) runJob(ctx context.Context, job *models.Job) error {
	_, err := e.Extract(ctx, job.Payload)
	return err
}

// publishOutboxRow is the outbox loop's default Publisher: with no real
// downstream configured it re-announces the row on the event bus, so the
// outbox's retry/dead-letter machinery is exercised even without an
// external sink wired up. Operators layer a real Publisher (webhook,
// message broker) over this default by constructing their own
// outbox.Loop against e.OutboxStore().
func (e *Engine) publishOutboxRow(_ context.Context, row models.OutboxRow) error {
	e.eventBus.Publish(context.Background(), ports.DomainEvent{
		Category: "outbox",
		Name:     "relayed",
		Fields:   map[string]any{"event_type": row.EventType, "aggregate_id": row.AggregateID},
	})
	return nil
}

func (e *Engine) relayToObservers(evt ports.DomainEvent) {
	e.mu.RLock()
	observers := append([]EventObserver(nil), e.observers...)
	e.mu.RUnlock()
	if len(observers) == 0 {
		return
	}
	out := TelemetryEvent{Time: evt.At, Category: evt.Category, Name: evt.Name, Fields: evt.Fields}
	for _, obs := range observers {
		if obs != nil {
			obs(out)
		}
	}
}

// RegisterEventObserver registers fn to receive every subsequent telemetry
// event; it returns an unsubscribe func.
func (e *Engine) RegisterEventObserver(fn EventObserver) (unsubscribe func()) {
	e.mu.Lock()
	e.observers = append(e.observers, fn)
	idx := len(e.observers) - 1
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if idx < len(e.observers) {
			e.observers[idx] = nil
		}
	}
}

// Policy returns the Engine's current runtime-tunable telemetry knobs
// (health-probe thresholds, trace sampling, event-bus buffer sizing).
func (e *Engine) Policy() policy.TelemetryPolicy {
	return *e.policy.Load()
}

// UpdateTelemetryPolicy atomically swaps in a new TelemetryPolicy, normalized
// against the same defaults New() applies. Event-bus buffer sizing only takes
// effect for subscribers registered after the swap; existing subscriber
// channels keep the capacity they were created with.
func (e *Engine) UpdateTelemetryPolicy(p policy.TelemetryPolicy) {
	normalized := p.Normalize()
	e.policy.Store(&normalized)
}

// Start launches the background loops (job queue workers, scheduler tick,
// outbox drain) and returns once they are running; it does not block.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	go e.jobsQueue.Run(ctx)
	go e.scheduler.Run(ctx, time.Second)
	go e.outboxLoop.Run(ctx, 500*time.Millisecond)
}

// Stop halts every background loop and releases pooled resources (browser
// contexts, WASM runtime). Safe to call once; a second call is a no-op.
func (e *Engine) Stop(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	if e.renderPool != nil {
		e.renderPool.Close()
	}
	if e.wasmPool != nil {
		return e.wasmPool.Close(ctx)
	}
	return nil
}

// Extract implements §4.1's extract operation.
func (e *Engine) Extract(ctx context.Context, req models.FetchRequest) (*models.ExtractedDoc, error) {
	return e.orchestrator.Extract(ctx, req)
}

// ExtractStream implements §4.1's extract_stream operation.
func (e *Engine) ExtractStream(ctx context.Context, streamID string, reqs []models.FetchRequest) <-chan models.PipelineItem {
	return e.orchestrator.ExtractStream(ctx, streamID, reqs)
}

// CrawlOptions configures the breadth-first crawl operation.
type CrawlOptions struct {
	Mode          models.ExtractionMode
	SameDomain    bool
	RequestDelay  time.Duration
}

// Crawl implements §6's `crawl(seed_url, depth, max_pages, options)`
// operation: a breadth-first walk seeded at seedURL, discovering further
// links from each fetched page's HTML (internal/frontier.DiscoverLinks,
// grounded on the teacher's colly anchor-walk) and deduplicating each
// candidate through internal/frontier when it is dequeued. Each admitted page is
// extracted through the same Extract path a direct caller would use.
func (e *Engine) Crawl(ctx context.Context, seedURL string, depth, maxPages int, opts CrawlOptions) <-chan models.PipelineItem {
	out := make(chan models.PipelineItem, maxPages+1)

	go func() {
		defer close(out)

		type queued struct {
			url   string
			depth int
		}
		queue := []queued{{url: seedURL, depth: 0}}
		visited := 0

		for len(queue) > 0 && visited < maxPages {
			select {
			case <-ctx.Done():
				out <- models.PipelineItem{Done: true}
				return
			default:
			}

			item := queue[0]
			queue = queue[1:]

			ok, err := e.frontier.IsValidForCrawling(item.url)
			if err != nil || !ok {
				continue
			}

			status, _, body, err := e.fetcher.Get(ctx, item.url, nil, 10*time.Second)
			if err != nil {
				out <- models.PipelineItem{URL: item.url, RecoverableErr: models.NewPipelineError(models.KindTransient, "crawl", item.url, err)}
				continue
			}
			visited++
			html := string(body)

			doc, err := e.Extract(ctx, models.FetchRequest{URL: item.url, Mode: opts.Mode, CacheMode: models.CacheWriteThrough})
			if err != nil {
				var perr *models.PipelineError
				if pe, ok := err.(*models.PipelineError); ok {
					perr = pe
				} else {
					perr = models.NewPipelineError(models.KindExtractionFailed, "crawl", item.url, err)
				}
				out <- models.PipelineItem{URL: item.url, RecoverableErr: perr}
			} else {
				out <- models.PipelineItem{URL: item.url, Doc: doc}
			}
			_ = status

			if item.depth >= depth {
				continue
			}
			for _, link := range frontier.DiscoverLinks(item.url, html) {
				if opts.SameDomain && !frontier.SameDomain(seedURL, link) {
					continue
				}
				queue = append(queue, queued{url: link, depth: item.depth + 1})
			}

			if opts.RequestDelay > 0 {
				select {
				case <-ctx.Done():
				case <-time.After(opts.RequestDelay):
				}
			}
		}
		out <- models.PipelineItem{Done: true}
	}()

	return out
}

// Search implements §6's `search(query, limit, country, locale)` operation
// by delegating to an injected ports.SearchProvider; per §1's Non-goals,
// the core ships no search-provider implementation of its own.
func (e *Engine) Search(ctx context.Context, query string, limit int, country, locale string) ([]models.SearchHit, error) {
	if e.search == nil {
		return nil, fmt.Errorf("riptide: no SearchProvider configured")
	}
	return e.search.Search(ctx, query, limit, country, locale)
}

// Render implements §6's `render(url, render_options)` operation directly
// against the browser pool, bypassing the gate (the caller has already
// decided headless rendering is wanted).
func (e *Engine) Render(ctx context.Context, req models.FetchRequest) (*models.DynamicRenderResult, error) {
	if e.renderPool == nil {
		return nil, fmt.Errorf("riptide: render pool disabled (Config.EnableRender=false)")
	}
	return e.renderPool.Render(ctx, req)
}

// CompleteLlm answers a prompt through the injected LlmProvider, gated by
// tenantID's rolling request/token/cost budget when one is configured. It
// errors if no LlmProvider was supplied at construction (WithLlmProvider).
func (e *Engine) CompleteLlm(ctx context.Context, tenantID, prompt string, maxTokens int) (string, error) {
	if e.llmLimiter != nil {
		return e.llmLimiter.Complete(ctx, tenantID, prompt, maxTokens)
	}
	if e.llm == nil {
		return "", fmt.Errorf("riptide: no LlmProvider configured")
	}
	return e.llm.Complete(ctx, prompt, maxTokens)
}

// PdfExtract implements §6's `pdf_extract(bytes, options)` operation.
func (e *Engine) PdfExtract(data []byte, url string, onProgress pdfpipe.ProgressFunc) (*models.PdfProcessingResult, error) {
	return e.pdf.Extract(url, data, onProgress)
}

// SubmitJob enqueues a FetchRequest for asynchronous extraction via the job
// queue under the caller-supplied id; it returns only the enqueue error.
func (e *Engine) SubmitJob(ctx context.Context, id string, priority int, req models.FetchRequest) error {
	return e.jobsQueue.Submit(ctx, &models.Job{ID: id, Priority: priority, ScheduledAt: time.Now(), Payload: req, Status: models.JobPending})
}

// ScheduleJob registers a cron-driven job template with the scheduler.
func (e *Engine) ScheduleJob(job *models.ScheduledJob) error {
	return e.scheduler.Add(job)
}

// Sessions exposes the configured SessionStorage port for callers that need
// direct access (e.g. a CLI resume command).
func (e *Engine) Sessions() ports.SessionStorage { return e.sessions }

// OutboxStore exposes the outbox's row store so a caller can enqueue its own
// durable events or swap in a real downstream Publisher.
func (e *Engine) OutboxStore() *outbox.Store { return e.outboxStore }

// Snapshot returns a point-in-time view of Engine state.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		StartedAt:   e.startedAt,
		Uptime:      time.Since(e.startedAt),
		CacheStats:  CacheSnapshot{ByteBudget: e.cfg.Cache.ByteBudget},
		PoolBreaker: e.wasmPool.BreakerState(),
		JobsDLQLen:  len(e.jobsQueue.DLQ()),
		OutboxPend:  e.outboxStore.Pending(),
		EventBus:    e.eventBus.Stats(),
	}
}

// ProfileSnapshot answers the supplemented profiling-endpoint feature.
func (e *Engine) ProfileSnapshot() ProfileSnapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return ProfileSnapshot{Goroutines: runtime.NumGoroutine(), HeapAlloc: m.HeapAlloc, Sys: m.Sys}
}
