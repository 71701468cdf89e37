// Package orchestrator glues the gate classifier, cache, extractor engines,
// and backpressure controller into the two operations the core exposes:
// extract (single request, single-flight cached) and extract_stream
// (concurrent, per-stream backpressured). Grounded on the worker-pool,
// retry, and stage-metrics shape of the teacher's internal/pipeline, adapted
// from crawl-result semantics to the gate-and-extract decision tree this
// spec defines.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/riptide-org/riptide/internal/backpressure"
	"github.com/riptide-org/riptide/internal/cache"
	"github.com/riptide-org/riptide/internal/extract"
	"github.com/riptide-org/riptide/internal/gate"
	"github.com/riptide-org/riptide/internal/pool"
	"github.com/riptide-org/riptide/internal/ports"
	"github.com/riptide-org/riptide/internal/render"
	"github.com/riptide-org/riptide/models"
)

type Config struct {
	DefaultTTL    time.Duration
	StreamWorkers int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RetryMaxAttempts int

	// ProbesQualityFloor is the quality_score below which a ProbesFirst
	// decision's raw-extraction result is discarded in favor of a re-run
	// through the headless renderer.
	ProbesQualityFloor float64
}

func DefaultConfig() Config {
	return Config{
		DefaultTTL:       time.Hour,
		StreamWorkers:    8,
		RetryBaseDelay:   200 * time.Millisecond,
		RetryMaxDelay:    5 * time.Second,
		RetryMaxAttempts: 3,
		ProbesQualityFloor: 60,
	}
}

// Orchestrator maps a FetchRequest to an ExtractedDoc: cache lookup, fetch
// on miss, gate classification, dispatch to the selected engine, cache
// write-through, and an outcome event.
type Orchestrator struct {
	cfg Config

	fetcher ports.HttpFetcher
	cache   ports.CacheStore
	gate    *gate.Classifier
	events  ports.EventBus

	raw      *extract.RawExtractor
	fallback *extract.FallbackExtractor
	custom   *extract.CustomExtractor
	wasm     *pool.Pool
	renderer *render.Pool

	bp *backpressure.Controller

	cacheCfg cache.Config
}

func New(
	cfg Config,
	fetcher ports.HttpFetcher,
	cacheStore ports.CacheStore,
	cacheCfg cache.Config,
	gateClassifier *gate.Classifier,
	raw *extract.RawExtractor,
	fallback *extract.FallbackExtractor,
	custom *extract.CustomExtractor,
	wasm *pool.Pool,
	renderer *render.Pool,
	bp *backpressure.Controller,
	events ports.EventBus,
) *Orchestrator {
	return &Orchestrator{
		cfg: cfg, fetcher: fetcher, cache: cacheStore, cacheCfg: cacheCfg,
		gate: gateClassifier, raw: raw, fallback: fallback, custom: custom,
		wasm: wasm, renderer: renderer, bp: bp, events: events,
	}
}

// Extract implements §4.1's extract operation: cache hit returns the
// existing doc unchanged; on miss a single builder runs per key regardless
// of how many concurrent callers ask for it.
func (o *Orchestrator) Extract(ctx context.Context, req models.FetchRequest) (*models.ExtractedDoc, error) {
	if req.URL == "" {
		return nil, models.ErrMissingURL
	}
	fingerprintInput := normalizedOrRaw(req) + "|" + req.Mode.String()
	key := cache.Fingerprint(o.cacheCfg, fingerprintInput, req.CacheMode)

	if req.CacheMode == models.CacheBypass {
		return o.build(ctx, req)
	}

	doc, err := o.cache.SingleFlightBuild(ctx, key, o.cfg.DefaultTTL, func(ctx context.Context) (*models.ExtractedDoc, error) {
		return o.build(ctx, req)
	})
	if err != nil {
		o.emit("extract_failed", req.URL, err)
		return nil, err
	}
	o.emit("extract_succeeded", req.URL, nil)
	return doc, nil
}

func normalizedOrRaw(req models.FetchRequest) string {
	if req.NormalizedURL != "" {
		return req.NormalizedURL
	}
	return req.URL
}

func (o *Orchestrator) build(ctx context.Context, req models.FetchRequest) (*models.ExtractedDoc, error) {
	html, err := o.fetchHTML(ctx, req)
	if err != nil {
		return nil, models.NewPipelineError(models.KindTransient, "fetch", req.URL, err)
	}

	if req.Mode == models.ModeCustom {
		return o.extractCustom(req, html)
	}

	decision := o.gate.Decide(html, req.URL)

	engine := req.Engine
	probesFirst := false
	if engine == models.EngineAuto {
		switch decision.Signal {
		case models.GateHeadless:
			engine = models.EngineHeadless
		case models.GateProbesFirst:
			engine = models.EngineRaw
			probesFirst = true
		case models.GateRaw:
			engine = models.EngineRaw
		}
	}

	switch engine {
	case models.EngineHeadless:
		return o.extractHeadless(ctx, req, html)
	case models.EngineWasm:
		return o.extractWasm(ctx, req, html)
	default:
		doc, err := o.raw.Extract(req.URL, html, req.Mode)
		if err != nil || !probesFirst {
			return doc, err
		}
		return o.escalateIfLowQuality(ctx, req, html, doc)
	}
}

// escalateIfLowQuality is ProbesFirst's quality-gated fallback: a raw
// extraction that scores below the floor gets one re-run through the
// headless renderer, and a single fallback event is emitted regardless of
// whether the re-run actually scores higher.
func (o *Orchestrator) escalateIfLowQuality(ctx context.Context, req models.FetchRequest, html string, rawDoc *models.ExtractedDoc) (*models.ExtractedDoc, error) {
	floor := o.cfg.ProbesQualityFloor
	if floor <= 0 {
		floor = 60
	}
	if rawDoc.QualityScore == nil || *rawDoc.QualityScore >= floor || o.renderer == nil {
		return rawDoc, nil
	}

	escalated, err := o.extractHeadless(ctx, req, html)
	if err != nil {
		return rawDoc, nil
	}
	o.emitFallback(req.URL, *rawDoc.QualityScore, escalated.QualityScore)
	return escalated, nil
}

func (o *Orchestrator) emitFallback(url string, rawScore float64, escalatedScore *float64) {
	if o.events == nil {
		return
	}
	fields := map[string]any{"url": url, "from": "probes_first", "to": "headless", "raw_quality_score": rawScore}
	if escalatedScore != nil {
		fields["escalated_quality_score"] = *escalatedScore
	}
	go o.events.Publish(context.Background(), ports.DomainEvent{Category: "pipeline", Name: "fallback", Fields: fields})
}

func (o *Orchestrator) fetchHTML(ctx context.Context, req models.FetchRequest) (string, error) {
	if o.fetcher == nil {
		return "", fmt.Errorf("orchestrator: no HttpFetcher configured")
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	_, _, body, err := o.fetcher.Get(ctx, req.URL, req.Headers, timeout)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (o *Orchestrator) extractHeadless(ctx context.Context, req models.FetchRequest, fetchedHTML string) (*models.ExtractedDoc, error) {
	if o.renderer == nil {
		return o.raw.Extract(req.URL, fetchedHTML, req.Mode)
	}
	result, err := o.renderer.Render(ctx, req)
	if err != nil {
		// renderer pool rejected the request (backpressure or navigation
		// failure) — fall back to the raw engine on the already-fetched HTML,
		// per §4.9's fallback-ladder rule for Headless-but-rejected requests.
		return o.raw.Extract(req.URL, fetchedHTML, req.Mode)
	}
	if result.Doc != nil {
		return result.Doc, nil
	}
	return o.raw.Extract(req.URL, fetchedHTML, req.Mode)
}

// extractCustom routes Mode=Custom requests to the XPath selector engine.
// req.Selectors is positional — [body, title, date] — rather than a struct,
// matching the generic []string the rest of FetchRequest's Selectors field
// already carries for the WASM path.
func (o *Orchestrator) extractCustom(req models.FetchRequest, html string) (*models.ExtractedDoc, error) {
	if o.custom == nil || len(req.Selectors) == 0 {
		return o.raw.Extract(req.URL, html, req.Mode)
	}
	sel := extract.SelectorSet{Body: req.Selectors[0]}
	if len(req.Selectors) > 1 {
		sel.Title = req.Selectors[1]
	}
	if len(req.Selectors) > 2 {
		sel.Date = req.Selectors[2]
	}
	return o.custom.Extract(req.URL, html, sel)
}

func (o *Orchestrator) extractWasm(ctx context.Context, req models.FetchRequest, html string) (*models.ExtractedDoc, error) {
	if o.wasm == nil {
		return o.raw.Extract(req.URL, html, req.Mode)
	}
	return o.wasm.Extract(ctx, html, req.URL, req.Mode, req.Selectors)
}

func (o *Orchestrator) emit(name, url string, err error) {
	if o.events == nil {
		return
	}
	fields := map[string]any{"url": url}
	if err != nil {
		fields["error"] = err.Error()
	}
	go o.events.Publish(context.Background(), ports.DomainEvent{Category: "pipeline", Name: name, Fields: fields})
}

// ExtractStream implements §4.1's extract_stream operation: a fixed worker
// pool drains requests, each gated by a per-stream backpressure permit when
// a controller is configured; items are emitted as they complete, with a
// terminal Done frame once every request has been accounted for.
func (o *Orchestrator) ExtractStream(ctx context.Context, streamID string, reqs []models.FetchRequest) <-chan models.PipelineItem {
	out := make(chan models.PipelineItem, len(reqs))

	go func() {
		defer close(out)
		var wg sync.WaitGroup
		sem := make(chan struct{}, o.cfg.StreamWorkers)

		for _, req := range reqs {
			select {
			case <-ctx.Done():
				out <- models.PipelineItem{Done: true}
				return
			default:
			}

			var permit *backpressure.Permit
			if o.bp != nil {
				p, err := o.bp.Acquire(streamID, int64(len(req.URL)*4))
				if err != nil {
					out <- models.PipelineItem{URL: req.URL, RecoverableErr: models.NewPipelineError(models.KindResourceExhausted, "backpressure", req.URL, err)}
					continue
				}
				permit = p
			}

			sem <- struct{}{}
			wg.Add(1)
			go func(req models.FetchRequest, permit *backpressure.Permit) {
				defer wg.Done()
				defer func() { <-sem }()
				if permit != nil {
					defer permit.Release()
				}
				doc, err := o.Extract(ctx, req)
				if err != nil {
					var perr *models.PipelineError
					if pe, ok := err.(*models.PipelineError); ok {
						perr = pe
					} else {
						perr = models.NewPipelineError(models.KindTransient, "orchestrator", req.URL, err)
					}
					out <- models.PipelineItem{URL: req.URL, RecoverableErr: perr}
					return
				}
				out <- models.PipelineItem{URL: req.URL, Doc: doc}
			}(req, permit)
		}

		wg.Wait()
		out <- models.PipelineItem{Done: true}
	}()

	return out
}
