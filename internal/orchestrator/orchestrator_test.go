package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riptide-org/riptide/internal/cache"
	"github.com/riptide-org/riptide/internal/extract"
	"github.com/riptide-org/riptide/internal/gate"
	"github.com/riptide-org/riptide/internal/ports"
	"github.com/riptide-org/riptide/internal/render"
	"github.com/riptide-org/riptide/internal/telemetry/events"
	"github.com/riptide-org/riptide/models"
)

type fakeFetcher struct {
	html  string
	calls int
}

func (f *fakeFetcher) Get(_ context.Context, _ string, _ map[string]string, _ time.Duration) (int, map[string]string, []byte, error) {
	f.calls++
	return 200, nil, []byte(f.html), nil
}

func newTestOrchestrator(fetcher *fakeFetcher) *Orchestrator {
	cacheCfg := cache.DefaultConfig()
	cacheStore := cache.New(cacheCfg, nil)
	return New(
		DefaultConfig(), fetcher, cacheStore, cacheCfg,
		gate.New(gate.DefaultThresholds()),
		extract.NewRawExtractor(), extract.NewFallbackExtractor(), extract.NewCustomExtractor(),
		nil, nil, nil, nil,
	)
}

func TestExtractRoutesRawByDefault(t *testing.T) {
	fetcher := &fakeFetcher{html: "<html><body><main><p>hello world</p></main></body></html>"}
	o := newTestOrchestrator(fetcher)

	doc, err := o.Extract(context.Background(), models.FetchRequest{URL: "https://example.com/a"})
	require.NoError(t, err)
	assert.Equal(t, "raw", doc.Engine)
}

func TestExtractCachesSecondCall(t *testing.T) {
	fetcher := &fakeFetcher{html: "<html><body><main><p>hello world</p></main></body></html>"}
	o := newTestOrchestrator(fetcher)

	req := models.FetchRequest{URL: "https://example.com/a"}
	_, err := o.Extract(context.Background(), req)
	require.NoError(t, err)
	_, err = o.Extract(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, fetcher.calls)
}

func TestExtractBypassSkipsCache(t *testing.T) {
	fetcher := &fakeFetcher{html: "<html><body><main><p>hello world</p></main></body></html>"}
	o := newTestOrchestrator(fetcher)

	req := models.FetchRequest{URL: "https://example.com/a", CacheMode: models.CacheBypass}
	_, err := o.Extract(context.Background(), req)
	require.NoError(t, err)
	_, err = o.Extract(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 2, fetcher.calls)
}

func TestExtractCustomModeUsesSelectors(t *testing.T) {
	fetcher := &fakeFetcher{html: `<html><body><div class="body">custom body text</div></body></html>`}
	o := newTestOrchestrator(fetcher)

	req := models.FetchRequest{
		URL:       "https://example.com/a",
		Mode:      models.ModeCustom,
		Selectors: []string{"//div[@class='body']"},
	}
	doc, err := o.Extract(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "custom", doc.Engine)
	assert.Contains(t, doc.Text, "custom body text")
}

func TestExtractMissingURL(t *testing.T) {
	o := newTestOrchestrator(&fakeFetcher{})
	_, err := o.Extract(context.Background(), models.FetchRequest{})
	assert.ErrorIs(t, err, models.ErrMissingURL)
}

func TestExtractStreamEmitsDoneFrame(t *testing.T) {
	fetcher := &fakeFetcher{html: "<html><body><main><p>hello world</p></main></body></html>"}
	o := newTestOrchestrator(fetcher)

	reqs := []models.FetchRequest{
		{URL: "https://example.com/a"},
		{URL: "https://example.com/b"},
	}
	out := o.ExtractStream(context.Background(), "stream-1", reqs)

	var items, done int
	for item := range out {
		if item.Done {
			done++
			continue
		}
		items++
	}
	assert.Equal(t, 2, items)
	assert.Equal(t, 1, done)
}

// TestEscalateIfLowQualityFallsBackToHeadlessAndEmitsEvent exercises the
// ProbesFirst path: a low quality_score raw result with a renderer
// configured re-runs through extractHeadless and the orchestrator emits
// exactly one "fallback" pipeline event. The context passed in is
// already canceled so renderer.Pool's checkout fails fast on ctx.Done()
// rather than trying to spawn a real browser, exercising the orchestrator's
// own fallback-ladder rule (headless rejected -> raw on the fetched HTML)
// along the way.
func TestEscalateIfLowQualityFallsBackToHeadlessAndEmitsEvent(t *testing.T) {
	cacheCfg := cache.DefaultConfig()
	cacheStore := cache.New(cacheCfg, nil)
	bus := events.NewBus(nil)
	// MaxBrowsers: 0 makes the pool's checkout semaphore unbuffered with no
	// receiver, so it can never win the select race against the already
	// canceled ctx below — deterministic failure without spawning a real
	// headless Chrome process.
	renderCfg := render.DefaultConfig()
	renderCfg.MaxBrowsers = 0
	o := New(
		DefaultConfig(), &fakeFetcher{}, cacheStore, cacheCfg,
		gate.New(gate.DefaultThresholds()),
		extract.NewRawExtractor(), extract.NewFallbackExtractor(), extract.NewCustomExtractor(),
		nil, render.New(renderCfg), nil, bus,
	)

	received := make(chan ports.DomainEvent, 1)
	unsubscribe := bus.Subscribe(func(ev ports.DomainEvent) {
		if ev.Category == "pipeline" && ev.Name == "fallback" {
			select {
			case received <- ev:
			default:
			}
		}
	})
	defer unsubscribe()

	lowQuality := 10.0
	rawDoc := &models.ExtractedDoc{URL: "https://example.com/a", Engine: "raw", QualityScore: &lowQuality}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	doc, err := o.escalateIfLowQuality(ctx, models.FetchRequest{URL: "https://example.com/a"}, "<html><body><p>hi</p></body></html>", rawDoc)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "raw", doc.Engine)

	select {
	case ev := <-received:
		assert.Equal(t, "probes_first", ev.Fields["from"])
		assert.Equal(t, "headless", ev.Fields["to"])
	case <-time.After(time.Second):
		t.Fatal("expected a fallback event")
	}
}

func TestEscalateIfLowQualitySkipsWhenQualityMeetsFloor(t *testing.T) {
	o := newTestOrchestrator(&fakeFetcher{})
	highQuality := 90.0
	rawDoc := &models.ExtractedDoc{URL: "https://example.com/a", Engine: "raw", QualityScore: &highQuality}

	doc, err := o.escalateIfLowQuality(context.Background(), models.FetchRequest{URL: "https://example.com/a"}, "<html></html>", rawDoc)
	require.NoError(t, err)
	assert.Same(t, rawDoc, doc)
}

func TestEscalateIfLowQualitySkipsWithoutRenderer(t *testing.T) {
	o := newTestOrchestrator(&fakeFetcher{})
	lowQuality := 5.0
	rawDoc := &models.ExtractedDoc{URL: "https://example.com/a", Engine: "raw", QualityScore: &lowQuality}

	doc, err := o.escalateIfLowQuality(context.Background(), models.FetchRequest{URL: "https://example.com/a"}, "<html></html>", rawDoc)
	require.NoError(t, err)
	assert.Same(t, rawDoc, doc)
}
