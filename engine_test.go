package riptide

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riptide-org/riptide/internal/fetch"
	"github.com/riptide-org/riptide/internal/ports"
	"github.com/riptide-org/riptide/internal/testutil/httpmock"
	"github.com/riptide-org/riptide/models"
)

func testConfig() Config {
	cfg := Defaults()
	cfg.EnableRender = false // no real browser available under test
	return cfg
}

func TestNewAppliesDefaultsAndValidates(t *testing.T) {
	eng, err := New(testConfig())
	require.NoError(t, err)
	require.NotNil(t, eng)
	defer func() { _ = eng.Stop(context.Background()) }()
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Jobs.Workers = 0
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestExtractRoutesThroughOrchestrator(t *testing.T) {
	fetcher := &stubFetcher{html: "<html><body><main><p>hello there</p></main></body></html>"}
	eng, err := New(testConfig(), WithHttpFetcher(fetcher))
	require.NoError(t, err)
	defer func() { _ = eng.Stop(context.Background()) }()

	doc, err := eng.Extract(context.Background(), models.FetchRequest{URL: "https://example.com/a"})
	require.NoError(t, err)
	assert.Equal(t, "raw", doc.Engine)
}

func TestExtractStreamEmitsOneItemPerRequestPlusDone(t *testing.T) {
	fetcher := &stubFetcher{html: "<html><body><main><p>hello there</p></main></body></html>"}
	eng, err := New(testConfig(), WithHttpFetcher(fetcher))
	require.NoError(t, err)
	defer func() { _ = eng.Stop(context.Background()) }()

	reqs := []models.FetchRequest{{URL: "https://example.com/a"}, {URL: "https://example.com/b"}}
	out := eng.ExtractStream(context.Background(), "s1", reqs)

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

func TestSearchWithoutProviderErrors(t *testing.T) {
	eng, err := New(testConfig())
	require.NoError(t, err)
	defer func() { _ = eng.Stop(context.Background()) }()

	_, err = eng.Search(context.Background(), "q", 10, "", "")
	assert.Error(t, err)
}

func TestRenderDisabledErrors(t *testing.T) {
	eng, err := New(testConfig())
	require.NoError(t, err)
	defer func() { _ = eng.Stop(context.Background()) }()

	_, err = eng.Render(context.Background(), models.FetchRequest{URL: "https://example.com/a"})
	assert.Error(t, err)
}

func TestCrawlDiscoversLinkedPages(t *testing.T) {
	fetcher := &seedFetcher{
		pages: map[string]string{
			"https://example.com/":  `<html><body><a href="/child">child</a><main><p>root content</p></main></body></html>`,
			"https://example.com/child": `<html><body><main><p>child content</p></main></body></html>`,
		},
	}
	eng, err := New(testConfig(), WithHttpFetcher(fetcher))
	require.NoError(t, err)
	defer func() { _ = eng.Stop(context.Background()) }()

	out := eng.Crawl(context.Background(), "https://example.com/", 1, 10, CrawlOptions{SameDomain: true})

	var urls []string
	for item := range out {
		if item.Done {
			continue
		}
		urls = append(urls, item.URL)
	}
	assert.ElementsMatch(t, []string{"https://example.com/", "https://example.com/child"}, urls)
}

// TestCrawlOverRealHTTPServer runs the crawl end-to-end over a real HTTP
// server instead of a stubbed ports.HttpFetcher, so the fetch package's
// net/http client, header handling and robots.txt check (the mock server's
// "/" route matches any path containing "/", so /robots.txt is answered with
// the root page's HTML, which holds no robots rules and allows every path)
// are exercised the same way a live target site would hit them.
func TestCrawlOverRealHTTPServer(t *testing.T) {
	mock := httpmock.NewServer([]httpmock.RouteSpec{
		{Pattern: "/child", Body: `<html><body><main><p>child content</p></main></body></html>`},
		{Pattern: "/", Body: `<html><body><a href="/child">child</a><main><p>root content</p></main></body></html>`},
	})
	defer mock.Close()

	fetcher := fetch.New(fetch.Config{UserAgent: "riptide-test/1.0", RespectRobots: true, MaxBodyBytes: 1 << 20})
	eng, err := New(testConfig(), WithHttpFetcher(fetcher))
	require.NoError(t, err)
	defer func() { _ = eng.Stop(context.Background()) }()

	out := eng.Crawl(context.Background(), mock.URL()+"/", 1, 10, CrawlOptions{SameDomain: true})

	var urls []string
	for item := range out {
		if item.Done {
			continue
		}
		urls = append(urls, item.URL)
	}
	assert.ElementsMatch(t, []string{mock.URL() + "/", mock.URL() + "/child"}, urls)
}

func TestSnapshotReportsUptime(t *testing.T) {
	eng, err := New(testConfig())
	require.NoError(t, err)
	defer func() { _ = eng.Stop(context.Background()) }()

	time.Sleep(5 * time.Millisecond)
	snap := eng.Snapshot()
	assert.Greater(t, snap.Uptime, time.Duration(0))
}

func TestRegisterEventObserverReceivesExtractEvents(t *testing.T) {
	fetcher := &stubFetcher{html: "<html><body><main><p>hello there</p></main></body></html>"}
	eng, err := New(testConfig(), WithHttpFetcher(fetcher))
	require.NoError(t, err)
	defer func() { _ = eng.Stop(context.Background()) }()

	ch := make(chan TelemetryEvent, 4)
	unsubscribe := eng.RegisterEventObserver(func(ev TelemetryEvent) {
		if ev.Category == "pipeline" {
			select {
			case ch <- ev:
			default:
			}
		}
	})
	defer unsubscribe()

	_, err = eng.Extract(context.Background(), models.FetchRequest{URL: "https://example.com/a"})
	require.NoError(t, err)

	select {
	case ev := <-ch:
		assert.Equal(t, "pipeline", ev.Category)
	case <-time.After(time.Second):
		t.Fatal("expected a pipeline event within 1s")
	}
}

type stubFetcher struct{ html string }

func (s *stubFetcher) Get(_ context.Context, _ string, _ map[string]string, _ time.Duration) (int, map[string]string, []byte, error) {
	return 200, nil, []byte(s.html), nil
}

type seedFetcher struct{ pages map[string]string }

func (s *seedFetcher) Get(_ context.Context, url string, _ map[string]string, _ time.Duration) (int, map[string]string, []byte, error) {
	html, ok := s.pages[url]
	if !ok {
		return 404, nil, nil, nil
	}
	return 200, nil, []byte(html), nil
}

var _ ports.HttpFetcher = (*stubFetcher)(nil)
var _ ports.HttpFetcher = (*seedFetcher)(nil)
