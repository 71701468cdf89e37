// Package fetch is the raw-path HttpFetcher: a single blocking GET per call
// over net/http, narrowed from the teacher's stateful colly-driven
// CollyFetcher/Crawler (a multi-page visit queue) down to the one-shot
// "fetch this URL, return body+headers" contract the orchestrator's
// ports.HttpFetcher needs. robots.txt compliance is delegated to
// temoto/robotstxt rather than the teacher's hand-rolled parser, and URL
// normalization for the robots host key goes through nlnwa/whatwg-url so
// redirected/odd-cased hosts still hit the same cache entry.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	whatwg "github.com/nlnwa/whatwg-url/url"
	"github.com/temoto/robotstxt"

	"github.com/riptide-org/riptide/internal/ports"
)

type Config struct {
	UserAgent     string
	RespectRobots bool
	MaxBodyBytes  int64
}

func DefaultConfig() Config {
	return Config{UserAgent: "riptide/1.0 (+https://riptide.example/bot)", RespectRobots: true, MaxBodyBytes: 16 << 20}
}

// Fetcher implements ports.HttpFetcher over a plain net/http client, with
// optional robots.txt compliance gating the request before it is made.
type Fetcher struct {
	cfg    Config
	client *http.Client

	mu     sync.RWMutex
	robots map[string]*robotstxt.RobotsData
}

func New(cfg Config) *Fetcher {
	return &Fetcher{cfg: cfg, client: &http.Client{}, robots: make(map[string]*robotstxt.RobotsData)}
}

func (f *Fetcher) Get(ctx context.Context, rawURL string, headers map[string]string, timeout time.Duration) (int, map[string]string, []byte, error) {
	u, err := whatwg.Parse(rawURL)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("fetch: invalid url %q: %w", rawURL, err)
	}

	if f.cfg.RespectRobots {
		allowed, err := f.allowedByRobots(ctx, u)
		if err != nil {
			// robots.txt fetch failure is treated as allow-all, matching the
			// teacher's own fail-open posture for a missing/unreachable file.
		} else if !allowed {
			return 0, nil, nil, fmt.Errorf("fetch: %s disallowed by robots.txt", rawURL)
		}
	}

	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := readLimited(resp.Body, f.cfg.MaxBodyBytes)
	if err != nil {
		return resp.StatusCode, nil, nil, fmt.Errorf("fetch: read body: %w", err)
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			respHeaders[k] = v[0]
		}
	}
	return resp.StatusCode, respHeaders, body, nil
}

func readLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return io.ReadAll(r)
	}
	return io.ReadAll(io.LimitReader(r, max))
}

func (f *Fetcher) allowedByRobots(ctx context.Context, u *whatwg.Url) (bool, error) {
	host := strings.ToLower(u.Hostname())

	f.mu.RLock()
	data, ok := f.robots[host]
	f.mu.RUnlock()
	if !ok {
		var err error
		data, err = f.fetchRobots(ctx, u)
		if err != nil {
			return true, err
		}
		f.mu.Lock()
		f.robots[host] = data
		f.mu.Unlock()
	}
	if data == nil {
		return true, nil
	}
	group := data.FindGroup(f.cfg.UserAgent)
	return group.Test(u.Pathname()), nil
}

func (f *Fetcher) fetchRobots(ctx context.Context, u *whatwg.Url) (*robotstxt.RobotsData, error) {
	robotsURL := u.Protocol() + "//" + u.Host() + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return nil, nil // missing robots.txt: allow all
	}
	return robotstxt.FromResponse(resp)
}

var _ ports.HttpFetcher = (*Fetcher)(nil)
