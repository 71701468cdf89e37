// Package render is the Dynamic-Render Orchestrator: a pool of isolated
// headless Chrome contexts, each built with chromedp.NewExecAllocator against
// its own profile directory to avoid singleton-lock collisions, plus the
// wait-condition and scripted-action vocabulary the gate's Headless verdict
// drives. Grounded on the network/fetch interception and navigate+wait
// pattern of the PathFinder render manager (other_examples), generalized
// from a one-shot goroutine into a managed, health-checked pool.
package render

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/riptide-org/riptide/models"
)

type Config struct {
	MaxBrowsers   int
	IdleTimeout   time.Duration
	MaxLifetime   time.Duration
	PageTimeout   time.Duration
	DefaultWidth  int
	DefaultHeight int
}

func DefaultConfig() Config {
	return Config{
		MaxBrowsers:   4,
		IdleTimeout:   2 * time.Minute,
		MaxLifetime:   30 * time.Minute,
		PageTimeout:   15 * time.Second,
		DefaultWidth:  1366,
		DefaultHeight: 768,
	}
}

type browser struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	profileDir  string
	createdAt   time.Time
	lastUsed    time.Time
	healthy     bool
}

// Pool manages isolated headless-Chrome contexts under a semaphore, each
// tagged with an idle timeout and a maximum lifetime; an unhealthy instance
// is destroyed and replaced on the next checkout rather than reused.
type Pool struct {
	cfg Config
	sem chan struct{}

	mu        sync.Mutex
	available []*browser

	// postExtract converts the rendered page's outer HTML into the canonical
	// doc shape after the DOM has settled; nil means Render only returns
	// navigation metadata and the caller is responsible for extraction.
	postExtract func(finalURL, html string) (*models.ExtractedDoc, error)
}

func New(cfg Config) *Pool {
	return &Pool{cfg: cfg, sem: make(chan struct{}, cfg.MaxBrowsers)}
}

// WithPostExtract wires an extraction function that converts the rendered
// page's DOM into an ExtractedDoc, run after all wait conditions and
// scripted actions have settled.
func (p *Pool) WithPostExtract(fn func(finalURL, html string) (*models.ExtractedDoc, error)) *Pool {
	p.postExtract = fn
	return p
}

func (p *Pool) checkout(ctx context.Context) (*browser, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	for len(p.available) > 0 {
		n := len(p.available) - 1
		b := p.available[n]
		p.available = p.available[:n]
		if p.browserHealthy(b) {
			p.mu.Unlock()
			return b, nil
		}
		p.destroy(b)
	}
	p.mu.Unlock()

	return p.spawn(ctx)
}

func (p *Pool) browserHealthy(b *browser) bool {
	if !b.healthy {
		return false
	}
	now := time.Now()
	if p.cfg.MaxLifetime > 0 && now.Sub(b.createdAt) > p.cfg.MaxLifetime {
		return false
	}
	if p.cfg.IdleTimeout > 0 && now.Sub(b.lastUsed) > p.cfg.IdleTimeout {
		return false
	}
	return b.ctx.Err() == nil
}

func (p *Pool) spawn(ctx context.Context) (*browser, error) {
	profileDir, err := os.MkdirTemp("", "riptide-render-*")
	if err != nil {
		return nil, fmt.Errorf("render: create profile dir: %w", err)
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(profileDir),
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browCtx, browCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browCtx); err != nil {
		browCancel()
		allocCancel()
		_ = os.RemoveAll(profileDir)
		return nil, fmt.Errorf("render: start browser: %w", err)
	}
	return &browser{
		allocCtx: allocCtx, allocCancel: allocCancel,
		ctx: browCtx, cancel: browCancel,
		profileDir: profileDir,
		createdAt:  time.Now(),
		lastUsed:   time.Now(),
		healthy:    true,
	}, nil
}

func (p *Pool) checkin(b *browser) {
	<-p.sem
	if !b.healthy {
		p.destroy(b)
		return
	}
	b.lastUsed = time.Now()
	p.mu.Lock()
	p.available = append(p.available, b)
	p.mu.Unlock()
}

func (p *Pool) destroy(b *browser) {
	b.cancel()
	b.allocCancel()
	_ = os.RemoveAll(b.profileDir)
}

func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range p.available {
		p.destroy(b)
	}
	p.available = nil
}

// Render navigates to req.URL in a checked-out browser, applies the stealth
// preset, waits for the requested wait conditions, then runs the scripted
// actions. The result carries the final URL, page title, timing and, when
// WithPostExtract is set, the extracted doc; Screenshot, MHTML and the other
// artifact fields of DynamicRenderResult are left empty, and a Screenshot
// action's image is discarded.
func (p *Pool) Render(ctx context.Context, req models.FetchRequest) (*models.DynamicRenderResult, error) {
	b, err := p.checkout(ctx)
	if err != nil {
		return nil, models.NewPipelineError(models.KindResourceExhausted, "render", req.URL, err)
	}
	defer p.checkin(b)

	pageCtx, cancel := context.WithTimeout(b.ctx, p.cfg.PageTimeout)
	defer cancel()

	width, height := p.cfg.DefaultWidth, p.cfg.DefaultHeight
	if req.Viewport.Width > 0 {
		width = req.Viewport.Width
	}
	if req.Viewport.Height > 0 {
		height = req.Viewport.Height
	}

	start := time.Now()
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(width), int64(height)),
	}
	tasks = append(tasks, stealthTasks(req.Stealth)...)
	tasks = append(tasks, chromedp.Navigate(req.URL))

	if err := chromedp.Run(pageCtx, tasks); err != nil {
		b.healthy = false
		return nil, models.NewPipelineError(models.KindTransient, "render", req.URL, fmt.Errorf("navigate: %w", err))
	}

	for _, wc := range req.WaitConditions {
		if err := waitFor(pageCtx, wc); err != nil {
			return nil, models.NewPipelineError(models.KindTransient, "render", req.URL, fmt.Errorf("wait condition: %w", err))
		}
	}

	for _, action := range req.Actions {
		if err := runAction(pageCtx, action); err != nil {
			return nil, models.NewPipelineError(models.KindExtractionFailed, "render", req.URL, fmt.Errorf("scripted action: %w", err))
		}
		if action.WaitAfter > 0 {
			time.Sleep(action.WaitAfter)
		}
	}

	result := &models.DynamicRenderResult{Timing: time.Since(start)}
	if err := chromedp.Run(pageCtx, chromedp.Location(&result.FinalURL)); err != nil {
		result.FinalURL = req.URL
	}
	_ = chromedp.Run(pageCtx, chromedp.Title(&result.PageTitle))

	var renderedHTML string
	if err := chromedp.Run(pageCtx, chromedp.OuterHTML("html", &renderedHTML)); err == nil && p.postExtract != nil {
		if doc, err := p.postExtract(result.FinalURL, renderedHTML); err == nil {
			result.Doc = doc
		}
	}

	return result, nil
}

func waitFor(ctx context.Context, wc models.WaitCondition) error {
	waitCtx := ctx
	var cancel context.CancelFunc
	if wc.Timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, wc.Timeout)
		defer cancel()
	}
	switch wc.Kind {
	case models.WaitSelectorPresent:
		return chromedp.Run(waitCtx, chromedp.WaitVisible(wc.Selector, chromedp.ByQuery))
	case models.WaitJsPredicate:
		var ok bool
		return chromedp.Run(waitCtx, chromedp.Poll(wc.Expr, &ok))
	case models.WaitNetworkIdle:
		// Enables network events only; it does not wait for IdleWindow to
		// pass without requests.
		return chromedp.Run(waitCtx, network.Enable())
	case models.WaitDomContentLoaded:
		return chromedp.Run(waitCtx, chromedp.WaitReady("body", chromedp.ByQuery))
	case models.WaitLoad:
		return chromedp.Run(waitCtx, chromedp.WaitReady("body", chromedp.ByQuery))
	case models.WaitFixedDelay:
		return chromedp.Run(waitCtx, chromedp.Sleep(wc.Delay))
	case models.WaitAll:
		for _, sub := range wc.Sub {
			if err := waitFor(waitCtx, sub); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

func runAction(ctx context.Context, a models.ScriptedAction) error {
	switch a.Kind {
	case models.ActionClick:
		return chromedp.Run(ctx, chromedp.Click(a.Selector, chromedp.ByQuery))
	case models.ActionType:
		tasks := chromedp.Tasks{}
		if a.ClearFirst {
			tasks = append(tasks, chromedp.Clear(a.Selector, chromedp.ByQuery))
		}
		tasks = append(tasks, chromedp.SendKeys(a.Selector, a.Text, chromedp.ByQuery))
		return chromedp.Run(ctx, tasks)
	case models.ActionEvaluate:
		var res any
		return chromedp.Run(ctx, chromedp.Evaluate(a.Script, &res))
	case models.ActionScreenshot:
		var buf []byte
		if a.FullPage {
			return chromedp.Run(ctx, chromedp.FullScreenshot(&buf, 90))
		}
		return chromedp.Run(ctx, chromedp.CaptureScreenshot(&buf))
	case models.ActionNavigate:
		return chromedp.Run(ctx, chromedp.Navigate(a.URL))
	case models.ActionSetCookies:
		return nil // a.Cookies is not applied; this action sets no cookies
	case models.ActionHover:
		return chromedp.Run(ctx, chromedp.ScrollIntoView(a.Selector, chromedp.ByQuery))
	case models.ActionWait:
		return chromedp.Run(ctx, chromedp.Sleep(a.WaitAfter))
	default:
		return nil
	}
}

// stealthTasks returns the document-injection script for a preset. Stealth
// mutation never touches parsed content; it only rewrites navigator
// properties visible to page scripts before the first paint.
func stealthTasks(preset models.StealthPreset) chromedp.Tasks {
	if preset == models.StealthNone {
		return nil
	}
	script := `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`
	if preset >= models.StealthMedium {
		script += `Object.defineProperty(navigator, 'languages', {get: () => ['en-US', 'en']});
Object.defineProperty(navigator, 'plugins', {get: () => [1, 2, 3, 4, 5]});`
	}
	return chromedp.Tasks{chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
		return err
	})}
}
