// Package intelligence is the optional LlmProvider surface: when no real
// provider is configured, riptide runs with intelligence features entirely
// absent. TokenCounter is grounded directly on the corpus's own tiktoken-go
// counting shape; TenantLimiter is a Go-sized version of the original's
// tenant isolation manager (per-tenant request/token/cost budgets and a
// concurrency semaphore), generalized from its async-Rust request-routing
// shape into a single wrapper around any ports.LlmProvider.
package intelligence

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/riptide-org/riptide/internal/ports"
)

// modelEncoding maps model name prefixes to tiktoken encoding names, the
// same lookup-by-prefix shape the corpus's own counter uses.
var modelEncoding = map[string]string{
	"gpt-4o":  "o200k_base",
	"gpt-4.1": "o200k_base",
	"o1":      "o200k_base",
	"o3":      "o200k_base",
	"gpt-4":   "cl100k_base",
	"gpt-3.5": "cl100k_base",
}

func encodingForModel(modelName string) string {
	best, enc := "", ""
	for prefix, e := range modelEncoding {
		if strings.HasPrefix(modelName, prefix) && len(prefix) > len(best) {
			best, enc = prefix, e
		}
	}
	return enc
}

// TokenCounter estimates token counts with tiktoken when the model is
// recognized, falling back to a len/4 heuristic otherwise.
type TokenCounter struct {
	mu        sync.RWMutex
	encodings map[string]*tiktoken.Tiktoken
}

func NewTokenCounter() *TokenCounter {
	return &TokenCounter{encodings: make(map[string]*tiktoken.Tiktoken)}
}

func (c *TokenCounter) getEncoding(modelName string) *tiktoken.Tiktoken {
	name := encodingForModel(modelName)
	if name == "" {
		return nil
	}
	c.mu.RLock()
	enc, ok := c.encodings[name]
	c.mu.RUnlock()
	if ok {
		return enc
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encodings[name]; ok {
		return enc
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil
	}
	c.encodings[name] = enc
	return enc
}

func (c *TokenCounter) CountText(modelName, text string) int {
	if enc := c.getEncoding(modelName); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return len(text) / 4
}

// costPerKToken is a reference price table (USD per 1000 tokens), used only
// by the stub provider's EstimateCost; a real provider wraps its own
// pricing.
var costPerKToken = map[string]float64{
	"gpt-4o":  0.005,
	"gpt-4":   0.03,
	"gpt-3.5": 0.0015,
}

func priceFor(modelName string) float64 {
	best, price := "", 0.002
	for prefix, p := range costPerKToken {
		if strings.HasPrefix(modelName, prefix) && len(prefix) > len(best) {
			best, price = prefix, p
		}
	}
	return price
}

// StubProvider is a deterministic reference LlmProvider: it never calls a
// real backend, so it is safe to wire by default when no operator-supplied
// provider is configured. Complete echoes a capped prefix of the prompt;
// Embed returns a 16-wide vector built from the text's rune values. Its only real job is to exercise
// EstimateCost against TokenCounter so intelligence has a working default.
type StubProvider struct {
	Model   string
	counter *TokenCounter
}

func NewStubProvider(model string) *StubProvider {
	return &StubProvider{Model: model, counter: NewTokenCounter()}
}

func (p *StubProvider) Complete(_ context.Context, prompt string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	out := prompt
	if len(out) > maxTokens*4 {
		out = out[:maxTokens*4]
	}
	return "[stub reply] " + out, nil
}

func (p *StubProvider) Embed(_ context.Context, text string) ([]float32, error) {
	const dims = 16
	vec := make([]float32, dims)
	for i, r := range text {
		vec[i%dims] += float32(r % 97)
	}
	return vec, nil
}

func (p *StubProvider) Capabilities() []string {
	return []string{"complete", "embed", "estimate_cost"}
}

func (p *StubProvider) EstimateCost(_ context.Context, prompt string, maxTokens int) (float64, error) {
	promptTokens := p.counter.CountText(p.Model, prompt)
	total := promptTokens + maxTokens
	return float64(total) / 1000 * priceFor(p.Model), nil
}

var _ ports.LlmProvider = (*StubProvider)(nil)

// TenantLimits bounds a single tenant's concurrent requests, request/token
// rate, and hourly spend.
type TenantLimits struct {
	MaxConcurrentRequests int
	MaxRequestsPerMinute  int
	MaxTokensPerMinute    int
	MaxCostPerHour        float64
}

func DefaultTenantLimits() TenantLimits {
	return TenantLimits{MaxConcurrentRequests: 4, MaxRequestsPerMinute: 60, MaxTokensPerMinute: 100_000, MaxCostPerHour: 5.0}
}

type tenantState struct {
	sem               chan struct{}
	requestTimestamps []time.Time
	tokenWindowStart  time.Time
	tokensThisMinute  int
	costWindowStart   time.Time
	costThisHour      float64
}

// TenantLimiter wraps a ports.LlmProvider with per-tenant isolation: a
// concurrency semaphore plus a sliding one-minute request window and fixed
// one-minute token and one-hour cost windows, rejecting
// calls that would exceed a tenant's configured budget instead of
// forwarding them to the wrapped provider.
type TenantLimiter struct {
	mu      sync.Mutex
	inner   ports.LlmProvider
	counter *TokenCounter
	limits  map[string]TenantLimits
	state   map[string]*tenantState
	model   string
}

func NewTenantLimiter(inner ports.LlmProvider, model string) *TenantLimiter {
	return &TenantLimiter{
		inner:   inner,
		counter: NewTokenCounter(),
		limits:  make(map[string]TenantLimits),
		state:   make(map[string]*tenantState),
		model:   model,
	}
}

func (t *TenantLimiter) SetLimits(tenantID string, limits TenantLimits) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limits[tenantID] = limits
}

func (t *TenantLimiter) stateFor(tenantID string) (*tenantState, TenantLimits) {
	limits, ok := t.limits[tenantID]
	if !ok {
		limits = DefaultTenantLimits()
		t.limits[tenantID] = limits
	}
	st, ok := t.state[tenantID]
	if !ok {
		st = &tenantState{
			sem:              make(chan struct{}, limits.MaxConcurrentRequests),
			tokenWindowStart: time.Now(),
			costWindowStart:  time.Now(),
		}
		t.state[tenantID] = st
	}
	return st, limits
}

// Acquire checks a tenant's request, token and cost windows before admitting a request,
// returning a release func that must be called once the request completes.
// A non-nil error means the tenant is over budget; the caller must not
// forward the request.
func (t *TenantLimiter) Acquire(tenantID string, estimatedTokens int, estimatedCost float64) (release func(), err error) {
	t.mu.Lock()
	st, limits := t.stateFor(tenantID)

	now := time.Now()
	if now.Sub(st.tokenWindowStart) > time.Minute {
		st.tokenWindowStart = now
		st.tokensThisMinute = 0
	}
	if now.Sub(st.costWindowStart) > time.Hour {
		st.costWindowStart = now
		st.costThisHour = 0
	}
	cutoff := now.Add(-time.Minute)
	kept := st.requestTimestamps[:0]
	for _, ts := range st.requestTimestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	st.requestTimestamps = kept

	switch {
	case limits.MaxRequestsPerMinute > 0 && len(st.requestTimestamps) >= limits.MaxRequestsPerMinute:
		t.mu.Unlock()
		return nil, fmt.Errorf("intelligence: tenant %q exceeded request rate limit", tenantID)
	case limits.MaxTokensPerMinute > 0 && st.tokensThisMinute+estimatedTokens > limits.MaxTokensPerMinute:
		t.mu.Unlock()
		return nil, fmt.Errorf("intelligence: tenant %q exceeded token rate limit", tenantID)
	case limits.MaxCostPerHour > 0 && st.costThisHour+estimatedCost > limits.MaxCostPerHour:
		t.mu.Unlock()
		return nil, fmt.Errorf("intelligence: tenant %q exceeded hourly cost budget", tenantID)
	}

	st.requestTimestamps = append(st.requestTimestamps, now)
	st.tokensThisMinute += estimatedTokens
	st.costThisHour += estimatedCost
	sem := st.sem
	t.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	default:
		return nil, fmt.Errorf("intelligence: tenant %q has no free concurrency slot", tenantID)
	}
}

// Complete admits the request through the tenant's budget before delegating
// to the wrapped provider.
func (t *TenantLimiter) Complete(ctx context.Context, tenantID, prompt string, maxTokens int) (string, error) {
	estTokens := t.counter.CountText(t.model, prompt) + maxTokens
	estCost, _ := t.inner.EstimateCost(ctx, prompt, maxTokens)
	release, err := t.Acquire(tenantID, estTokens, estCost)
	if err != nil {
		return "", err
	}
	defer release()
	return t.inner.Complete(ctx, prompt, maxTokens)
}
