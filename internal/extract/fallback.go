package extract

import (
	"strings"
	"time"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"

	"github.com/riptide-org/riptide/models"
)

// FallbackExtractor is the native-only tier of the fallback ladder: it runs
// when the WASM pool is unavailable or exhausted. It sanitizes HTML down to
// a safe subset with bluemonday and keeps that sanitized HTML as the doc's
// Markdown; Text is the tag-stripped result of rendering it through
// gomarkdown. The Markdown field is not converted into Markdown syntax.
// It never invokes WASM or a browser, so it always succeeds or fails fast.
type FallbackExtractor struct {
	policy *bluemonday.Policy
}

func NewFallbackExtractor() *FallbackExtractor {
	return &FallbackExtractor{policy: bluemonday.UGCPolicy()}
}

func (f *FallbackExtractor) Extract(rawURL, html string) (*models.ExtractedDoc, error) {
	safe := f.policy.Sanitize(html)

	extensions := parser.CommonExtensions | parser.AutoHeadingIDs
	p := parser.NewWithExtensions(extensions)
	doc := p.Parse([]byte(safe))

	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{Flags: mdhtml.CommonFlags})
	rendered := markdown.Render(doc, renderer)

	text := strings.TrimSpace(tagRe.ReplaceAllString(string(rendered), " "))
	wordCount := len(strings.Fields(text))

	out := &models.ExtractedDoc{
		URL:         rawURL,
		Markdown:    strings.TrimSpace(safe),
		Text:        text,
		WordCount:   &wordCount,
		Engine:      "fallback",
		ExtractedAt: time.Now(),
	}
	quality := 40.0 // fallback output is usable but never scored as high as raw/wasm
	if wordCount < 5 {
		quality = 10.0
	}
	out.QualityScore = &quality
	return out, nil
}
