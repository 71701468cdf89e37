// Package extract holds the fallback ladder's extraction engines: the raw
// goquery-based article extractor (tier 1, "Raw" gate decision), a native
// reader-mode fallback for when the WASM pool is unavailable or exhausted,
// and a custom-selector engine driven by XPath. Each engine only knows how
// to turn already-fetched HTML into an ExtractedDoc; fetching and gating
// happen upstream.
package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"

	"github.com/riptide-org/riptide/models"
)

var unwantedTags = []string{"script", "style", "nav", "footer", "aside", "header", "noscript"}
var unwantedSelectors = []string{".advertisement", ".ad", ".ads", ".sidebar", ".nav", ".navigation", "#comments", ".comments"}
var contentSelectors = []string{"main", "article", ".content", "#content", ".post", ".entry", ".article-content"}

var commentRe = regexp.MustCompile(`<!--[\s\S]*?-->`)
var tagRe = regexp.MustCompile(`<[^>]*>`)

// RawExtractor converts already-fetched HTML into an ExtractedDoc using
// goquery for DOM cleanup/selection and html-to-markdown for the markdown
// rendition. It is the fastest and cheapest engine in the fallback ladder
// and is what the gate classifier routes "Raw" decisions to.
type RawExtractor struct{}

func NewRawExtractor() *RawExtractor { return &RawExtractor{} }

func (r *RawExtractor) Extract(rawURL, html string, mode models.ExtractionMode) (*models.ExtractedDoc, error) {
	cleaned, err := removeUnwanted(html)
	if err != nil {
		return nil, fmt.Errorf("extract: clean: %w", err)
	}
	withAbsolute, err := absolutizeLinks(cleaned, rawURL)
	if err != nil {
		return nil, fmt.Errorf("extract: absolutize: %w", err)
	}

	body := withAbsolute
	if mode == models.ModeArticle {
		if main, ok := selectMain(withAbsolute); ok {
			body = main
		}
	}

	markdown, err := toMarkdown(body)
	if err != nil {
		return nil, fmt.Errorf("extract: markdown: %w", err)
	}

	title, meta := extractMeta(html)
	text := strings.TrimSpace(tagRe.ReplaceAllString(body, " "))
	wordCount := len(strings.Fields(text))

	doc := &models.ExtractedDoc{
		URL:         rawURL,
		Title:       title,
		Byline:      meta["author"],
		Description: meta["description"],
		Markdown:    markdown,
		Text:        text,
		WordCount:   &wordCount,
		Engine:      "raw",
		ExtractedAt: time.Now(),
	}
	quality := scoreQuality(doc, body)
	doc.QualityScore = &quality
	return doc, nil
}

func removeUnwanted(html string) (string, error) {
	html = commentRe.ReplaceAllString(html, "")
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	for _, tag := range unwantedTags {
		doc.Find(tag).Remove()
	}
	for _, sel := range unwantedSelectors {
		doc.Find(sel).Remove()
	}
	doc.Find("img[width='1'][height='1']").Remove()
	if body := doc.Find("body"); body.Length() > 0 {
		out, err := body.Html()
		if err != nil {
			return "", err
		}
		return out, nil
	}
	return doc.Html()
}

func absolutizeLinks(html, baseURL string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return html, nil // best-effort; non-fatal for extraction
	}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || strings.HasPrefix(href, "http") || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "mailto:") {
			return
		}
		if abs, err := base.Parse(href); err == nil {
			s.SetAttr("href", abs.String())
		}
	})
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok || strings.HasPrefix(src, "http") || strings.HasPrefix(src, "data:") {
			return
		}
		if abs, err := base.Parse(src); err == nil {
			s.SetAttr("src", abs.String())
		}
	})
	return doc.Html()
}

func selectMain(html string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}
	for _, sel := range contentSelectors {
		selection := doc.Find(sel)
		if selection.Length() > 0 {
			content, err := selection.Html()
			if err == nil {
				return strings.TrimSpace(content), true
			}
		}
	}
	return "", false
}

func extractMeta(html string) (string, map[string]string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	meta := map[string]string{}
	if err != nil {
		return "", meta
	}
	title := strings.TrimSpace(doc.Find("title").Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if desc, ok := doc.Find("meta[name='description']").Attr("content"); ok {
		meta["description"] = strings.TrimSpace(desc)
	}
	if author, ok := doc.Find("meta[name='author']").Attr("content"); ok {
		meta["author"] = strings.TrimSpace(author)
	}
	if ogImage, ok := doc.Find("meta[property='og:image']").Attr("content"); ok {
		meta["og:image"] = strings.TrimSpace(ogImage)
	}
	return title, meta
}

func toMarkdown(html string) (string, error) {
	if strings.TrimSpace(html) == "" {
		return "", nil
	}
	conv := converter.NewConverter(converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
		table.NewTablePlugin(),
	))
	markdown, err := conv.ConvertString(html)
	if err != nil {
		return "", err
	}
	cleaned := commentRe.ReplaceAllString(markdown, "")
	cleaned = regexp.MustCompile(`\n{3,}`).ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned), nil
}

// scoreQuality is a cheap heuristic in [0,100]: title presence, word count,
// and heading presence each contribute. The orchestrator compares it with
// its ProbesQualityFloor to decide whether a ProbesFirst raw result is
// re-run through the headless renderer.
func scoreQuality(doc *models.ExtractedDoc, bodyHTML string) float64 {
	wordCount := 0
	if doc.WordCount != nil {
		wordCount = *doc.WordCount
	}
	if wordCount == 0 && strings.TrimSpace(doc.Title) == "" {
		return 0
	}
	score := 100.0
	if strings.TrimSpace(doc.Title) == "" {
		score -= 30
	}
	switch {
	case wordCount < 5:
		score -= 50
	case wordCount < 50:
		score -= 20
	}
	if !strings.Contains(bodyHTML, "<h1") && !strings.Contains(bodyHTML, "<h2") && wordCount > 200 {
		score -= 10
	}
	if score < 0 {
		score = 0
	}
	return score
}
