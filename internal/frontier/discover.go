package frontier

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DiscoverLinks walks every anchor in html and resolves its href against
// base, returning absolute URLs. Mirrors the teacher's colly OnHTML anchor
// walk (internal/crawler/crawler.go's `a[href]` callback) but narrowed to
// link discovery only — no asset/script/stylesheet enqueueing, since crawl
// only follows pages, not every referenced resource.
func DiscoverLinks(base, html string) []string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var out []string
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return
		}
		resolved, err := baseURL.Parse(href)
		if err != nil {
			return
		}
		resolved.Fragment = ""
		abs := resolved.String()
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	})
	return out
}

// SameDomain reports whether candidate shares a registrable host with
// seed, ignoring a leading "www." on either side.
func SameDomain(seed, candidate string) bool {
	su, err1 := url.Parse(seed)
	cu, err2 := url.Parse(candidate)
	if err1 != nil || err2 != nil {
		return false
	}
	return strings.TrimPrefix(strings.ToLower(su.Host), "www.") == strings.TrimPrefix(strings.ToLower(cu.Host), "www.")
}
