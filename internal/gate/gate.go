// Package gate implements the deterministic, I/O-free classifier that
// decides whether a fetched document should be parsed raw, probed first, or
// routed through the headless renderer.
package gate

import (
	"regexp"
	"strings"

	"github.com/riptide-org/riptide/models"
)

// Thresholds holds the tunable boundaries the decision rules compare
// against. Defaults mirror the values baked into the decision table.
type Thresholds struct {
	HeadlessScriptRatio     float64
	ProbesScriptRatio       float64
	ProbesTextRatioFloor    float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		HeadlessScriptRatio:  0.30,
		ProbesScriptRatio:    0.15,
		ProbesTextRatioFloor: 0.20,
	}
}

var (
	scriptTagRE = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	tagRE       = regexp.MustCompile(`(?s)<[^>]+>`)
	whitespaceRE = regexp.MustCompile(`\s+`)
)

var spaMarkerPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"react-root", regexp.MustCompile(`(?i)id=["']root["']|data-reactroot`)},
	{"vue-app-id", regexp.MustCompile(`(?i)id=["']app["']|v-cloak|data-v-`)},
	{"angular", regexp.MustCompile(`(?i)ng-app|ng-controller|\[ngif\]`)},
	{"bundler-webpack", regexp.MustCompile(`(?i)webpackjsonp|__webpack_require__`)},
	{"bundler-next", regexp.MustCompile(`(?i)__next_data__|id=["']__next["']`)},
}

// Classifier evaluates GateDecision for a fetched document. It holds no
// mutable state and performs no I/O; two calls with identical inputs always
// return identical decisions.
type Classifier struct {
	thresholds Thresholds
}

func New(t Thresholds) *Classifier {
	return &Classifier{thresholds: t}
}

// Decide is the pure function decide(html, url) -> GateDecision. Rules are
// evaluated in order; the first match wins.
func (c *Classifier) Decide(html string, _ string) models.GateDecision {
	total := len(html)
	scriptBytes := 0
	for _, m := range scriptTagRE.FindAllString(html, -1) {
		scriptBytes += len(m)
	}

	stripped := tagRE.ReplaceAllString(html, " ")
	nonWhitespace := whitespaceRE.ReplaceAllString(stripped, "")

	var scriptRatio, textRatio float64
	if total > 0 {
		scriptRatio = float64(scriptBytes) / float64(total)
		textRatio = float64(len(nonWhitespace)) / float64(total)
	}

	markers := detectSPAMarkers(html)

	d := models.GateDecision{
		ScriptRatio: scriptRatio,
		TextRatio:   textRatio,
		SPAMarkers:  markers,
	}

	switch {
	case strings.TrimSpace(html) == "":
		// Empty or whitespace-only HTML has nothing to probe or render; a
		// zero text ratio would otherwise trip the ProbesFirst rule below.
		d.Signal = models.GateRaw
	case len(markers) > 0 || scriptRatio > c.thresholds.HeadlessScriptRatio:
		d.Signal = models.GateHeadless
	case scriptRatio > c.thresholds.ProbesScriptRatio || textRatio < c.thresholds.ProbesTextRatioFloor:
		d.Signal = models.GateProbesFirst
	default:
		d.Signal = models.GateRaw
	}
	return d
}

func detectSPAMarkers(html string) []string {
	var found []string
	for _, p := range spaMarkerPatterns {
		if p.re.MatchString(html) {
			found = append(found, p.name)
		}
	}
	return found
}

// strippedTextRatio is exposed for tests that want to verify the
// tag-stripping behavior independent of Decide's aggregate ratio math.
func strippedTextRatio(html string) float64 {
	if len(html) == 0 {
		return 0
	}
	stripped := tagRE.ReplaceAllString(html, " ")
	nonWhitespace := whitespaceRE.ReplaceAllString(stripped, "")
	return float64(len(nonWhitespace)) / float64(len(html))
}
