package gate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/riptide-org/riptide/models"
)

func TestDecideRaw(t *testing.T) {
	c := New(DefaultThresholds())
	html := `<html><body><article><h1>Title</h1><p>` + strings.Repeat("lorem ipsum dolor sit amet ", 40) + `</p></article></body></html>`

	d := c.Decide(html, "https://example.com/a")

	assert.Equal(t, models.GateRaw, d.Signal)
	assert.Empty(t, d.SPAMarkers)
}

func TestDecideHeadlessOnSPAMarker(t *testing.T) {
	c := New(DefaultThresholds())
	html := `<html><body><div id="root"></div><script>window.__INITIAL_STATE__={}</script></body></html>`

	d := c.Decide(html, "https://example.com/app")

	assert.Equal(t, models.GateHeadless, d.Signal)
	assert.Contains(t, d.SPAMarkers, "react-root")
}

func TestDecideHeadlessOnHighScriptRatio(t *testing.T) {
	c := New(DefaultThresholds())
	script := "<script>" + strings.Repeat("a", 400) + "</script>"
	html := "<html><body>" + script + "<p>short</p></body></html>"

	d := c.Decide(html, "https://example.com/spa")

	assert.Equal(t, models.GateHeadless, d.Signal)
	assert.Greater(t, d.ScriptRatio, DefaultThresholds().HeadlessScriptRatio)
}

func TestDecideProbesFirstOnSparseText(t *testing.T) {
	c := New(DefaultThresholds())
	html := `<html><body><div class="loading-spinner"></div></body></html>`

	d := c.Decide(html, "https://example.com/sparse")

	assert.Equal(t, models.GateProbesFirst, d.Signal)
}

func TestDecideIsDeterministic(t *testing.T) {
	c := New(DefaultThresholds())
	html := `<html><body><p>` + strings.Repeat("word ", 100) + `</p></body></html>`

	first := c.Decide(html, "https://example.com/x")
	second := c.Decide(html, "https://example.com/x")

	assert.Equal(t, first, second)
}

func TestDecideEmptyDocumentIsRaw(t *testing.T) {
	c := New(DefaultThresholds())

	d := c.Decide("", "https://example.com/empty")

	assert.Equal(t, models.GateRaw, d.Signal)
}

func TestDecideWhitespaceOnlyDocumentIsRaw(t *testing.T) {
	c := New(DefaultThresholds())

	d := c.Decide("   \n\t  ", "https://example.com/blank")

	assert.Equal(t, models.GateRaw, d.Signal)
}
