package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riptide-org/riptide/models"
)

const sampleArticle = `<html><head><title>Example Article</title>
<meta name="description" content="A short article."></head>
<body><nav>skip me</nav><article><h1>Heading</h1><p>This is the body of the article with enough words to pass the quality bar comfortably.</p>
<a href="/relative">link</a></article><footer>skip me too</footer></body></html>`

func TestRawExtractorProducesMarkdownAndScore(t *testing.T) {
	r := NewRawExtractor()
	doc, err := r.Extract("https://example.com/post", sampleArticle, models.ModeArticle)
	require.NoError(t, err)

	assert.Equal(t, "Example Article", doc.Title)
	assert.Contains(t, doc.Markdown, "Heading")
	assert.NotContains(t, doc.Text, "skip me")
	require.NotNil(t, doc.QualityScore)
	assert.Greater(t, *doc.QualityScore, 50.0)
	require.NoError(t, doc.Validate())
}

func TestRawExtractorAbsolutizesLinks(t *testing.T) {
	r := NewRawExtractor()
	doc, err := r.Extract("https://example.com/post", sampleArticle, models.ModeFull)
	require.NoError(t, err)
	assert.Contains(t, doc.Markdown, "https://example.com/relative")
}

func TestRawExtractorRejectsEmptyQualityGracefully(t *testing.T) {
	r := NewRawExtractor()
	doc, err := r.Extract("https://example.com/empty", "<html><body></body></html>", models.ModeArticle)
	require.NoError(t, err)
	require.NotNil(t, doc.QualityScore)
	assert.Equal(t, 0.0, *doc.QualityScore)
}
