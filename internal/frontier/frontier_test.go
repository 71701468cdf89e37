package frontier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeStripsWWWAndDefaultPortAndFragment(t *testing.T) {
	got, err := Normalize(DefaultNormalizeConfig(), "HTTP://WWW.Example.com:80/path/?b=2&a=1#frag")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/path?a=1&b=2", got)
}

func TestNormalizeKeepsRootSlash(t *testing.T) {
	got, err := Normalize(DefaultNormalizeConfig(), "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", got)
}

func TestIsValidForCrawlingRejectsDuplicates(t *testing.T) {
	f := New(DefaultConfig())

	first, err := f.IsValidForCrawling("https://example.com/a")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := f.IsValidForCrawling("https://example.com/a")
	require.NoError(t, err)
	assert.False(t, second)
}

func TestIsValidForCrawlingRejectsExcludedExtensions(t *testing.T) {
	f := New(DefaultConfig())

	ok, err := f.IsValidForCrawling("https://example.com/image.png")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsValidForCrawlingRejectsDenyPattern(t *testing.T) {
	cfg := DefaultConfig()
	pat, err := CompileDenyPattern(`(?i)/admin/`)
	require.NoError(t, err)
	cfg.Exclusion.DeniedPatterns = append(cfg.Exclusion.DeniedPatterns, pat)
	f := New(cfg)

	ok, err := f.IsValidForCrawling("https://example.com/admin/users")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsValidForCrawlingAllowsDistinctURLs(t *testing.T) {
	f := New(DefaultConfig())

	a, err := f.IsValidForCrawling("https://example.com/a")
	require.NoError(t, err)
	b, err := f.IsValidForCrawling("https://example.com/b")
	require.NoError(t, err)

	assert.True(t, a)
	assert.True(t, b)
}
