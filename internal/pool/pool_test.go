package pool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riptide-org/riptide/models"
)

func TestPoolNativeOnlyModeUsesFallbackDirectly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WasmPath = ""

	called := false
	fallback := func(ctx context.Context, html, url string, mode models.ExtractionMode, selectors []string) (*models.ExtractedDoc, error) {
		called = true
		return &models.ExtractedDoc{URL: url, Markdown: "native"}, nil
	}

	p, err := New(context.Background(), cfg, nil, fallback, nil)
	require.NoError(t, err)

	doc, err := p.Extract(context.Background(), "<html></html>", "https://example.com", models.ModeArticle, nil)
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "native", doc.Markdown)
}

func TestPoolFallsBackWithoutFallbackConfigured(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WasmPath = ""

	p, err := New(context.Background(), cfg, nil, nil, nil)
	require.NoError(t, err)

	_, err = p.Extract(context.Background(), "<html></html>", "https://example.com", models.ModeArticle, nil)
	require.Error(t, err)
	var pipeErr *models.PipelineError
	require.True(t, errors.As(err, &pipeErr))
	assert.Equal(t, models.KindExtractionFailed, pipeErr.Kind)
}
