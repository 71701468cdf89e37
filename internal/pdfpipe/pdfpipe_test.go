package pdfpipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riptide-org/riptide/models"
)

func TestValidateRejectsOversized(t *testing.T) {
	data := append([]byte("%PDF-1.4\n"), make([]byte, 100)...)
	err := validate(data, 10)
	require.Error(t, err)
}

func TestValidateRejectsMissingMagic(t *testing.T) {
	err := validate([]byte("not a pdf"), 1<<20)
	require.Error(t, err)
}

func TestExtractRejectsInvalidHeader(t *testing.T) {
	p := New(DefaultConfig())
	_, err := p.Extract("https://example.com/doc.pdf", []byte("garbage"), nil)
	require.Error(t, err)
	var perr *models.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, models.KindInvalidInput, perr.Kind)
}

func TestExtractRejectsWhenSemaphoreExhausted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 1
	p := New(cfg)
	p.sem <- struct{}{} // occupy the only slot

	_, err := p.Extract("https://example.com/doc.pdf", []byte("%PDF-1.4\n"), nil)
	assert.ErrorIs(t, err, models.ErrPoolExhausted)
}
