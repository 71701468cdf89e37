// Package pdfpipe is the PDF sub-pipeline (§4.10): a global semaphore bounds
// concurrent PDF jobs, header/size validation runs before any page is
// touched, and pages are walked one at a time so a cooperative memory-spike
// cap can reject mid-document rather than after the whole file is resident.
// Grounded on the same semaphore-checkout discipline internal/pool and
// internal/backpressure use.
package pdfpipe

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/dslipak/pdf"

	"github.com/riptide-org/riptide/models"
)

type Config struct {
	MaxConcurrent  int
	MaxSizeBytes   int64
	MemorySpikeCap int64 // bytes; cooperative, checked between pages
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrent:  4,
		MaxSizeBytes:   100 << 20, // 100MB
		MemorySpikeCap: 200 << 20, // 200MB of accumulated page text
	}
}

var pdfMagic = []byte("%PDF-")

// Pipeline bounds concurrent PDF processing with a global semaphore; each
// Extract call acquires one slot for its lifetime and releases it on every
// exit path.
type Pipeline struct {
	cfg Config
	sem chan struct{}
}

func New(cfg Config) *Pipeline {
	return &Pipeline{cfg: cfg, sem: make(chan struct{}, cfg.MaxConcurrent)}
}

// ProgressFunc is called after each page is processed, with the page index
// (1-based) and the running byte estimate, so callers can stream progress
// ticks without the pipeline knowing about any particular transport.
type ProgressFunc func(pageIndex, totalPages int, runningEstimateBytes int64)

func (p *Pipeline) Extract(url string, data []byte, onProgress ProgressFunc) (*models.PdfProcessingResult, error) {
	select {
	case p.sem <- struct{}{}:
	default:
		return nil, models.ErrPoolExhausted
	}
	defer func() { <-p.sem }()

	if err := validate(data, p.cfg.MaxSizeBytes); err != nil {
		return nil, models.NewPipelineError(models.KindInvalidInput, "pdfpipe", url, err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, models.NewPipelineError(models.KindExtractionFailed, "pdfpipe", url, fmt.Errorf("open pdf: %w", err))
	}

	totalPages := reader.NumPage()
	pageTexts := make([]string, 0, totalPages)
	var runningEstimate int64

	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pageTexts = append(pageTexts, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			text = ""
		}
		pageTexts = append(pageTexts, text)

		runningEstimate += int64(len(text))
		if runningEstimate > p.cfg.MemorySpikeCap {
			return nil, models.NewPipelineError(models.KindResourceExhausted, "pdfpipe", url,
				fmt.Errorf("memory spike cap exceeded at page %d/%d", i, totalPages))
		}
		if onProgress != nil {
			onProgress(i, totalPages, runningEstimate)
		}
	}

	fullText := strings.Join(pageTexts, "\n\n")
	wordCount := len(strings.Fields(fullText))
	quality := 60.0
	if wordCount < 5 {
		quality = 5.0
	}

	doc := &models.ExtractedDoc{
		URL:         url,
		Text:        fullText,
		Markdown:    fullText,
		WordCount:   &wordCount,
		Engine:      "pdf",
		ExtractedAt: time.Now(),
		QualityScore: &quality,
	}

	return &models.PdfProcessingResult{
		Doc:       doc,
		PageCount: totalPages,
		PageTexts: pageTexts,
	}, nil
}

func validate(data []byte, maxSize int64) error {
	if int64(len(data)) > maxSize {
		return fmt.Errorf("pdf size %d exceeds max %d", len(data), maxSize)
	}
	if len(data) < len(pdfMagic) || !bytes.Equal(data[:len(pdfMagic)], pdfMagic) {
		return fmt.Errorf("missing %%PDF- header")
	}
	return nil
}
