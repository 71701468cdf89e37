package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero"

	"github.com/riptide-org/riptide/internal/pool"
	"github.com/riptide-org/riptide/models"
)

// wasmRequest/wasmResponse are the per-call protocol's wire shapes: the guest
// module reads a JSON request from stdin and writes a JSON response to
// stdout, run to completion under the pool's epoch deadline.
type wasmRequest struct {
	URL       string                `json:"url"`
	HTML      string                `json:"html"`
	Mode      models.ExtractionMode `json:"mode"`
	Selectors []string              `json:"selectors,omitempty"`
}

type wasmResponse struct {
	Title     string   `json:"title"`
	Markdown  string   `json:"markdown"`
	Text      string   `json:"text"`
	WordCount int      `json:"word_count"`
	Links     []string `json:"links"`
}

// NewWazeroCaller builds a pool.Extractor that instantiates a fresh module
// instance per call (so WASI stdin/stdout state and linear memory never leak
// between extractions) and pipes the request/response through stdin/stdout,
// the same convention the WASIO gateway uses for routing requests to guest
// modules.
func NewWazeroCaller() pool.Extractor {
	return func(ctx context.Context, runtime wazero.Runtime, mod wazero.CompiledModule, html, url string, mode models.ExtractionMode, selectors []string) (*models.ExtractedDoc, error) {
		reqBody, err := json.Marshal(wasmRequest{URL: url, HTML: html, Mode: mode, Selectors: selectors})
		if err != nil {
			return nil, fmt.Errorf("extract: encode wasm request: %w", err)
		}

		var stdout bytes.Buffer
		cfg := wazero.NewModuleConfig().
			WithStdin(bytes.NewReader(reqBody)).
			WithStdout(&stdout)

		instance, err := runtime.InstantiateModule(ctx, mod, cfg)
		if err != nil {
			return nil, fmt.Errorf("extract: instantiate wasm module: %w", err)
		}
		defer instance.Close(ctx)

		if fn := instance.ExportedFunction("_start"); fn != nil {
			if _, err := fn.Call(ctx); err != nil {
				var exitErr interface{ ExitCode() uint32 }
				if !(errors.As(err, &exitErr) && exitErr.ExitCode() == 0) {
					return nil, fmt.Errorf("extract: wasm module run: %w", err)
				}
			}
		}

		var resp wasmResponse
		if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
			return nil, fmt.Errorf("extract: decode wasm response: %w", err)
		}

		wc := resp.WordCount
		doc := &models.ExtractedDoc{
			URL:       url,
			Title:     resp.Title,
			Markdown:  resp.Markdown,
			Text:      resp.Text,
			Links:     resp.Links,
			WordCount: &wc,
			Engine:    "wasm",
		}
		quality := 85.0
		if wc < 5 {
			quality = 20.0
		}
		doc.QualityScore = &quality
		return doc, nil
	}
}
