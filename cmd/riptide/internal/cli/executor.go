package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/riptide-org/riptide"
	"github.com/riptide-org/riptide/cmd/riptide/internal/progress"
	"github.com/riptide-org/riptide/models"
)

// batchExecutor is the optimized CLI executor: a fixed worker pool draining
// a request list concurrently and streaming NDJSON frames to w as each
// completes, with a terminal "done" frame once every request has been
// accounted for — mirroring extract_stream's frame shape (§6) for CLI
// callers operating over many URLs instead of one.
type batchExecutor struct {
	engine  *riptide.Engine
	workers int
}

func newBatchExecutor(e *riptide.Engine, workers int) *batchExecutor {
	if workers <= 0 {
		workers = 4
	}
	return &batchExecutor{engine: e, workers: workers}
}

type ndjsonFrame struct {
	Event string               `json:"event"`
	URL   string                `json:"url,omitempty"`
	Doc   *models.ExtractedDoc `json:"doc,omitempty"`
	Error string               `json:"error,omitempty"`
}

// run drains reqs through e.engine.Extract with bx.workers of concurrency,
// writing one NDJSON frame per completed request plus a terminal done
// frame, and rendering a stderr progress bar as frames land.
func (bx *batchExecutor) run(ctx context.Context, reqs []models.FetchRequest, w io.Writer) error {
	reporter := progress.NewReporter()
	defer reporter.Close()

	var completed atomic.Int64
	total := len(reqs)

	type result struct {
		frame ndjsonFrame
	}
	results := make(chan result, total)

	var wg sync.WaitGroup
	sem := make(chan struct{}, bx.workers)
	for _, req := range reqs {
		req := req
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			doc, err := bx.engine.Extract(ctx, req)
			n := completed.Add(1)
			select {
			case reporter.Updates <- progress.Update{Done: int(n), Total: total, Label: req.URL}:
			default:
			}
			if err != nil {
				results <- result{frame: ndjsonFrame{Event: "error", URL: req.URL, Error: err.Error()}}
				return
			}
			results <- result{frame: ndjsonFrame{Event: "item", URL: req.URL, Doc: doc}}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	enc := json.NewEncoder(w)
	var encodeErr error
	for res := range results {
		if err := enc.Encode(res.frame); err != nil && encodeErr == nil {
			encodeErr = err
		}
	}
	if encodeErr != nil {
		return fmt.Errorf("encode ndjson frame: %w", encodeErr)
	}
	return enc.Encode(ndjsonFrame{Event: "done"})
}
