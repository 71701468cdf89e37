// Package stdout is the default Sink: each PipelineItem is written as one
// NDJSON frame, matching §6's extract_stream wire format
// ({event:"item"|"error"|"done", ...}).
package stdout

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/riptide-org/riptide/internal/output"
	"github.com/riptide-org/riptide/models"
)

// Sink writes each PipelineItem as one compact NDJSON frame to w.
type Sink struct {
	enc *json.Encoder
	mu  sync.Mutex
}

// New builds a Sink writing to w (typically os.Stdout).
func New(w io.Writer) *Sink { return &Sink{enc: json.NewEncoder(w)} }

type frame struct {
	Event string                `json:"event"`
	URL   string                `json:"url,omitempty"`
	Doc   *models.ExtractedDoc `json:"doc,omitempty"`
	Error string                `json:"error,omitempty"`
}

func (s *Sink) Write(item models.PipelineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.Done {
		return s.enc.Encode(frame{Event: "done"})
	}
	if item.RecoverableErr != nil {
		return s.enc.Encode(frame{Event: "error", URL: item.URL, Error: item.RecoverableErr.Error()})
	}
	return s.enc.Encode(frame{Event: "item", URL: item.URL, Doc: item.Doc})
}

func (s *Sink) Flush() error { return nil }
func (s *Sink) Close() error { return nil }
func (s *Sink) Name() string { return "stdout-ndjson" }

var _ output.Sink = (*Sink)(nil)
