package output

import "github.com/riptide-org/riptide/models"

// Sink consumes PipelineItems as a stream operation completes them.
// Implementations must be safe for concurrent Write calls unless documented
// otherwise.
type Sink interface {
	Write(item models.PipelineItem) error
	Flush() error // optional: can be no-op
	Close() error // idempotent
	Name() string // identifier for logs / metrics
}
