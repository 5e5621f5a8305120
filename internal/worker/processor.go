package worker

import (
	"context"
	"time"

	"github.com/pagehive/hopper/internal/queueset"
)

// Outcome tells the worker how to finalize a processed request.
type Outcome int

const (
	// OutcomeDone marks the request successfully processed.
	OutcomeDone Outcome = iota

	// OutcomeAbandon hands the request back to its backend for
	// redelivery, for failures where re-running the same request as-is
	// is the right recovery.
	OutcomeAbandon

	// OutcomeRetry replaces the request with a fresh attempt on the same
	// backend, subject to the retry policy.
	OutcomeRetry
)

// Processor runs the crawl-specific work for one request: fetching,
// content inspection, calling external analysis tools. None of that lives
// in this service; processors are injected.
type Processor interface {
	Process(ctx context.Context, req *queueset.Request) (Outcome, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, req *queueset.Request) (Outcome, error)

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, req *queueset.Request) (Outcome, error) {
	return f(ctx, req)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
