package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/dumpscan/internal/config"
)

// ExtractFunc analyzes a single dump. (*Extractor).Extract satisfies it.
type ExtractFunc func(ctx context.Context, path string) (*Outcome, error)

// BatchProcessor runs independent extractions over many dumps concurrently.
// Every extraction opens and closes its own file.
type BatchProcessor struct {
	// extract analyzes one dump.
	extract ExtractFunc

	// concurrency is the maximum number of concurrent extractions.
	concurrency int

	// logger is used for batch-level logging.
	logger *slog.Logger
}

// BatchOption configures a BatchProcessor.
type BatchOption func(*BatchProcessor)

// WithBatchLogger sets a custom logger for batch processing.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *BatchProcessor) {
		b.logger = logger
	}
}

// WithConcurrency sets the maximum number of concurrent extractions.
// Values below one are ignored.
func WithConcurrency(n int) BatchOption {
	return func(b *BatchProcessor) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// NewBatchProcessor creates a new BatchProcessor.
func NewBatchProcessor(extract ExtractFunc, opts ...BatchOption) *BatchProcessor {
	bp := &BatchProcessor{
		extract:     extract,
		concurrency: config.DefaultConcurrency,
	}

	for _, opt := range opts {
		opt(bp)
	}

	if bp.logger == nil {
		bp.logger = slog.Default()
	}

	return bp
}

// ProcessBatch analyzes every dump in paths and returns the outcomes in
// input order. A failed extraction does not stop the others; its error is
// kept in its Outcome. The returned error is non-nil only when ctx was
// cancelled, in which case dumps that never started have a nil Outcome.
func (bp *BatchProcessor) ProcessBatch(ctx context.Context, paths []string) ([]*Outcome, error) {
	bp.logger.Info("starting batch processing",
		"total_dumps", len(paths),
		"concurrency", bp.concurrency,
	)

	startTime := time.Now()

	// Each goroutine writes only its own slot.
	results := make([]*Outcome, len(paths))

	err := bp.run(ctx, paths, func(out *Outcome, i int) {
		results[i] = out
	})

	bp.logger.Info("batch processing complete",
		"total_dumps", len(paths),
		"failed", CountFailed(results),
		"elapsed", time.Since(startTime),
	)

	return results, err
}

// ProcessBatchWithCallback analyzes every dump and calls callback with each
// outcome as soon as it is ready. The callback runs on the goroutine that
// finished the extraction and must be safe for concurrent use.
func (bp *BatchProcessor) ProcessBatchWithCallback(
	ctx context.Context,
	paths []string,
	callback func(out *Outcome, index int),
) error {
	bp.logger.Info("starting batch processing with callback",
		"total_dumps", len(paths),
		"concurrency", bp.concurrency,
	)
	return bp.run(ctx, paths, callback)
}

func (bp *BatchProcessor) run(ctx context.Context, paths []string, done func(*Outcome, int)) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(bp.concurrency)

	for i, path := range paths {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			bp.logger.Info("analyzing dump",
				"index", i+1,
				"total", len(paths),
			)

			out, err := bp.extract(ctx, path)
			if out == nil {
				out = &Outcome{Path: path, Err: err}
			}
			if err != nil {
				// Recorded in the outcome; the other dumps keep going.
				bp.logger.Warn("extraction failed",
					"index", i+1,
					"error", err,
				)
			}
			done(out, i)
			return nil
		})
	}

	return g.Wait()
}

// CountFailed returns the number of outcomes that are missing or failed.
func CountFailed(outs []*Outcome) int {
	n := 0
	for _, o := range outs {
		if o == nil || o.Failed() {
			n++
		}
	}
	return n
}
