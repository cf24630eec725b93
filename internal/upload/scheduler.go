package upload

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/slidelens/deckup/internal/chunk"
)

// transferAll uploads every chunk not yet recorded, in batches of at most
// MaxConcurrentChunks. A batch settles completely before the next starts.
// If a chunk exhausts its retries the upload stops after its batch and the
// lowest failing index is reported; cancellation wins over such failures.
func (o *Orchestrator) transferAll(ctx context.Context, r *run) error {
	remaining := r.plan.Remaining(r.progress.uploaded())
	batches := chunk.Batches(remaining, o.opts.MaxConcurrentChunks)

	r.logger.Debug("transferring chunks",
		slog.Int("remaining", len(remaining)),
		slog.Int("batches", len(batches)),
		slog.Int("max_concurrent", o.opts.MaxConcurrentChunks),
	)

	for n, batch := range batches {
		if ctx.Err() != nil {
			return cancelError(ctx)
		}

		errs := make([]error, len(batch))
		attempts := make([]int, len(batch))

		var g errgroup.Group
		g.SetLimit(o.opts.MaxConcurrentChunks)

		for i, index := range batch {
			g.Go(func() error {
				attempts[i], errs[i] = o.transferChunk(ctx, r, index)
				return nil
			})
		}

		_ = g.Wait() //nolint:errcheck // per-chunk errors are collected in errs

		if ctx.Err() != nil {
			return cancelError(ctx)
		}

		for i, err := range errs {
			if err != nil {
				return &ChunkUploadError{Index: batch[i], Attempts: attempts[i], Cause: err}
			}
		}

		r.logger.Debug("batch settled", slog.Int("batch", n), slog.Int("size", len(batch)))
	}

	return nil
}
