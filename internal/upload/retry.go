package upload

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/slidelens/deckup/internal/api"
)

const (
	backoffFactor  = 2.0
	jitterFraction = 0.25
)

// transferChunk uploads one chunk with bounded retry. Cancellation is checked
// before every attempt and during the delay between attempts, and is never
// retried. On success the index is recorded before returning.
func (o *Orchestrator) transferChunk(ctx context.Context, r *run, index int) (int, error) {
	c := r.plan.Chunk(index)
	req := api.ChunkRequest{
		UploadID:    r.sessionID(),
		Filename:    r.key.Filename,
		Index:       c.Index,
		TotalChunks: r.plan.Total(),
		Data:        r.src.Content,
		Offset:      c.Start,
		Size:        c.Len(),
	}

	var (
		lastErr  error
		attempts int
	)

	for attempt := range o.opts.RetryAttempts {
		if attempt > 0 {
			if err := o.sleepFunc(ctx, o.retryDelay(attempt)); err != nil {
				return attempts, cancelError(ctx)
			}
		}

		if ctx.Err() != nil {
			return attempts, cancelError(ctx)
		}

		attempts++

		r.progress.set(index, ChunkUploading)

		err := o.client.UploadChunk(ctx, req)
		if err == nil {
			o.commit(ctx, r, index)
			return attempts, nil
		}

		r.progress.set(index, ChunkFailed)

		if ctx.Err() != nil {
			return attempts, cancelError(ctx)
		}

		lastErr = err

		r.logger.Warn("chunk upload failed",
			slog.Int("index", index),
			slog.Int("attempt", attempts),
			slog.Int("max_attempts", o.opts.RetryAttempts),
			slog.String("error", err.Error()),
		)

		if api.IsPermanent(err) {
			break
		}
	}

	return attempts, lastErr
}

// commit records a server-accepted chunk. The store write runs detached from
// cancellation: the server already holds the chunk.
func (o *Orchestrator) commit(ctx context.Context, r *run, index int) {
	if err := o.store.AddChunk(context.WithoutCancel(ctx), r.key, index); err != nil {
		r.logger.Warn("failed to record uploaded chunk",
			slog.Int("index", index),
			slog.String("error", err.Error()),
		)
	}

	r.progress.set(index, ChunkDone)
}

// retryDelay returns the wait before the given attempt (1-based retries).
func (o *Orchestrator) retryDelay(attempt int) time.Duration {
	if o.opts.Backoff != BackoffExponential || o.opts.RetryDelay <= 0 {
		return o.opts.RetryDelay
	}

	backoff := float64(o.opts.RetryDelay) * math.Pow(backoffFactor, float64(attempt-1))
	if backoff > float64(maxExponentialDelay) {
		backoff = float64(maxExponentialDelay)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand

	return time.Duration(backoff + jitter)
}

// timeSleep waits for d or until ctx is done.
func timeSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
