package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/slidelens/deckup/internal/api"
	"github.com/slidelens/deckup/internal/state"
)

// session is the outcome of resolve: the server session to upload into and
// the chunks it already holds.
type session struct {
	id       string
	uploaded map[int]struct{}
	resumed  bool
}

// resolve attaches to a persisted session when it is still usable and
// otherwise starts a fresh one. Problems with the persisted record or the
// liveness check never fail the upload; only a failed start does.
func (o *Orchestrator) resolve(ctx context.Context, r *run) (*session, error) {
	rec, err := o.store.Load(ctx, r.key)
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelError(ctx)
		}

		r.logger.Warn("ignoring unreadable upload record", slog.String("error", err.Error()))
		rec = nil
	}

	if rec != nil {
		sess, err := o.tryResume(ctx, r, rec)
		if err == nil {
			return sess, nil
		}

		if ctx.Err() != nil {
			return nil, cancelError(ctx)
		}

		r.logger.Info("starting over, previous session not resumable",
			slog.String("upload_id", rec.SessionID),
			slog.String("reason", err.Error()),
		)

		if err := o.store.Delete(ctx, r.key); err != nil {
			r.logger.Warn("failed to discard upload record", slog.String("error", err.Error()))
		}
	}

	return o.startFresh(ctx, r)
}

// tryResume returns the resumed session or an errResumeInvalid explaining
// why the record cannot be used.
func (o *Orchestrator) tryResume(ctx context.Context, r *run, rec *state.Record) (*session, error) {
	switch {
	case rec.Expired(o.nowFunc(), o.opts.RecordTTL):
		return nil, fmt.Errorf("%w: record created %s has expired", errResumeInvalid, rec.CreatedAt.Format(time.RFC3339))
	case rec.FileSize != r.plan.FileSize:
		return nil, fmt.Errorf("%w: size changed from %d to %d", errResumeInvalid, rec.FileSize, r.plan.FileSize)
	case rec.ChunkSize != r.plan.ChunkSize:
		return nil, fmt.Errorf("%w: chunk size changed from %d to %d", errResumeInvalid, rec.ChunkSize, r.plan.ChunkSize)
	case rec.TotalChunks != r.plan.Total():
		return nil, fmt.Errorf("%w: chunk count changed from %d to %d", errResumeInvalid, rec.TotalChunks, r.plan.Total())
	case rec.SessionID == "":
		return nil, fmt.Errorf("%w: record has no session id", errResumeInvalid)
	}

	if err := o.checkLive(ctx, r, rec.SessionID); err != nil {
		return nil, err
	}

	uploaded := make(map[int]struct{}, len(rec.Uploaded))
	for i := range rec.Uploaded {
		if r.plan.Valid(i) {
			uploaded[i] = struct{}{}
		}
	}

	r.logger.Info("resuming upload session",
		slog.String("upload_id", rec.SessionID),
		slog.Int("chunks_done", len(uploaded)),
		slog.Int("total_chunks", r.plan.Total()),
	)

	return &session{id: rec.SessionID, uploaded: uploaded, resumed: true}, nil
}

// checkLive asks the server whether uploadID still exists. A confirmed
// 404/410 gives up at once; inconclusive failures are retried up to
// ResumeCheckAttempts times.
func (o *Orchestrator) checkLive(ctx context.Context, r *run, uploadID string) error {
	var lastErr error

	for attempt := range o.opts.ResumeCheckAttempts {
		if attempt > 0 {
			if err := o.sleepFunc(ctx, o.opts.RetryDelay); err != nil {
				return fmt.Errorf("%w: %w", errResumeInvalid, err)
			}
		}

		err := o.client.CheckUpload(ctx, uploadID)
		if err == nil {
			return nil
		}

		if errors.Is(err, api.ErrSessionGone) {
			return fmt.Errorf("%w: session expired on server: %w", errResumeInvalid, err)
		}

		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", errResumeInvalid, ctx.Err())
		}

		lastErr = err

		r.logger.Warn("session liveness check inconclusive",
			slog.String("upload_id", uploadID),
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", o.opts.ResumeCheckAttempts),
			slog.String("error", err.Error()),
		)
	}

	return fmt.Errorf("%w: liveness check failed %d time(s): %w", errResumeInvalid, o.opts.ResumeCheckAttempts, lastErr)
}

// startFresh allocates a new session and persists an empty record for it.
func (o *Orchestrator) startFresh(ctx context.Context, r *run) (*session, error) {
	id, err := o.client.StartUpload(ctx, api.StartRequest{
		Filename:    r.key.Filename,
		FileSize:    r.plan.FileSize,
		TotalChunks: r.plan.Total(),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelError(ctx)
		}

		return nil, &SessionStartError{Filename: r.src.Name, Err: err}
	}

	rec := &state.Record{
		SessionID:   id,
		ChunkSize:   r.plan.ChunkSize,
		TotalChunks: r.plan.Total(),
		Uploaded:    make(map[int]struct{}),
	}

	// The session exists server-side now; record it even if we are being
	// cancelled so a later run can resume it.
	if err := o.store.Save(context.WithoutCancel(ctx), r.key, rec); err != nil {
		r.logger.Warn("failed to persist upload record, this upload will not be resumable",
			slog.String("upload_id", id),
			slog.String("error", err.Error()),
		)
	}

	r.logger.Info("upload session started",
		slog.String("upload_id", id),
		slog.Int("total_chunks", r.plan.Total()),
	)

	return &session{id: id, uploaded: make(map[int]struct{})}, nil
}
