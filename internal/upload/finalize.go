package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/slidelens/deckup/internal/api"
	"github.com/slidelens/deckup/internal/chunk"
)

// finalize asks the server to assemble the session once every chunk is
// recorded, then clears the local record. On failure the record is kept so
// a later run goes straight to finalize.
func (o *Orchestrator) finalize(ctx context.Context, r *run) (*api.UploadResult, error) {
	id := r.sessionID()

	uploaded := r.progress.uploaded()
	if !r.plan.Covers(uploaded) {
		missing := r.plan.Remaining(uploaded)
		return nil, &FinalizeError{
			UploadID: id,
			Err:      fmt.Errorf("%d chunk(s) not uploaded, first missing %d", len(missing), missing[0]),
		}
	}

	if ctx.Err() != nil {
		return nil, cancelError(ctx)
	}

	res, err := o.client.FinalizeUpload(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelError(ctx)
		}

		if errors.Is(err, api.ErrFinalizeIncomplete) {
			r.logger.Warn("server reports missing chunks",
				slog.String("upload_id", id),
				slog.String("recorded", fmt.Sprint(chunk.SortedIndices(uploaded))),
			)
		}

		return nil, &FinalizeError{UploadID: id, Err: err}
	}

	if err := o.store.Delete(context.WithoutCancel(ctx), r.key); err != nil {
		r.logger.Warn("failed to clear upload record after finalize",
			slog.String("upload_id", id),
			slog.String("error", err.Error()),
		)
	}

	return res, nil
}
