// Package upload drives resumable chunked uploads: it validates the source,
// resolves a fresh or resumed server session, transfers the remaining chunks
// in bounded concurrent batches with per-chunk retry, records every accepted
// chunk in a state.Store, and finalizes assembly.
//
// Persisted progress is only removed by a confirmed finalize or an explicit
// Reset. Failure and cancellation leave it in place for the next run.
package upload

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/slidelens/deckup/internal/api"
	"github.com/slidelens/deckup/internal/chunk"
	"github.com/slidelens/deckup/internal/state"
)

// Collaborator is the server side of the upload protocol. *api.Client
// implements it.
type Collaborator interface {
	StartUpload(ctx context.Context, req api.StartRequest) (string, error)
	CheckUpload(ctx context.Context, uploadID string) error
	UploadChunk(ctx context.Context, req api.ChunkRequest) error
	FinalizeUpload(ctx context.Context, uploadID string) (*api.UploadResult, error)
}

// Orchestrator owns a state store and runs uploads against a Collaborator.
// Independent files may upload concurrently; a second upload of a file
// identity that is already active is refused.
type Orchestrator struct {
	client Collaborator
	store  state.Store
	opts   Options
	logger *slog.Logger

	// sleepFunc waits between retries. Defaults to timeSleep.
	sleepFunc func(ctx context.Context, d time.Duration) error
	nowFunc   func() time.Time
	// newWatcher builds the source watcher. Defaults to fsnotify.
	newWatcher func() (fsWatcher, error)

	mu     sync.Mutex
	active map[state.Key]struct{}
}

// New creates an Orchestrator. Zero-valued numeric options take their
// defaults; see Options.
func New(client Collaborator, store state.Store, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		client:     client,
		store:      store,
		opts:       opts.withDefaults(),
		logger:     logger,
		sleepFunc:  timeSleep,
		nowFunc:    time.Now,
		newWatcher: newFsnotifyWatcher,
		active:     make(map[state.Key]struct{}),
	}
}

// run is the per-call state of one upload.
type run struct {
	id     string
	src    *Source
	key    state.Key
	plan   chunk.Plan
	logger *slog.Logger
	hooks  Hooks
	now    func() time.Time

	cancel context.CancelCauseFunc
	phase  *phaseMachine
	handle *Handle

	mu       sync.Mutex
	uploadID string

	// progress is set once the session is resolved.
	progress *progress
}

// Upload runs an upload to completion. Cancel it through ctx.
func (o *Orchestrator) Upload(ctx context.Context, src *Source) (*api.UploadResult, error) {
	h, err := o.Start(ctx, src)
	if err != nil {
		return nil, err
	}

	return h.Wait()
}

// Start validates src synchronously and then uploads it in the background.
// Validation failures and ErrUploadInProgress are returned directly (and
// delivered to OnError) without any network call.
func (o *Orchestrator) Start(ctx context.Context, src *Source) (*Handle, error) {
	if src == nil {
		src = &Source{}
	}

	if err := validate(src, o.opts); err != nil {
		o.logger.Warn("upload rejected",
			slog.String("file", src.Name),
			slog.String("error", err.Error()),
		)
		o.reportRejected(src, err)

		return nil, err
	}

	plan, err := chunk.NewPlan(src.Size, o.opts.ChunkSize)
	if err != nil {
		verr := &ValidationError{Filename: src.Name, Reason: err.Error()}
		o.reportRejected(src, verr)

		return nil, verr
	}

	key := state.NewKey(src.Name, src.Size)

	if !o.acquire(key) {
		err := fmt.Errorf("%w: %s", ErrUploadInProgress, key)
		o.reportRejected(src, err)

		return nil, err
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	id := uuid.NewString()
	phase := &phaseMachine{}

	r := &run{
		id:     id,
		src:    src,
		key:    key,
		plan:   plan,
		logger: o.logger.With(slog.String("file", src.Name), slog.String("run_id", id)),
		hooks:  o.opts.Hooks,
		now:    o.nowFunc,
		cancel: cancel,
		phase:  phase,
		handle: newHandle(id, cancel, phase, plan.Total()),
	}

	go o.execute(runCtx, r)

	return r.handle, nil
}

// Reset discards persisted progress for a file so the next upload starts a
// fresh session.
func (o *Orchestrator) Reset(ctx context.Context, filename string, size int64) error {
	key := state.NewKey(filename, size)

	o.mu.Lock()
	_, busy := o.active[key]
	o.mu.Unlock()

	if busy {
		return fmt.Errorf("%w: %s", ErrUploadInProgress, key)
	}

	if err := o.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("upload: resetting %s: %w", key, err)
	}

	o.logger.Info("upload record reset", slog.String("key", key.String()))

	return nil
}

// Pending lists persisted records of unfinished uploads.
func (o *Orchestrator) Pending(ctx context.Context) ([]*state.Record, error) {
	recs, err := o.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("upload: listing records: %w", err)
	}

	return recs, nil
}

// CleanStale removes records past the configured TTL.
func (o *Orchestrator) CleanStale(ctx context.Context) (int, error) {
	n, err := o.store.CleanStale(ctx, o.opts.RecordTTL)
	if err != nil {
		return 0, fmt.Errorf("upload: cleaning stale records: %w", err)
	}

	return n, nil
}

func (o *Orchestrator) acquire(key state.Key) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.active[key]; ok {
		return false
	}

	o.active[key] = struct{}{}

	return true
}

func (o *Orchestrator) release(key state.Key) {
	o.mu.Lock()
	defer o.mu.Unlock()

	delete(o.active, key)
}

// execute drives a run and settles its handle.
func (o *Orchestrator) execute(ctx context.Context, r *run) {
	start := o.nowFunc()

	res, err := o.drive(ctx, r)

	r.cancel(nil)
	o.release(r.key)

	if err != nil {
		r.fail(err)
	} else {
		r.complete(res)
		r.logger.Info("upload completed",
			slog.String("upload_id", r.sessionID()),
			slog.String("artifact_id", string(res.ID)),
			slog.Duration("elapsed", o.nowFunc().Sub(start)),
		)
	}

	r.handle.finish(res, err)
}

func (o *Orchestrator) drive(ctx context.Context, r *run) (*api.UploadResult, error) {
	if o.opts.WatchSource && r.src.Path != "" {
		stop := o.watchSource(ctx, r)
		defer stop()
	}

	r.setPhase(PhaseResolvingSession)

	sess, err := o.resolve(ctx, r)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.uploadID = sess.id
	r.mu.Unlock()

	r.progress = newProgress(r.plan.Total(), sess.uploaded, r.onProgress)

	r.setPhase(PhaseUploading)
	r.progress.baseline()

	if err := o.transferAll(ctx, r); err != nil {
		return nil, err
	}

	r.setPhase(PhaseFinalizing)

	return o.finalize(ctx, r)
}

func (r *run) sessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.uploadID
}

func (r *run) event(t EventType) Event {
	return Event{
		Type:     t,
		Phase:    r.phase.current(),
		RunID:    r.id,
		UploadID: r.sessionID(),
		Filename: r.src.Name,
		Time:     r.now(),
	}
}

func (r *run) publish(ev Event) {
	if r.hooks.OnEvent != nil {
		r.hooks.OnEvent(ev)
	}

	r.handle.publish(ev)
}

func (r *run) setPhase(p Phase) {
	if err := r.phase.transition(p); err != nil {
		r.logger.Error("phase transition rejected", slog.String("error", err.Error()))
		return
	}

	r.logger.Debug("upload phase", slog.String("phase", p.String()))
	r.publish(r.event(EventPhase))
}

func (r *run) onProgress(pct int) {
	if r.hooks.OnProgress != nil {
		r.hooks.OnProgress(pct)
	}

	ev := r.event(EventProgress)
	ev.Percent = pct
	r.publish(ev)
}

// fail settles the run as cancelled or failed and reports err.
func (r *run) fail(err error) {
	terminal := PhaseFailed
	if isCancellation(err) {
		terminal = PhaseCancelled
	}

	r.setPhase(terminal)

	done, total := 0, r.plan.Total()
	if r.progress != nil {
		done, total = r.progress.counts()
	}

	if terminal == PhaseCancelled {
		r.logger.Info("upload cancelled",
			slog.Int("chunks_done", done),
			slog.Int("total_chunks", total),
		)
	} else {
		r.logger.Error("upload failed",
			slog.Int("chunks_done", done),
			slog.Int("total_chunks", total),
			slog.String("error", err.Error()),
		)
	}

	if r.hooks.OnError != nil {
		r.hooks.OnError(err)
	}

	ev := r.event(EventError)
	ev.Err = err
	r.publish(ev)
}

func (r *run) complete(res *api.UploadResult) {
	r.setPhase(PhaseCompleted)

	ev := r.event(EventCompleted)
	ev.Result = res
	ev.Percent = 100
	r.publish(ev)
}

// reportRejected delivers a pre-flight failure to the hooks.
func (o *Orchestrator) reportRejected(src *Source, err error) {
	if o.opts.Hooks.OnError != nil {
		o.opts.Hooks.OnError(err)
	}

	if o.opts.Hooks.OnEvent != nil {
		o.opts.Hooks.OnEvent(Event{
			Type:     EventError,
			Phase:    PhaseFailed,
			Err:      err,
			Filename: src.Name,
			Time:     o.nowFunc(),
		})
	}
}
