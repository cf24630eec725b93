package upload

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// fsWatcher is the subset of *fsnotify.Watcher the source watcher needs.
type fsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWatcher struct {
	w *fsnotify.Watcher
}

func newFsnotifyWatcher() (fsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("upload: creating watcher: %w", err)
	}

	return &fsnotifyWatcher{w: w}, nil
}

func (f *fsnotifyWatcher) Add(name string) error         { return f.w.Add(name) }
func (f *fsnotifyWatcher) Close() error                  { return f.w.Close() }
func (f *fsnotifyWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f *fsnotifyWatcher) Errors() <-chan error          { return f.w.Errors }

// watchSource cancels the run with ErrSourceChanged when the source file is
// written, renamed or removed. The returned stop func blocks until the
// watcher goroutine has exited. Watch setup failures only disable watching.
func (o *Orchestrator) watchSource(ctx context.Context, r *run) (stop func()) {
	w, err := o.newWatcher()
	if err != nil {
		r.logger.Warn("source watcher unavailable", slog.String("error", err.Error()))
		return func() {}
	}

	if err := w.Add(r.src.Path); err != nil {
		r.logger.Warn("cannot watch source file",
			slog.String("path", r.src.Path),
			slog.String("error", err.Error()),
		)
		w.Close()

		return func() {}
	}

	var wg sync.WaitGroup

	watchCtx, cancel := context.WithCancel(ctx)

	wg.Add(1)

	go func() {
		defer wg.Done()
		watchLoop(watchCtx, w, r)
	}()

	return func() {
		cancel()
		w.Close()
		wg.Wait()
	}
}

func watchLoop(ctx context.Context, w fsWatcher, r *run) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events():
			if !ok {
				return
			}

			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}

			r.logger.Warn("source file changed during upload",
				slog.String("path", ev.Name),
				slog.String("op", ev.Op.String()),
			)
			r.cancel(fmt.Errorf("%w: %s %s", ErrSourceChanged, ev.Op, ev.Name))

			return
		case err, ok := <-w.Errors():
			if !ok {
				return
			}

			r.logger.Warn("source watcher error", slog.String("error", err.Error()))
		}
	}
}
