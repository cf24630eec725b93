package upload

import (
	"context"

	"github.com/slidelens/deckup/internal/api"
)

// eventSlack covers the non-progress events of one run: phase changes,
// one error or completion event, and the resume baseline.
const eventSlack = 8

// Handle controls one in-flight upload. Each call to Orchestrator.Start gets
// its own Handle and its own cancellation signal.
type Handle struct {
	RunID string

	cancel context.CancelCauseFunc
	phase  *phaseMachine
	events chan Event
	done   chan struct{}

	result *api.UploadResult
	err    error
}

func newHandle(runID string, cancel context.CancelCauseFunc, phase *phaseMachine, totalChunks int) *Handle {
	return &Handle{
		RunID:  runID,
		cancel: cancel,
		phase:  phase,
		events: make(chan Event, totalChunks+eventSlack),
		done:   make(chan struct{}),
	}
}

// Cancel asks the upload to stop. In-flight requests are aborted, no new
// ones are issued, and progress recorded so far is kept for a later resume.
// Safe to call more than once and after completion.
func (h *Handle) Cancel() {
	h.cancel(ErrCancelled)
}

// Done is closed when the upload reaches a terminal phase.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the upload finishes and returns its outcome.
func (h *Handle) Wait() (*api.UploadResult, error) {
	<-h.done
	return h.result, h.err
}

// Events streams the upload's events and is closed before Done. The buffer
// holds every event a run can produce, so an unread channel never stalls
// the upload.
func (h *Handle) Events() <-chan Event {
	return h.events
}

// Phase returns the current phase.
func (h *Handle) Phase() Phase {
	return h.phase.current()
}

func (h *Handle) publish(ev Event) {
	select {
	case h.events <- ev:
	default:
	}
}

func (h *Handle) finish(res *api.UploadResult, err error) {
	h.result, h.err = res, err
	close(h.events)
	close(h.done)
}
