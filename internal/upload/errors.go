package upload

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors. Typed errors below unwrap to these, so callers can use
// errors.Is without caring about the concrete type.
var (
	ErrValidation         = errors.New("upload: validation failed")
	ErrSessionStartFailed = errors.New("upload: session start failed")
	ErrChunkUploadFailed  = errors.New("upload: chunk upload failed")
	ErrCancelled          = errors.New("upload: cancelled")
	ErrFinalizeFailed     = errors.New("upload: finalize failed")

	// ErrUploadInProgress is returned when the same file identity is already
	// being uploaded through this Orchestrator.
	ErrUploadInProgress = errors.New("upload: an upload of this file is already in progress")

	// ErrSourceChanged is the cancel cause used when the source file is
	// modified mid-upload. It is a failure, not a cancellation.
	ErrSourceChanged = errors.New("upload: source file changed during upload")
)

// errResumeInvalid marks why a persisted record could not be resumed. It is
// logged, never returned to callers.
var errResumeInvalid = errors.New("upload: resume invalid")

// ValidationError reports a file rejected before any network call.
type ValidationError struct {
	Filename string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("upload: %s rejected: %s", e.Filename, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// SessionStartError reports that a fresh session could not be allocated.
type SessionStartError struct {
	Filename string
	Err      error
}

func (e *SessionStartError) Error() string {
	return fmt.Sprintf("upload: starting session for %s: %v", e.Filename, e.Err)
}

func (e *SessionStartError) Unwrap() []error { return []error{ErrSessionStartFailed, e.Err} }

// ChunkUploadError reports a chunk that exhausted its retries. Cause is the
// last underlying error.
type ChunkUploadError struct {
	Index    int
	Attempts int
	Cause    error
}

func (e *ChunkUploadError) Error() string {
	return fmt.Sprintf("upload: chunk %d failed after %d attempt(s): %v", e.Index, e.Attempts, e.Cause)
}

func (e *ChunkUploadError) Unwrap() []error { return []error{ErrChunkUploadFailed, e.Cause} }

// FinalizeError reports a failed assembly request. The local record is kept,
// so a later run only needs to finalize again.
type FinalizeError struct {
	UploadID string
	Err      error
}

func (e *FinalizeError) Error() string {
	return fmt.Sprintf("upload: finalizing session %s: %v", e.UploadID, e.Err)
}

func (e *FinalizeError) Unwrap() []error { return []error{ErrFinalizeFailed, e.Err} }

// cancelError converts the cause of a done context into the error an upload
// reports: ErrSourceChanged stays a failure, everything else is ErrCancelled.
func cancelError(ctx context.Context) error {
	cause := context.Cause(ctx)

	switch {
	case cause == nil:
		return ErrCancelled
	case errors.Is(cause, ErrSourceChanged), errors.Is(cause, ErrCancelled):
		return cause
	default:
		return fmt.Errorf("%w: %w", ErrCancelled, cause)
	}
}

// isCancellation reports whether err ends a run as CANCELLED rather than
// FAILED.
func isCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) && !errors.Is(err, ErrSourceChanged)
}
