package upload

import (
	"time"

	"github.com/slidelens/deckup/internal/api"
)

// EventType classifies an Event.
type EventType string

// Event types.
const (
	EventPhase     EventType = "phase"
	EventProgress  EventType = "progress"
	EventError     EventType = "error"
	EventCompleted EventType = "completed"
)

// Event is one observation of an upload. Percent is set on progress events,
// Err on error events, Result on completed events. Phase is always the phase
// current when the event was emitted.
type Event struct {
	Type     EventType
	Phase    Phase
	Percent  int
	Err      error
	Result   *api.UploadResult
	RunID    string
	UploadID string
	Filename string
	Time     time.Time
}
