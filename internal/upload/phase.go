package upload

import (
	"errors"
	"fmt"
	"sync"
)

// Phase is the lifecycle state of one upload call.
type Phase int

// Phases in the order a successful upload passes through them. Failed and
// Cancelled are terminal and reachable from any non-terminal phase.
const (
	PhaseInit Phase = iota
	PhaseResolvingSession
	PhaseUploading
	PhaseFinalizing
	PhaseCompleted
	PhaseFailed
	PhaseCancelled
)

var phaseNames = [...]string{
	PhaseInit:             "INIT",
	PhaseResolvingSession: "RESOLVING_SESSION",
	PhaseUploading:        "UPLOADING",
	PhaseFinalizing:       "FINALIZING",
	PhaseCompleted:        "COMPLETED",
	PhaseFailed:           "FAILED",
	PhaseCancelled:        "CANCELLED",
}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}

	return fmt.Sprintf("Phase(%d)", int(p))
}

// Terminal reports whether no transition can leave p.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseCancelled
}

var errIllegalTransition = errors.New("upload: illegal phase transition")

// phaseMachine guards phase transitions for one run.
type phaseMachine struct {
	mu  sync.Mutex
	cur Phase
}

func (m *phaseMachine) current() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.cur
}

// transition moves to next. Forward moves must be exactly one step; Failed
// and Cancelled are accepted from any non-terminal phase.
func (m *phaseMachine) transition(next Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur.Terminal() {
		return fmt.Errorf("%w: %s -> %s", errIllegalTransition, m.cur, next)
	}

	switch next {
	case PhaseFailed, PhaseCancelled:
	default:
		if next != m.cur+1 {
			return fmt.Errorf("%w: %s -> %s", errIllegalTransition, m.cur, next)
		}
	}

	m.cur = next

	return nil
}
