package upload

import "sync"

// ChunkStatus is the transfer state of one chunk within a run.
type ChunkStatus int

// Chunk statuses.
const (
	ChunkPending ChunkStatus = iota
	ChunkUploading
	ChunkDone
	ChunkFailed
)

func (s ChunkStatus) String() string {
	switch s {
	case ChunkPending:
		return "pending"
	case ChunkUploading:
		return "uploading"
	case ChunkDone:
		return "done"
	case ChunkFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// progress tracks chunk statuses and derives percent complete. emit is
// called with the mutex held, so percentages reach the sink in order.
type progress struct {
	mu       sync.Mutex
	statuses []ChunkStatus
	done     int
	emit     func(percent int)
}

func newProgress(total int, uploaded map[int]struct{}, emit func(int)) *progress {
	p := &progress{statuses: make([]ChunkStatus, total), emit: emit}

	for i := range uploaded {
		if i >= 0 && i < total {
			p.statuses[i] = ChunkDone
			p.done++
		}
	}

	return p
}

// percent is round(100*done/total). An empty plan counts as complete.
func percent(done, total int) int {
	if total == 0 {
		return 100
	}

	return (200*done + total) / (2 * total)
}

// baseline emits the starting percentage when prior progress exists.
func (p *progress) baseline() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done > 0 {
		p.emit(percent(p.done, len(p.statuses)))
	}
}

// set records a status change. Only the first transition to done counts.
func (p *progress) set(index int, s ChunkStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.statuses[index] == ChunkDone {
		return
	}

	p.statuses[index] = s

	if s == ChunkDone {
		p.done++
		p.emit(percent(p.done, len(p.statuses)))
	}
}

// uploaded returns the indices currently done.
func (p *progress) uploaded() map[int]struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	set := make(map[int]struct{}, p.done)

	for i, s := range p.statuses {
		if s == ChunkDone {
			set[i] = struct{}{}
		}
	}

	return set
}

// counts returns done and total.
func (p *progress) counts() (done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.done, len(p.statuses)
}
