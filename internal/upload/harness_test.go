package upload

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/slidelens/deckup/internal/api"
	"github.com/slidelens/deckup/internal/chunk"
	"github.com/slidelens/deckup/internal/collab"
	"github.com/slidelens/deckup/internal/state"
)

const testPrefix = "/api/presentations"

// harness wires an Orchestrator to an in-memory collaborator over HTTP.
type harness struct {
	url    string
	server *collab.Server
	client *api.Client
	store  state.Store
	sleeps *sleepRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	srv := collab.NewServer(testPrefix, slog.Default())
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	store := state.NewFileStore(t.TempDir(), slog.Default())

	return &harness{
		url:    ts.URL + testPrefix,
		server: srv,
		client: api.NewClient(ts.URL+testPrefix, ts.Client(), slog.Default(), api.WithMaxRetries(0)),
		store:  store,
		sleeps: &sleepRecorder{},
	}
}

// orchestrator builds an Orchestrator sharing the harness store, which is how
// a restarted process sees the previous run's state.
func (h *harness) orchestrator(opts Options) *Orchestrator {
	o := New(h.client, h.store, opts, slog.Default())
	o.sleepFunc = h.sleeps.sleep

	return o
}

func (h *harness) record(t *testing.T, src *Source) *state.Record {
	t.Helper()

	rec, err := h.store.Load(context.Background(), state.NewKey(src.Name, src.Size))
	require.NoError(t, err)

	return rec
}

// testOptions are fast defaults: no type restriction, tiny chunks.
func testOptions(chunkSize int64, maxConcurrent int) Options {
	return Options{
		ChunkSize:           chunkSize,
		MaxConcurrentChunks: maxConcurrent,
		RetryAttempts:       3,
		RetryDelay:          DefaultRetryDelay,
	}
}

// payload returns n deterministic bytes.
func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}

	return b
}

// newTestRun builds the per-call state resolve and transfer operate on.
func newTestRun(t *testing.T, o *Orchestrator, src *Source) *run {
	t.Helper()

	plan, err := chunk.NewPlan(src.Size, o.opts.ChunkSize)
	require.NoError(t, err)

	phase := &phaseMachine{}
	_, cancel := context.WithCancelCause(context.Background())
	t.Cleanup(func() { cancel(nil) })

	return &run{
		id:     "test-run",
		src:    src,
		key:    state.NewKey(src.Name, src.Size),
		plan:   plan,
		logger: slog.Default(),
		now:    o.nowFunc,
		cancel: cancel,
		phase:  phase,
		handle: newHandle("test-run", cancel, phase, plan.Total()),
	}
}

// sleepRecorder captures durations passed to sleepFunc without waiting.
type sleepRecorder struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.calls = append(s.calls, d)
	s.mu.Unlock()

	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]time.Duration(nil), s.calls...)
}

// progressLog collects OnProgress values.
type progressLog struct {
	mu     sync.Mutex
	values []int
}

func (p *progressLog) add(v int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.values = append(p.values, v)
}

func (p *progressLog) get() []int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]int(nil), p.values...)
}

// spanCollaborator wraps a Collaborator and records when each chunk upload
// starts and ends, to check batch ordering.
type spanCollaborator struct {
	Collaborator

	mu     sync.Mutex
	events []span
}

type span struct {
	index int
	start bool
}

func (s *spanCollaborator) UploadChunk(ctx context.Context, req api.ChunkRequest) error {
	s.mu.Lock()
	s.events = append(s.events, span{index: req.Index, start: true})
	s.mu.Unlock()

	err := s.Collaborator.UploadChunk(ctx, req)

	s.mu.Lock()
	s.events = append(s.events, span{index: req.Index})
	s.mu.Unlock()

	return err
}

// positions returns, per chunk index, the sequence positions of its first
// start and its last end.
func (s *spanCollaborator) positions() (starts, ends map[int]int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	starts, ends = make(map[int]int), make(map[int]int)

	for pos, e := range s.events {
		if e.start {
			if _, ok := starts[e.index]; !ok {
				starts[e.index] = pos
			}

			continue
		}

		ends[e.index] = pos
	}

	return starts, ends
}
