// Package collab is an in-memory implementation of the server side of the
// chunked upload protocol. It backs the client tests and the dev-server
// command; it is not meant for production storage.
//
// Semantics: every start allocates an independent session; chunk writes are
// idempotent per (upload_id, chunk_index); check answers 404 for unknown or
// expired sessions; finalize refuses (409, code "incomplete") until every
// chunk is present, then assembles and stays idempotent.
package collab

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/slidelens/deckup/internal/api"
)

// DefaultSessionTTL is how long an unfinished session stays live.
const DefaultSessionTTL = 24 * time.Hour

// maxChunkBytes bounds a single multipart request.
const maxChunkBytes = 64 << 20

// Faults injects failures and latency for tests. Zero values mean "behave".
type Faults struct {
	// StartStatus, CheckStatus, FinalizeStatus force a status on every call.
	StartStatus    int
	CheckStatus    int
	FinalizeStatus int
	// ChunkStatus is consulted before a chunk is stored; attempt counts from
	// 1 per (session, index). A non-zero return is sent instead of storing.
	ChunkStatus func(index, attempt int) int
	// ChunkDelay holds each chunk request open, to widen concurrency windows.
	ChunkDelay time.Duration
}

// Stats counts protocol calls.
type Stats struct {
	Starts        int64
	Checks        int64
	ChunkRequests int64
	Finalizes     int64
	MaxInFlight   int64
}

type session struct {
	id       string
	filename string
	size     int64
	total    int
	chunks   map[int][]byte
	attempts map[int]int
	created  time.Time
	seq      int
	result   *api.UploadResult
	data     []byte
}

// Server is an http.Handler speaking the upload protocol.
type Server struct {
	logger  *slog.Logger
	ttl     time.Duration
	nowFunc func() time.Time
	router  *mux.Router

	mu       sync.Mutex
	sessions map[string]*session
	faults   Faults
	nextID   int
	nextSeq  int

	starts, checks, chunkReqs, finalizes atomic.Int64
	inFlight, maxInFlight                atomic.Int64
}

// NewServer builds a Server whose routes live under prefix
// (e.g. "/api/presentations"; "" for the root).
func NewServer(prefix string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		logger:   logger,
		ttl:      DefaultSessionTTL,
		nowFunc:  time.Now,
		sessions: make(map[string]*session),
	}

	r := mux.NewRouter()

	sub := r
	if prefix = strings.TrimRight(prefix, "/"); prefix != "" {
		sub = r.PathPrefix(prefix).Subrouter()
	}

	sub.HandleFunc("/upload/start", s.handleStart).Methods(http.MethodPost)
	sub.HandleFunc("/upload/chunk", s.handleChunk).Methods(http.MethodPost)
	sub.HandleFunc("/upload/finalize", s.handleFinalize).Methods(http.MethodPost)
	sub.HandleFunc("/upload/{id}", s.handleCheck).Methods(http.MethodGet)
	s.router = r

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if rid := r.Header.Get("X-Request-ID"); rid != "" {
		w.Header().Set("X-Request-ID", rid)
	}

	s.router.ServeHTTP(w, r)
}

// SetFaults replaces the active fault configuration.
func (s *Server) SetFaults(f Faults) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.faults = f
}

// SetClock overrides the server clock used for session expiry.
func (s *Server) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nowFunc = now
}

// Stats returns a snapshot of call counters.
func (s *Server) Stats() Stats {
	return Stats{
		Starts:        s.starts.Load(),
		Checks:        s.checks.Load(),
		ChunkRequests: s.chunkReqs.Load(),
		Finalizes:     s.finalizes.Load(),
		MaxInFlight:   s.maxInFlight.Load(),
	}
}

// Expire drops a session as if its TTL had passed.
func (s *Server) Expire(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
}

// SessionFor returns the most recently started session for filename.
func (s *Server) SessionFor(filename string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		best  *session
		found bool
	)

	for _, sess := range s.sessions {
		if sess.filename != filename {
			continue
		}

		if !found || sess.seq > best.seq {
			best, found = sess, true
		}
	}

	if !found {
		return "", false
	}

	return best.id, true
}

// ReceivedChunks returns how many distinct chunks a session holds.
func (s *Server) ReceivedChunks(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		return len(sess.chunks)
	}

	return 0
}

// ChunkAttempts returns how many requests arrived for one chunk index.
func (s *Server) ChunkAttempts(id string, index int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		return sess.attempts[index]
	}

	return 0
}

// Assembled returns the assembled bytes of a finalized session.
func (s *Server) Assembled(id string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.result == nil {
		return nil, false
	}

	return sess.data, true
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.starts.Add(1)

	if st := s.currentFaults().StartStatus; st != 0 {
		writeError(w, st, "injected start failure", "")
		return
	}

	var req api.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "")
		return
	}

	if req.Filename == "" || req.FileSize <= 0 || req.TotalChunks <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "filename, file_size and total_chunks are required", "")
		return
	}

	s.mu.Lock()
	s.nextSeq++
	sess := &session{
		seq:      s.nextSeq,
		id:       uuid.NewString(),
		filename: req.Filename,
		size:     req.FileSize,
		total:    req.TotalChunks,
		chunks:   make(map[int][]byte),
		attempts: make(map[int]int),
		created:  s.nowFunc(),
	}
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	s.logger.Debug("collab: session started",
		slog.String("upload_id", sess.id),
		slog.String("filename", sess.filename),
		slog.Int("total_chunks", sess.total),
	)

	writeJSON(w, http.StatusOK, map[string]string{"upload_id": sess.id})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	s.checks.Add(1)

	if st := s.currentFaults().CheckStatus; st != 0 {
		writeError(w, st, "injected check failure", "")
		return
	}

	id := mux.Vars(r)["id"]

	s.mu.Lock()
	sess, ok := s.liveSessionLocked(id)
	var received int
	if ok {
		received = len(sess.chunks)
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "upload session not found", "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"upload_id":       id,
		"received_chunks": received,
		"total_chunks":    sess.total,
	})
}

func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	s.chunkReqs.Add(1)

	cur := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	for {
		prev := s.maxInFlight.Load()
		if cur <= prev || s.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}

	faults := s.currentFaults()

	if faults.ChunkDelay > 0 {
		select {
		case <-time.After(faults.ChunkDelay):
		case <-r.Context().Done():
			return
		}
	}

	if err := r.ParseMultipartForm(maxChunkBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body", "")
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck // temp files only

	id := r.FormValue(api.FieldUploadID)

	index, err := strconv.Atoi(r.FormValue(api.FieldChunkIndex))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "chunk_index must be an integer", "")
		return
	}

	data, err := readFormFile(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	s.mu.Lock()
	sess, ok := s.liveSessionLocked(id)
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "upload session not found", "")

		return
	}

	if index < 0 || index >= sess.total {
		s.mu.Unlock()
		writeError(w, http.StatusUnprocessableEntity, "chunk_index out of range", "")

		return
	}

	sess.attempts[index]++
	attempt := sess.attempts[index]
	s.mu.Unlock()

	if faults.ChunkStatus != nil {
		if st := faults.ChunkStatus(index, attempt); st != 0 {
			writeError(w, st, fmt.Sprintf("injected failure for chunk %d", index), "")
			return
		}
	}

	s.mu.Lock()
	if sess.result == nil {
		sess.chunks[index] = data
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"upload_id": id, "chunk_index": index})
}

func readFormFile(r *http.Request) ([]byte, error) {
	f, _, err := r.FormFile(api.FieldFile)
	if err != nil {
		return nil, errors.New("missing file part")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading file part: %w", err)
	}

	return data, nil
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	s.finalizes.Add(1)

	if st := s.currentFaults().FinalizeStatus; st != 0 {
		writeError(w, st, "injected finalize failure", "")
		return
	}

	var req struct {
		UploadID string `json:"upload_id"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[req.UploadID]
	if !ok {
		writeError(w, http.StatusNotFound, "upload session not found", "")
		return
	}

	if sess.result != nil {
		writeJSON(w, http.StatusOK, sess.result)
		return
	}

	if missing := sess.total - len(sess.chunks); missing > 0 {
		writeError(w, http.StatusConflict,
			fmt.Sprintf("%d of %d chunks missing", missing, sess.total), "incomplete")

		return
	}

	var buf bytes.Buffer
	for i := range sess.total {
		buf.Write(sess.chunks[i])
	}

	if int64(buf.Len()) != sess.size {
		writeError(w, http.StatusUnprocessableEntity,
			fmt.Sprintf("assembled %d bytes, expected %d", buf.Len(), sess.size), "size_mismatch")

		return
	}

	s.nextID++
	sess.data = buf.Bytes()
	sess.chunks = nil
	sess.result = &api.UploadResult{
		ID:         api.ArtifactID(strconv.Itoa(s.nextID)),
		Filename:   sess.filename,
		UploadDate: api.Timestamp{Time: s.nowFunc().UTC()},
		Metadata:   map[string]any{"size": sess.size, "chunks": sess.total},
	}

	s.logger.Debug("collab: upload assembled",
		slog.String("upload_id", sess.id),
		slog.Int("bytes", len(sess.data)),
	)

	writeJSON(w, http.StatusOK, sess.result)
}

// liveSessionLocked returns an unfinished, unexpired session. Finalized
// sessions are also reported live so chunk retries after assembly succeed.
func (s *Server) liveSessionLocked(id string) (*session, bool) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}

	if sess.result == nil && s.nowFunc().Sub(sess.created) >= s.ttl {
		delete(s.sessions, id)
		return nil, false
	}

	return sess, true
}

func (s *Server) currentFaults() Faults {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.faults
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}

func writeError(w http.ResponseWriter, status int, detail, code string) {
	body := map[string]string{"detail": detail}
	if code != "" {
		body["code"] = code
	}

	writeJSON(w, status, body)
}
