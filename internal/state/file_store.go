package state

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// recordSubdir is the subdirectory within the state dir for record files.
const recordSubdir = "uploads"

// recordFilePerms restricts record files to the owner; they hold session IDs
// that let anyone append chunks to the upload.
const recordFilePerms = 0o600

const recordDirPerms = 0o700

// diskRecord is the on-disk JSON format of a Record.
type diskRecord struct {
	Filename    string    `json:"filename"`
	FileSize    int64     `json:"file_size"`
	SessionID   string    `json:"upload_id"`
	ChunkSize   int64     `json:"chunk_size"`
	TotalChunks int       `json:"total_chunks"`
	Uploaded    []int     `json:"uploaded_chunk_indices"`
	CreatedAt   time.Time `json:"timestamp"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toDisk(r *Record) diskRecord {
	return diskRecord{
		Filename:    r.Filename,
		FileSize:    r.FileSize,
		SessionID:   r.SessionID,
		ChunkSize:   r.ChunkSize,
		TotalChunks: r.TotalChunks,
		Uploaded:    r.UploadedIndices(),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func (d diskRecord) toRecord() *Record {
	rec := &Record{
		Filename:    d.Filename,
		FileSize:    d.FileSize,
		SessionID:   d.SessionID,
		ChunkSize:   d.ChunkSize,
		TotalChunks: d.TotalChunks,
		Uploaded:    make(map[int]struct{}, len(d.Uploaded)),
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}

	for _, i := range d.Uploaded {
		rec.Uploaded[i] = struct{}{}
	}

	return rec
}

// FileStore keeps one JSON file per upload record, named by
// sha256(len(filename):filename:size). Writes go through a temp file and an
// atomic rename so a crash never leaves a half-written record.
type FileStore struct {
	dir     string
	logger  *slog.Logger
	nowFunc func() time.Time

	locks keyedMutex
}

// NewFileStore creates a FileStore rooted at stateDir/uploads. The directory
// is created lazily on first write.
func NewFileStore(stateDir string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &FileStore{
		dir:     filepath.Join(stateDir, recordSubdir),
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Load reads the record for key. A corrupt file is deleted and reported as
// ErrCorruptRecord.
func (s *FileStore) Load(_ context.Context, key Key) (*Record, error) {
	key = NewKey(key.Filename, key.FileSize)

	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	return s.loadLocked(key)
}

func (s *FileStore) loadLocked(key Key) (*Record, error) {
	path := s.filePath(key)

	rec, err := s.readFile(path)
	if err != nil || rec == nil {
		return rec, err
	}

	// A hash collision is astronomically unlikely, but a record that
	// doesn't describe this key must never be resumed.
	if rec.Filename != key.Filename || rec.FileSize != key.FileSize {
		s.logger.Warn("upload record identity mismatch, ignoring",
			slog.String("path", path),
			slog.String("filename", key.Filename),
		)

		return nil, nil
	}

	return rec, nil
}

func (s *FileStore) readFile(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("state: reading record file: %w", err)
	}

	var d diskRecord
	if err := json.Unmarshal(data, &d); err != nil {
		s.logger.Warn("corrupt upload record, deleting",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			s.logger.Warn("failed to remove corrupt upload record",
				slog.String("path", path),
				slog.String("error", rmErr.Error()),
			)
		}

		return nil, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}

	return d.toRecord(), nil
}

// Save writes rec under key, replacing any existing record.
func (s *FileStore) Save(_ context.Context, key Key, rec *Record) error {
	key = NewKey(key.Filename, key.FileSize)

	for i := range rec.Uploaded {
		if err := validateIndex(rec, i); err != nil {
			return err
		}
	}

	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	rec = rec.Clone()
	rec.Filename = key.Filename
	rec.FileSize = key.FileSize

	now := s.nowFunc().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	rec.UpdatedAt = now

	return s.writeLocked(key, rec)
}

// AddChunk performs the read-modify-write of the uploaded set under the
// per-key lock.
func (s *FileStore) AddChunk(_ context.Context, key Key, index int) error {
	key = NewKey(key.Filename, key.FileSize)

	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	rec, err := s.loadLocked(key)
	if err != nil {
		return err
	}

	if rec == nil {
		return fmt.Errorf("%w: %s", ErrNoRecord, key)
	}

	if err := validateIndex(rec, index); err != nil {
		return err
	}

	if _, ok := rec.Uploaded[index]; ok {
		return nil
	}

	rec.Uploaded[index] = struct{}{}
	rec.UpdatedAt = s.nowFunc().UTC()

	return s.writeLocked(key, rec)
}

func (s *FileStore) writeLocked(key Key, rec *Record) error {
	if err := os.MkdirAll(s.dir, recordDirPerms); err != nil {
		return fmt.Errorf("state: creating record dir: %w", err)
	}

	data, err := json.Marshal(toDisk(rec))
	if err != nil {
		return fmt.Errorf("state: marshaling record: %w", err)
	}

	path := s.filePath(key)
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, data, recordFilePerms); err != nil {
		return fmt.Errorf("state: writing record temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) // best-effort cleanup
		return fmt.Errorf("state: renaming record temp file: %w", err)
	}

	return nil
}

// Delete removes the record file for key.
func (s *FileStore) Delete(_ context.Context, key Key) error {
	key = NewKey(key.Filename, key.FileSize)

	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	if err := os.Remove(s.filePath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("state: deleting record file: %w", err)
	}

	return nil
}

// List decodes every record file in the store directory. Corrupt files are
// removed and skipped.
func (s *FileStore) List(_ context.Context) ([]*Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("state: reading record dir: %w", err)
	}

	var out []*Record

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}

		rec, err := s.readFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			if errors.Is(err, ErrCorruptRecord) {
				continue
			}

			return nil, err
		}

		if rec != nil {
			out = append(out, rec)
		}
	}

	return out, nil
}

// CleanStale removes records whose CreatedAt is more than maxAge ago.
func (s *FileStore) CleanStale(ctx context.Context, maxAge time.Duration) (int, error) {
	recs, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	now := s.nowFunc()
	deleted := 0

	for _, rec := range recs {
		if !rec.Expired(now, maxAge) {
			continue
		}

		if err := s.Delete(ctx, rec.Key()); err != nil {
			s.logger.Warn("failed to clean stale upload record",
				slog.String("filename", rec.Filename),
				slog.String("error", err.Error()),
			)

			continue
		}

		s.logger.Info("deleted stale upload record",
			slog.String("filename", rec.Filename),
			slog.Duration("age", now.Sub(rec.CreatedAt)),
		)

		deleted++
	}

	return deleted, nil
}

// Close is a no-op; FileStore holds no open handles.
func (s *FileStore) Close() error {
	return nil
}

// recordFileName produces a deterministic file name for a key. The filename
// is length-prefixed so "a:" + "1" and "a" + ":1" can't collide.
func recordFileName(key Key) string {
	h := sha256.Sum256(fmt.Appendf(nil, "%d:%s:%d", len(key.Filename), key.Filename, key.FileSize))
	return fmt.Sprintf("%x.json", h)
}

func (s *FileStore) filePath(key Key) string {
	return filepath.Join(s.dir, recordFileName(key))
}

// keyedMutex hands out one mutex per Key, dropping it once no goroutine
// holds or waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[Key]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key Key) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[Key]*refMutex)
	}

	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}

	m.refs++
	k.mu.Unlock()

	m.Lock()
}

func (k *keyedMutex) Unlock(key Key) {
	k.mu.Lock()
	m := k.locks[key]
	m.refs--

	if m.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	m.Unlock()
}
