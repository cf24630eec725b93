// Package state persists in-progress upload records so an interrupted upload
// can be resumed by a later process. Records are keyed by file identity
// (filename, size) and carry the server session ID plus the set of chunk
// indices the server has already accepted.
//
// Two backends implement Store: FileStore keeps one JSON file per record and
// SQLiteStore keeps records in a single database. Both serialize AddChunk per
// key, which is the only mutation that races in practice (sibling chunks of
// one batch completing together).
package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/text/unicode/norm"
)

// DefaultTTL is how long a record stays resumable after it was created.
const DefaultTTL = 24 * time.Hour

var (
	// ErrNoRecord is returned by AddChunk when no record exists for the key.
	ErrNoRecord = errors.New("state: no upload record")
	// ErrChunkOutOfRange is returned for an index outside [0, TotalChunks).
	ErrChunkOutOfRange = errors.New("state: chunk index out of range")
	// ErrCorruptRecord is returned when a stored record cannot be decoded.
	// The corrupt entry is removed before returning.
	ErrCorruptRecord = errors.New("state: corrupt upload record")
)

// Key identifies a source file. Filename is normalized to NFC so that the
// same name typed on different platforms maps to one record.
type Key struct {
	Filename string
	FileSize int64
}

// NewKey builds a normalized Key.
func NewKey(filename string, size int64) Key {
	return Key{Filename: norm.NFC.String(filename), FileSize: size}
}

func (k Key) String() string {
	return fmt.Sprintf("%s (%d bytes)", k.Filename, k.FileSize)
}

// Record is the persisted state of one in-progress upload.
type Record struct {
	Filename    string           `json:"filename"`
	FileSize    int64            `json:"file_size"`
	SessionID   string           `json:"upload_id"`
	ChunkSize   int64            `json:"chunk_size"`
	TotalChunks int              `json:"total_chunks"`
	Uploaded    map[int]struct{} `json:"-"`
	CreatedAt   time.Time        `json:"timestamp"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Key returns the identity the record is stored under.
func (r *Record) Key() Key {
	return Key{Filename: r.Filename, FileSize: r.FileSize}
}

// Expired reports whether the record is at least ttl old at now.
func (r *Record) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.CreatedAt) >= ttl
}

// Covers reports whether every chunk index has been recorded.
func (r *Record) Covers() bool {
	if len(r.Uploaded) < r.TotalChunks {
		return false
	}

	for i := range r.TotalChunks {
		if _, ok := r.Uploaded[i]; !ok {
			return false
		}
	}

	return true
}

// UploadedIndices returns the recorded indices in ascending order.
func (r *Record) UploadedIndices() []int {
	out := make([]int, 0, len(r.Uploaded))
	for i := range r.Uploaded {
		out = append(out, i)
	}

	sort.Ints(out)

	return out
}

// Clone returns a deep copy so callers can't mutate a store's cached set.
func (r *Record) Clone() *Record {
	c := *r
	c.Uploaded = make(map[int]struct{}, len(r.Uploaded))

	for i := range r.Uploaded {
		c.Uploaded[i] = struct{}{}
	}

	return &c
}

// Store is the durable record of in-progress uploads. Implementations are
// safe for concurrent use.
type Store interface {
	// Load returns the record for key, or nil, nil if none exists.
	Load(ctx context.Context, key Key) (*Record, error)
	// Save creates or replaces the record for key, including its uploaded set.
	Save(ctx context.Context, key Key, rec *Record) error
	// AddChunk adds index to the record's uploaded set. Additive and
	// idempotent; serialized per key.
	AddChunk(ctx context.Context, key Key, index int) error
	// Delete removes the record for key. Deleting a missing record is not an error.
	Delete(ctx context.Context, key Key) error
	// List returns every stored record.
	List(ctx context.Context) ([]*Record, error)
	// CleanStale removes records created more than maxAge ago and returns
	// how many were removed.
	CleanStale(ctx context.Context, maxAge time.Duration) (int, error)
	Close() error
}

// validateIndex checks index against the record's chunk count.
func validateIndex(rec *Record, index int) error {
	if index < 0 || index >= rec.TotalChunks {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrChunkOutOfRange, index, rec.TotalChunks)
	}

	return nil
}
