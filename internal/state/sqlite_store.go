package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// DatabaseFile is the file name of the SQLite store inside the state dir.
const DatabaseFile = "uploads.db"

const (
	sqlLoadRecord = `SELECT upload_id, chunk_size, total_chunks, created_at, updated_at
		FROM upload_records WHERE filename = ? AND file_size = ?`

	sqlLoadChunks = `SELECT chunk_index FROM uploaded_chunks
		WHERE filename = ? AND file_size = ?`

	sqlUpsertRecord = `INSERT INTO upload_records
		(filename, file_size, upload_id, chunk_size, total_chunks, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(filename, file_size) DO UPDATE SET
		 upload_id = excluded.upload_id,
		 chunk_size = excluded.chunk_size,
		 total_chunks = excluded.total_chunks,
		 created_at = excluded.created_at,
		 updated_at = excluded.updated_at`

	sqlClearChunks = `DELETE FROM uploaded_chunks WHERE filename = ? AND file_size = ?`

	sqlInsertChunk = `INSERT OR IGNORE INTO uploaded_chunks (filename, file_size, chunk_index)
		VALUES (?, ?, ?)`

	sqlTouchRecord = `UPDATE upload_records SET updated_at = ? WHERE filename = ? AND file_size = ?`

	sqlTotalChunks = `SELECT total_chunks FROM upload_records WHERE filename = ? AND file_size = ?`

	sqlDeleteRecord = `DELETE FROM upload_records WHERE filename = ? AND file_size = ?`

	sqlListKeys = `SELECT filename, file_size FROM upload_records ORDER BY created_at`

	sqlDeleteStale = `DELETE FROM upload_records WHERE created_at <= ?`
)

// SQLiteStore keeps upload records in a SQLite database. All writes go
// through one connection, so AddChunk's read-check-insert runs without
// interleaving.
type SQLiteStore struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and runs
// migrations. WAL with synchronous=FULL keeps committed chunks durable across
// crashes.
func NewSQLiteStore(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("state: opening database %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("upload state database ready", slog.String("db_path", dbPath))

	return &SQLiteStore{db: db, logger: logger, nowFunc: time.Now}, nil
}

// Load returns the record for key with its uploaded set.
func (s *SQLiteStore) Load(ctx context.Context, key Key) (*Record, error) {
	key = NewKey(key.Filename, key.FileSize)

	return s.load(ctx, s.db, key)
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLiteStore) load(ctx context.Context, q queryer, key Key) (*Record, error) {
	var (
		rec              = Record{Filename: key.Filename, FileSize: key.FileSize}
		created, updated int64
	)

	err := q.QueryRowContext(ctx, sqlLoadRecord, key.Filename, key.FileSize).
		Scan(&rec.SessionID, &rec.ChunkSize, &rec.TotalChunks, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("state: loading record: %w", err)
	}

	rec.CreatedAt = time.Unix(0, created).UTC()
	rec.UpdatedAt = time.Unix(0, updated).UTC()
	rec.Uploaded = make(map[int]struct{})

	rows, err := q.QueryContext(ctx, sqlLoadChunks, key.Filename, key.FileSize)
	if err != nil {
		return nil, fmt.Errorf("state: loading chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, fmt.Errorf("state: scanning chunk row: %w", err)
		}

		rec.Uploaded[idx] = struct{}{}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("state: iterating chunk rows: %w", err)
	}

	return &rec, nil
}

// Save replaces the record and its uploaded set in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, key Key, rec *Record) error {
	key = NewKey(key.Filename, key.FileSize)

	for i := range rec.Uploaded {
		if err := validateIndex(rec, i); err != nil {
			return err
		}
	}

	now := s.nowFunc().UTC()

	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, sqlUpsertRecord,
			key.Filename, key.FileSize, rec.SessionID, rec.ChunkSize, rec.TotalChunks,
			created.UnixNano(), now.UnixNano(),
		); err != nil {
			return fmt.Errorf("state: upserting record: %w", err)
		}

		if _, err := tx.ExecContext(ctx, sqlClearChunks, key.Filename, key.FileSize); err != nil {
			return fmt.Errorf("state: clearing chunks: %w", err)
		}

		for i := range rec.Uploaded {
			if _, err := tx.ExecContext(ctx, sqlInsertChunk, key.Filename, key.FileSize, i); err != nil {
				return fmt.Errorf("state: inserting chunk %d: %w", i, err)
			}
		}

		return nil
	})
}

// AddChunk records index as uploaded. INSERT OR IGNORE makes repeats no-ops.
func (s *SQLiteStore) AddChunk(ctx context.Context, key Key, index int) error {
	key = NewKey(key.Filename, key.FileSize)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var total int

		err := tx.QueryRowContext(ctx, sqlTotalChunks, key.Filename, key.FileSize).Scan(&total)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNoRecord, key)
		}

		if err != nil {
			return fmt.Errorf("state: reading chunk count: %w", err)
		}

		if err := validateIndex(&Record{TotalChunks: total}, index); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, sqlInsertChunk, key.Filename, key.FileSize, index); err != nil {
			return fmt.Errorf("state: inserting chunk %d: %w", index, err)
		}

		if _, err := tx.ExecContext(ctx, sqlTouchRecord,
			s.nowFunc().UTC().UnixNano(), key.Filename, key.FileSize,
		); err != nil {
			return fmt.Errorf("state: touching record: %w", err)
		}

		return nil
	})
}

// Delete removes the record; its chunks go with it via ON DELETE CASCADE.
func (s *SQLiteStore) Delete(ctx context.Context, key Key) error {
	key = NewKey(key.Filename, key.FileSize)

	if _, err := s.db.ExecContext(ctx, sqlDeleteRecord, key.Filename, key.FileSize); err != nil {
		return fmt.Errorf("state: deleting record: %w", err)
	}

	return nil
}

// List returns every record, oldest first.
func (s *SQLiteStore) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, sqlListKeys)
	if err != nil {
		return nil, fmt.Errorf("state: listing records: %w", err)
	}

	var keys []Key

	for rows.Next() {
		var k Key
		if err := rows.Scan(&k.Filename, &k.FileSize); err != nil {
			rows.Close()
			return nil, fmt.Errorf("state: scanning record key: %w", err)
		}

		keys = append(keys, k)
	}

	// Close before issuing per-record queries: the pool has one connection.
	rows.Close()

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("state: iterating record keys: %w", err)
	}

	out := make([]*Record, 0, len(keys))

	for _, k := range keys {
		rec, err := s.load(ctx, s.db, k)
		if err != nil {
			return nil, err
		}

		if rec != nil {
			out = append(out, rec)
		}
	}

	return out, nil
}

// CleanStale deletes records created at least maxAge ago.
func (s *SQLiteStore) CleanStale(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.nowFunc().Add(-maxAge).UnixNano()

	res, err := s.db.ExecContext(ctx, sqlDeleteStale, cutoff)
	if err != nil {
		return 0, fmt.Errorf("state: cleaning stale records: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("state: counting cleaned records: %w", err)
	}

	if n > 0 {
		s.logger.Info("deleted stale upload records", slog.Int64("count", n))
	}

	return int(n), nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("state: beginning transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", slog.String("error", rbErr.Error()))
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("state: committing transaction: %w", err)
	}

	return nil
}
