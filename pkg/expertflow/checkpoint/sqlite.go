package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists checkpoints to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore creates a new SQLite checkpoint store.
// The path should be a file path (e.g., "./threads.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			node_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			timestamp TEXT NOT NULL,
			state BLOB NOT NULL,
			PRIMARY KEY (thread_id, step)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create checkpoints table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS pending_writes (
			thread_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			node_id TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			delta BLOB NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create pending_writes table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_pending_thread
		ON pending_writes(thread_id)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// SaveCheckpoint implements Store.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (thread_id, step, node_id, version, timestamp, state)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id, step) DO UPDATE SET
			node_id = excluded.node_id,
			version = excluded.version,
			timestamp = excluded.timestamp,
			state = excluded.state
	`, rec.ThreadID, rec.Step, rec.NodeID, rec.Version,
		rec.Timestamp.UTC().Format(time.RFC3339Nano), []byte(rec.State))

	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// LatestCheckpoint implements Store.
func (s *SQLiteStore) LatestCheckpoint(ctx context.Context, threadID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Record{}, ErrStoreClosed
	}

	var rec Record
	var timestamp string
	var state []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT step, node_id, version, timestamp, state
		FROM checkpoints
		WHERE thread_id = ?
		ORDER BY step DESC
		LIMIT 1
	`, threadID).Scan(&rec.Step, &rec.NodeID, &rec.Version, &timestamp, &state)

	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("load checkpoint: %w", err)
	}

	rec.ThreadID = threadID
	rec.State = state
	rec.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
	return rec, nil
}

// StagePending implements Store.
func (s *SQLiteStore) StagePending(ctx context.Context, p Pending) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_writes (thread_id, step, node_id, timestamp, delta)
		VALUES (?, ?, ?, ?, ?)
	`, p.ThreadID, p.Step, p.NodeID,
		p.Timestamp.UTC().Format(time.RFC3339Nano), []byte(p.Delta))

	if err != nil {
		return fmt.Errorf("stage pending write: %w", err)
	}
	return nil
}

// PendingWrites implements Store.
func (s *SQLiteStore) PendingWrites(ctx context.Context, threadID string) ([]Pending, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT step, node_id, timestamp, delta
		FROM pending_writes
		WHERE thread_id = ?
		ORDER BY step, rowid
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list pending writes: %w", err)
	}
	defer rows.Close()

	out := []Pending{}
	for rows.Next() {
		var p Pending
		var timestamp string
		var delta []byte
		if err := rows.Scan(&p.Step, &p.NodeID, &timestamp, &delta); err != nil {
			return nil, fmt.Errorf("scan pending write: %w", err)
		}
		p.ThreadID = threadID
		p.Delta = delta
		p.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
		out = append(out, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending writes: %w", err)
	}
	return out, nil
}

// ClearPending implements Store.
func (s *SQLiteStore) ClearPending(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM pending_writes WHERE thread_id = ?
	`, threadID)
	if err != nil {
		return fmt.Errorf("clear pending writes: %w", err)
	}
	return nil
}

// DeleteThread implements Store.
func (s *SQLiteStore) DeleteThread(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM checkpoints WHERE thread_id = ?
	`, threadID); err != nil {
		return fmt.Errorf("delete thread checkpoints: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM pending_writes WHERE thread_id = ?
	`, threadID); err != nil {
		return fmt.Errorf("delete thread pending writes: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)
