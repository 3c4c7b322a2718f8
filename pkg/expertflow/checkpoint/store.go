// Package checkpoint provides durable conversation state for crash
// recovery. Each conversation thread accumulates a checkpoint per
// completed node step, plus a pending-writes ledger holding deltas that
// were produced but not yet folded into a saved checkpoint.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// RecordVersion is the current serialization version for Record.
const RecordVersion = 1

// Record is one saved checkpoint: the full conversation state as it
// stood after a node completed.
type Record struct {
	// Version is the serialization version, for forward migration.
	Version int `json:"version"`
	// ThreadID identifies the conversation thread.
	ThreadID string `json:"thread_id"`
	// Step is the monotonically increasing step within the thread.
	Step int `json:"step"`
	// NodeID is the node whose completion produced this checkpoint.
	NodeID string `json:"node_id"`
	// Timestamp is when the checkpoint was saved (UTC).
	Timestamp time.Time `json:"timestamp"`
	// State is the serialized conversation state.
	State json.RawMessage `json:"state"`
}

// Pending is a staged delta: a node's output recorded before the
// resulting checkpoint is saved. On recovery, pending writes are
// re-applied on top of the latest checkpoint.
type Pending struct {
	// ThreadID identifies the conversation thread.
	ThreadID string `json:"thread_id"`
	// Step is the step the delta belongs to.
	Step int `json:"step"`
	// NodeID is the node that produced the delta.
	NodeID string `json:"node_id"`
	// Timestamp is when the delta was staged (UTC).
	Timestamp time.Time `json:"timestamp"`
	// Delta is the serialized state delta.
	Delta json.RawMessage `json:"delta"`
}

// Store persists checkpoints and pending writes per conversation thread.
// Implementations must be safe for concurrent use.
type Store interface {
	// SaveCheckpoint stores a checkpoint, overwriting any existing
	// record for the same (thread, step).
	SaveCheckpoint(ctx context.Context, rec Record) error

	// LatestCheckpoint returns the highest-step checkpoint for a thread.
	// Returns ErrNotFound if the thread has no checkpoints.
	LatestCheckpoint(ctx context.Context, threadID string) (Record, error)

	// StagePending records a delta in the pending-writes ledger.
	StagePending(ctx context.Context, p Pending) error

	// PendingWrites returns all staged deltas for a thread, ordered by
	// step. Returns an empty slice (not an error) if none exist.
	PendingWrites(ctx context.Context, threadID string) ([]Pending, error)

	// ClearPending removes all staged deltas for a thread.
	// Returns nil if the thread has none.
	ClearPending(ctx context.Context, threadID string) error

	// DeleteThread removes all checkpoints and pending writes for a
	// thread. Returns nil if the thread is unknown.
	DeleteThread(ctx context.Context, threadID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates no checkpoint exists for the thread.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")
)
