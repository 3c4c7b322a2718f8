package checkpoint

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps checkpoints in process memory.
// It is intended for tests and single-process development.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]map[int]Record // threadID -> step -> record
	pending     map[string][]Pending      // threadID -> staged deltas
	closed      bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		checkpoints: make(map[string]map[int]Record),
		pending:     make(map[string][]Pending),
	}
}

// SaveCheckpoint implements Store.
func (s *MemoryStore) SaveCheckpoint(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	steps, ok := s.checkpoints[rec.ThreadID]
	if !ok {
		steps = make(map[int]Record)
		s.checkpoints[rec.ThreadID] = steps
	}
	steps[rec.Step] = rec
	return nil
}

// LatestCheckpoint implements Store.
func (s *MemoryStore) LatestCheckpoint(ctx context.Context, threadID string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Record{}, ErrStoreClosed
	}

	steps, ok := s.checkpoints[threadID]
	if !ok || len(steps) == 0 {
		return Record{}, ErrNotFound
	}

	best := -1
	for step := range steps {
		if step > best {
			best = step
		}
	}
	return steps[best], nil
}

// StagePending implements Store.
func (s *MemoryStore) StagePending(ctx context.Context, p Pending) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	s.pending[p.ThreadID] = append(s.pending[p.ThreadID], p)
	return nil
}

// PendingWrites implements Store.
func (s *MemoryStore) PendingWrites(ctx context.Context, threadID string) ([]Pending, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	out := make([]Pending, len(s.pending[threadID]))
	copy(out, s.pending[threadID])
	sort.SliceStable(out, func(i, j int) bool { return out[i].Step < out[j].Step })
	return out, nil
}

// ClearPending implements Store.
func (s *MemoryStore) ClearPending(ctx context.Context, threadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	delete(s.pending, threadID)
	return nil
}

// DeleteThread implements Store.
func (s *MemoryStore) DeleteThread(ctx context.Context, threadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	delete(s.checkpoints, threadID)
	delete(s.pending, threadID)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.checkpoints = nil
	s.pending = nil
	return nil
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)
