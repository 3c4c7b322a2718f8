package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists checkpoints to Redis. Threads survive process
// restarts and can be shared between processes, which makes this the
// store for multi-instance deployments.
//
// Key layout per thread:
//
//	<prefix>:cp:<thread>      hash  step -> checkpoint JSON
//	<prefix>:cpidx:<thread>   zset  score=step, for latest-step lookup
//	<prefix>:pending:<thread> list  staged delta JSON, in stage order
type RedisStore struct {
	client *redis.Client
	prefix string

	mu     sync.RWMutex
	closed bool
}

// RedisOption configures RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix overrides the default "expertflow" key prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// NewRedisStore creates a checkpoint store over an existing Redis client.
// The caller keeps ownership of the client unless Close is called.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: "expertflow"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) cpKey(threadID string) string {
	return fmt.Sprintf("%s:cp:%s", s.prefix, threadID)
}

func (s *RedisStore) idxKey(threadID string) string {
	return fmt.Sprintf("%s:cpidx:%s", s.prefix, threadID)
}

func (s *RedisStore) pendingKey(threadID string) string {
	return fmt.Sprintf("%s:pending:%s", s.prefix, threadID)
}

func (s *RedisStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// SaveCheckpoint implements Store.
func (s *RedisStore) SaveCheckpoint(ctx context.Context, rec Record) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	field := strconv.Itoa(rec.Step)
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, s.cpKey(rec.ThreadID), field, data)
	pipe.ZAdd(ctx, s.idxKey(rec.ThreadID), redis.Z{Score: float64(rec.Step), Member: field})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// LatestCheckpoint implements Store.
func (s *RedisStore) LatestCheckpoint(ctx context.Context, threadID string) (Record, error) {
	if err := s.checkOpen(); err != nil {
		return Record{}, err
	}

	steps, err := s.client.ZRevRange(ctx, s.idxKey(threadID), 0, 0).Result()
	if err != nil {
		return Record{}, fmt.Errorf("latest step lookup: %w", err)
	}
	if len(steps) == 0 {
		return Record{}, ErrNotFound
	}

	data, err := s.client.HGet(ctx, s.cpKey(threadID), steps[0]).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("load checkpoint: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return Record{}, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return rec, nil
}

// StagePending implements Store.
func (s *RedisStore) StagePending(ctx context.Context, p Pending) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pending write: %w", err)
	}
	if err := s.client.RPush(ctx, s.pendingKey(p.ThreadID), data).Err(); err != nil {
		return fmt.Errorf("stage pending write: %w", err)
	}
	return nil
}

// PendingWrites implements Store.
func (s *RedisStore) PendingWrites(ctx context.Context, threadID string) ([]Pending, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	items, err := s.client.LRange(ctx, s.pendingKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending writes: %w", err)
	}

	out := make([]Pending, 0, len(items))
	for _, item := range items {
		var p Pending
		if err := json.Unmarshal([]byte(item), &p); err != nil {
			return nil, fmt.Errorf("unmarshal pending write: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

// ClearPending implements Store.
func (s *RedisStore) ClearPending(ctx context.Context, threadID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	if err := s.client.Del(ctx, s.pendingKey(threadID)).Err(); err != nil {
		return fmt.Errorf("clear pending writes: %w", err)
	}
	return nil
}

// DeleteThread implements Store.
func (s *RedisStore) DeleteThread(ctx context.Context, threadID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.cpKey(threadID))
	pipe.Del(ctx, s.idxKey(threadID))
	pipe.Del(ctx, s.pendingKey(threadID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

// Compile-time interface check.
var _ Store = (*RedisStore)(nil)
