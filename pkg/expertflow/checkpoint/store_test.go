package checkpoint

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactories builds each backend fresh per test.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(":memory:")
			require.NoError(t, err)
			return s
		},
		"redis": func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			return NewRedisStore(client)
		},
	}
}

func testRecord(threadID string, step int) Record {
	state, _ := json.Marshal(map[string]any{"step": step})
	return Record{
		Version:   RecordVersion,
		ThreadID:  threadID,
		Step:      step,
		NodeID:    "respond",
		Timestamp: time.Now().UTC(),
		State:     state,
	}
}

func testPending(threadID string, step int, nodeID string) Pending {
	delta, _ := json.Marshal(map[string]any{"node": nodeID})
	return Pending{
		ThreadID:  threadID,
		Step:      step,
		NodeID:    nodeID,
		Timestamp: time.Now().UTC(),
		Delta:     delta,
	}
}

func TestStoreSaveAndLatest(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			ctx := context.Background()

			require.NoError(t, store.SaveCheckpoint(ctx, testRecord("th-1", 1)))
			require.NoError(t, store.SaveCheckpoint(ctx, testRecord("th-1", 3)))
			require.NoError(t, store.SaveCheckpoint(ctx, testRecord("th-1", 2)))

			rec, err := store.LatestCheckpoint(ctx, "th-1")
			require.NoError(t, err)
			assert.Equal(t, 3, rec.Step)
			assert.Equal(t, "th-1", rec.ThreadID)
			assert.Equal(t, "respond", rec.NodeID)
			assert.Equal(t, RecordVersion, rec.Version)
			assert.NotEmpty(t, rec.State)
		})
	}
}

func TestStoreLatestNotFound(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()

			_, err := store.LatestCheckpoint(context.Background(), "nope")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreSaveOverwritesSameStep(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			ctx := context.Background()

			first := testRecord("th-1", 1)
			require.NoError(t, store.SaveCheckpoint(ctx, first))

			second := testRecord("th-1", 1)
			second.NodeID = "summarize"
			require.NoError(t, store.SaveCheckpoint(ctx, second))

			rec, err := store.LatestCheckpoint(ctx, "th-1")
			require.NoError(t, err)
			assert.Equal(t, "summarize", rec.NodeID)
		})
	}
}

func TestStorePendingLedger(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			ctx := context.Background()

			require.NoError(t, store.StagePending(ctx, testPending("th-1", 1, "respond")))
			require.NoError(t, store.StagePending(ctx, testPending("th-1", 2, "retrieve")))

			writes, err := store.PendingWrites(ctx, "th-1")
			require.NoError(t, err)
			require.Len(t, writes, 2)
			assert.Equal(t, "respond", writes[0].NodeID)
			assert.Equal(t, "retrieve", writes[1].NodeID)

			require.NoError(t, store.ClearPending(ctx, "th-1"))

			writes, err = store.PendingWrites(ctx, "th-1")
			require.NoError(t, err)
			assert.Empty(t, writes)
		})
	}
}

func TestStorePendingIsolatedPerThread(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			ctx := context.Background()

			require.NoError(t, store.StagePending(ctx, testPending("th-1", 1, "respond")))
			require.NoError(t, store.StagePending(ctx, testPending("th-2", 1, "retrieve")))

			writes, err := store.PendingWrites(ctx, "th-1")
			require.NoError(t, err)
			require.Len(t, writes, 1)
			assert.Equal(t, "respond", writes[0].NodeID)
		})
	}
}

func TestStoreDeleteThread(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			ctx := context.Background()

			require.NoError(t, store.SaveCheckpoint(ctx, testRecord("th-1", 1)))
			require.NoError(t, store.StagePending(ctx, testPending("th-1", 1, "respond")))
			require.NoError(t, store.SaveCheckpoint(ctx, testRecord("th-2", 1)))

			require.NoError(t, store.DeleteThread(ctx, "th-1"))

			_, err := store.LatestCheckpoint(ctx, "th-1")
			assert.ErrorIs(t, err, ErrNotFound)

			writes, err := store.PendingWrites(ctx, "th-1")
			require.NoError(t, err)
			assert.Empty(t, writes)

			// Other threads unaffected
			_, err = store.LatestCheckpoint(ctx, "th-2")
			assert.NoError(t, err)

			// Deleting an unknown thread is a no-op
			assert.NoError(t, store.DeleteThread(ctx, "unknown"))
		})
	}
}

func TestStoreClosedErrors(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			require.NoError(t, store.Close())

			ctx := context.Background()
			assert.ErrorIs(t, store.SaveCheckpoint(ctx, testRecord("th-1", 1)), ErrStoreClosed)
			_, err := store.LatestCheckpoint(ctx, "th-1")
			assert.ErrorIs(t, err, ErrStoreClosed)
			assert.ErrorIs(t, store.StagePending(ctx, testPending("th-1", 1, "respond")), ErrStoreClosed)

			// Double close is safe
			assert.NoError(t, store.Close())
		})
	}
}

func TestSQLiteStoreStatePersistsAcrossHandles(t *testing.T) {
	path := t.TempDir() + "/threads.db"

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.SaveCheckpoint(ctx, testRecord("th-1", 4)))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	rec, err := reopened.LatestCheckpoint(ctx, "th-1")
	require.NoError(t, err)
	assert.Equal(t, 4, rec.Step)
}
