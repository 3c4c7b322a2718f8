package expertflow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanaosei/expertflow/pkg/expertflow/checkpoint"
)

// appendNode returns a node that appends one assistant message.
func appendNode(content string) NodeFunc {
	return func(ctx Context, state State) (Delta, error) {
		return Delta{Append: []Message{NewAssistantMessage(content)}}, nil
	}
}

func linearGraph(t *testing.T) *CompiledGraph {
	t.Helper()
	cg, err := NewGraph().
		AddNode("first", appendNode("one")).
		AddNode("second", appendNode("two")).
		AddEdge("first", "second").
		AddEdge("second", END).
		SetEntry("first").
		Compile()
	require.NoError(t, err)
	return cg
}

func TestRunLinear(t *testing.T) {
	cg := linearGraph(t)
	ctx := NewContext(context.Background())

	final, err := cg.Run(ctx, NewState("th-1", Persona{}))
	require.NoError(t, err)

	require.Len(t, final.Messages, 2)
	assert.Equal(t, "one", final.Messages[0].Content)
	assert.Equal(t, "two", final.Messages[1].Content)
}

func TestRunNilContext(t *testing.T) {
	cg := linearGraph(t)

	_, err := cg.Run(nil, NewState("th-1", Persona{}))
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestRunNodeError(t *testing.T) {
	boom := errors.New("boom")
	cg, err := NewGraph().
		AddNode("fail", func(ctx Context, state State) (Delta, error) {
			return Delta{}, boom
		}).
		AddEdge("fail", END).
		SetEntry("fail").
		Compile()
	require.NoError(t, err)

	_, runErr := cg.Run(NewContext(context.Background()), NewState("th-1", Persona{}))
	require.Error(t, runErr)

	var nodeErr *NodeError
	require.ErrorAs(t, runErr, &nodeErr)
	assert.Equal(t, "fail", nodeErr.NodeID)
	assert.ErrorIs(t, runErr, boom)
}

func TestRunPanicRecovery(t *testing.T) {
	cg, err := NewGraph().
		AddNode("explode", func(ctx Context, state State) (Delta, error) {
			panic("kaboom")
		}).
		AddEdge("explode", END).
		SetEntry("explode").
		Compile()
	require.NoError(t, err)

	_, runErr := cg.Run(NewContext(context.Background()), NewState("th-1", Persona{}))

	var panicErr *PanicError
	require.ErrorAs(t, runErr, &panicErr)
	assert.Equal(t, "explode", panicErr.NodeID)
	assert.Equal(t, "kaboom", panicErr.Value)
	assert.NotEmpty(t, panicErr.Stack)
}

func TestRunMaxIterations(t *testing.T) {
	// a <-> b forever, escape hatch through the router never taken
	cg, err := NewGraph().
		AddNode("a", noopNode).
		AddNode("b", noopNode).
		AddConditionalEdge("a", func(ctx Context, s State) string { return "b" }).
		AddEdge("b", "a").
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	_, runErr := cg.Run(NewContext(context.Background()), NewState("th-1", Persona{}),
		WithMaxIterations(5))

	var maxErr *MaxIterationsError
	require.ErrorAs(t, runErr, &maxErr)
	assert.Equal(t, 5, maxErr.Max)
	assert.ErrorIs(t, runErr, ErrMaxIterations)
}

func TestRunCancellation(t *testing.T) {
	stdCtx, cancel := context.WithCancel(context.Background())
	cancel()

	cg := linearGraph(t)
	_, runErr := cg.Run(NewContext(stdCtx), NewState("th-1", Persona{}))

	var cancelErr *CancellationError
	require.ErrorAs(t, runErr, &cancelErr)
	assert.Equal(t, "first", cancelErr.NodeID)
	assert.False(t, cancelErr.WasExecuting)
	assert.ErrorIs(t, runErr, context.Canceled)
}

func TestRunRouterErrors(t *testing.T) {
	t.Run("empty result", func(t *testing.T) {
		cg, err := NewGraph().
			AddNode("a", noopNode).
			AddConditionalEdge("a", func(ctx Context, s State) string { return "" }).
			SetEntry("a").
			Compile()
		require.NoError(t, err)

		_, runErr := cg.Run(NewContext(context.Background()), NewState("th-1", Persona{}))
		var routerErr *RouterError
		require.ErrorAs(t, runErr, &routerErr)
		assert.ErrorIs(t, runErr, ErrInvalidRouterResult)
	})

	t.Run("unknown target", func(t *testing.T) {
		cg, err := NewGraph().
			AddNode("a", noopNode).
			AddConditionalEdge("a", func(ctx Context, s State) string { return "nowhere" }).
			SetEntry("a").
			Compile()
		require.NoError(t, err)

		_, runErr := cg.Run(NewContext(context.Background()), NewState("th-1", Persona{}))
		assert.ErrorIs(t, runErr, ErrRouterTargetNotFound)
	})
}

func TestRunCheckpointing(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	defer store.Close()

	cg := linearGraph(t)
	ctx := NewContext(context.Background())

	final, err := cg.Run(ctx, NewState("th-1", Persona{}),
		WithCheckpointing(store, "th-1"))
	require.NoError(t, err)
	require.Len(t, final.Messages, 2)

	// One checkpoint per node transition, highest step wins
	rec, err := store.LatestCheckpoint(context.Background(), "th-1")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Step)
	assert.Equal(t, "second", rec.NodeID)
	assert.Equal(t, checkpoint.RecordVersion, rec.Version)

	var persisted State
	require.NoError(t, json.Unmarshal(rec.State, &persisted))
	assert.Len(t, persisted.Messages, 2)

	// Ledger cleared after each committed step
	pending, err := store.PendingWrites(context.Background(), "th-1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRunCheckpointingRequiresThreadID(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	defer store.Close()

	cg := linearGraph(t)
	_, err := cg.Run(NewContext(context.Background()), NewState("th-1", Persona{}),
		WithCheckpointing(store, ""))
	assert.ErrorIs(t, err, ErrThreadIDRequired)
}

func TestRunCheckpointStoreFailureIsFatal(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	require.NoError(t, store.Close())

	cg := linearGraph(t)
	_, err := cg.Run(NewContext(context.Background()), NewState("th-1", Persona{}),
		WithCheckpointing(store, "th-1"))

	var cpErr *CheckpointError
	require.ErrorAs(t, err, &cpErr)
	assert.ErrorIs(t, err, checkpoint.ErrStoreClosed)
}

func TestRunStartStepContinuesSequence(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	defer store.Close()

	cg := linearGraph(t)
	ctx := NewContext(context.Background())

	_, err := cg.Run(ctx, NewState("th-1", Persona{}),
		WithCheckpointing(store, "th-1"),
		WithStartStep(7))
	require.NoError(t, err)

	rec, err := store.LatestCheckpoint(context.Background(), "th-1")
	require.NoError(t, err)
	assert.Equal(t, 9, rec.Step)
}

func TestRunMergeFailureSurfaces(t *testing.T) {
	cg, err := NewGraph().
		AddNode("bad", func(ctx Context, state State) (Delta, error) {
			return Delta{SetContent: &ContentEdit{MessageID: "ghost", Content: "x"}}, nil
		}).
		AddEdge("bad", END).
		SetEntry("bad").
		Compile()
	require.NoError(t, err)

	_, runErr := cg.Run(NewContext(context.Background()), NewState("th-1", Persona{}))

	var nodeErr *NodeError
	require.ErrorAs(t, runErr, &nodeErr)
	assert.Equal(t, "merge", nodeErr.Op)
}
