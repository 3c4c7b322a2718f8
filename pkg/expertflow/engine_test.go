package expertflow

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanaosei/expertflow/pkg/expertflow/checkpoint"
	"github.com/nanaosei/expertflow/pkg/expertflow/eval"
	"github.com/nanaosei/expertflow/pkg/expertflow/llm"
)

type captureEvaluator struct {
	samples []eval.Sample
}

func (c *captureEvaluator) Schedule(s eval.Sample) bool {
	c.samples = append(c.samples, s)
	return true
}

func newTestEngine(t *testing.T, cfg EngineConfig) *Engine {
	t.Helper()
	if cfg.Model == nil {
		cfg.Model = llm.NewMockClient("mock answer")
	}
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	return e
}

func TestNewEngineRequiresModel(t *testing.T) {
	_, err := NewEngine(EngineConfig{})
	assert.ErrorIs(t, err, ErrNoModel)
}

func TestEngineRespond(t *testing.T) {
	e := newTestEngine(t, EngineConfig{})

	final, err := e.Respond(context.Background(), TurnRequest{
		ExpertID: "ama",
		Persona:  testPersona,
		Message:  "Hello",
	})
	require.NoError(t, err)

	assert.Equal(t, "ama", final.ThreadID)
	require.Len(t, final.Messages, 2)
	assert.Equal(t, "Hello", final.Messages[0].Content)
	assert.Equal(t, "mock answer", final.Messages[1].Content)
}

func TestEngineSharedThreadAccumulates(t *testing.T) {
	e := newTestEngine(t, EngineConfig{})
	ctx := context.Background()

	_, err := e.Respond(ctx, TurnRequest{ExpertID: "ama", Persona: testPersona, Message: "first"})
	require.NoError(t, err)

	final, err := e.Respond(ctx, TurnRequest{ExpertID: "ama", Persona: testPersona, Message: "second"})
	require.NoError(t, err)

	require.Len(t, final.Messages, 4)
	assert.Equal(t, "first", final.Messages[0].Content)
	assert.Equal(t, "second", final.Messages[2].Content)
}

func TestEngineNewThreadIsolation(t *testing.T) {
	e := newTestEngine(t, EngineConfig{})
	ctx := context.Background()

	_, err := e.Respond(ctx, TurnRequest{ExpertID: "ama", Persona: testPersona, Message: "shared"})
	require.NoError(t, err)

	isolated, err := e.Respond(ctx, TurnRequest{
		ExpertID:  "ama",
		Persona:   testPersona,
		Message:   "private",
		NewThread: true,
	})
	require.NoError(t, err)

	assert.NotEqual(t, "ama", isolated.ThreadID)
	assert.True(t, strings.HasPrefix(isolated.ThreadID, "ama-"))
	assert.Len(t, isolated.Messages, 2)

	// The shared thread did not pick up the isolated turn.
	shared, err := e.Respond(ctx, TurnRequest{ExpertID: "ama", Persona: testPersona, Message: "again"})
	require.NoError(t, err)
	assert.Len(t, shared.Messages, 4)
}

func TestEngineThreadIDOverride(t *testing.T) {
	e := newTestEngine(t, EngineConfig{})
	ctx := context.Background()

	first, err := e.Respond(ctx, TurnRequest{
		ExpertID:  "ama",
		Persona:   testPersona,
		Message:   "start",
		NewThread: true,
	})
	require.NoError(t, err)

	// Continue the isolated thread by its ID.
	second, err := e.Respond(ctx, TurnRequest{
		ExpertID: "ama",
		ThreadID: first.ThreadID,
		Message:  "continue",
	})
	require.NoError(t, err)

	assert.Equal(t, first.ThreadID, second.ThreadID)
	assert.Len(t, second.Messages, 4)
}

func TestEngineResetThread(t *testing.T) {
	e := newTestEngine(t, EngineConfig{})
	ctx := context.Background()

	_, err := e.Respond(ctx, TurnRequest{ExpertID: "ama", Persona: testPersona, Message: "hi"})
	require.NoError(t, err)

	require.NoError(t, e.ResetThread(ctx, "ama"))

	final, err := e.Respond(ctx, TurnRequest{ExpertID: "ama", Persona: testPersona, Message: "fresh"})
	require.NoError(t, err)
	assert.Len(t, final.Messages, 2)

	// Resetting a thread that never existed is fine.
	assert.NoError(t, e.ResetThread(ctx, "nobody"))
}

func TestEngineModelFailureWrapsTurnError(t *testing.T) {
	e := newTestEngine(t, EngineConfig{
		Model: llm.NewMockClient("").WithError(errors.New("backend down")),
	})

	_, err := e.Respond(context.Background(), TurnRequest{
		ExpertID: "ama", Persona: testPersona, Message: "hi",
	})
	require.Error(t, err)

	var turnErr *TurnError
	require.ErrorAs(t, err, &turnErr)
	assert.Equal(t, "ama", turnErr.ThreadID)

	var modelErr *ModelError
	assert.ErrorAs(t, err, &modelErr)
}

func TestEngineRespondStream(t *testing.T) {
	e := newTestEngine(t, EngineConfig{
		Model: llm.NewMockClient("streamed answer").WithChunkSize(3),
	})

	emitter := NewChannelEmitter(64)
	final, err := e.RespondStream(context.Background(), TurnRequest{
		ExpertID: "ama", Persona: testPersona, Message: "hi",
	}, emitter)
	require.NoError(t, err)

	var content strings.Builder
	var last Frame
	for f := range emitter.Frames() {
		if f.Type == FrameContent {
			content.WriteString(f.Content)
		}
		last = f
	}

	assert.Equal(t, FrameDone, last.Type)
	assert.Equal(t, "streamed answer", content.String())

	// Streamed state matches what an atomic turn would hold.
	require.Len(t, final.Messages, 2)
	assert.Equal(t, "streamed answer", final.Messages[1].Content)
}

func TestEngineRespondStreamErrorFrame(t *testing.T) {
	cause := errors.New("backend down")
	e := newTestEngine(t, EngineConfig{
		Model: llm.NewMockClient("").WithError(cause),
	})

	emitter := NewChannelEmitter(64)
	_, err := e.RespondStream(context.Background(), TurnRequest{
		ExpertID: "ama", Persona: testPersona, Message: "hi",
	}, emitter)
	require.Error(t, err)

	var last Frame
	for f := range emitter.Frames() {
		last = f
	}
	assert.Equal(t, FrameError, last.Type)
	assert.ErrorIs(t, last.Err, cause)
}

func TestEngineRespondStreamNilEmitter(t *testing.T) {
	e := newTestEngine(t, EngineConfig{})

	final, err := e.RespondStream(context.Background(), TurnRequest{
		ExpertID: "ama", Persona: testPersona, Message: "hi",
	}, nil)
	require.NoError(t, err)
	assert.Len(t, final.Messages, 2)
}

func TestEngineSchedulesEvaluation(t *testing.T) {
	ev := &captureEvaluator{}
	e := newTestEngine(t, EngineConfig{Evaluator: ev})

	_, err := e.Respond(context.Background(), TurnRequest{
		ExpertID: "ama", Persona: testPersona, Message: "my question",
	})
	require.NoError(t, err)

	require.Len(t, ev.samples, 1)
	assert.Equal(t, "ama", ev.samples[0].ExpertID)
	assert.Equal(t, "my question", ev.samples[0].Query)
	assert.Equal(t, "mock answer", ev.samples[0].Response)
}

func TestEngineEvaluationNotScheduledOnFailure(t *testing.T) {
	ev := &captureEvaluator{}
	e := newTestEngine(t, EngineConfig{
		Model:     llm.NewMockClient("").WithError(errors.New("down")),
		Evaluator: ev,
	})

	_, err := e.Respond(context.Background(), TurnRequest{
		ExpertID: "ama", Persona: testPersona, Message: "hi",
	})
	require.Error(t, err)
	assert.Empty(t, ev.samples)
}

func TestEngineRecoversPendingWrites(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	// A committed checkpoint at step 1 plus an uncommitted write at step 2,
	// as left behind by a turn that crashed between stage and save.
	base := NewState("ama", testPersona)
	base, err := base.Apply(Delta{Append: []Message{NewUserMessage("old question")}})
	require.NoError(t, err)
	stateJSON, err := json.Marshal(base)
	require.NoError(t, err)

	require.NoError(t, store.SaveCheckpoint(ctx, checkpoint.Record{
		Version:   checkpoint.RecordVersion,
		ThreadID:  "ama",
		Step:      1,
		NodeID:    NodeRespond,
		Timestamp: time.Now(),
		State:     stateJSON,
	}))

	orphan := NewAssistantMessage("recovered answer")
	deltaJSON, err := json.Marshal(Delta{Append: []Message{orphan}})
	require.NoError(t, err)
	require.NoError(t, store.StagePending(ctx, checkpoint.Pending{
		ThreadID:  "ama",
		Step:      2,
		NodeID:    NodeRespond,
		Timestamp: time.Now(),
		Delta:     deltaJSON,
	}))

	e := newTestEngine(t, EngineConfig{Stores: SharedStore(store)})

	final, err := e.Respond(ctx, TurnRequest{ExpertID: "ama", Persona: testPersona, Message: "new question"})
	require.NoError(t, err)

	// old question, recovered answer, new question, mock answer
	require.Len(t, final.Messages, 4)
	assert.Equal(t, "recovered answer", final.Messages[1].Content)
	assert.Equal(t, "mock answer", final.Messages[3].Content)

	// New checkpoints continue past the recovered step.
	rec, err := store.LatestCheckpoint(ctx, "ama")
	require.NoError(t, err)
	assert.Greater(t, rec.Step, 2)
}

func TestEngineIgnoresStalePendingWrites(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	base := NewState("ama", testPersona)
	stateJSON, err := json.Marshal(base)
	require.NoError(t, err)
	require.NoError(t, store.SaveCheckpoint(ctx, checkpoint.Record{
		Version:   checkpoint.RecordVersion,
		ThreadID:  "ama",
		Step:      3,
		NodeID:    NodeRespond,
		Timestamp: time.Now(),
		State:     stateJSON,
	}))

	// Already folded into the checkpoint above.
	deltaJSON, err := json.Marshal(Delta{Append: []Message{NewAssistantMessage("stale")}})
	require.NoError(t, err)
	require.NoError(t, store.StagePending(ctx, checkpoint.Pending{
		ThreadID:  "ama",
		Step:      2,
		NodeID:    NodeRespond,
		Timestamp: time.Now(),
		Delta:     deltaJSON,
	}))

	e := newTestEngine(t, EngineConfig{Stores: SharedStore(store)})

	final, err := e.Respond(ctx, TurnRequest{ExpertID: "ama", Persona: testPersona, Message: "hi"})
	require.NoError(t, err)

	// Just the new turn; the stale write never re-applied.
	require.Len(t, final.Messages, 2)
}

func TestNewThreadID(t *testing.T) {
	a := NewThreadID("ama")
	b := NewThreadID("ama")

	assert.True(t, strings.HasPrefix(a, "ama-"))
	assert.NotEqual(t, a, b)
}
