package expertflow

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/nanaosei/expertflow/pkg/expertflow/checkpoint"
	"github.com/nanaosei/expertflow/pkg/expertflow/eval"
	"github.com/nanaosei/expertflow/pkg/expertflow/llm"
	"github.com/nanaosei/expertflow/pkg/expertflow/observability"
	"github.com/nanaosei/expertflow/pkg/expertflow/registry"
	"github.com/nanaosei/expertflow/pkg/expertflow/retrieval"
)

// StoreFactory yields a request-scoped checkpoint store. The release
// function is called on every turn exit path - success, error or
// cancellation.
type StoreFactory func(ctx context.Context) (checkpoint.Store, func(), error)

// SharedStore adapts a long-lived store to the StoreFactory shape.
// Release is a no-op; the caller keeps ownership and closes the store at
// shutdown.
func SharedStore(store checkpoint.Store) StoreFactory {
	return func(ctx context.Context) (checkpoint.Store, func(), error) {
		return store, func() {}, nil
	}
}

// Evaluator schedules background quality checks. Implementations must
// never block; eval.Trigger satisfies this.
type Evaluator interface {
	Schedule(s eval.Sample) bool
}

// EngineConfig assembles an Engine. Model is required; everything else
// has a working default.
type EngineConfig struct {
	// Graph overrides the standard conversation graph. Leave nil to build
	// one from Workflow.
	Graph *CompiledGraph
	// Stores yields the per-turn checkpoint store. Defaults to a shared
	// in-memory store.
	Stores StoreFactory
	// Model generates assistant responses.
	Model llm.Client
	// Summarizer handles condensation and summaries. Defaults to Model.
	Summarizer llm.Client
	// Retriever backs the retrieval tool. Nil degrades every tool call to
	// a placeholder result.
	Retriever retrieval.Retriever
	// Evaluator receives post-turn samples. Nil disables evaluation.
	Evaluator Evaluator
	// Workflow carries the node and router knobs.
	Workflow WorkflowConfig
	// MaxIterations caps node executions per turn.
	// Zero means DefaultMaxIterations.
	MaxIterations int
	// Logger for turn and node events. Defaults to slog.Default().
	Logger *slog.Logger
	// Metrics records engine metrics. Defaults to no-op.
	Metrics observability.MetricsRecorder
	// Spans enables tracing when set.
	Spans observability.SpanManager
}

// Engine drives conversation turns over the compiled graph. One engine
// serves all threads; per-thread mutexes serialize turns that share a
// thread so checkpoint history is never interleaved.
type Engine struct {
	graph         *CompiledGraph
	stores        StoreFactory
	model         llm.Client
	summarizer    llm.Client
	retriever     retrieval.Retriever
	evaluator     Evaluator
	maxIterations int
	logger        *slog.Logger
	metrics       observability.MetricsRecorder
	spans         observability.SpanManager

	locks *registry.Registry[string, *sync.Mutex]
}

// NewEngine validates the configuration and builds an engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Model == nil {
		return nil, ErrNoModel
	}

	graph := cfg.Graph
	if graph == nil {
		var err error
		graph, err = NewConversationGraph(cfg.Workflow)
		if err != nil {
			return nil, err
		}
	}

	stores := cfg.Stores
	if stores == nil {
		stores = SharedStore(checkpoint.NewMemoryStore())
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}

	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	return &Engine{
		graph:         graph,
		stores:        stores,
		model:         cfg.Model,
		summarizer:    cfg.Summarizer,
		retriever:     cfg.Retriever,
		evaluator:     cfg.Evaluator,
		maxIterations: maxIterations,
		logger:        logger,
		metrics:       metrics,
		spans:         cfg.Spans,
		locks:         registry.New[string, *sync.Mutex](),
	}, nil
}

// TurnRequest describes one user turn.
type TurnRequest struct {
	// ExpertID selects the persona's shared thread.
	ExpertID string
	// Persona is bound to the thread on first contact. Later turns on the
	// same thread keep the original persona.
	Persona Persona
	// Message is the user's input.
	Message string
	// NewThread starts an isolated thread instead of accumulating into
	// the expert's shared one.
	NewThread bool
	// ThreadID addresses an existing thread directly, overriding
	// ExpertID/NewThread derivation. Use the ID from a previous state.
	ThreadID string
}

// NewThreadID derives an isolated thread identifier for an expert.
func NewThreadID(expertID string) string {
	return expertID + "-" + uuid.New().String()
}

// threadID resolves the thread this request addresses.
func (r TurnRequest) threadID() string {
	if r.ThreadID != "" {
		return r.ThreadID
	}
	if r.NewThread {
		return NewThreadID(r.ExpertID)
	}
	return r.ExpertID
}

// Respond runs one atomic turn: the graph executes to END and the final
// state is returned. All failures surface as a TurnError wrapping the
// cause.
func (e *Engine) Respond(ctx context.Context, req TurnRequest) (State, error) {
	return e.runTurn(ctx, req, nil)
}

// RespondStream runs one streaming turn. Response-node model chunks are
// forwarded to the emitter as FrameContent; the terminal frame is
// FrameDone on success or FrameError on failure. The emitter is always
// closed before RespondStream returns.
//
// Internal traffic - retrieval, condensation, summaries - is never
// streamed. The returned state is identical to what an atomic turn with
// the same inputs would produce.
func (e *Engine) RespondStream(ctx context.Context, req TurnRequest, emitter Emitter) (State, error) {
	if emitter == nil {
		return e.runTurn(ctx, req, nil)
	}
	return e.runTurn(ctx, req, emitter)
}

// runTurn is the shared turn path for both modes.
func (e *Engine) runTurn(ctx context.Context, req TurnRequest, emitter Emitter) (State, error) {
	threadID := req.threadID()

	fail := func(state State, err error) (State, error) {
		if emitter != nil {
			_ = emitter.Emit(ctx, Frame{Type: FrameError, Err: err})
			emitter.Close()
		}
		return state, &TurnError{ThreadID: threadID, Err: err}
	}

	// One in-flight turn per thread.
	lock := e.locks.GetOrCreate(threadID, func() *sync.Mutex { return &sync.Mutex{} })
	lock.Lock()
	defer lock.Unlock()

	store, release, err := e.stores(ctx)
	if err != nil {
		return fail(State{}, &CheckpointError{Op: "acquire", Err: err})
	}
	defer release()

	state, startStep, err := e.loadThread(ctx, store, threadID, req.Persona)
	if err != nil {
		return fail(State{}, err)
	}

	state, err = state.Apply(Delta{Append: []Message{NewUserMessage(req.Message)}})
	if err != nil {
		return fail(state, err)
	}

	wfCtx := NewContext(ctx,
		WithLogger(e.logger),
		WithModel(e.model),
		WithSummarizer(e.summarizer),
		WithRetriever(e.retriever),
		WithContextEmitter(emitter),
	)

	opts := []RunOption{
		WithCheckpointing(store, threadID),
		WithStartStep(startStep),
		WithMaxIterations(e.maxIterations),
		WithObservabilityLogger(e.logger),
		WithMetrics(e.metrics),
	}
	if e.spans != nil {
		opts = append(opts, WithTracing(e.spans))
	}

	final, err := e.graph.Run(wfCtx, state, opts...)
	if err != nil {
		return fail(final, err)
	}

	if emitter != nil {
		_ = emitter.Emit(ctx, Frame{Type: FrameDone})
		emitter.Close()
	}

	e.scheduleEvaluation(req, final)

	return final, nil
}

// loadThread restores a thread's state: latest checkpoint, then any
// pending writes newer than it. A thread with no history starts fresh
// with the request's persona bound.
func (e *Engine) loadThread(ctx context.Context, store checkpoint.Store, threadID string, persona Persona) (State, int, error) {
	rec, err := store.LatestCheckpoint(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return NewState(threadID, persona), 0, nil
	}
	if err != nil {
		return State{}, 0, &CheckpointError{Op: "load", Err: err}
	}

	var state State
	if err := json.Unmarshal(rec.State, &state); err != nil {
		return State{}, 0, &CheckpointError{Op: "decode", Err: err}
	}
	step := rec.Step

	pending, err := store.PendingWrites(ctx, threadID)
	if err != nil {
		return State{}, 0, &CheckpointError{Op: "load", Err: err}
	}

	recovered := 0
	for _, p := range pending {
		if p.Step <= rec.Step {
			continue
		}
		var delta Delta
		if err := json.Unmarshal(p.Delta, &delta); err != nil {
			return State{}, 0, &CheckpointError{NodeID: p.NodeID, Op: "decode", Err: err}
		}
		next, err := state.Apply(delta)
		if err != nil {
			// A stale or conflicting pending write; skip it rather than
			// wedge the thread.
			e.logger.Warn("skipping unappliable pending write",
				"thread_id", threadID, "step", p.Step, "error", err)
			continue
		}
		state = next
		step = p.Step
		recovered++
	}
	if recovered > 0 {
		observability.LogRecovery(e.logger, threadID, recovered)
	}

	return state, step, nil
}

// ResetThread deletes all checkpoints and pending writes for a thread.
// Idempotent: succeeds whether or not the thread had any state.
func (e *Engine) ResetThread(ctx context.Context, threadID string) error {
	lock := e.locks.GetOrCreate(threadID, func() *sync.Mutex { return &sync.Mutex{} })
	lock.Lock()
	defer lock.Unlock()

	store, release, err := e.stores(ctx)
	if err != nil {
		return &TurnError{ThreadID: threadID, Err: &CheckpointError{Op: "acquire", Err: err}}
	}
	defer release()

	if err := store.DeleteThread(ctx, threadID); err != nil {
		return &TurnError{ThreadID: threadID, Err: &CheckpointError{Op: "delete", Err: err}}
	}
	return nil
}

// scheduleEvaluation hands the completed turn to the evaluator.
// Fire-and-forget: sampling, queueing and failures are the evaluator's
// concern and never affect the turn.
func (e *Engine) scheduleEvaluation(req TurnRequest, final State) {
	if e.evaluator == nil {
		return
	}

	response := ""
	for i := len(final.Messages) - 1; i >= 0; i-- {
		if final.Messages[i].Role == RoleAssistant {
			response = final.Messages[i].Content
			break
		}
	}

	e.evaluator.Schedule(eval.Sample{
		ExpertID:         req.ExpertID,
		Query:            req.Message,
		Response:         response,
		RetrievedContext: final.RetrievedContext,
	})
}
