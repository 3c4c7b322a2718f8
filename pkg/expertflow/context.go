package expertflow

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nanaosei/expertflow/pkg/expertflow/llm"
	"github.com/nanaosei/expertflow/pkg/expertflow/retrieval"
)

// Context provides execution context to nodes.
// It extends context.Context with the services a conversation turn needs
// and with per-turn metadata.
//
// Context is immutable after creation. The executor creates derived
// contexts for each node with updated NodeID and enriched logger.
type Context interface {
	context.Context

	// Services

	// Logger returns the configured logger, enriched with turn and node
	// context. Never returns nil - defaults to slog.Default().
	Logger() *slog.Logger

	// Model returns the response model client, or nil if not configured.
	Model() llm.Client

	// Summarizer returns the client used for context condensation and
	// conversation summaries. Falls back to Model() when no dedicated
	// summarizer is configured; nil only if neither is set.
	Summarizer() llm.Client

	// Retriever returns the retrieval backend, or nil if not configured.
	Retriever() retrieval.Retriever

	// Emitter returns the stream emitter for the current turn, or nil in
	// atomic mode. Only the respond node forwards content to it.
	Emitter() Emitter

	// Metadata

	// RunID returns the unique identifier for this turn's execution.
	// Auto-generated if not configured.
	RunID() string

	// NodeID returns the current node being executed.
	// Empty string before execution starts.
	NodeID() string
}

// executionContext is the internal implementation of Context.
type executionContext struct {
	context.Context

	logger     *slog.Logger
	model      llm.Client
	summarizer llm.Client
	retriever  retrieval.Retriever
	emitter    Emitter
	runID      string
	nodeID     string
}

// Logger returns the configured logger.
func (c *executionContext) Logger() *slog.Logger {
	return c.logger
}

// Model returns the response model client.
func (c *executionContext) Model() llm.Client {
	return c.model
}

// Summarizer returns the summarization client, falling back to the
// response model when none is configured.
func (c *executionContext) Summarizer() llm.Client {
	if c.summarizer != nil {
		return c.summarizer
	}
	return c.model
}

// Retriever returns the retrieval backend.
func (c *executionContext) Retriever() retrieval.Retriever {
	return c.retriever
}

// Emitter returns the stream emitter, nil in atomic mode.
func (c *executionContext) Emitter() Emitter {
	return c.emitter
}

// RunID returns the turn identifier.
func (c *executionContext) RunID() string {
	return c.runID
}

// NodeID returns the current node identifier.
func (c *executionContext) NodeID() string {
	return c.nodeID
}

// ContextOption configures a Context.
type ContextOption func(*executionContext)

// WithLogger sets the logger for the context.
// The logger is enriched with run_id and node_id during execution.
func WithLogger(logger *slog.Logger) ContextOption {
	return func(c *executionContext) {
		c.logger = logger
	}
}

// WithModel sets the response model client for the context.
func WithModel(client llm.Client) ContextOption {
	return func(c *executionContext) {
		c.model = client
	}
}

// WithSummarizer sets a dedicated summarization client for the context.
func WithSummarizer(client llm.Client) ContextOption {
	return func(c *executionContext) {
		c.summarizer = client
	}
}

// WithRetriever sets the retrieval backend for the context.
func WithRetriever(r retrieval.Retriever) ContextOption {
	return func(c *executionContext) {
		c.retriever = r
	}
}

// WithContextEmitter sets the stream emitter for the context.
// Leave unset for atomic execution.
func WithContextEmitter(e Emitter) ContextOption {
	return func(c *executionContext) {
		c.emitter = e
	}
}

// WithContextRunID sets the run identifier for the context.
// If not set, a UUID is auto-generated.
func WithContextRunID(id string) ContextOption {
	return func(c *executionContext) {
		c.runID = id
	}
}

// NewContext creates an execution context from a standard context.
// The returned Context wraps the provided context.Context and adds the
// conversation services and metadata.
//
// Example:
//
//	ctx := expertflow.NewContext(context.Background(),
//	    expertflow.WithLogger(myLogger),
//	    expertflow.WithModel(client))
func NewContext(ctx context.Context, opts ...ContextOption) Context {
	ec := &executionContext{
		Context: ctx,
		logger:  slog.Default(),
		runID:   uuid.New().String(),
	}

	for _, opt := range opts {
		opt(ec)
	}

	return ec
}

// withNodeID returns a new context with the given node ID set.
// Used internally by the executor to enrich the context per-node.
func (c *executionContext) withNodeID(nodeID string) *executionContext {
	return &executionContext{
		Context:    c.Context,
		logger:     c.logger.With("run_id", c.runID, "node_id", nodeID),
		model:      c.model,
		summarizer: c.summarizer,
		retriever:  c.retriever,
		emitter:    c.emitter,
		runID:      c.runID,
		nodeID:     nodeID,
	}
}
