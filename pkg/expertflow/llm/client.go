// Package llm defines the model invocation interface consumed by the
// conversation workflow, with hosted (OpenAI-compatible) and local
// (Ollama) backends plus a deterministic mock for tests.
package llm

import "context"

// Client is the model invocation interface.
// Implementations must be safe for concurrent use.
type Client interface {
	// Complete performs an atomic completion call.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Stream performs a chunked completion call. The returned channel is
	// closed when the stream ends; a chunk with a non-nil Error terminates
	// the stream early.
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)
}
