// Package eval runs fire-and-forget quality checks on completed
// conversation turns. Samples are handed to a bounded worker pool;
// nothing here ever blocks or fails a turn.
package eval

import "context"

// Sample is the material captured from one completed turn.
type Sample struct {
	// ExpertID identifies the persona that produced the response.
	ExpertID string `json:"expert_id"`
	// Query is the user message that started the turn.
	Query string `json:"query"`
	// Response is the final assistant message.
	Response string `json:"response"`
	// RetrievedContext is the condensed context the response drew on.
	// Empty when the turn used no retrieval.
	RetrievedContext string `json:"retrieved_context"`
}

// Result is one evaluation verdict.
type Result struct {
	// Relevancy scores how well the response addresses the query, 0..1.
	Relevancy float64 `json:"relevancy"`
	// Faithfulness scores how well the response sticks to the retrieved
	// context, 0..1. Turns without retrieval score 1.
	Faithfulness float64 `json:"faithfulness"`
	// Passed is true when both scores clear their thresholds.
	Passed bool `json:"passed"`
	// Detail carries a scorer-specific explanation, if any.
	Detail string `json:"detail,omitempty"`
}

// Scorer produces a verdict for a sample.
// Implementations must be safe for concurrent use.
type Scorer interface {
	Score(ctx context.Context, s Sample) (Result, error)
}
