package expertflow

import (
	"errors"
	"fmt"
)

// Sentinel errors for graph building and compilation.
var (
	// ErrNoEntryPoint indicates SetEntry() was not called before Compile().
	ErrNoEntryPoint = errors.New("entry point not set")

	// ErrEntryNotFound indicates the entry point references a non-existent node.
	ErrEntryNotFound = errors.New("entry point node not found")

	// ErrNodeNotFound indicates an edge references a non-existent node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNoPathToEnd indicates no path exists from the entry point to END.
	ErrNoPathToEnd = errors.New("no path to END from entry")
)

// Sentinel errors for execution.
var (
	// ErrMaxIterations indicates the execution loop exceeded the configured cap.
	ErrMaxIterations = errors.New("exceeded maximum iterations")

	// ErrNilContext indicates Run() was called with a nil context.
	ErrNilContext = errors.New("context cannot be nil")

	// ErrThreadIDRequired indicates checkpointing was enabled without a
	// thread ID.
	ErrThreadIDRequired = errors.New("thread ID required when checkpointing is enabled")

	// ErrInvalidRouterResult indicates a router function returned an empty string.
	ErrInvalidRouterResult = errors.New("router returned empty string")

	// ErrRouterTargetNotFound indicates a router function returned an unknown node ID.
	ErrRouterTargetNotFound = errors.New("router returned unknown node")

	// ErrNoModel indicates the context carries no model client.
	ErrNoModel = errors.New("model client not configured")

	// ErrNoRetriever indicates the context carries no retriever.
	ErrNoRetriever = errors.New("retriever not configured")

	// ErrNoToolRequest indicates the retrieval node ran without a
	// preceding assistant tool call.
	ErrNoToolRequest = errors.New("no tool call requested by previous message")

	// ErrNoToolResult indicates the condense node ran without a
	// preceding tool-result message.
	ErrNoToolResult = errors.New("no tool result to condense")
)

// ModelError wraps a failure calling the model backend.
// It aborts the turn; no checkpoint beyond the last committed one is written.
type ModelError struct {
	// Op is the invocation mode that failed ("complete", "stream").
	Op string
	// Err is the underlying transport or backend error.
	Err error
}

// Error implements the error interface.
func (e *ModelError) Error() string {
	return fmt.Sprintf("model %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ModelError) Unwrap() error {
	return e.Err
}

// ToolError wraps a retrieval failure. It is non-fatal: the retrieval node
// degrades to an empty tool result and the turn continues. It exists so
// logs and metrics can classify the degradation.
type ToolError struct {
	// Query is the retrieval query that failed.
	Query string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	return fmt.Sprintf("retrieval %q: %v", e.Query, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ToolError) Unwrap() error {
	return e.Err
}

// SummaryError wraps a summarizer failure. It is non-fatal: pruning is
// skipped for the turn and the full history retained.
type SummaryError struct {
	// Op names the summarization that failed ("context", "conversation").
	Op string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *SummaryError) Error() string {
	return fmt.Sprintf("summarize %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *SummaryError) Unwrap() error {
	return e.Err
}

// CheckpointError wraps errors from checkpoint operations.
// Checkpoint failures are fatal: the turn aborts and the error surfaces.
type CheckpointError struct {
	// NodeID is the node whose transition failed to persist.
	NodeID string
	// Op is the operation that failed ("serialize", "stage", "save", "clear", "load").
	Op string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s at node %s: %v", e.Op, e.NodeID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *CheckpointError) Unwrap() error {
	return e.Err
}

// NodeError wraps an error with node context.
type NodeError struct {
	// NodeID is the identifier of the node that failed.
	NodeID string
	// Op is the operation that failed (e.g., "execute", "merge").
	Op string
	// Err is the underlying error from the node.
	Err error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %s: %v", e.NodeID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *NodeError) Unwrap() error {
	return e.Err
}

// PanicError captures panic information from node execution.
type PanicError struct {
	// NodeID is the identifier of the node that panicked.
	NodeID string
	// Value is the value passed to panic().
	Value any
	// Stack is the full stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.NodeID, e.Value)
}

// CancellationError captures the state when execution was cancelled.
type CancellationError struct {
	// NodeID is the node that was about to execute or was executing.
	NodeID string
	// Cause is the underlying cancellation cause.
	Cause error
	// WasExecuting is true if cancellation occurred during node execution.
	WasExecuting bool
}

// Error implements the error interface.
func (e *CancellationError) Error() string {
	if e.WasExecuting {
		return fmt.Sprintf("cancelled during node %s: %v", e.NodeID, e.Cause)
	}
	return fmt.Sprintf("cancelled before node %s: %v", e.NodeID, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CancellationError) Unwrap() error {
	return e.Cause
}

// RouterError wraps errors from conditional edge routing.
type RouterError struct {
	// FromNode is the node with the conditional edge.
	FromNode string
	// Returned is the value the router returned.
	Returned string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *RouterError) Error() string {
	return fmt.Sprintf("router from %s returned %q: %v", e.FromNode, e.Returned, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *RouterError) Unwrap() error {
	return e.Err
}

// MaxIterationsError is returned when the per-turn node-execution cap is
// exceeded. The cap bounds the respond/retrieve/condense cycle, which would
// otherwise terminate only when the model declines further tool calls.
type MaxIterationsError struct {
	// Max is the configured iteration cap.
	Max int
	// LastNodeID is the node that would have executed next.
	LastNodeID string
}

// Error implements the error interface.
func (e *MaxIterationsError) Error() string {
	return fmt.Sprintf("exceeded maximum iterations (%d) at node %s", e.Max, e.LastNodeID)
}

// Unwrap returns ErrMaxIterations for errors.Is support.
func (e *MaxIterationsError) Unwrap() error {
	return ErrMaxIterations
}

// TurnError is the single generic failure surfaced to callers when a
// conversation turn fails. The underlying cause is preserved for
// errors.Is/As but the outward message stays uniform.
type TurnError struct {
	// ThreadID identifies the thread whose turn failed.
	ThreadID string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *TurnError) Error() string {
	return fmt.Sprintf("conversation turn failed: %v", e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *TurnError) Unwrap() error {
	return e.Err
}
