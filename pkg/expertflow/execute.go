package expertflow

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/nanaosei/expertflow/pkg/expertflow/checkpoint"
	"github.com/nanaosei/expertflow/pkg/expertflow/observability"
	"go.opentelemetry.io/otel/trace"
)

// Run executes the graph with the given initial state.
// Returns the final state and any error encountered.
//
// On success, returns the state after the last node executed before END.
// On error, returns the state at the point of failure.
//
// Execution flow per node:
//  1. Check for cancellation
//  2. Execute the node, collecting its Delta
//  3. Stage the Delta in the pending-writes ledger (when checkpointing)
//  4. Merge the Delta into the state
//  5. Save a checkpoint of the merged state, then clear the ledger
//  6. Route to the next node until END
//
// Nodes execute strictly sequentially; there is no intra-turn parallelism.
func (cg *CompiledGraph) Run(ctx Context, state State, opts ...RunOption) (result State, runErr error) {
	if ctx == nil {
		return state, ErrNilContext
	}

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.store != nil && cfg.threadID == "" {
		return state, ErrThreadIDRequired
	}

	runID := cfg.runID
	if runID == "" {
		runID = ctx.RunID()
	}

	startTime := time.Now()

	observability.LogTurnStart(cfg.logger, cfg.threadID, runID, ctx.Emitter() != nil)

	var execCtx context.Context = ctx
	var turnSpan trace.Span
	if cfg.tracingEnabled {
		execCtx, turnSpan = cfg.spans.StartTurnSpan(ctx, cfg.threadID, runID)
		defer func() {
			cfg.spans.EndSpanWithError(turnSpan, runErr)
		}()
	}

	var nodeCount int
	result, nodeCount, runErr = cg.runFrom(execCtx, ctx, state, cg.entryPoint, &cfg)

	duration := time.Since(startTime)
	durationMs := float64(duration.Milliseconds())

	cfg.metrics.RecordTurn(ctx, runErr == nil, ctx.Emitter() != nil, duration)

	if runErr != nil {
		lastNode := ""
		switch e := runErr.(type) {
		case *NodeError:
			lastNode = e.NodeID
		case *MaxIterationsError:
			lastNode = e.LastNodeID
		case *CancellationError:
			lastNode = e.NodeID
		case *CheckpointError:
			lastNode = e.NodeID
		}
		observability.LogTurnError(cfg.logger, cfg.threadID, runID, runErr, durationMs, lastNode)
	} else {
		observability.LogTurnComplete(cfg.logger, cfg.threadID, runID, durationMs, nodeCount)
	}

	return result, runErr
}

// runFrom drives traversal from startNode until END or failure.
// tracingCtx carries span context; wfCtx is the workflow Context.
func (cg *CompiledGraph) runFrom(tracingCtx context.Context, wfCtx Context, state State, startNode string, cfg *runConfig) (State, int, error) {
	current := startNode
	iterations := 0
	nodeCount := 0
	step := cfg.startStep

	for current != END {
		iterations++
		if iterations > cfg.maxIterations {
			return state, nodeCount, &MaxIterationsError{
				Max:        cfg.maxIterations,
				LastNodeID: current,
			}
		}

		// Check for cancellation before executing node
		select {
		case <-wfCtx.Done():
			return state, nodeCount, &CancellationError{
				NodeID:       current,
				Cause:        wfCtx.Err(),
				WasExecuting: false,
			}
		default:
		}

		observability.LogNodeStart(cfg.logger, current)

		nodeTracingCtx := tracingCtx
		var nodeSpan trace.Span
		if cfg.tracingEnabled {
			nodeTracingCtx, nodeSpan = cfg.spans.StartNodeSpan(tracingCtx, current)
		}

		nodeStart := time.Now()

		delta, nodeErr := cg.executeNode(wfCtx, current, state)

		nodeDuration := time.Since(nodeStart)
		cfg.metrics.RecordNodeExecution(nodeTracingCtx, current, nodeDuration, nodeErr)

		if cfg.tracingEnabled {
			cfg.spans.EndSpanWithError(nodeSpan, nodeErr)
		}

		if nodeErr != nil {
			observability.LogNodeError(cfg.logger, current, nodeErr)
			return state, nodeCount, nodeErr
		}
		observability.LogNodeComplete(cfg.logger, current, float64(nodeDuration.Milliseconds()))
		nodeCount++

		step++

		// Stage the delta before committing: an interrupted step can be
		// recovered from the ledger on the next load.
		if cfg.store != nil && !delta.IsZero() {
			if err := cg.stagePending(wfCtx, cfg, current, step, delta); err != nil {
				return state, nodeCount, err
			}
		}

		merged, err := state.Apply(delta)
		if err != nil {
			return state, nodeCount, &NodeError{NodeID: current, Op: "merge", Err: err}
		}
		state = merged

		if cfg.store != nil {
			if err := cg.saveCheckpoint(wfCtx, cfg, current, step, state); err != nil {
				return state, nodeCount, err
			}
		}

		next, err := cg.nextNode(wfCtx, state, current)
		if err != nil {
			return state, nodeCount, err
		}

		current = next
	}

	return state, nodeCount, nil
}

// stagePending records a node's delta in the pending-writes ledger.
func (cg *CompiledGraph) stagePending(ctx Context, cfg *runConfig, nodeID string, step int, delta Delta) error {
	data, err := json.Marshal(delta)
	if err != nil {
		return &CheckpointError{NodeID: nodeID, Op: "serialize", Err: err}
	}

	p := checkpoint.Pending{
		ThreadID:  cfg.threadID,
		Step:      step,
		NodeID:    nodeID,
		Timestamp: time.Now().UTC(),
		Delta:     data,
	}
	if err := cfg.store.StagePending(ctx, p); err != nil {
		observability.LogCheckpointError(cfg.logger, cfg.threadID, nodeID, "stage", err)
		return &CheckpointError{NodeID: nodeID, Op: "stage", Err: err}
	}
	return nil
}

// saveCheckpoint commits the merged state and clears the pending ledger.
func (cg *CompiledGraph) saveCheckpoint(ctx Context, cfg *runConfig, nodeID string, step int, state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return &CheckpointError{NodeID: nodeID, Op: "serialize", Err: err}
	}

	rec := checkpoint.Record{
		Version:   checkpoint.RecordVersion,
		ThreadID:  cfg.threadID,
		Step:      step,
		NodeID:    nodeID,
		Timestamp: time.Now().UTC(),
		State:     data,
	}
	if err := cfg.store.SaveCheckpoint(ctx, rec); err != nil {
		observability.LogCheckpointError(cfg.logger, cfg.threadID, nodeID, "save", err)
		return &CheckpointError{NodeID: nodeID, Op: "save", Err: err}
	}

	if err := cfg.store.ClearPending(ctx, cfg.threadID); err != nil {
		observability.LogCheckpointError(cfg.logger, cfg.threadID, nodeID, "clear", err)
		return &CheckpointError{NodeID: nodeID, Op: "clear", Err: err}
	}

	observability.LogCheckpoint(cfg.logger, cfg.threadID, step, len(data))
	cfg.metrics.RecordCheckpoint(ctx, nodeID, int64(len(data)))
	return nil
}

// executeNode executes a single node with panic recovery.
// Returns the node's delta and any error (including wrapped panics).
func (cg *CompiledGraph) executeNode(ctx Context, nodeID string, state State) (delta Delta, err error) {
	fn, exists := cg.getNode(nodeID)
	if !exists {
		// This shouldn't happen if compilation was successful
		return Delta{}, &NodeError{
			NodeID: nodeID,
			Op:     "lookup",
			Err:    fmt.Errorf("node not found: %s", nodeID),
		}
	}

	// Create node-specific context with enriched logger
	nodeCtx := ctx
	if ec, ok := ctx.(*executionContext); ok {
		nodeCtx = ec.withNodeID(nodeID)
	}

	// Panic recovery
	defer func() {
		if r := recover(); r != nil {
			delta = Delta{}
			err = &PanicError{
				NodeID: nodeID,
				Value:  r,
				Stack:  string(debug.Stack()),
			}
		}
	}()

	delta, err = fn(nodeCtx, state)
	if err != nil {
		return Delta{}, &NodeError{
			NodeID: nodeID,
			Op:     "execute",
			Err:    err,
		}
	}

	return delta, nil
}

// nextNode determines the next node to execute.
// Checks conditional edges first, then simple edges.
func (cg *CompiledGraph) nextNode(ctx Context, state State, current string) (string, error) {
	if router, exists := cg.getRouter(current); exists {
		routerCtx := ctx
		if ec, ok := ctx.(*executionContext); ok {
			routerCtx = ec.withNodeID(current)
		}

		next := router(routerCtx, state)

		if next == "" {
			return "", &RouterError{
				FromNode: current,
				Returned: next,
				Err:      ErrInvalidRouterResult,
			}
		}

		if next != END {
			if _, exists := cg.getNode(next); !exists {
				return "", &RouterError{
					FromNode: current,
					Returned: next,
					Err:      ErrRouterTargetNotFound,
				}
			}
		}

		return next, nil
	}

	edges := cg.getEdges(current)
	if len(edges) == 0 {
		// Unreachable after successful compilation
		return "", &NodeError{
			NodeID: current,
			Op:     "routing",
			Err:    fmt.Errorf("no outgoing edge from node %s", current),
		}
	}

	return edges[0], nil
}
