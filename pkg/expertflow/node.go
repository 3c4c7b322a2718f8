package expertflow

// END is the terminal node identifier.
// Use this as an edge target to indicate the graph should terminate.
const END = "__end__"

// NodeFunc is the signature for all node functions.
// Nodes receive the execution context and a snapshot of the current state,
// and return a Delta describing their changes (possibly empty) and any error.
//
// Nodes must not retain or mutate the state snapshot; all mutation goes
// through the returned Delta, which the engine merges and checkpoints.
type NodeFunc func(ctx Context, state State) (Delta, error)

// RouterFunc determines the next node based on state.
// It is used for conditional edges where the next node depends on runtime
// state. Routers must be pure: no side effects, no state mutation.
//
// The router should return a valid node ID or END. Returning an empty
// string or an unknown node ID causes a runtime error.
type RouterFunc func(ctx Context, state State) string
