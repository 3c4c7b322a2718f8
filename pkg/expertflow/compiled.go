package expertflow

// CompiledGraph is an immutable, executable graph.
// It is created by calling Compile() on a Graph builder.
//
// CompiledGraph is thread-safe and reused across threads and requests:
// build it once at startup and hand it to request handlers. The graph
// structure cannot be modified after compilation.
type CompiledGraph struct {
	nodes            map[string]NodeFunc
	edges            map[string][]string
	conditionalEdges map[string]RouterFunc
	entryPoint       string

	// Pre-computed for efficient lookup
	successors    map[string][]string
	predecessors  map[string][]string
	isConditional map[string]bool
}

// EntryPoint returns the entry node ID.
func (cg *CompiledGraph) EntryPoint() string {
	return cg.entryPoint
}

// NodeIDs returns all node identifiers in the graph.
// The order is not guaranteed.
func (cg *CompiledGraph) NodeIDs() []string {
	ids := make([]string, 0, len(cg.nodes))
	for id := range cg.nodes {
		ids = append(ids, id)
	}
	return ids
}

// HasNode checks if a node exists in the graph.
func (cg *CompiledGraph) HasNode(id string) bool {
	_, exists := cg.nodes[id]
	return exists
}

// Successors returns the node IDs reachable from the given node via simple
// (non-conditional) edges. Returns nil for END or unknown nodes.
func (cg *CompiledGraph) Successors(id string) []string {
	if id == END {
		return nil
	}
	return cg.successors[id]
}

// Predecessors returns the node IDs that have edges to the given node.
func (cg *CompiledGraph) Predecessors(id string) []string {
	return cg.predecessors[id]
}

// IsConditional returns true if the node has a conditional edge.
func (cg *CompiledGraph) IsConditional(id string) bool {
	return cg.isConditional[id]
}

// getNode returns the node function for the given ID.
func (cg *CompiledGraph) getNode(id string) (NodeFunc, bool) {
	fn, exists := cg.nodes[id]
	return fn, exists
}

// getRouter returns the router function for the given node.
func (cg *CompiledGraph) getRouter(id string) (RouterFunc, bool) {
	router, exists := cg.conditionalEdges[id]
	return router, exists
}

// getEdges returns the simple edge targets for the given node.
func (cg *CompiledGraph) getEdges(id string) []string {
	return cg.edges[id]
}
