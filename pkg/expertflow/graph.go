package expertflow

import (
	"fmt"
	"strings"
	"sync"
)

// Graph is a mutable builder for conversation workflow graphs.
// Use NewGraph to create one, then chain AddNode, AddEdge,
// AddConditionalEdge and SetEntry calls to define the topology.
//
// Graph is NOT thread-safe during building. Construct it in a single
// goroutine, then call Compile() to get an immutable CompiledGraph that
// can be shared across threads and requests.
type Graph struct {
	mu               sync.RWMutex
	nodes            map[string]NodeFunc
	edges            map[string][]string
	conditionalEdges map[string]RouterFunc
	entryPoint       string
}

// NewGraph creates a new empty graph builder.
func NewGraph() *Graph {
	return &Graph{
		nodes:            make(map[string]NodeFunc),
		edges:            make(map[string][]string),
		conditionalEdges: make(map[string]RouterFunc),
	}
}

// AddNode adds a named node to the graph.
// Returns the graph for method chaining.
//
// Panics if:
//   - id is empty
//   - id is the reserved word "END" or "__end__" (case-insensitive)
//   - id contains whitespace
//   - fn is nil
//   - id already exists in the graph
func (g *Graph) AddNode(id string, fn NodeFunc) *Graph {
	if id == "" {
		panic("expertflow: node ID cannot be empty")
	}

	idLower := strings.ToLower(id)
	if idLower == "end" || idLower == "__end__" {
		panic("expertflow: node ID cannot be reserved word 'END'")
	}

	if strings.ContainsAny(id, " \t\n\r") {
		panic("expertflow: node ID cannot contain whitespace")
	}

	if fn == nil {
		panic("expertflow: node function cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[id]; exists {
		panic(fmt.Sprintf("expertflow: duplicate node ID: %s", id))
	}

	g.nodes[id] = fn
	return g
}

// AddEdge adds an unconditional edge from one node to another.
// The target can be a node ID or END.
// Returns the graph for method chaining.
//
// Edge validation happens at Compile() time, not here, so edges can be
// added in any order.
func (g *Graph) AddEdge(from, to string) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.edges[from] = append(g.edges[from], to)
	return g
}

// AddConditionalEdge adds a conditional edge where a RouterFunc determines
// the next node at runtime based on state.
// Returns the graph for method chaining.
//
// A node can have either a simple edge or a conditional edge, not both.
// If both are present, the conditional edge takes precedence.
func (g *Graph) AddConditionalEdge(from string, router RouterFunc) *Graph {
	if router == nil {
		panic("expertflow: router function cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.conditionalEdges[from] = router
	return g
}

// SetEntry designates the entry point node.
// This must be called before Compile().
// Returns the graph for method chaining.
func (g *Graph) SetEntry(id string) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.entryPoint = id
	return g
}
