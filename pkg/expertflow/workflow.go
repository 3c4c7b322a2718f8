package expertflow

// NewConversationGraph builds and compiles the conversation workflow.
//
// Topology:
//
//	respond ──(tool call?)──> retrieve ──> condense ──> respond
//	   │
//	   └──(no tool)──> connector ──(history > trigger?)──> summarize ──> END
//	                       │
//	                       └──(otherwise)──> END
//
// The respond → retrieve → condense → respond loop is the one legal
// cycle; the executor's iteration cap bounds it at runtime.
//
// Compile once at startup and share the result: the compiled graph is
// immutable and safe for concurrent turns.
func NewConversationGraph(cfg WorkflowConfig) (*CompiledGraph, error) {
	cfg = cfg.applyDefaults()

	return NewGraph().
		AddNode(NodeRespond, respondNode(cfg)).
		AddNode(NodeRetrieve, retrieveNode(cfg)).
		AddNode(NodeCondense, condenseNode(cfg)).
		AddNode(NodeSummarize, summarizeNode(cfg)).
		AddNode(NodeConnector, connectorNode()).
		SetEntry(NodeRespond).
		AddConditionalEdge(NodeRespond, afterRespond(cfg)).
		AddEdge(NodeRetrieve, NodeCondense).
		AddEdge(NodeCondense, NodeRespond).
		AddConditionalEdge(NodeConnector, afterConnector(cfg)).
		AddEdge(NodeSummarize, END).
		Compile()
}
